package learning

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/component"
)

func TestAppendWritesEntryAndUpdatesAggregate(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 10)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(Entry{RefID: "t1", Outcome: "success", DurationMs: 100}))
	require.NoError(t, r.Append(Entry{RefID: "t1", Outcome: "failure", DurationMs: 50}))

	m, ok := r.Aggregate("t1")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.UsageCount)
	assert.Equal(t, 0.5, m.SuccessRate)
	assert.Equal(t, 75.0, m.AvgExecutionTime)
}

func TestAggregateReportsAbsentForUnknownID(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 10)
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Aggregate("never_seen")
	assert.False(t, ok)
}

func TestQueryReturnsNewestLastFilteredByID(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 10)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(Entry{RefID: "a", Outcome: "success"}))
	require.NoError(t, r.Append(Entry{RefID: "b", Outcome: "success"}))
	require.NoError(t, r.Append(Entry{RefID: "a", Outcome: "failure"}))

	all := r.Query("", 0)
	require.Len(t, all, 3)

	onlyA := r.Query("a", 0)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "success", onlyA[0].Outcome)
	assert.Equal(t, "failure", onlyA[1].Outcome)
}

func TestQueryRespectsRingCapacity(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 2)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(Entry{RefID: "x", Outcome: "success"}))
	require.NoError(t, r.Append(Entry{RefID: "x", Outcome: "success"}))
	require.NoError(t, r.Append(Entry{RefID: "x", Outcome: "success"}))

	got := r.Query("", 0)
	assert.Len(t, got, 2, "the ring buffer caps at its configured capacity")
}

func TestQueryLimitsToMostRecentN(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 10)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Append(Entry{RefID: "x", Outcome: "success", DurationMs: int64(i)}))
	}

	got := r.Query("", 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].DurationMs)
	assert.Equal(t, int64(4), got[1].DurationMs)
}

func TestRecordExecutionNeverErrorsAndAppendsEntry(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 0, 10)
	require.NoError(t, err)
	defer r.Close()

	r.RecordExecution(component.LearningRecord{}, "t1", nil, "success", time.Now(), 42, nil)
	r.RecordExecution(component.LearningRecord{}, "t1", nil, "failure", time.Now(), 10, errors.New("boom"))

	m, ok := r.Aggregate("t1")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.UsageCount)
}

func TestNewWarmsRingFromExistingLog(t *testing.T) {
	root := t.TempDir()
	first, err := New(root, 0, 10)
	require.NoError(t, err)
	require.NoError(t, first.Append(Entry{RefID: "t1", Outcome: "success", DurationMs: 5}))
	require.NoError(t, first.Close())

	second, err := New(root, 0, 10)
	require.NoError(t, err)
	defer second.Close()

	m, ok := second.Aggregate("t1")
	require.True(t, ok, "a restarted Recorder should warm its aggregates from the existing log file")
	assert.Equal(t, int64(1), m.UsageCount)
}

func TestAppendRotatesAndGzipsWhenOverSizeThreshold(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, 1, 10) // rotate on anything already >= 1 byte
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(Entry{RefID: "t1", Outcome: "success"}))
	require.NoError(t, r.Append(Entry{RefID: "t1", Outcome: "success"}))

	matches, err := filepath.Glob(filepath.Join(root, "learning", "execution_log.jsonl.*.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	gz, err := os.Open(matches[0])
	require.NoError(t, err)
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	defer zr.Close()
	content, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"ref_id":"t1"`)
}

type mirrorSpy struct {
	puts int
	last component.PerformanceMetrics
}

func (m *mirrorSpy) Put(ctx context.Context, kind component.Kind, id string, metrics component.PerformanceMetrics) error {
	m.puts++
	m.last = metrics
	return nil
}

func TestAppendMirrorsRollupToAggregateCache(t *testing.T) {
	root := t.TempDir()
	mirror := &mirrorSpy{}
	r, err := New(root, 0, 10, WithAggregateCache(mirror))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Append(Entry{RefID: "t1", Outcome: "success", DurationMs: 10}))
	assert.Equal(t, 1, mirror.puts)
	assert.Equal(t, int64(1), mirror.last.UsageCount)
}
