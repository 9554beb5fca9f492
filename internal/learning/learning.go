// Package learning implements the Learning Recorder: an append-only JSONL
// execution log with size-based rotation, an in-memory ring buffer backing
// fast aggregate queries, and an optional Redis mirror of rollups, adapting
// gomind's Redis-backed discovery TTL pattern to durable local-disk logging
// plus an optional distributed cache.
package learning

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/logging"
)

// EntryError is the structured {type, message} shape an Entry's error takes,
// tagged with the action's own declared error_type when one is available.
type EntryError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Entry is one append-only execution log record.
type Entry struct {
	ID           string    `json:"id"` // "exec_<uuid>"
	Kind         string    `json:"kind"` // "tool" | "pattern"
	RefID        string    `json:"ref_id"`
	ParamsDigest string    `json:"params_digest,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"`
	Error        *EntryError `json:"error,omitempty"`
	Insights     []string  `json:"insights,omitempty"`
}

// Recorder appends Entries to a JSONL file, rotating (gzip-compressing the
// rotated file) once the file crosses rotationBytes, and maintains an
// in-memory ring buffer of the most recent entries for fast aggregate
// queries without re-reading the log.
type Recorder struct {
	mu            sync.Mutex
	path          string
	rotationBytes int64
	logger        logging.Logger

	file *os.File

	ring     []Entry
	ringHead int
	ringSize int
	ringCap  int

	aggregates map[string]*rollingAggregate
	mirror     AggregateCache
}

type rollingAggregate struct {
	count       int64
	successes   int64
	totalDurMs  int64
}

// Option configures a Recorder at construction.
type Option func(*Recorder)

// WithLogger sets the Recorder's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// AggregateCache is the subset of registry.RedisAggregateCache the Recorder
// needs to mirror rollups for cross-process aggregate reads.
type AggregateCache interface {
	Put(ctx context.Context, kind component.Kind, id string, m component.PerformanceMetrics) error
}

// WithAggregateCache mirrors every rollup update to a Redis-backed cache
// for readers outside this process. The Recorder only writes to the cache;
// Aggregate, and Registry.Stats through it, read the in-memory rollups.
func WithAggregateCache(c AggregateCache) Option {
	return func(r *Recorder) { r.mirror = c }
}

// New opens (creating if absent) the JSONL log at <root>/learning/execution_log.jsonl.
func New(root string, rotationBytes int64, ringCap int, opts ...Option) (*Recorder, error) {
	dir := filepath.Join(root, "learning")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("learning: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "execution_log.jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("learning: open %s: %w", path, err)
	}

	if ringCap <= 0 {
		ringCap = 500
	}

	r := &Recorder{
		path:          path,
		rotationBytes: rotationBytes,
		logger:        logging.NoOpLogger{},
		file:          f,
		ring:          make([]Entry, ringCap),
		ringCap:       ringCap,
		aggregates:    map[string]*rollingAggregate{},
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.warmRing(); err != nil {
		r.logger.Warn("learning: failed to warm ring buffer from existing log", map[string]interface{}{"error": err.Error()})
	}

	return r, nil
}

// warmRing reads the tail of the existing log file into the ring buffer so
// aggregates survive a process restart.
func (r *Recorder) warmRing() error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		r.appendRing(e)
		agg, ok := r.aggregates[e.RefID]
		if !ok {
			agg = &rollingAggregate{}
			r.aggregates[e.RefID] = agg
		}
		agg.count++
		agg.totalDurMs += e.DurationMs
		if e.Outcome == "success" {
			agg.successes++
		}
	}
	return scanner.Err()
}

// RecordExecution satisfies runtime.Recorder, translating a Runtime or
// Pattern Engine outcome into an Entry and appending it. It never returns an
// error: a logging failure must not fail the execution it is recording.
func (r *Recorder) RecordExecution(_ component.LearningRecord, refID string, params map[string]interface{}, outcome string, startedAt time.Time, durationMs int64, execErr error) {
	e := Entry{
		ID:           "exec_" + uuid.NewString(),
		Kind:         "tool",
		RefID:        refID,
		ParamsDigest: paramsDigest(params),
		StartedAt:    startedAt.UTC(),
		CompletedAt:  startedAt.UTC().Add(time.Duration(durationMs) * time.Millisecond),
		DurationMs:   durationMs,
		Outcome:      outcome,
	}
	if execErr != nil {
		e.Error = &EntryError{Type: ferrors.ErrorType(execErr), Message: execErr.Error()}
	}
	if err := r.Append(e); err != nil {
		r.logger.Warn("learning: append failed", map[string]interface{}{"error": err.Error()})
	}
}

// paramsDigest returns the hex SHA-256 of params' canonical JSON encoding,
// identifying a call's argument set without recording the arguments
// themselves in the log.
func paramsDigest(params map[string]interface{}) string {
	data, _ := json.Marshal(params)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Append writes e to the log, rotating first if the file has crossed
// rotationBytes, and updates the in-memory ring buffer and aggregates.
func (r *Recorder) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rotationBytes > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size() >= r.rotationBytes {
			if err := r.rotateLocked(); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("learning: marshal entry: %w", err)
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("learning: write entry: %w", err)
	}

	r.appendRing(e)
	r.rollup(e)
	return nil
}

func (r *Recorder) appendRing(e Entry) {
	r.ring[r.ringHead] = e
	r.ringHead = (r.ringHead + 1) % r.ringCap
	if r.ringSize < r.ringCap {
		r.ringSize++
	}
}

func (r *Recorder) rollup(e Entry) {
	agg, ok := r.aggregates[e.RefID]
	if !ok {
		agg = &rollingAggregate{}
		r.aggregates[e.RefID] = agg
	}
	agg.count++
	agg.totalDurMs += e.DurationMs
	if e.Outcome == "success" {
		agg.successes++
	}

	if r.mirror != nil {
		m := component.PerformanceMetrics{
			AvgExecutionTime: float64(agg.totalDurMs) / float64(agg.count),
			SuccessRate:      float64(agg.successes) / float64(agg.count),
			UsageCount:       agg.count,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		kind := component.Kind(e.Kind)
		if kind == "" {
			kind = component.KindTool
		}
		if err := r.mirror.Put(ctx, kind, e.RefID, m); err != nil {
			r.logger.Warn("learning: redis mirror put failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// rotateLocked closes the current log file, gzip-compresses it alongside a
// timestamp suffix, and reopens a fresh empty log at the canonical path.
func (r *Recorder) rotateLocked() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("learning: close before rotate: %w", err)
	}

	stamp := rotationStamp()
	rotated := r.path + "." + stamp + ".gz"

	src, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("learning: reopen for rotate: %w", err)
	}
	dst, err := os.Create(rotated)
	if err != nil {
		src.Close()
		return fmt.Errorf("learning: create rotated file: %w", err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		src.Close()
		return fmt.Errorf("learning: compress rotated file: %w", err)
	}
	gz.Close()
	dst.Close()
	src.Close()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("learning: truncate log: %w", err)
	}
	r.file = f
	return nil
}

func rotationStamp() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

// Aggregate returns the rolled-up PerformanceMetrics for id: every entry
// appended since the Recorder opened plus those warmed from the current log
// file, independent of the ring buffer's capacity.
func (r *Recorder) Aggregate(id string) (component.PerformanceMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.aggregates[id]
	if !ok || agg.count == 0 {
		return component.PerformanceMetrics{}, false
	}
	return component.PerformanceMetrics{
		AvgExecutionTime: float64(agg.totalDurMs) / float64(agg.count),
		SuccessRate:      float64(agg.successes) / float64(agg.count),
		UsageCount:       agg.count,
	}, true
}

// Query returns the most recent n Entries (newest last) from the ring
// buffer, optionally filtered to componentID.
func (r *Recorder) Query(componentID string, n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.ringSize)
	start := r.ringHead - r.ringSize
	for i := 0; i < r.ringSize; i++ {
		idx := mod(start+i, r.ringCap)
		e := r.ring[idx]
		if componentID != "" && e.RefID != componentID {
			continue
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Close flushes and closes the underlying log file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
