package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/autofix"
	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/schema"
)

func writeComponent(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestStore(t *testing.T) *schema.Store {
	t.Helper()
	store, err := schema.Load(t.TempDir())
	require.NoError(t, err)
	return store
}

const validToolJSON = `{
	"id": "echo_tool",
	"name": "Echo",
	"parameters": {"required": [], "optional": []},
	"execution": {
		"strategy": "sequential",
		"commands": [{"action": "log.emit", "description": "say hello"}]
	},
	"metadata": {
		"created": "2026-01-01T00:00:00Z",
		"updated": "2026-01-02T00:00:00Z",
		"version": "1.0.0"
	}
}`

func TestReloadAdmitsValidTool(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)

	r := New(root, newTestStore(t))
	snap, err := r.Reload(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Quarantined)
	require.Contains(t, snap.Tools, "echo_tool")
	assert.Equal(t, "Echo", snap.Tools["echo_tool"].Name)
}

func TestReloadQuarantinesInvalidComponent(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/broken.json", `{"id": "Not-Snake-Case"}`)

	r := New(root, newTestStore(t))
	snap, err := r.Reload(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Tools)
	require.Len(t, snap.Quarantined, 1)
	assert.False(t, snap.Quarantined[0].Valid)
}

func TestReloadMarksCriticalToolQuarantineCritical(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/broken.json", `{
		"id": "Not-Snake-Case",
		"metadata": {"tags": ["critical"]}
	}`)

	r := New(root, newTestStore(t))
	snap, err := r.Reload(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Quarantined, 1)
	assert.True(t, snap.Quarantined[0].Critical)
}

func TestReloadOrdersToolsBeforePatterns(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "patterns/uses_echo.json", `{
		"id": "uses_echo",
		"implementation": {
			"executable_steps": [{"name": "step1", "toolId": "echo_tool"}]
		},
		"metadata": {
			"created": "2026-01-01T00:00:00Z",
			"updated": "2026-01-01T00:00:00Z",
			"version": "1.0.0"
		}
	}`)
	writeComponent(t, root, "tools/echo.json", validToolJSON)

	r := New(root, newTestStore(t))
	snap, err := r.Reload(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Quarantined, "pattern should resolve its toolId against the tool admitted in the same reload")
	assert.Contains(t, snap.Patterns, "uses_echo")
}

func TestReloadWithAutoFixOnLoadFixesBeforeValidate(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/legacy.json", `{
		"id": "legacy_tool",
		"parameters": [{"name": "Target", "default": "."}],
		"execution": {"commands": []},
		"metadata": {
			"created": "2026-01-01T00:00:00Z",
			"updated": "2026-01-01T00:00:00Z",
			"version": "1.0.0"
		}
	}`)

	r := New(root, newTestStore(t), WithAutoFixOnLoad(autofix.New()))
	snap, err := r.Reload(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Quarantined, "auto-fixer should repair the legacy parameter list before validation runs")
	assert.Contains(t, snap.Tools, "legacy_tool")
}

func TestSnapshotIsImmutableAcrossReload(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)

	r := New(root, newTestStore(t))
	first, err := r.Reload(context.Background())
	require.NoError(t, err)

	writeComponent(t, root, "tools/second.json", `{
		"id": "second_tool",
		"name": "Second",
		"parameters": {"required": [], "optional": []},
		"execution": {"strategy": "sequential", "commands": [{"action": "log.emit", "description": "x"}]},
		"metadata": {"created": "2026-01-01T00:00:00Z", "updated": "2026-01-01T00:00:00Z", "version": "1.0.0"}
	}`)
	_, err = r.Reload(context.Background())
	require.NoError(t, err)

	assert.Len(t, first.Tools, 1, "a Snapshot handed to a caller must not mutate on a later Reload")
	assert.Len(t, r.Snapshot().Tools, 2)
}

type fakeStats struct{ calls int }

func (f *fakeStats) Aggregate(id string) (component.PerformanceMetrics, bool) {
	f.calls++
	return component.PerformanceMetrics{}, id == "known"
}

func TestStatsFallsBackWithoutStatsSource(t *testing.T) {
	r := New(t.TempDir(), newTestStore(t))
	_, ok := r.Stats("anything")
	assert.False(t, ok)
}

func TestStatsDelegatesToStatsSource(t *testing.T) {
	fs := &fakeStats{}
	r := New(t.TempDir(), newTestStore(t), WithStatsSource(fs))
	_, ok := r.Stats("known")
	assert.True(t, ok)
	assert.Equal(t, 1, fs.calls)
}

func TestWatchIsNoopWhenNotEnabled(t *testing.T) {
	r := New(t.TempDir(), newTestStore(t))
	stop, err := r.Watch(context.Background())
	require.NoError(t, err)
	stop()
}

func writeGetListFixture(t *testing.T, root string) *Registry {
	t.Helper()
	writeComponent(t, root, "tools/alpha.json", `{
		"id": "alpha_tool", "name": "Alpha", "category": "git",
		"parameters": {"required": [], "optional": []},
		"execution": {"strategy": "sequential", "commands": [{"action": "log.emit", "description": "x"}]},
		"metadata": {"created": "2026-01-01T00:00:00Z", "updated": "2026-01-01T00:00:00Z", "version": "1.0.0", "complexity": "simple", "tags": ["fast", "safe"]}
	}`)
	writeComponent(t, root, "tools/beta.json", `{
		"id": "beta_tool", "name": "Beta", "category": "testing",
		"parameters": {"required": [], "optional": []},
		"execution": {"strategy": "sequential", "commands": [{"action": "log.emit", "description": "x"}]},
		"metadata": {"created": "2026-01-01T00:00:00Z", "updated": "2026-01-01T00:00:00Z", "version": "1.0.0", "complexity": "moderate", "tags": ["slow"]}
	}`)

	r := New(root, newTestStore(t))
	_, err := r.Reload(context.Background())
	require.NoError(t, err)
	return r
}

func TestGetReturnsAdmittedComponentByKindAndID(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())

	v, ok := r.Get(component.KindTool, "alpha_tool")
	require.True(t, ok)
	assert.Equal(t, "Alpha", v.(component.Tool).Name)
}

func TestGetReportsNotFoundForUnknownID(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	_, ok := r.Get(component.KindTool, "no_such_tool")
	assert.False(t, ok)
}

func TestListWithNoFilterReturnsEveryComponentOfKind(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	out := r.List(component.KindTool, ListFilter{})
	assert.Len(t, out, 2)
}

func TestListFiltersByCategory(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	out := r.List(component.KindTool, ListFilter{Category: "git"})
	require.Len(t, out, 1)
	assert.Equal(t, "alpha_tool", out[0].(component.Tool).ID)
}

func TestListFiltersByComplexity(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	out := r.List(component.KindTool, ListFilter{Complexity: "moderate"})
	require.Len(t, out, 1)
	assert.Equal(t, "beta_tool", out[0].(component.Tool).ID)
}

func TestListFiltersByAnyMatchingTag(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	out := r.List(component.KindTool, ListFilter{Tags: []string{"safe"}})
	require.Len(t, out, 1)
	assert.Equal(t, "alpha_tool", out[0].(component.Tool).ID)
}

func TestListFiltersBySubstringQueryCaseInsensitive(t *testing.T) {
	r := writeGetListFixture(t, t.TempDir())
	out := r.List(component.KindTool, ListFilter{Query: "BETA"})
	require.Len(t, out, 1)
	assert.Equal(t, "beta_tool", out[0].(component.Tool).ID)
}
