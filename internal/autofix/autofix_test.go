package autofix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/component"
)

func TestMigrateParameterList(t *testing.T) {
	doc := map[string]interface{}{
		"parameters": []interface{}{
			map[string]interface{}{"name": "path", "constraints": map[string]interface{}{"required": true}},
			map[string]interface{}{"name": "verbose", "default": false},
		},
	}
	changed := migrateParameterList(doc)
	require.True(t, changed)

	params := doc["parameters"].(map[string]interface{})
	assert.Len(t, params["required"], 1)
	assert.Len(t, params["optional"], 1)
}

func TestMigrateParameterListUsesTopLevelRequiredFlag(t *testing.T) {
	doc := map[string]interface{}{
		"parameters": []interface{}{
			map[string]interface{}{"name": "ToolId", "type": "string", "required": true},
			map[string]interface{}{"name": "timeout", "type": "number", "required": false},
		},
	}
	changed := migrateParameterList(doc)
	require.True(t, changed)

	params := doc["parameters"].(map[string]interface{})
	required := params["required"].([]interface{})
	optional := params["optional"].([]interface{})
	require.Len(t, required, 1)
	require.Len(t, optional, 1)
	assert.Equal(t, "ToolId", required[0].(map[string]interface{})["name"])
	_, hasRequiredKey := required[0].(map[string]interface{})["required"]
	assert.False(t, hasRequiredKey, "top-level required flag must be dropped once classified")

	assert.Equal(t, "timeout", optional[0].(map[string]interface{})["name"])
}

func TestMigrateParameterListTopLevelRequiredOverridesDefaultHeuristic(t *testing.T) {
	doc := map[string]interface{}{
		"parameters": []interface{}{
			// required:false with no default must not be bucketed required by
			// the "has no default" heuristic.
			map[string]interface{}{"name": "confirm", "type": "boolean", "required": false},
			// required:true with a default must not be bucketed optional by
			// the "has default" heuristic.
			map[string]interface{}{"name": "retries", "type": "number", "required": true, "default": 3},
		},
	}
	changed := migrateParameterList(doc)
	require.True(t, changed)

	params := doc["parameters"].(map[string]interface{})
	required := params["required"].([]interface{})
	optional := params["optional"].([]interface{})
	require.Len(t, required, 1)
	require.Len(t, optional, 1)
	assert.Equal(t, "retries", required[0].(map[string]interface{})["name"])
	assert.Equal(t, "confirm", optional[0].(map[string]interface{})["name"])
}

func TestNormalizeParameterNames(t *testing.T) {
	doc := map[string]interface{}{
		"parameters": map[string]interface{}{
			"required": []interface{}{
				map[string]interface{}{"name": "File-Path"},
			},
			"optional": []interface{}{},
		},
	}
	changed := normalizeParameterNames(doc)
	require.True(t, changed)

	req := doc["parameters"].(map[string]interface{})["required"].([]interface{})
	assert.Equal(t, "file_path", req[0].(map[string]interface{})["name"])
}

func TestDefaultExecutionStrategy(t *testing.T) {
	doc := map[string]interface{}{"execution": map[string]interface{}{}}
	assert.True(t, defaultExecutionStrategy(doc))
	assert.Equal(t, "sequential", doc["execution"].(map[string]interface{})["strategy"])

	assert.False(t, defaultExecutionStrategy(doc), "second run must be a no-op")
}

func TestStripUnknownLegacyFields(t *testing.T) {
	doc := map[string]interface{}{"legacy_id": "x", "script_path": "/bin/old", "id": "keep_me"}
	assert.True(t, stripUnknownLegacyFields(doc))
	_, hasLegacy := doc["legacy_id"]
	assert.False(t, hasLegacy)
	assert.Equal(t, "keep_me", doc["id"])
}

func TestStubMetadataFillsMissingBlock(t *testing.T) {
	doc := map[string]interface{}{}
	assert.True(t, stubMetadata(doc))
	meta := doc["metadata"].(map[string]interface{})
	assert.Equal(t, "0.1.0", meta["version"])
	assert.NotEmpty(t, meta["created"])
}

func TestStubMetadataBackfillsPartialBlock(t *testing.T) {
	doc := map[string]interface{}{"metadata": map[string]interface{}{"created": "2026-01-01T00:00:00Z"}}
	assert.True(t, stubMetadata(doc))
	meta := doc["metadata"].(map[string]interface{})
	assert.Equal(t, "2026-01-01T00:00:00Z", meta["created"])
	assert.NotEmpty(t, meta["updated"])
	assert.Equal(t, "0.1.0", meta["version"])
}

func TestFixIsIdempotent(t *testing.T) {
	f := New()
	doc := map[string]interface{}{
		"parameters": []interface{}{
			map[string]interface{}{"name": "File Path", "default": "."},
		},
	}
	first := f.Fix(component.KindTool, doc)
	assert.NotEmpty(t, first.Rules)

	second := f.Fix(component.KindTool, doc)
	assert.Empty(t, second.Rules, "re-running Fix on its own output should apply nothing")
}

func TestFixFileWritesBackupAndRewritesOnlyWhenChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy_tool.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "legacy_tool",
		"legacy_id": "old-name",
		"parameters": [{"name": "Target", "default": "."}],
		"execution": {"commands": []}
	}`), 0o644))

	f := New()
	applied, err := f.FixFile(path, component.KindTool)
	require.NoError(t, err)
	assert.NotEmpty(t, applied.Rules)

	matches, err := filepath.Glob(ResolveBackupGlob(path))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(rewritten), "legacy_id")
	assert.Contains(t, string(rewritten), `"strategy": "sequential"`)

	applied2, err := f.FixFile(path, component.KindTool)
	require.NoError(t, err)
	assert.Empty(t, applied2.Rules, "fixing the rewritten file again must not change anything")
}
