package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/component"
)

func TestLoadFallsBackToEmbeddedStrictSchema(t *testing.T) {
	store, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, TypeStrict, store.Type())
}

func TestLoadPrefersDiskExtendedOverEmbeddedStrict(t *testing.T) {
	root := t.TempDir()
	extended, err := LoadExtended()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join("assets", "force-extended-schema.json"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "schemas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "schemas", "force-extended-schema.json"), data, 0o644))

	store, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, TypeExtended, store.Type())
	assert.Equal(t, extended.Type(), store.Type())
}

func TestValidateAcceptsWellFormedTool(t *testing.T) {
	store, err := Load(t.TempDir())
	require.NoError(t, err)

	doc := map[string]interface{}{
		"id":   "echo_tool",
		"name": "Echo",
		"parameters": map[string]interface{}{
			"required": []interface{}{}, "optional": []interface{}{},
		},
		"execution": map[string]interface{}{
			"strategy": "sequential",
			"commands": []interface{}{
				map[string]interface{}{"action": "log.emit", "description": "say hello"},
			},
		},
		"metadata": map[string]interface{}{
			"created": "2026-01-01T00:00:00Z", "updated": "2026-01-01T00:00:00Z", "version": "1.0.0",
		},
	}
	result, err := store.Validate(component.KindTool, doc)
	require.NoError(t, err)
	assert.True(t, result.Valid, "errors: %+v", result.Errors)
}

func TestValidateRejectsDocumentMissingRequiredFields(t *testing.T) {
	store, err := Load(t.TempDir())
	require.NoError(t, err)

	result, err := store.Validate(component.KindTool, map[string]interface{}{"id": "bare_tool"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateUnknownKindErrors(t *testing.T) {
	store, err := Load(t.TempDir())
	require.NoError(t, err)

	_, err = store.Validate(component.KindUnknown, map[string]interface{}{})
	assert.Error(t, err)
}
