package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/config"
)

func writeComponent(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
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

func newTestConfig(t *testing.T, root string, opts ...config.Option) *config.Config {
	t.Helper()
	base := []config.Option{config.WithRoot(root)}
	cfg, err := config.New("", append(base, opts...)...)
	require.NoError(t, err)
	return cfg
}

func TestNewReachesReadyWithValidComponents(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)

	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StateReady, e.State())
}

func TestNewBlocksInProductionWhenCriticalToolInvalid(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/broken.json", `{
		"id": "Not-Snake-Case",
		"metadata": {"tags": ["critical"]}
	}`)

	cfg := newTestConfig(t, root, config.WithMode(config.ModeProduction))
	_, err := New(context.Background(), cfg)
	require.Error(t, err)

	se, ok := err.(*StartupError)
	require.True(t, ok)
	assert.Equal(t, ExitCriticalInvalid, se.Code)
}

func TestNewAllowsDevelopmentModeWithQuarantinedCriticalTool(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/broken.json", `{
		"id": "Not-Snake-Case",
		"metadata": {"tags": ["critical"]}
	}`)

	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StateReady, e.State())
}

func TestDispatchRejectsWhenEngineNotReady(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/broken.json", `{
		"id": "Not-Snake-Case",
		"metadata": {"tags": ["critical"]}
	}`)

	cfg := newTestConfig(t, root, config.WithMode(config.ModeProduction))
	e, err := New(context.Background(), cfg)
	require.Error(t, err)
	require.Equal(t, StateBlocked, e.State())

	_, rpcErr := e.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: MethodListTools})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ErrCodeInternal, rpcErr.Code)
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, rpcErr := e.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "force_does_not_exist"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, ErrCodeMethodNotFound, rpcErr.Code)
}

func TestDispatchListToolsReturnsAdmittedTool(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	result, rpcErr := e.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: MethodListTools})
	require.Nil(t, rpcErr)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "success", out["outcome"])
}

func TestDispatchExecuteToolRunsThroughRuntime(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	e.Actions().Register("log.emit", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return "logged", nil
	})

	params, _ := json.Marshal(map[string]interface{}{"toolId": "echo_tool", "parameters": map[string]interface{}{}})
	result, rpcErr := e.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: MethodExecuteTool, Params: params})
	require.Nil(t, rpcErr)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "success", out["outcome"])
}

func TestDispatchExecuteToolNotFound(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	params, _ := json.Marshal(map[string]interface{}{"toolId": "does_not_exist"})
	result, rpcErr := e.Dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: MethodExecuteTool, Params: params})
	require.Nil(t, rpcErr)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "error", out["outcome"])
}

func TestHandleMessageReturnsNilForNotification(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	resp := e.handleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"force_list_tools"}`))
	assert.Nil(t, resp, "a request with no id is a notification and must not produce a response")
}

func TestHandleMessageReturnsErrorResponseOnParseFailure(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	resp := e.handleMessage(context.Background(), []byte(`not json`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)
}

func TestReloadReentersReadyOnSuccess(t *testing.T) {
	root := t.TempDir()
	writeComponent(t, root, "tools/echo.json", validToolJSON)
	cfg := newTestConfig(t, root)
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = e.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, e.State())
}
