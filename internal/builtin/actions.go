// Package builtin supplies the small set of concrete Action Table handlers a
// bare Force Engine process registers before serving requests: shelling out
// to an external command, issuing an HTTP request, and reading or writing a
// file under the component root. Every other action name a deployment needs
// is expected to be registered by the embedding host; these cover the
// handful of operations common enough to ship by default.
package builtin

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/force-engine/force/internal/actiontable"
	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/logging"
)

// Register wires the built-in actions into table. root scopes fs.read and
// fs.write to a single directory so a command document cannot point a tool
// at an arbitrary filesystem path.
func Register(table *actiontable.Table, root string, logger logging.Logger) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	log := logger.WithComponent("builtin")

	table.Register("shell.run", shellRun(log))
	table.Register("http.request", httpRequest(log))
	table.Register("fs.read", fsRead(root, log))
	table.Register("fs.write", fsWrite(root, log))
	table.Register("log.emit", logEmit(log))
}

// shellRun executes params["command"] with params["args"] ([]interface{} of
// strings), returning stdout as the result. Uses the context-bound
// exec.CommandContext over bare exec.Command so a tool's own timeout
// propagates to the child process.
func shellRun(log logging.Logger) actiontable.Action {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		cmdName, _ := params["command"].(string)
		if cmdName == "" {
			return nil, ferrors.Withf("builtin.shell.run", "action", "shell.run", ferrors.ErrParameter,
				"command parameter is required")
		}

		var args []string
		if raw, ok := params["args"].([]interface{}); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}

		cmd := exec.CommandContext(ctx, cmdName, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		log.Debug("shell.run", map[string]interface{}{
			"command": cmdName, "duration_ms": time.Since(start).Milliseconds(), "error": errString(err),
		})
		if err != nil {
			return nil, ferrors.Withf("builtin.shell.run", "action", "shell.run", ferrors.ErrActionFailed,
				"%s: %v: %s", cmdName, err, stderr.String())
		}
		return strings.TrimRight(stdout.String(), "\n"), nil
	}
}

// httpRequest issues params["method"] (default GET) against params["url"],
// with an optional params["body"] string, returning the decoded response
// body. 2xx is the only success range; anything else is ErrActionFailed.
func httpRequest(log logging.Logger) actiontable.Action {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		url, _ := params["url"].(string)
		if url == "" {
			return nil, ferrors.Withf("builtin.http.request", "action", "http.request", ferrors.ErrParameter,
				"url parameter is required")
		}
		method, _ := params["method"].(string)
		if method == "" {
			method = http.MethodGet
		}

		var body io.Reader
		if b, ok := params["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, ferrors.Withf("builtin.http.request", "action", "http.request", ferrors.ErrParameter,
				"build request: %v", err)
		}
		if headers, ok := params["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			log.Warn("http.request failed", map[string]interface{}{"url": url, "error": err.Error()})
			return nil, ferrors.Withf("builtin.http.request", "action", "http.request", ferrors.ErrActionFailed,
				"%s %s: %v", method, url, err)
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		log.Debug("http.request", map[string]interface{}{
			"url": url, "status": resp.StatusCode, "duration_ms": time.Since(start).Milliseconds(),
		})
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, ferrors.Withf("builtin.http.request", "action", "http.request", ferrors.ErrActionFailed,
				"%s %s: status %d", method, url, resp.StatusCode)
		}
		return map[string]interface{}{"status": resp.StatusCode, "body": string(data)}, nil
	}
}

// fsRead reads params["path"], resolved relative to root and rejecting any
// escape above it.
func fsRead(root string, log logging.Logger) actiontable.Action {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		path, _ := params["path"].(string)
		full, err := scopedPath(root, path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, ferrors.Withf("builtin.fs.read", "action", "fs.read", ferrors.ErrActionFailed,
				"read %s: %v", path, err)
		}
		log.Debug("fs.read", map[string]interface{}{"path": path, "bytes": len(data)})
		return string(data), nil
	}
}

// fsWrite writes params["content"] to params["path"], resolved relative to
// root and rejecting any escape above it.
func fsWrite(root string, log logging.Logger) actiontable.Action {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		path, _ := params["path"].(string)
		content, _ := params["content"].(string)
		full, err := scopedPath(root, path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, ferrors.Withf("builtin.fs.write", "action", "fs.write", ferrors.ErrActionFailed,
				"mkdir for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, ferrors.Withf("builtin.fs.write", "action", "fs.write", ferrors.ErrActionFailed,
				"write %s: %v", path, err)
		}
		log.Debug("fs.write", map[string]interface{}{"path": path, "bytes": len(content)})
		return map[string]interface{}{"bytes_written": len(content)}, nil
	}
}

// logEmit appends params["message"] to the process log at params["level"]
// (default info), giving a pattern or tool a way to surface progress without
// its own action.
func logEmit(log logging.Logger) actiontable.Action {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		msg, _ := params["message"].(string)
		level, _ := params["level"].(string)
		fields := map[string]interface{}{}
		if extra, ok := params["fields"].(map[string]interface{}); ok {
			fields = extra
		}
		switch level {
		case "warn":
			log.Warn(msg, fields)
		case "error":
			log.Error(msg, fields)
		case "debug":
			log.Debug(msg, fields)
		default:
			log.Info(msg, fields)
		}
		return nil, nil
	}
}

func scopedPath(root, path string) (string, error) {
	if path == "" {
		return "", ferrors.Withf("builtin.fs", "action", "fs", ferrors.ErrParameter, "path parameter is required")
	}
	full := filepath.Join(root, path)
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ferrors.Withf("builtin.fs", "action", "fs", ferrors.ErrParameter,
			"path %q escapes component root", path)
	}
	return full, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
