package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPHandler returns the MCP Surface's HTTP handler: a single POST
// endpoint accepting one JSON-RPC request body and returning one response
// body, wrapped in OpenTelemetry HTTP instrumentation.
func (e *Engine) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", e.handleHTTPRequest)
	mux.HandleFunc("/healthz", e.handleHealthz)
	return otelhttp.NewHandler(mux, "force.mcp")
}

func (e *Engine) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp := e.handleMessage(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(http.StatusOK) // JSON-RPC errors travel in the body, not the status line
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (e *Engine) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"state": string(e.State()),
		"time":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ServeHTTP starts an HTTP server bound to addr and blocks until ctx is
// cancelled, then shuts down gracefully.
func (e *Engine) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: e.HTTPHandler()}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http transport started", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("mcpserver: listen %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcpserver: shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
