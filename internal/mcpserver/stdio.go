package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ServeStdio reads one JSON-RPC request per line from r and writes one
// response per line to w, blocking until r is exhausted or ctx is
// cancelled. Messages are bounded at 10MiB, matching the pack's own MCP
// stdio servers' line-buffering limits.
func (e *Engine) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	enc := json.NewEncoder(w)

	e.logger.Info("stdio transport started", nil)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := e.handleMessage(ctx, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("mcpserver: write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("mcpserver: read request: %w", err)
	}

	e.logger.Info("stdio transport stopped", nil)
	return nil
}
