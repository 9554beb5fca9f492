package mcpserver

import (
	"context"
	"encoding/json"
)

// Dispatch routes req to its method handler, returning the method's result
// payload (always containing "outcome") or a transport-level RPCError for
// malformed/unknown requests.
func (e *Engine) Dispatch(ctx context.Context, req *Request) (interface{}, *RPCError) {
	if e.State() != StateReady {
		return nil, &RPCError{Code: ErrCodeInternal, Message: "engine not ready: state=" + string(e.State())}
	}

	switch req.Method {
	case MethodListTools:
		result, _ := e.forceListTools(req.Params)
		return result, nil
	case MethodListPatterns:
		result, _ := e.forceListPatterns(req.Params)
		return result, nil
	case MethodExecuteTool:
		result, _ := e.forceExecuteTool(ctx, req.Params)
		return result, nil
	case MethodApplyPattern:
		result, _ := e.forceApplyPattern(ctx, req.Params)
		return result, nil
	case MethodCheckConstraints:
		result, _ := e.forceCheckConstraints(ctx, req.Params)
		return result, nil
	case MethodGetInsights:
		result, _ := e.forceGetInsights(req.Params)
		return result, nil
	case MethodValidateComponents:
		result, _ := e.forceValidateComponents(ctx)
		return result, nil
	case MethodFixComponents:
		result, _ := e.forceFixComponents(ctx, req.Params)
		return result, nil
	case MethodSync:
		result, _ := e.forceSync(ctx, req.Params)
		return result, nil
	case MethodReload:
		result, _ := e.forceReload(ctx)
		return result, nil
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: "unknown method " + req.Method}
	}
}

// handleMessage parses one inbound JSON-RPC line/body and dispatches it,
// returning nil for fire-and-forget notifications (no id).
func (e *Engine) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}}
	}

	if req.ID == nil {
		return nil
	}

	result, rpcErr := e.Dispatch(ctx, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}
