package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
)

// RPC method names served under /rpc/{method}.
const (
	MethodRefreshChunkOutput = "refresh_chunk_output"
	MethodSetChunkConsole    = "set_chunk_console"
	MethodNotebookContextID  = "notebook_context_id"
	MethodChunkState         = "chunk_state"
)

type rpcRequest struct {
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rpcMethod func(ctx context.Context, params []json.RawMessage) (any, core.AfterResponse, error)

func (s *Server) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		MethodRefreshChunkOutput: s.rpcRefreshChunkOutput,
		MethodSetChunkConsole:    s.rpcSetChunkConsole,
		MethodNotebookContextID:  s.rpcNotebookContextID,
		MethodChunkState:         s.rpcChunkState,
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/rpc/")
	log := logx.Ctx(r.Context()).With("rpc", name)
	method, ok := s.methods[name]
	if !ok {
		log.Warn("http rpc unknown method")
		writeRPCError(w, fmt.Errorf("%w: %s", schema.ErrUnknownMethod, name))
		return
	}
	var req rpcRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn("http rpc decode failed", "err", err)
		writeRPCError(w, fmt.Errorf("%w: %v", schema.ErrInvalidParams, err))
		return
	}
	result, after, err := method(r.Context(), req.Params)
	if err != nil {
		log.Warn("http rpc failed", "err", err)
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
	if after != nil {
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		after()
	}
	log.Debug("http rpc ok", "params", len(req.Params))
}

func (s *Server) rpcRefreshChunkOutput(ctx context.Context, params []json.RawMessage) (any, core.AfterResponse, error) {
	var req schema.RefreshChunkOutputRequest
	if err := decodeParams(params, &req.DocPath, &req.DocID, &req.NotebookContextID, &req.RequestID); err != nil {
		return nil, nil, err
	}
	ctx = logx.ContextWithDoc(ctx, req.DocID)
	resp, after, err := s.service.RefreshChunkOutput(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return resp, after, nil
}

func (s *Server) rpcSetChunkConsole(ctx context.Context, params []json.RawMessage) (any, core.AfterResponse, error) {
	var req schema.SetChunkConsoleRequest
	var mode int
	if err := decodeParams(params, &req.DocID, &req.ChunkID, &mode, &req.Options, &req.PixelWidth, &req.CharWidth, &req.Replace); err != nil {
		return nil, nil, err
	}
	req.ExecMode = schema.ExecMode(mode)
	resp, err := s.service.SetChunkConsole(logx.ContextWithDocChunk(ctx, req.DocID, req.ChunkID), req)
	if err != nil {
		return nil, nil, err
	}
	if resp.Options == nil {
		resp.Options = schema.ChunkOptions{}
	}
	return resp.Options, nil, nil
}

func (s *Server) rpcNotebookContextID(ctx context.Context, params []json.RawMessage) (any, core.AfterResponse, error) {
	if err := decodeParams(params); err != nil {
		return nil, nil, err
	}
	return s.service.NotebookContext(ctx), nil, nil
}

func (s *Server) rpcChunkState(ctx context.Context, params []json.RawMessage) (any, core.AfterResponse, error) {
	if err := decodeParams(params); err != nil {
		return nil, nil, err
	}
	state, err := s.service.State(ctx)
	if err != nil {
		return nil, nil, err
	}
	return state, nil, nil
}

// decodeParams assigns positional params to targets. Missing trailing params
// and JSON nulls leave the target at its zero value.
func decodeParams(params []json.RawMessage, targets ...any) error {
	if len(params) > len(targets) {
		return fmt.Errorf("%w: expected at most %d params, got %d", schema.ErrInvalidParams, len(targets), len(params))
	}
	for i, raw := range params {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return fmt.Errorf("%w: param %d: %v", schema.ErrInvalidParams, i, err)
		}
	}
	return nil
}

func rpcStatus(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrUnknownMethod):
		return http.StatusNotFound, "unknown_method"
	case errors.Is(err, schema.ErrInvalidParams), errors.Is(err, schema.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, schema.ErrOptionEval):
		return http.StatusUnprocessableEntity, "eval_failed"
	case errors.Is(err, schema.ErrStoreQuery):
		return http.StatusInternalServerError, "store_failed"
	case errors.Is(err, schema.ErrCoordinatorClosed):
		return http.StatusServiceUnavailable, "closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeRPCError(w http.ResponseWriter, err error) {
	status, code := rpcStatus(err)
	writeJSON(w, status, map[string]any{"error": rpcError{Code: code, Message: err.Error()}})
}
