package core

import (
	"context"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

type execState int

const (
	execDisconnected execState = iota
	execConnected
	execTerminated
)

// execContext is the execution session of one chunk. It is owned by the
// coordinator loop and never escapes it.
type execContext struct {
	contextID  schema.NotebookContextID
	docID      schema.DocID
	chunkID    schema.ChunkID
	mode       schema.ExecMode
	rawOptions string
	options    schema.ChunkOptions
	pixelWidth int
	charWidth  int
	replace    bool
	state      execState
	engine     ExecEngine
	log        pslog.Logger
	audit      bool
}

func newExecContext(ctxID schema.NotebookContextID, req schema.SetChunkConsoleRequest, options schema.ChunkOptions, engine ExecEngine, log pslog.Logger, audit bool) *execContext {
	return &execContext{
		contextID:  ctxID,
		docID:      req.DocID,
		chunkID:    req.ChunkID,
		mode:       req.ExecMode,
		rawOptions: req.Options,
		options:    options,
		pixelWidth: req.PixelWidth,
		charWidth:  req.CharWidth,
		replace:    req.Replace,
		state:      execDisconnected,
		engine:     engine,
		log:        log.With("doc", req.DocID, "chunk", req.ChunkID),
		audit:      audit,
	}
}

func (e *execContext) connected() bool {
	return e != nil && e.state == execConnected
}

func (e *execContext) matches(docID schema.DocID, chunkID schema.ChunkID) bool {
	return e != nil && e.docID == docID && e.chunkID == chunkID
}

func (e *execContext) connectionState() schema.ConnectionState {
	if e == nil {
		return schema.ConnectionNone
	}
	if e.state == execConnected {
		return schema.ConnectionConnected
	}
	return schema.ConnectionDisconnected
}

// connect attaches the chunk console to the engine. It only succeeds while
// the chunk is the active console and reports whether a transition happened.
func (e *execContext) connect(ctx context.Context, active schema.ConsoleID) bool {
	if e.state != execDisconnected {
		e.log.Debug("exec context connect skipped", "state", e.connectionState())
		return false
	}
	if schema.ConsoleID(e.chunkID) != active {
		e.log.Debug("exec context connect skipped", "active_console", active)
		return false
	}
	e.state = execConnected
	if e.engine != nil {
		err := e.engine.Attach(ctx, schema.ExecAttach{
			ContextID:  e.contextID,
			DocID:      e.docID,
			ChunkID:    e.chunkID,
			Options:    e.options,
			PixelWidth: e.pixelWidth,
			CharWidth:  e.charWidth,
			Replace:    e.replace,
		})
		if err != nil {
			e.log.Warn("exec context engine attach failed", "err", err)
		}
	}
	e.log.Info("exec context connected")
	return true
}

func (e *execContext) disconnect(ctx context.Context) bool {
	if e.state != execConnected {
		return false
	}
	e.state = execDisconnected
	if e.engine != nil {
		if err := e.engine.Detach(ctx, e.docID, e.chunkID); err != nil {
			e.log.Warn("exec context engine detach failed", "err", err)
		}
	}
	e.log.Info("exec context disconnected")
	return true
}

// consoleInput forwards text to the engine. Input arriving while the context
// is not connected is dropped.
func (e *execContext) consoleInput(ctx context.Context, text string) bool {
	if e.state != execConnected {
		e.log.Debug("exec context input dropped", "reason", "not connected", "text_len", len(text))
		return false
	}
	if text == "" {
		return false
	}
	if e.engine == nil {
		e.log.Warn("exec context input dropped", "err", schema.ErrEngineUnavailable)
		return false
	}
	if e.audit {
		e.log.Debug("audit console input", "console", string(e.chunkID), "text_len", len(text))
	}
	if err := e.engine.Input(ctx, schema.ExecInput{DocID: e.docID, ChunkID: e.chunkID, Text: text}); err != nil {
		e.log.Warn("exec context input failed", "err", err)
		return false
	}
	return true
}

func (e *execContext) terminate(ctx context.Context) {
	if e.state == execTerminated {
		return
	}
	e.disconnect(ctx)
	e.state = execTerminated
	e.log.Debug("exec context terminated")
}
