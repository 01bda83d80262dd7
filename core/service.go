package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// Coordinator owns the active console slot and the single live execution
// context. All state transitions run on its loop goroutine.
type Coordinator struct {
	cfg       schema.ServiceConfig
	ctxID     schema.NotebookContextID
	store     ChunkStore
	evaluator OptionEvaluator
	engine    ExecEngine
	sink      EventSink
	notifier  *Notifier
	logger    pslog.Logger
	loop      *loop
	subs      []*Subscription
	closeOnce sync.Once

	// loop-owned
	activeConsole schema.ConsoleID
	exec          *execContext
}

var _ Service = (*Coordinator)(nil)

// NewCoordinator constructs a coordinator and starts its loop.
func NewCoordinator(cfg schema.ServiceConfig, deps ServiceDeps) (*Coordinator, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateIdentity(deps.Identity); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("chunk store is required")
	}
	if deps.Evaluator == nil {
		return nil, errors.New("option evaluator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}
	ctxID := ContextID(deps.Identity.User, deps.Identity.Session)
	logger = logx.WithContextID(logger, ctxID)
	c := &Coordinator{
		cfg:       normalized,
		ctxID:     ctxID,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		engine:    deps.Engine,
		sink:      deps.EventSink,
		notifier:  notifier,
		logger:    logger,
		loop:      newLoop(normalized.QueueDepth, logger),
	}
	c.subs = append(c.subs,
		notifier.OnActiveConsoleChanged(func(ctx context.Context, change schema.ActiveConsoleChange) {
			if err := c.loop.do(ctx, func(ctx context.Context) { c.onActiveConsoleChanged(ctx, change) }); err != nil {
				c.log(ctx).Warn("coordinator console change dropped", "console", change.ConsoleID, "err", err)
			}
		}),
		notifier.OnChunkExecCompleted(func(ctx context.Context, done schema.ChunkExecCompleted) {
			if err := c.loop.do(ctx, func(ctx context.Context) { c.onChunkExecCompleted(ctx, done) }); err != nil {
				c.log(ctx).Warn("coordinator completion dropped", "doc", done.DocID, "chunk", done.ChunkID, "err", err)
			}
		}),
	)
	logger.Info("coordinator started", "user", deps.Identity.User, "session", deps.Identity.Session)
	return c, nil
}

// Notifier returns the notifier the coordinator is subscribed to.
func (c *Coordinator) Notifier() *Notifier {
	return c.notifier
}

// Close unsubscribes from notifications, retires the live execution context
// and stops the loop.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		for _, sub := range c.subs {
			sub.Unsubscribe()
		}
		_ = c.loop.do(context.Background(), func(ctx context.Context) {
			if c.exec != nil {
				c.exec.terminate(ctx)
				c.exec = nil
			}
		})
		c.loop.close()
		c.logger.Info("coordinator stopped")
	})
	return nil
}

// NotebookContext returns the context id owned by this coordinator.
func (c *Coordinator) NotebookContext(ctx context.Context) schema.NotebookContextID {
	_ = ctx
	return c.ctxID
}

// ContextID returns the context id owned by this coordinator.
func (c *Coordinator) ContextID() schema.NotebookContextID {
	return c.ctxID
}

// SetChunkConsole evaluates chunk options and, unless a batch run disables
// evaluation, replaces the live execution context with one for the chunk.
func (c *Coordinator) SetChunkConsole(ctx context.Context, req schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error) {
	if ctx == nil {
		return schema.SetChunkConsoleResponse{}, errors.New("missing context")
	}
	log := logx.WithContextID(logx.WithDocChunk(ctx, req.DocID, req.ChunkID), c.ctxID)
	if err := schema.ValidateSetChunkConsole(req); err != nil {
		log.Warn("coordinator set chunk console rejected", "err", err)
		return schema.SetChunkConsoleResponse{}, err
	}
	options, err := c.evaluator.Evaluate(ctx, req.Options)
	if err != nil {
		log.Warn("coordinator chunk options failed", "err", err)
		return schema.SetChunkConsoleResponse{}, err
	}
	resp := schema.SetChunkConsoleResponse{Options: options}
	if req.ExecMode == schema.ExecModeBatch && !options.EvalEnabled() {
		log.Info("coordinator chunk skipped", "reason", "eval disabled", "mode", req.ExecMode)
		return resp, nil
	}
	err = c.loop.do(ctx, func(ctx context.Context) {
		key := ChunkKey{ContextID: c.ctxID, DocID: req.DocID, ChunkID: req.ChunkID}
		if err := c.store.ClearOutput(ctx, key, true); err != nil {
			log.Warn("coordinator chunk output clear failed", "err", err)
		}
		c.installExecContext(ctx, newExecContext(c.ctxID, req, options, c.engine, c.logger, !c.cfg.DisableAuditLogging))
	})
	if err != nil {
		return schema.SetChunkConsoleResponse{}, err
	}
	log.Info("coordinator chunk console set", "mode", req.ExecMode, "pixel_width", req.PixelWidth, "char_width", req.CharWidth, "replace", req.Replace)
	return resp, nil
}

// installExecContext retires the live context and installs next, connecting
// it immediately when its console already has focus. Runs on the loop.
func (c *Coordinator) installExecContext(ctx context.Context, next *execContext) {
	if prev := c.exec; prev != nil {
		prev.terminate(ctx)
		c.exec = nil
	}
	c.exec = next
	next.log.Debug("exec context created", "active_console", c.activeConsole)
	if c.activeConsole == schema.ConsoleID(next.chunkID) {
		next.connect(ctx, c.activeConsole)
	}
}

// onChunkExecCompleted always reports the finished chunk to the client and
// destroys the live context only when the completion belongs to it.
func (c *Coordinator) onChunkExecCompleted(ctx context.Context, done schema.ChunkExecCompleted) {
	log := c.log(ctx).With("doc", done.DocID, "chunk", done.ChunkID)
	if done.ContextID != "" && done.ContextID != c.ctxID {
		log.Debug("coordinator completion from foreign context", "engine_ctx", done.ContextID)
	}
	c.emitFinished(schema.InteractiveFinished(c.ctxID, done.DocID, done.ChunkID))
	if c.exec != nil && c.exec.matches(done.DocID, done.ChunkID) {
		c.exec.terminate(ctx)
		c.exec = nil
		log.Info("coordinator chunk completed")
		return
	}
	log.Debug("coordinator stale completion", "live", c.exec != nil)
}

// ConsoleInput forwards text typed into the active console to the attached
// chunk. An empty ConsoleID addresses the active console.
func (c *Coordinator) ConsoleInput(ctx context.Context, req schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error) {
	var resp schema.ConsoleInputResponse
	err := c.loop.do(ctx, func(ctx context.Context) {
		console := req.ConsoleID
		if console == "" {
			console = c.activeConsole
		}
		if console != c.activeConsole || c.exec == nil || schema.ConsoleID(c.exec.chunkID) != console {
			c.log(ctx).Debug("coordinator console input dropped", "console", console, "active_console", c.activeConsole)
			return
		}
		resp.Forwarded = c.exec.consoleInput(ctx, req.Text)
	})
	return resp, err
}

// ConsoleOutput records output the engine produced for the attached chunk
// and relays it to clients. Output for any other console is dropped.
func (c *Coordinator) ConsoleOutput(ctx context.Context, req schema.ConsoleOutputRequest) (schema.ConsoleOutputResponse, error) {
	var resp schema.ConsoleOutputResponse
	err := c.loop.do(ctx, func(ctx context.Context) {
		exec := c.exec
		if !exec.connected() || (req.ConsoleID != "" && schema.ConsoleID(exec.chunkID) != req.ConsoleID) {
			c.log(ctx).Debug("coordinator console output dropped", "console", req.ConsoleID, "type", req.Output.Type)
			return
		}
		output := req.Output
		output.Type = schema.NormalizeOutputType(string(output.Type))
		key := ChunkKey{ContextID: c.ctxID, DocID: exec.docID, ChunkID: exec.chunkID}
		stored, err := c.store.AppendOutput(ctx, key, output)
		if err != nil {
			exec.log.Warn("coordinator chunk output store failed", "err", err)
		} else {
			output = stored
		}
		c.emitOutput(schema.ChunkOutputEvent{
			ContextID: c.ctxID,
			DocID:     exec.docID,
			ChunkID:   exec.chunkID,
			Output:    output,
		})
		resp.Routed = true
	})
	return resp, err
}

// State returns a snapshot of the coordinator slots.
func (c *Coordinator) State(ctx context.Context) (schema.CoordinatorState, error) {
	var state schema.CoordinatorState
	err := c.loop.do(ctx, func(ctx context.Context) {
		state = schema.CoordinatorState{
			ContextID:     c.ctxID,
			ActiveConsole: c.activeConsole,
			Connection:    c.exec.connectionState(),
		}
		if c.exec != nil {
			state.DocID = c.exec.docID
			state.ChunkID = c.exec.chunkID
			state.ExecMode = c.exec.mode
			state.PixelWidth = c.exec.pixelWidth
			state.CharWidth = c.exec.charWidth
		}
	})
	return state, err
}

func (c *Coordinator) emitOutput(event schema.ChunkOutputEvent) {
	if c.sink == nil {
		return
	}
	c.sink.OnChunkOutput(event)
}

func (c *Coordinator) emitFinished(event schema.ChunkOutputFinishedEvent) {
	if c.sink == nil {
		return
	}
	c.sink.OnChunkOutputFinished(event)
}

func (c *Coordinator) log(ctx context.Context) pslog.Logger {
	_ = ctx
	return c.logger
}

func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", schema.ErrStoreQuery, err)
}
