package core

import (
	"context"
	"sync"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

type loopKey struct{}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// loop runs tasks one at a time on a single goroutine. Every read or write
// of coordinator state happens inside a task.
type loop struct {
	tasks    chan task
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      pslog.Logger
}

func newLoop(depth int, logger pslog.Logger) *loop {
	if depth <= 0 {
		depth = schema.DefaultQueueDepth
	}
	l := &loop{
		tasks: make(chan task, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   logger,
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case t := <-l.tasks:
			l.exec(t)
		}
	}
}

func (l *loop) exec(t task) {
	ctx := context.WithValue(context.WithoutCancel(t.ctx), loopKey{}, l)
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("coordinator task panic", "panic", r)
		}
		if t.done != nil {
			close(t.done)
		}
	}()
	t.fn(ctx)
}

// onLoop reports whether ctx belongs to a task already running on l.
func (l *loop) onLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	current, ok := ctx.Value(loopKey{}).(*loop)
	return ok && current == l
}

// do runs fn on the loop and waits for it to finish. Calls made from inside
// a loop task run inline. Once enqueued, fn always runs to completion even if
// ctx is canceled while waiting.
func (l *loop) do(ctx context.Context, fn func(ctx context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.onLoop(ctx) {
		fn(ctx)
		return nil
	}
	if l.stopped() {
		return schema.ErrCoordinatorClosed
	}
	t := task{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case <-l.stop:
		return schema.ErrCoordinatorClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.tasks <- t:
	}
	select {
	case <-t.done:
		return nil
	case <-l.done:
		select {
		case <-t.done:
			return nil
		default:
			return schema.ErrCoordinatorClosed
		}
	}
}

// post enqueues fn without waiting for it to run.
func (l *loop) post(ctx context.Context, fn func(ctx context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.stopped() {
		return schema.ErrCoordinatorClosed
	}
	t := task{ctx: ctx, fn: fn}
	select {
	case <-l.stop:
		return schema.ErrCoordinatorClosed
	case l.tasks <- t:
		return nil
	}
}

func (l *loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *loop) close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}
