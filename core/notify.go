package core

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/nbexec/schema"
)

// Notifier dispatches console focus and chunk completion notifications to
// subscribed handlers. Transports emit into it; the coordinator subscribes
// on construction and unsubscribes on Close.
type Notifier struct {
	mu        sync.Mutex
	next      uint64
	console   map[uint64]func(context.Context, schema.ActiveConsoleChange)
	completed map[uint64]func(context.Context, schema.ChunkExecCompleted)
}

// NewNotifier constructs an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		console:   make(map[uint64]func(context.Context, schema.ActiveConsoleChange)),
		completed: make(map[uint64]func(context.Context, schema.ChunkExecCompleted)),
	}
}

// Subscription is a handle on a registered handler.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// OnActiveConsoleChanged registers a console focus handler.
func (n *Notifier) OnActiveConsoleChanged(fn func(context.Context, schema.ActiveConsoleChange)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.console[id] = fn
	return &Subscription{cancel: func() {
		n.mu.Lock()
		delete(n.console, id)
		n.mu.Unlock()
	}}
}

// OnChunkExecCompleted registers a chunk completion handler.
func (n *Notifier) OnChunkExecCompleted(fn func(context.Context, schema.ChunkExecCompleted)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.completed[id] = fn
	return &Subscription{cancel: func() {
		n.mu.Lock()
		delete(n.completed, id)
		n.mu.Unlock()
	}}
}

// ActiveConsoleChanged implements Signals.
func (n *Notifier) ActiveConsoleChanged(ctx context.Context, change schema.ActiveConsoleChange) {
	n.mu.Lock()
	ids := sortedIDs(n.console)
	handlers := make([]func(context.Context, schema.ActiveConsoleChange), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, n.console[id])
	}
	n.mu.Unlock()
	for _, fn := range handlers {
		fn(ctx, change)
	}
}

// ChunkExecCompleted implements Signals.
func (n *Notifier) ChunkExecCompleted(ctx context.Context, done schema.ChunkExecCompleted) {
	n.mu.Lock()
	ids := sortedIDs(n.completed)
	handlers := make([]func(context.Context, schema.ChunkExecCompleted), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, n.completed[id])
	}
	n.mu.Unlock()
	for _, fn := range handlers {
		fn(ctx, done)
	}
}

func sortedIDs[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
