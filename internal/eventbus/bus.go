package eventbus

import (
	"context"
	"sync"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventChunkOutput carries one cached or live output item.
	EventChunkOutput EventType = "chunk_output"
	// EventChunkFinished marks the end of a replay or a live execution.
	EventChunkFinished EventType = "chunk_finished"
)

// Event represents a client-facing event emitted by the coordinator.
type Event struct {
	Type     EventType
	Output   schema.ChunkOutputEvent
	Finished schema.ChunkOutputFinishedEvent
}

// Bus fans events out to per-context subscribers. It implements
// core.EventSink.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.NotebookContextID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.NotebookContextID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the context and returns a channel +
// cancel.
func (b *Bus) Subscribe(ctxID schema.NotebookContextID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	ctxSubs := b.subs[ctxID]
	if ctxSubs == nil {
		ctxSubs = make(map[chan Event]struct{})
		b.subs[ctxID] = ctxSubs
	}
	ctxSubs[ch] = struct{}{}
	count := len(ctxSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("nb_ctx", string(ctxID)).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[ctxID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, ctxID)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("nb_ctx", string(ctxID)).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnChunkOutput publishes an output event.
func (b *Bus) OnChunkOutput(event schema.ChunkOutputEvent) {
	b.publish(event.ContextID, Event{Type: EventChunkOutput, Output: event})
}

// OnChunkOutputFinished publishes a finished event.
func (b *Bus) OnChunkOutputFinished(event schema.ChunkOutputFinishedEvent) {
	b.publish(event.ContextID, Event{Type: EventChunkFinished, Finished: event})
}

func (b *Bus) publish(ctxID schema.NotebookContextID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ctxSubs := b.subs[ctxID]
	if len(ctxSubs) == 0 {
		return
	}
	dropped := 0
	for sub := range ctxSubs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("nb_ctx", string(ctxID)).Trace("eventbus dropped", "count", dropped)
	}
}
