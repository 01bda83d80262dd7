package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
)

const (
	streamChunkOutput   = "chunk_output"
	streamChunkFinished = "chunk_finished"
	streamState         = "state"
)

// StreamEvent is sent to SSE and websocket clients.
type StreamEvent struct {
	Seq       uint64                           `json:"seq"`
	Type      string                           `json:"type"`
	ContextID schema.NotebookContextID         `json:"nb_ctx_id"`
	Output    *schema.ChunkOutputEvent         `json:"output,omitempty"`
	Finished  *schema.ChunkOutputFinishedEvent `json:"finished,omitempty"`
	State     *schema.CoordinatorState         `json:"state,omitempty"`
	Timestamp time.Time                        `json:"timestamp"`
}

// Hub broadcasts events per notebook context and keeps a bounded history
// so reconnecting clients can resume from Last-Event-ID.
type Hub struct {
	mu          sync.Mutex
	contexts    map[schema.NotebookContextID]*contextHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		contexts:    make(map[schema.NotebookContextID]*contextHub),
		historySize: historySize,
	}
}

// OnChunkOutput implements core.EventSink.
func (h *Hub) OnChunkOutput(event schema.ChunkOutputEvent) {
	log := logx.WithContextID(logx.WithDocChunk(context.Background(), event.DocID, event.ChunkID), event.ContextID)
	log.Trace("hub chunk output", "seq", event.Output.Seq, "replay", event.Replay)
	h.publish(event.ContextID, StreamEvent{
		Type:      streamChunkOutput,
		Output:    &event,
		Timestamp: time.Now(),
	})
}

// OnChunkOutputFinished implements core.EventSink.
func (h *Hub) OnChunkOutputFinished(event schema.ChunkOutputFinishedEvent) {
	log := logx.WithContextID(logx.WithDoc(context.Background(), event.DocID), event.ContextID)
	log.Trace("hub chunk finished", "type", event.Type.String(), "chunk", string(event.ChunkID), "request", string(event.RequestID))
	h.publish(event.ContextID, StreamEvent{
		Type:      streamChunkFinished,
		Finished:  &event,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a subscriber for a notebook context.
func (h *Hub) Subscribe(ctxID schema.NotebookContextID) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hub := h.getOrCreateLocked(ctxID)
	ch := make(chan StreamEvent, 256)
	hub.subs[ch] = struct{}{}
	seq := hub.seq
	log := logx.WithContextID(logx.Ctx(context.Background()), ctxID)
	log.Info("hub subscribe", "subs", len(hub.subs), "history", len(hub.history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(hub.subs, ch)
			close(ch)
			remaining := len(hub.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(ctxID schema.NotebookContextID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.contexts[ctxID]
	if ch == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(ch.history))
	for _, event := range ch.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithContextID(logx.Ctx(context.Background()), ctxID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(ctxID schema.NotebookContextID, event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.getOrCreateLocked(ctxID)
	ch.seq++
	event.Seq = ch.seq
	event.ContextID = ctxID
	ch.history = append(ch.history, event)
	if len(ch.history) > h.historySize {
		ch.history = ch.history[len(ch.history)-h.historySize:]
	}
	dropped := 0
	for sub := range ch.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logx.WithContextID(logx.Ctx(context.Background()), ctxID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateLocked(ctxID schema.NotebookContextID) *contextHub {
	ch := h.contexts[ctxID]
	if ch == nil {
		ch = &contextHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.contexts[ctxID] = ch
	}
	return ch
}

type contextHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
