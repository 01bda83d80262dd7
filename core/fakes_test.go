package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pkt.systems/nbexec/schema"
)

type fakeStore struct {
	mu      sync.Mutex
	order   map[ChunkListRequest][]schema.ChunkID
	outputs map[ChunkKey][]schema.ChunkOutput
	cleared []ChunkKey
	listErr error
	readErr map[schema.ChunkID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		order:   make(map[ChunkListRequest][]schema.ChunkID),
		outputs: make(map[ChunkKey][]schema.ChunkOutput),
		readErr: make(map[schema.ChunkID]error),
	}
}

func (s *fakeStore) seed(key ChunkKey, texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listKey := ChunkListRequest{DocID: key.DocID, ContextID: key.ContextID}
	if _, ok := s.outputs[key]; !ok {
		s.order[listKey] = append(s.order[listKey], key.ChunkID)
	}
	for _, text := range texts {
		seq := int64(len(s.outputs[key]) + 1)
		s.outputs[key] = append(s.outputs[key], schema.ChunkOutput{Seq: seq, Type: schema.OutputText, Text: text})
	}
}

func (s *fakeStore) ListChunkIDs(_ context.Context, req ChunkListRequest) ([]schema.ChunkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]schema.ChunkID(nil), s.order[ChunkListRequest{DocID: req.DocID, ContextID: req.ContextID}]...), nil
}

func (s *fakeStore) ClearOutput(_ context.Context, key ChunkKey, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, key)
	delete(s.outputs, key)
	return nil
}

func (s *fakeStore) ReadOutput(_ context.Context, key ChunkKey) ([]schema.ChunkOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr[key.ChunkID]; err != nil {
		return nil, err
	}
	return append([]schema.ChunkOutput(nil), s.outputs[key]...), nil
}

func (s *fakeStore) AppendOutput(_ context.Context, key ChunkKey, output schema.ChunkOutput) (schema.ChunkOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	output.Seq = int64(len(s.outputs[key]) + 1)
	s.outputs[key] = append(s.outputs[key], output)
	return output, nil
}

func (s *fakeStore) clearedKeys() []ChunkKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChunkKey(nil), s.cleared...)
}

type fakeEvaluator struct {
	fn func(options string) (schema.ChunkOptions, error)
}

func (e fakeEvaluator) Evaluate(_ context.Context, options string) (schema.ChunkOptions, error) {
	if e.fn == nil {
		return schema.ChunkOptions{}, nil
	}
	return e.fn(options)
}

type fakeEngine struct {
	mu         sync.Mutex
	attached   map[schema.ChunkID]bool
	attaches   []schema.ExecAttach
	detaches   []schema.ChunkID
	inputs     []schema.ExecInput
	violations int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{attached: make(map[schema.ChunkID]bool)}
}

func (e *fakeEngine) Attach(_ context.Context, req schema.ExecAttach) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.attached) > 0 {
		e.violations++
	}
	e.attached[req.ChunkID] = true
	e.attaches = append(e.attaches, req)
	return nil
}

func (e *fakeEngine) Detach(_ context.Context, _ schema.DocID, chunkID schema.ChunkID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attached, chunkID)
	e.detaches = append(e.detaches, chunkID)
	return nil
}

func (e *fakeEngine) Input(_ context.Context, input schema.ExecInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, input)
	return nil
}

func (e *fakeEngine) snapshot() (attaches []schema.ExecAttach, detaches []schema.ChunkID, inputs []schema.ExecInput, violations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]schema.ExecAttach(nil), e.attaches...),
		append([]schema.ChunkID(nil), e.detaches...),
		append([]schema.ExecInput(nil), e.inputs...),
		e.violations
}

type recordingSink struct {
	mu       sync.Mutex
	outputs  []schema.ChunkOutputEvent
	finished []schema.ChunkOutputFinishedEvent
	order    []string
}

func (s *recordingSink) OnChunkOutput(event schema.ChunkOutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, event)
	s.order = append(s.order, "output:"+string(event.ChunkID)+":"+event.Output.Text)
}

func (s *recordingSink) OnChunkOutputFinished(event schema.ChunkOutputFinishedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, event)
	s.order = append(s.order, "finished:"+event.Type.String())
}

func (s *recordingSink) snapshot() ([]schema.ChunkOutputEvent, []schema.ChunkOutputFinishedEvent, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ChunkOutputEvent(nil), s.outputs...),
		append([]schema.ChunkOutputFinishedEvent(nil), s.finished...),
		append([]string(nil), s.order...)
}

type harness struct {
	coord  *Coordinator
	store  *fakeStore
	engine *fakeEngine
	sink   *recordingSink
}

func newHarness(t *testing.T, eval func(options string) (schema.ChunkOptions, error)) *harness {
	t.Helper()
	h := &harness{
		store:  newFakeStore(),
		engine: newFakeEngine(),
		sink:   &recordingSink{},
	}
	coord, err := NewCoordinator(schema.ServiceConfig{}, ServiceDeps{
		Identity:  schema.Identity{User: "alice", Session: "s1"},
		Store:     h.store,
		Evaluator: fakeEvaluator{fn: eval},
		Engine:    h.engine,
		EventSink: h.sink,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Close() })
	h.coord = coord
	return h
}

func (h *harness) focus(console schema.ConsoleID, pending string) {
	h.coord.Notifier().ActiveConsoleChanged(context.Background(), schema.ActiveConsoleChange{ConsoleID: console, PendingText: pending})
}

func (h *harness) complete(docID schema.DocID, chunkID schema.ChunkID) {
	h.coord.Notifier().ChunkExecCompleted(context.Background(), schema.ChunkExecCompleted{DocID: docID, ChunkID: chunkID})
}

func (h *harness) setConsole(t *testing.T, docID schema.DocID, chunkID schema.ChunkID, mode schema.ExecMode) schema.SetChunkConsoleResponse {
	t.Helper()
	resp, err := h.coord.SetChunkConsole(context.Background(), schema.SetChunkConsoleRequest{
		DocID:      docID,
		ChunkID:    chunkID,
		ExecMode:   mode,
		Options:    "echo=TRUE",
		PixelWidth: 80,
		CharWidth:  30,
	})
	if err != nil {
		t.Fatalf("set chunk console: %v", err)
	}
	return resp
}

func (h *harness) state(t *testing.T) schema.CoordinatorState {
	t.Helper()
	state, err := h.coord.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return state
}

func evalOptions(opts schema.ChunkOptions) func(string) (schema.ChunkOptions, error) {
	return func(string) (schema.ChunkOptions, error) {
		out := make(schema.ChunkOptions, len(opts))
		for k, v := range opts {
			out[k] = v
		}
		return out, nil
	}
}

var errBoom = errors.New("boom")
