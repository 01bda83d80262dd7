package sshserver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/internal/eventbus"
	"pkt.systems/nbexec/schema"
)

type stubService struct {
	refreshFn func(context.Context, schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, core.AfterResponse, error)
	setFn     func(context.Context, schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error)
	inputFn   func(context.Context, schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error)
	state     schema.CoordinatorState
}

func (s *stubService) NotebookContext(context.Context) schema.NotebookContextID {
	return "0123456789abcdef"
}

func (s *stubService) RefreshChunkOutput(ctx context.Context, req schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, core.AfterResponse, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, req)
	}
	return schema.RefreshChunkOutputResponse{}, nil, nil
}

func (s *stubService) SetChunkConsole(ctx context.Context, req schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error) {
	if s.setFn != nil {
		return s.setFn(ctx, req)
	}
	return schema.SetChunkConsoleResponse{}, nil
}

func (s *stubService) ConsoleInput(ctx context.Context, req schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error) {
	if s.inputFn != nil {
		return s.inputFn(ctx, req)
	}
	return schema.ConsoleInputResponse{}, nil
}

func (s *stubService) ConsoleOutput(context.Context, schema.ConsoleOutputRequest) (schema.ConsoleOutputResponse, error) {
	return schema.ConsoleOutputResponse{}, nil
}

func (s *stubService) State(ctx context.Context) (schema.CoordinatorState, error) {
	if err := ctx.Err(); err != nil {
		return schema.CoordinatorState{}, err
	}
	return s.state, nil
}

type stubSignals struct {
	focus []schema.ActiveConsoleChange
}

func (s *stubSignals) ActiveConsoleChanged(_ context.Context, change schema.ActiveConsoleChange) {
	s.focus = append(s.focus, change)
}

func (s *stubSignals) ChunkExecCompleted(context.Context, schema.ChunkExecCompleted) {}

func newTestConsole(svc *stubService, signals *stubSignals) (*consoleSession, *bytes.Buffer) {
	var out bytes.Buffer
	return newConsoleSession(context.Background(), &out, svc, signals, themeForName(""), "> ", nil), &out
}

func TestConsoleInputRequiresFocus(t *testing.T) {
	called := false
	svc := &stubService{inputFn: func(context.Context, schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error) {
		called = true
		return schema.ConsoleInputResponse{}, nil
	}}
	console, out := newTestConsole(svc, &stubSignals{})
	if console.handleLine("print(1)") {
		t.Fatalf("plain input must not close the session")
	}
	if called {
		t.Fatalf("expected input to be dropped without a focused console")
	}
	if !strings.Contains(out.String(), "no console focused") {
		t.Fatalf("expected focus hint, got %q", out.String())
	}
}

func TestConsoleFocusAndInput(t *testing.T) {
	var got []schema.ConsoleInputRequest
	svc := &stubService{inputFn: func(_ context.Context, req schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error) {
		got = append(got, req)
		return schema.ConsoleInputResponse{Forwarded: len(got) == 1}, nil
	}}
	signals := &stubSignals{}
	console, out := newTestConsole(svc, signals)

	console.handleLine(":console c1")
	if len(signals.focus) != 1 || signals.focus[0].ConsoleID != "c1" {
		t.Fatalf("unexpected focus signals: %+v", signals.focus)
	}
	console.handleLine("x <- 1")
	console.handleLine("x")
	if len(got) != 2 || got[0].ConsoleID != "c1" || got[0].Text != "x <- 1\n" {
		t.Fatalf("unexpected input requests: %+v", got)
	}
	if !strings.Contains(out.String(), "input not forwarded") {
		t.Fatalf("expected not-forwarded notice, got %q", out.String())
	}
}

func TestConsoleChunkCommandPreparesAndFocuses(t *testing.T) {
	var got schema.SetChunkConsoleRequest
	svc := &stubService{setFn: func(_ context.Context, req schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error) {
		got = req
		return schema.SetChunkConsoleResponse{Options: schema.ChunkOptions{"label": "setup", "eval": true}}, nil
	}}
	signals := &stubSignals{}
	console, out := newTestConsole(svc, signals)
	console.resize(100, 30)

	console.handleLine(":chunk d1 c1 setup, eval=TRUE")
	if got.DocID != "d1" || got.ChunkID != "c1" || got.Options != "setup, eval=TRUE" {
		t.Fatalf("unexpected set chunk request: %+v", got)
	}
	if got.ExecMode != schema.ExecModeSingle || got.CharWidth != 100 {
		t.Fatalf("unexpected exec mode or width: %+v", got)
	}
	if console.active != "c1" || len(signals.focus) != 1 || signals.focus[0].ConsoleID != "c1" {
		t.Fatalf("expected chunk console to be focused, active=%q signals=%+v", console.active, signals.focus)
	}
	if !strings.Contains(out.String(), "{eval=true, label=setup}") {
		t.Fatalf("expected sorted options in output, got %q", out.String())
	}
}

func TestConsoleChunkCommandReportsErrors(t *testing.T) {
	svc := &stubService{setFn: func(context.Context, schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error) {
		return schema.SetChunkConsoleResponse{}, schema.ErrOptionEval
	}}
	signals := &stubSignals{}
	console, out := newTestConsole(svc, signals)

	console.handleLine(":chunk d1")
	if !strings.Contains(out.String(), "usage: :chunk") {
		t.Fatalf("expected usage, got %q", out.String())
	}
	console.handleLine(":chunk d1 c1 fig.width=")
	if !strings.Contains(out.String(), schema.ErrOptionEval.Error()) {
		t.Fatalf("expected eval error, got %q", out.String())
	}
	if len(signals.focus) != 0 {
		t.Fatalf("expected no focus change on error, got %+v", signals.focus)
	}
}

func TestConsoleRefreshRunsContinuation(t *testing.T) {
	var got schema.RefreshChunkOutputRequest
	ran := false
	svc := &stubService{refreshFn: func(_ context.Context, req schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, core.AfterResponse, error) {
		got = req
		return schema.RefreshChunkOutputResponse{Chunks: 2, Scheduled: true}, func() { ran = true }, nil
	}}
	console, out := newTestConsole(svc, &stubSignals{})

	console.handleLine(":refresh d1 /tmp/doc.Rmd")
	if got.DocID != "d1" || got.DocPath != "/tmp/doc.Rmd" || got.RequestID == "" {
		t.Fatalf("unexpected refresh request: %+v", got)
	}
	if !ran {
		t.Fatalf("expected replay continuation to run")
	}
	if !strings.Contains(out.String(), "replaying 2 chunk(s)") {
		t.Fatalf("unexpected output %q", out.String())
	}

	svc.refreshFn = func(context.Context, schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, core.AfterResponse, error) {
		return schema.RefreshChunkOutputResponse{}, nil, errors.New("boom")
	}
	console.handleLine(":refresh d2")
	if !strings.Contains(out.String(), "error: boom") {
		t.Fatalf("expected refresh error, got %q", out.String())
	}
}

func TestConsoleStateAndQuit(t *testing.T) {
	svc := &stubService{state: schema.CoordinatorState{
		ContextID:     "0123456789abcdef",
		ActiveConsole: "c1",
		DocID:         "d1",
		ChunkID:       "c1",
		Connection:    schema.ConnectionConnected,
	}}
	console, out := newTestConsole(svc, &stubSignals{})
	console.handleLine(":state")
	if !strings.Contains(out.String(), "connection connected") || !strings.Contains(out.String(), "chunk d1/c1 mode single") {
		t.Fatalf("unexpected state output %q", out.String())
	}
	if console.handleLine(":bogus") {
		t.Fatalf("unknown command must not close the session")
	}
	if !strings.Contains(out.String(), "unknown command :bogus") {
		t.Fatalf("expected unknown command error, got %q", out.String())
	}
	if !console.handleLine(":quit") {
		t.Fatalf("expected :quit to close the session")
	}
}

func TestConsolePrintEvent(t *testing.T) {
	console, out := newTestConsole(&stubService{}, &stubSignals{})
	console.printEvent(eventbus.Event{
		Type: eventbus.EventChunkOutput,
		Output: schema.ChunkOutputEvent{
			DocID:   "d1",
			ChunkID: "c1",
			Output:  schema.ChunkOutput{Type: schema.OutputText, Text: "a\nb\n"},
		},
	})
	if out.String() != "[d1/c1] a\n[d1/c1] b\n" {
		t.Fatalf("unexpected text rendering %q", out.String())
	}
	out.Reset()
	console.printEvent(eventbus.Event{
		Type: eventbus.EventChunkOutput,
		Output: schema.ChunkOutputEvent{
			DocID:   "d1",
			ChunkID: "c1",
			Output:  schema.ChunkOutput{Type: schema.OutputPlot, Text: "iVBOR"},
		},
	})
	if !strings.Contains(out.String(), "[d1/c1] <plot 5 bytes>") {
		t.Fatalf("unexpected plot rendering %q", out.String())
	}
	out.Reset()
	console.printEvent(eventbus.Event{
		Type:     eventbus.EventChunkFinished,
		Finished: schema.ReplayFinished("ctx", "d1", "r1"),
	})
	if !strings.Contains(out.String(), "replay r1 finished for d1") {
		t.Fatalf("unexpected finished rendering %q", out.String())
	}
}
