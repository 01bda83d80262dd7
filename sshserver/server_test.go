package sshserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/nbexec/internal/eventbus"
	"pkt.systems/nbexec/schema"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in %q", want, buf.String())
}

func startSSH(t *testing.T, bus *eventbus.Bus) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server, err := NewServer(Config{
		Addr:        ln.Addr().String(),
		HostKeyPath: filepath.Join(t.TempDir(), "host_ed25519"),
		Users:       []User{{Username: "alice", PasswordHash: testHash(t, "secret")}},
	}, &stubService{}, &stubSignals{}, bus, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server.Listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("ssh server did not stop")
		}
	})
	return ln.Addr().String()
}

func TestSSHConsoleSession(t *testing.T) {
	bus := eventbus.New(nil)
	addr := startSSH(t, bus)

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.Password("secret")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer session.Close()
	if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("pty: %v", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	out := &syncBuffer{}
	session.Stdout = out
	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	waitFor(t, out, "nbexec console 0123456789abcdef")
	if _, err := io.WriteString(stdin, ":state\r"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, out, "connection none")

	bus.OnChunkOutput(schema.ChunkOutputEvent{
		ContextID: "0123456789abcdef",
		DocID:     "d1",
		ChunkID:   "c1",
		Output:    schema.ChunkOutput{Type: schema.OutputText, Text: "hello\n"},
	})
	waitFor(t, out, "[d1/c1] hello")

	if _, err := io.WriteString(stdin, ":quit\r"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not close after :quit")
	}
}

func TestSSHRejectsWrongPassword(t *testing.T) {
	addr := startSSH(t, nil)
	_, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatalf("expected authentication failure")
	}
}

func TestReleaseFocusClearsOwnConsole(t *testing.T) {
	signals := &stubSignals{}
	server := &Server{Service: &stubService{state: schema.CoordinatorState{ActiveConsole: "c1"}}, Signals: signals}
	server.releaseFocus(context.Background(), "c1")
	if len(signals.focus) != 1 || signals.focus[0].ConsoleID != "" {
		t.Fatalf("expected focus cleared, got %+v", signals.focus)
	}
}

func TestReleaseFocusKeepsOtherClientsConsole(t *testing.T) {
	signals := &stubSignals{}
	server := &Server{Service: &stubService{state: schema.CoordinatorState{ActiveConsole: "c2"}}, Signals: signals}
	server.releaseFocus(context.Background(), "c1")
	if len(signals.focus) != 0 {
		t.Fatalf("focus of another client must survive, got %+v", signals.focus)
	}
}

func TestReleaseFocusSurvivesCancelledSession(t *testing.T) {
	signals := &stubSignals{}
	server := &Server{Service: &stubService{state: schema.CoordinatorState{ActiveConsole: "c1"}}, Signals: signals}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	server.releaseFocus(ctx, "c1")
	if len(signals.focus) != 1 {
		t.Fatalf("expected focus cleared after session end, got %+v", signals.focus)
	}
}
