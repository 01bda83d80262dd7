package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/nbexec"
	"pkt.systems/nbexec/httpapi"
	"pkt.systems/nbexec/internal/chunkstore"
	"pkt.systems/nbexec/internal/enginegrpc"
	"pkt.systems/nbexec/schema"
	"pkt.systems/nbexec/sshserver"
)

type stack struct {
	server     nbexec.Server
	httpBase   string
	sshAddr    string
	engineAddr string
}

type stackOptions struct {
	store    chunkstore.Config
	sshUsers []sshserver.User
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// startStack boots HTTP, the engine bridge and optionally SSH for a fixed
// identity so restarts land in the same notebook context.
func startStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	httpLn := listen(t)
	engineLn := listen(t)
	cfg := nbexec.ServerConfig{
		Identity: schema.Identity{User: "alice", Session: "s1"},
		Store:    opts.store,
		HTTP:     httpapi.Config{Addr: httpLn.Addr().String()},
		Engine:   enginegrpc.Config{Addr: engineLn.Addr().String()},
	}
	deps := nbexec.ServerDeps{HTTPListener: httpLn, EngineListener: engineLn}
	options := []nbexec.ServerOption{nbexec.WithHTTP(), nbexec.WithEngine()}
	st := &stack{
		httpBase:   "http://" + httpLn.Addr().String(),
		engineAddr: engineLn.Addr().String(),
	}
	if len(opts.sshUsers) > 0 {
		sshLn := listen(t)
		cfg.SSH = sshserver.Config{
			Addr:        sshLn.Addr().String(),
			HostKeyPath: t.TempDir() + "/host_ed25519",
			Users:       opts.sshUsers,
		}
		deps.SSHListener = sshLn
		options = append(options, nbexec.WithSSH())
		st.sshAddr = sshLn.Addr().String()
	}
	srv, err := nbexec.New(cfg, deps, options...)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	st.server = srv
	t.Cleanup(func() { st.stop(t) })
	return st
}

func (s *stack) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.server.Stop(ctx))
}

// startEcho connects the echo engine and waits until its directive stream is
// registered with the server.
func startEcho(t *testing.T, addr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client, err := enginegrpc.Dial(ctx, addr)
	require.NoError(t, err)
	engine := enginegrpc.NewEchoEngine(client, "echo", nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = client.Close()
	})
	require.Eventually(t, func() bool {
		n, err := client.Sessions(ctx)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func getState(base string) (schema.CoordinatorState, error) {
	var state schema.CoordinatorState
	resp, err := http.Get(base + "/api/state")
	if err != nil {
		return state, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return state, fmt.Errorf("state status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&state)
	return state, err
}

// rpc posts positional params to /rpc/<method> and fails on a non-200.
func rpc(t *testing.T, base, method string, params ...any) map[string]any {
	t.Helper()
	var out struct {
		Result map[string]any `json:"result"`
	}
	status := postJSON(t, base+"/rpc/"+method, map[string]any{"params": params}, &out)
	require.Equal(t, http.StatusOK, status, "rpc %s", method)
	return out.Result
}

// sseStream decodes server-sent events from /api/stream on a goroutine.
type sseStream struct {
	events chan httpapi.StreamEvent
	cancel context.CancelFunc
}

func openStream(t *testing.T, base string) *sseStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stream := &sseStream{events: make(chan httpapi.StreamEvent, 64), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		defer close(stream.events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event httpapi.StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			select {
			case stream.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	t.Cleanup(cancel)

	// the initial state frame proves the subscription is live
	first := stream.next(t, "state")
	require.NotNil(t, first.State)
	return stream
}

// next returns the next event of the given type, skipping any others.
func (s *sseStream) next(t *testing.T, eventType string) httpapi.StreamEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", eventType)
			}
			if event.Type == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

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
