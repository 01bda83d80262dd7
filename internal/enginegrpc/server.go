package enginegrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

const defaultSendBuffer = 64

// OutputRouter accepts console output produced by an engine.
type OutputRouter interface {
	ConsoleOutput(ctx context.Context, req schema.ConsoleOutputRequest) (schema.ConsoleOutputResponse, error)
}

// Server is the coordinator side of the engine bridge. It implements
// core.ExecEngine by streaming directives to connected engines and relays
// engine completions and output back into the coordinator.
type Server struct {
	cfg    Config
	logger pslog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	router   OutputRouter
	signals  core.Signals
}

type session struct {
	id     string
	engine string
	ch     chan Directive
}

var _ core.ExecEngine = (*Server)(nil)

// NewServer constructs an engine bridge server.
func NewServer(cfg Config, logger pslog.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Bind connects the server to the coordinator. Engine completions are
// delivered to signals and engine output to router.
func (s *Server) Bind(router OutputRouter, signals core.Signals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = router
	s.signals = signals
}

// Sessions reports how many engines are connected.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Register adds the engine service to a gRPC server.
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

// ListenAndServe listens on cfg.Addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	network, addr, err := splitAddr(s.cfg.Addr)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return err
		}
		_ = os.Remove(addr)
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves the engine service on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	grpcServer := grpc.NewServer()
	s.Register(grpcServer)
	s.logger.Info("engine grpc listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		s.closeSessions()
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Attach implements core.ExecEngine.
func (s *Server) Attach(_ context.Context, req schema.ExecAttach) error {
	return s.broadcast(attachDirective(req))
}

// Detach implements core.ExecEngine.
func (s *Server) Detach(_ context.Context, docID schema.DocID, chunkID schema.ChunkID) error {
	return s.broadcast(Directive{Type: DirectiveDetach, DocID: docID, ChunkID: chunkID})
}

// Input implements core.ExecEngine.
func (s *Server) Input(_ context.Context, input schema.ExecInput) error {
	return s.broadcast(Directive{Type: DirectiveInput, DocID: input.DocID, ChunkID: input.ChunkID, Text: input.Text})
}

func (s *Server) broadcast(d Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return schema.ErrEngineUnavailable
	}
	delivered := 0
	for _, sess := range s.sessions {
		select {
		case sess.ch <- d:
			delivered++
		default:
			s.logger.Warn("engine directive dropped", "session", sess.id, "engine", sess.engine, "type", string(d.Type))
		}
	}
	if delivered == 0 {
		return errors.New("engine directive queue full")
	}
	s.logger.Trace("engine directive queued", "type", string(d.Type), "chunk", string(d.ChunkID), "sessions", delivered)
	return nil
}

func (s *Server) directives(hello *structpb.Struct, stream grpc.ServerStream) error {
	engine := hello.GetFields()["engine"].GetStringValue()
	if engine == "" {
		engine = "unnamed"
	}
	sess := &session{id: uuid.NewString(), engine: engine, ch: make(chan Directive, s.cfg.SendBuffer)}
	log := s.logger.With("session", sess.id, "engine", engine)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	log.Info("engine connected")
	defer func() {
		s.mu.Lock()
		if _, ok := s.sessions[sess.id]; ok {
			delete(s.sessions, sess.id)
		}
		s.mu.Unlock()
		log.Info("engine disconnected")
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case d, ok := <-sess.ch:
			if !ok {
				return nil
			}
			msg, err := toPBDirective(d)
			if err != nil {
				log.Warn("engine directive encode failed", "err", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				log.Debug("engine directive send failed", "err", err)
				return err
			}
		}
	}
}

func (s *Server) chunkCompleted(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	done := fromPBCompleted(req)
	if done.DocID == "" || done.ChunkID == "" {
		return nil, status.Error(codes.InvalidArgument, "doc_id and chunk_id are required")
	}
	s.mu.Lock()
	signals := s.signals
	s.mu.Unlock()
	if signals == nil {
		return nil, status.Error(codes.Unavailable, "coordinator not bound")
	}
	s.logger.Debug("engine chunk completed", "doc", string(done.DocID), "chunk", string(done.ChunkID))
	signals.ChunkExecCompleted(ctx, done)
	return &emptypb.Empty{}, nil
}

func (s *Server) consoleOutput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	router := s.router
	s.mu.Unlock()
	if router == nil {
		return nil, status.Error(codes.Unavailable, "coordinator not bound")
	}
	resp, err := router.ConsoleOutput(ctx, fromPBOutput(req))
	if err != nil {
		if errors.Is(err, schema.ErrCoordinatorClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "console output failed: %v", err)
	}
	return structpb.NewStruct(map[string]any{"routed": resp.Routed})
}

func (s *Server) ping(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"sessions": float64(s.Sessions())})
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		close(sess.ch)
		delete(s.sessions, id)
	}
}

func splitAddr(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", errors.New("engine listen address is required")
	}
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if path == "" {
			return "", "", errors.New("engine socket path is required")
		}
		return "unix", path, nil
	}
	return "tcp", addr, nil
}
