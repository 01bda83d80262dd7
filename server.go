package nbexec

import (
	"context"
	"errors"
	"net"
	"sync"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/httpapi"
	"pkt.systems/nbexec/internal/chunkopts"
	"pkt.systems/nbexec/internal/chunkstore"
	"pkt.systems/nbexec/internal/enginegrpc"
	"pkt.systems/nbexec/internal/eventbus"
	"pkt.systems/nbexec/schema"
	"pkt.systems/nbexec/sshserver"
	"pkt.systems/pslog"
)

// Server composes the coordinator with its HTTP, SSH and engine front ends.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	ContextID() schema.NotebookContextID
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Identity schema.Identity
	Service  schema.ServiceConfig
	Store    chunkstore.Config
	HTTP     httpapi.Config
	SSH      sshserver.Config
	Engine   enginegrpc.Config
}

// ServerDeps overrides components New would otherwise build from config.
// Listeners, when set, are served instead of listening on the configured
// addresses.
type ServerDeps struct {
	Logger         pslog.Logger
	Store          core.ChunkStore
	Evaluator      core.OptionEvaluator
	Engine         core.ExecEngine
	EventSink      core.EventSink
	HTTPListener   net.Listener
	SSHListener    net.Listener
	EngineListener net.Listener
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP   bool
	enableSSH    bool
	enableEngine bool
}

// WithHTTP enables the HTTP RPC and event stream server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH console.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithEngine enables the gRPC engine bridge.
func WithEngine() ServerOption {
	return func(o *serverOptions) { o.enableEngine = true }
}

// New constructs a composable nbexec server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH && !options.enableEngine {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	var bridge *enginegrpc.Server
	engine := deps.Engine
	if options.enableEngine {
		bridge = enginegrpc.NewServer(cfg.Engine, logger)
		if engine == nil {
			engine = bridge
		}
	}
	if engine == nil {
		return nil, errors.New("execution engine is required")
	}

	var ownedStore chunkstore.Store
	store := deps.Store
	if store == nil {
		opened, err := chunkstore.Open(cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		ownedStore = opened
		store = opened
	}
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = chunkopts.New(logger)
	}

	var hub *httpapi.Hub
	var bus *eventbus.Bus
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HistorySize)
	}
	if options.enableSSH {
		bus = eventbus.New(logger)
	}
	sinks := make([]core.EventSink, 0, 3)
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	var sink core.EventSink
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = eventFanout{sinks: sinks}
	}

	coord, err := core.NewCoordinator(cfg.Service, core.ServiceDeps{
		Identity:  cfg.Identity,
		Store:     store,
		Evaluator: evaluator,
		Engine:    engine,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		closeStore(ownedStore, logger)
		return nil, err
	}
	if bridge != nil {
		bridge.Bind(coord, coord.Notifier())
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, coord, coord.Notifier(), hub)
	}
	var sshSrv *sshserver.Server
	if options.enableSSH {
		sshSrv, err = sshserver.NewServer(cfg.SSH, coord, coord.Notifier(), bus, logger)
		if err != nil {
			_ = coord.Close()
			closeStore(ownedStore, logger)
			return nil, err
		}
		sshSrv.Listener = deps.SSHListener
	}

	return &compositeServer{
		cfg:        cfg,
		deps:       deps,
		options:    options,
		coord:      coord,
		hub:        hub,
		bus:        bus,
		bridge:     bridge,
		httpSrv:    httpSrv,
		sshSrv:     sshSrv,
		ownedStore: ownedStore,
		logger:     logger,
	}, nil
}

func closeStore(store chunkstore.Store, logger pslog.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("server store close failed", "err", err)
	}
}

type compositeServer struct {
	cfg        ServerConfig
	deps       ServerDeps
	options    serverOptions
	coord      *core.Coordinator
	hub        *httpapi.Hub
	bus        *eventbus.Bus
	bridge     *enginegrpc.Server
	httpSrv    *httpapi.Server
	sshSrv     *sshserver.Server
	ownedStore chunkstore.Store
	logger     pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func (s *compositeServer) ContextID() schema.NotebookContextID {
	return s.coord.ContextID()
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("server start rejected", "reason", "stopped")
		return errors.New("server stopped")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	s.errCh = make(chan error, 3)
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"nb_ctx", string(s.coord.ContextID()),
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"engine", s.options.enableEngine,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
		"engine_addr", s.cfg.Engine.Addr,
	)
	if s.httpSrv != nil {
		s.run("http", func(ctx context.Context) error {
			if s.deps.HTTPListener != nil {
				return httpapi.Serve(ctx, s.deps.HTTPListener, s.httpSrv.Handler())
			}
			return httpapi.ListenAndServe(ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler())
		})
	}
	if s.sshSrv != nil {
		s.run("ssh", s.sshSrv.ListenAndServe)
	}
	if s.bridge != nil {
		s.run("engine", func(ctx context.Context) error {
			if s.deps.EngineListener != nil {
				return s.bridge.Serve(ctx, s.deps.EngineListener)
			}
			return s.bridge.ListenAndServe(ctx)
		})
	}
	return nil
}

func (s *compositeServer) run(name string, serve func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := serve(s.ctx); err != nil {
			s.logger.Error(name+" server failed", "err", err)
			s.errCh <- err
		}
	}()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			s.logger.Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	stopped := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if stopped {
		return nil
	}
	log := s.logger
	if !started {
		// New already runs the coordinator loop and may own the store
		if err := s.coord.Close(); err != nil {
			log.Warn("server coordinator close failed", "err", err)
		}
		closeStore(s.ownedStore, log)
		log.Info("server released without start")
		return nil
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if err := s.coord.Close(); err != nil {
		log.Warn("server coordinator close failed", "err", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		closeStore(s.ownedStore, log)
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
