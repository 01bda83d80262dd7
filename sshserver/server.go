package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/internal/eventbus"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// Server exposes the coordinator console over SSH.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     core.Service
	Signals     core.Signals
	Users       *Users
	EventBus    *eventbus.Bus
	Prompt      string
	Theme       string
	logger      pslog.Logger
}

// NewServer builds an SSH console server from cfg.
func NewServer(cfg Config, service core.Service, signals core.Signals, bus *eventbus.Bus, logger pslog.Logger) (*Server, error) {
	users, err := NewUsers(cfg.Users)
	if err != nil {
		return nil, err
	}
	return &Server{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
		Service:     service,
		Signals:     signals,
		Users:       users,
		EventBus:    bus,
		Prompt:      cfg.Prompt,
		Theme:       cfg.Theme,
		logger:      logger,
	}, nil
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Prompt == "" {
		s.Prompt = "> "
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Users == nil {
		return errors.New("ssh users are required")
	}
	if s.Service == nil || s.Signals == nil {
		return errors.New("ssh console requires a service and signals")
	}

	hostKey, err := LoadHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	s.logger.Info("ssh host key loaded", "path", s.HostKeyPath, "fingerprint", hostKey.Fingerprint, "created", hostKey.Created)

	server := &gliderssh.Server{
		Addr:             s.Addr,
		Handler:          s.handleSession,
		PasswordHandler:  s.handlePassword,
		PublicKeyHandler: s.handlePublicKey,
	}
	server.AddHostKey(hostKey.Signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh console listening", "addr", s.Addr)

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handlePassword(ctx gliderssh.Context, password string) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx))
	if !s.Users.CheckPassword(ctx.User(), password) {
		log.Warn("ssh password rejected")
		return false
	}
	log.Info("ssh password accepted")
	return true
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	if !s.Users.HasLoginPubKey(ctx.User(), key) {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if sshSession := sess.Context().SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ctx := pslog.ContextWithLogger(sess.Context(), log)

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		return
	}

	log.Info("ssh session opened", "term", pty.Term)
	ctxID := s.Service.NotebookContext(ctx)
	var events <-chan eventbus.Event
	if s.EventBus != nil {
		var unsubscribe func()
		events, unsubscribe = s.EventBus.Subscribe(ctxID)
		defer unsubscribe()
	}

	ui := newConsoleSession(ctx, sess, s.Service, s.Signals, themeForName(s.Theme), s.Prompt, log)
	ui.bind(sess)
	ui.resize(pty.Window.Width, pty.Window.Height)
	go func() {
		for win := range winCh {
			ui.resize(win.Width, win.Height)
		}
	}()
	if err := ui.run(events); err != nil {
		log.Debug("ssh session ended", "err", err)
	}
	s.releaseFocus(ctx, ui.active)
	log.Info("ssh session closed", "term", pty.Term)
}

// releaseFocus clears the active console when it is still the one this
// session focused. Focus taken by another client since then is left alone.
// The session context is usually cancelled by now.
func (s *Server) releaseFocus(ctx context.Context, active schema.ConsoleID) {
	if active == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := pslog.Ctx(ctx)
	state, err := s.Service.State(ctx)
	if err != nil {
		log.Warn("ssh focus release skipped", "console", active, "err", err)
		return
	}
	if state.ActiveConsole != active {
		log.Debug("ssh focus moved elsewhere", "console", active, "active_console", state.ActiveConsole)
		return
	}
	s.Signals.ActiveConsoleChanged(ctx, schema.ActiveConsoleChange{})
}
