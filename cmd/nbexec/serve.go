package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pkt.systems/nbexec"
	"pkt.systems/nbexec/httpapi"
	"pkt.systems/nbexec/internal/appconfig"
	"pkt.systems/nbexec/internal/chunkstore"
	"pkt.systems/nbexec/internal/enginegrpc"
	"pkt.systems/nbexec/schema"
	"pkt.systems/nbexec/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var disableAuditTrails bool
	var session string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordinator and its HTTP, SSH and engine front ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			if session != "" {
				cfg.Identity.Session = session
			}
			serverCfg, err := toServerConfig(cfg)
			if err != nil {
				return err
			}
			opts := serverOptions(cfg)
			if len(opts) == 0 {
				return errors.New("http, ssh and engine are all disabled")
			}
			server, err := nbexec.New(serverCfg, nbexec.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}
			logger.Info("notebook context ready", "nb_ctx", string(server.ContextID()), "user", serverCfg.Identity.User, "session", serverCfg.Identity.Session, "store", cfg.Store.Backend)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for console input")
	cmd.Flags().StringVar(&session, "session", "", "session id for the notebook context (random when unset)")
	return cmd
}

func serverOptions(cfg appconfig.Config) []nbexec.ServerOption {
	var opts []nbexec.ServerOption
	if cfg.HTTP.Enabled {
		opts = append(opts, nbexec.WithHTTP())
	}
	if cfg.SSH.Enabled {
		opts = append(opts, nbexec.WithSSH())
	}
	if cfg.Engine.Enabled {
		opts = append(opts, nbexec.WithEngine())
	}
	return opts
}

func toServerConfig(cfg appconfig.Config) (nbexec.ServerConfig, error) {
	identity, err := resolveIdentity(cfg.Identity)
	if err != nil {
		return nbexec.ServerConfig{}, err
	}
	return nbexec.ServerConfig{
		Identity: identity,
		Service: schema.ServiceConfig{
			QueueDepth:          cfg.Service.QueueDepth,
			DisableAuditLogging: cfg.Logging.DisableAuditTrails,
		},
		Store:  toStoreConfig(cfg.Store),
		HTTP:   toHTTPConfig(cfg.HTTP),
		SSH:    toSSHConfig(cfg.SSH),
		Engine: toEngineConfig(cfg.Engine),
	}, nil
}

func resolveIdentity(cfg appconfig.IdentityConfig) (schema.Identity, error) {
	user := strings.TrimSpace(cfg.User)
	if user == "" || strings.HasPrefix(user, "$") {
		return schema.Identity{}, errors.New("identity.user is required (set it in the config or export USER)")
	}
	session := strings.TrimSpace(cfg.Session)
	if session == "" {
		session = uuid.NewString()
	}
	identity := schema.Identity{User: user, Session: session}
	if err := schema.ValidateIdentity(identity); err != nil {
		return schema.Identity{}, err
	}
	return identity, nil
}

func toStoreConfig(cfg appconfig.StoreConfig) chunkstore.Config {
	return chunkstore.Config{
		Backend:            cfg.Backend,
		Dir:                cfg.Dir,
		Path:               cfg.Path,
		MaxOutputsPerChunk: cfg.MaxOutputsPerChunk,
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:        cfg.Addr,
		BasePath:    cfg.BasePath,
		Token:       cfg.Token,
		HistorySize: cfg.HistorySize,
	}
}

func toSSHConfig(cfg appconfig.SSHConfig) sshserver.Config {
	users := make([]sshserver.User, 0, len(cfg.Users))
	for _, user := range cfg.Users {
		users = append(users, sshserver.User{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			LoginPubKeys: user.LoginPubKeys,
		})
	}
	return sshserver.Config{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
		Prompt:      cfg.Prompt,
		Theme:       cfg.Theme,
		Users:       users,
	}
}

func toEngineConfig(cfg appconfig.EngineConfig) enginegrpc.Config {
	return enginegrpc.Config{
		Addr:       cfg.Addr,
		SendBuffer: cfg.SendBuffer,
	}
}
