package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/nbexec/internal/appconfig"
	"pkt.systems/nbexec/internal/enginegrpc"
	"pkt.systems/pslog"
)

func newEngineEchoCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var name string
	cmd := &cobra.Command{
		Use:   "engine-echo",
		Short: "Run a reference engine that echoes console input back as chunk output",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			if addr == "" {
				cfg, err := appconfig.Load(cfgPath)
				if err != nil {
					return err
				}
				addr = cfg.Engine.Addr
			}
			client, err := enginegrpc.Dial(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			logger.Info("engine echo dialed", "addr", addr, "engine", name)
			return enginegrpc.NewEchoEngine(client, name, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "engine bridge address (host:port or unix:///path); defaults to engine.addr")
	cmd.Flags().StringVar(&name, "name", "echo", "engine name reported to the coordinator")
	return cmd
}
