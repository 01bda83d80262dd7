package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/nbexec/internal/version"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

// argv0Aliases maps binary names to the subcommand they imply, so an engine
// can be installed as a symlink.
var argv0Aliases = map[string]string{
	"nbexec-echo": "engine-echo",
	"nbexecd":     "serve",
}

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	root.SetArgs(args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("nbexec command failed", "command", commandName(args), "err", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nbexec",
		Short:         "Notebook chunk execution coordinator",
		Long:          "nbexec tracks the live chunk console of a notebook session, relays engine output to HTTP, websocket and SSH clients, and replays cached chunk output.",
		Version:       version.Current(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newEngineEchoCmd(),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias, ok := argv0Aliases[filepath.Base(args[0])]
	if !ok {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	return append(out, args[1:]...)
}

func commandName(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}
