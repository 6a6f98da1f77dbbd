package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/sshmcp/internal/server"
)

func newServeCmd(opts *globalOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools on stdio (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, version)
		},
	}
}

func runServe(cmd *cobra.Command, opts *globalOptions, version string) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.logger.Warn().Msg("stdin is a terminal; sshmcp expects an MCP client to speak JSON-RPC on stdin")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Options{
		Policy:         a.policy,
		Registry:       a.registry,
		Executor:       a.executor,
		Activity:       a.activity,
		DefaultCommand: a.cfg.Exec.DefaultCommand,
		Version:        version,
	})
	return srv.Run(ctx, in, cmd.OutOrStdout())
}
