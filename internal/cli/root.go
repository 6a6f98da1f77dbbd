// Package cli implements the sshmcp command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error

	// Printed is true when the command already reported the failure.
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	envFile   string
	logLevel  string
	logFormat string
}

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "sshmcp",
		Short: "Remote command execution over SSH, served as MCP tools",
		Long: `sshmcp serves connect, exec, disconnect and listSessions as MCP tools on
stdio. The SSH host, port and credentials come from the environment or an
env file; tool callers cannot supply them.

Running sshmcp without a subcommand is the same as "sshmcp serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, version)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", "", "env file to load (default: $SSHMCP_ENV_FILE or ./.env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "diagnostics level: trace, debug, info, warn, error, off")
	flags.StringVar(&opts.logFormat, "log-format", "", "diagnostics format: console or json")

	cmd.AddCommand(
		newServeCmd(opts, version),
		newExecCmd(opts),
		newVersionCmd(version),
	)

	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sshmcp version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sshmcp %s\n", version)
			return err
		},
	}
}
