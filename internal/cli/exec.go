package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/sshmcp/internal/logging"
	"github.com/tOgg1/sshmcp/internal/ssh"
)

func newExecCmd(opts *globalOptions) *cobra.Command {
	var (
		cwd     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Run one command on the configured host and print the result as JSON",
		Long: `Run one command over a one-shot connection to the configured host.

The result is printed as JSON with stdout, stderr, exitCode, exitSignal and
commandSent. sshmcp exits with the remote exit code when it is non-zero.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, strings.Join(args, " "), cwd, timeout)
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "remote working directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default: SSH_EXEC_TIMEOUT_MS)")

	return cmd
}

func runExec(cmd *cobra.Command, opts *globalOptions, command, cwd string, timeout time.Duration) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := a.executor.Execute(ctx, ssh.ExecutionRequest{
		Command: command,
		Cwd:     cwd,
		Timeout: timeout,
	})
	if err != nil {
		a.activity.Log(logging.Redact(fmt.Sprintf("cli exec failed: %s: %v", command, err)))
		return err
	}
	a.activity.Log(logging.Redact("cli exec: " + result.CommandSent))

	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if result.ExitCode != nil && *result.ExitCode != 0 {
		return &ExitError{
			Code:    *result.ExitCode,
			Err:     fmt.Errorf("remote command exited with status %d", *result.ExitCode),
			Printed: true,
		}
	}
	if result.ExitSignal != nil {
		return &ExitError{
			Code:    1,
			Err:     errors.New("remote command terminated by signal " + *result.ExitSignal),
			Printed: true,
		}
	}
	return nil
}

// writeJSON indents for terminals and writes one line otherwise.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
