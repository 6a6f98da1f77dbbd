// Package ssh runs commands on remote hosts over SSH sessions it owns.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/sshmcp/internal/logging"
)

// DefaultExecTimeout applies when neither the call nor config sets one.
const DefaultExecTimeout = 60 * time.Second

// ExecutionRequest describes one command to run.
type ExecutionRequest struct {
	// Command is the raw command text. Required.
	Command string

	// Cwd optionally changes directory before the command runs.
	Cwd string

	// Timeout bounds the command once its channel is open.
	Timeout time.Duration

	// SessionID binds the command to a registered session when it is ready.
	SessionID string

	// Overrides are the caller's arguments, checked by the policy on one-shot runs.
	Overrides map[string]any
}

// ExecutionResult is the outcome of a command that ran to completion.
type ExecutionResult struct {
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr"`
	ExitCode    *int    `json:"exitCode"`
	ExitSignal  *string `json:"exitSignal"`
	CommandSent string  `json:"commandSent"`

	// SessionBound is true when a registered session carried the command.
	SessionBound bool `json:"-"`
}

// Executor runs commands on registered sessions or on one-shot connections.
type Executor struct {
	policy         *Policy
	dialer         *Dialer
	registry       *Registry
	locale         Locale
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLocale pins the remote locale for every command.
func WithLocale(locale Locale) ExecutorOption {
	return func(e *Executor) {
		e.locale = locale
	}
}

// WithDefaultTimeout sets the timeout used when a request has none.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(policy *Policy, dialer *Dialer, registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy:         policy,
		dialer:         dialer,
		registry:       registry,
		defaultTimeout: DefaultExecTimeout,
		logger:         logging.Component("ssh-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req. A SessionID that does not name a ready session falls back
// to a one-shot connection instead of failing.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, ErrCommandRequired
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	command := BuildCommand(e.locale, req.Command, req.Cwd)

	if req.SessionID != "" {
		client, release, ok := e.registry.Acquire(req.SessionID)
		if ok {
			defer release()
			result, err := runCommand(ctx, client, command, timeout)
			if err != nil {
				return nil, err
			}
			result.SessionBound = true
			return result, nil
		}
		logger := logging.WithSession(logging.FromContext(ctx, e.logger), req.SessionID)
		logger.Debug().Msg("session not ready, running one-shot")
	}

	return e.executeOneShot(ctx, req.Overrides, command, timeout)
}

func (e *Executor) executeOneShot(ctx context.Context, overrides map[string]any, command string, timeout time.Duration) (*ExecutionResult, error) {
	params, err := e.policy.ResolveParameters(overrides)
	if err != nil {
		return nil, err
	}

	client, err := e.dialer.Dial(ctx, params, params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger := logging.FromContext(ctx, e.logger)
			logger.Debug().Err(err).Msg("close one-shot connection")
		}
	}()

	return runCommand(ctx, client, command, timeout)
}

// runCommand runs command on a fresh channel of client. Output is only
// returned when the channel closed before the deadline.
func runCommand(ctx context.Context, client *xssh.Client, command string, timeout time.Duration) (*ExecutionResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Err: err}
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "start command", Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		_ = session.Close()
		exitCode, exitSignal, err := exitStatus(waitErr)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{
			Stdout:      stdout.String(),
			Stderr:      stderr.String(),
			ExitCode:    exitCode,
			ExitSignal:  exitSignal,
			CommandSent: command,
		}, nil
	case <-timer.C:
		_ = session.Close()
		return nil, execTimeout(timeout)
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	}
}

// exitStatus maps Wait's result. A signal suppresses the exit code, and a
// channel that closed without either leaves both nil.
func exitStatus(waitErr error) (*int, *string, error) {
	if waitErr == nil {
		code := 0
		return &code, nil, nil
	}

	var exitErr *xssh.ExitError
	if errors.As(waitErr, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return nil, &sig, nil
		}
		code := exitErr.ExitStatus()
		return &code, nil, nil
	}

	var missing *xssh.ExitMissingError
	if errors.As(waitErr, &missing) {
		return nil, nil, nil
	}

	return nil, nil, &TransportError{Op: "wait", Err: waitErr}
}
