package ssh

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPassphraseRequired  = errors.New("passphrase required for private key")
	ErrSSHAgentUnavailable = errors.New("ssh agent not available")

	// ErrPolicyViolation marks requests refused by connection policy.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConnectTimeout marks a handshake that missed its deadline.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrExecTimeout marks a command that missed its deadline.
	ErrExecTimeout = errors.New("exec timeout")

	// ErrCommandRequired indicates an empty command reached the executor.
	ErrCommandRequired = errors.New("command is required")

	// ErrRegistryClosed is returned by Connect after CloseAll.
	ErrRegistryClosed = errors.New("session registry closed")
)

// PolicyError explains why a request was refused.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Reason)
}

func (e *PolicyError) Unwrap() error {
	return ErrPolicyViolation
}

// TimeoutError reports a deadline that fired before the operation settled.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	kind    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.kind
}

func connectTimeout(addr string, d time.Duration) error {
	return &TimeoutError{Op: "ssh connect to " + addr, Timeout: d, kind: ErrConnectTimeout}
}

func execTimeout(d time.Duration) error {
	return &TimeoutError{Op: "ssh exec", Timeout: d, kind: ErrExecTimeout}
}

// KeyResolutionError wraps filesystem failures while reading key material.
type KeyResolutionError struct {
	Path string
	Err  error
}

func (e *KeyResolutionError) Error() string {
	return fmt.Sprintf("read private key %s: %v", e.Path, e.Err)
}

func (e *KeyResolutionError) Unwrap() error {
	return e.Err
}

// TransportError carries a failure reported by the SSH transport unchanged.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
