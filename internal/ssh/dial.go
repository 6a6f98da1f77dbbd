package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh/knownhosts"

	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/sshmcp/internal/logging"
)

// handshakeGrace lets the connect timer fire before the socket deadline, so a
// stalled handshake is reported as a connect timeout, not an i/o error.
const handshakeGrace = time.Second

// DefaultConnectTimeout applies when neither the call nor config sets one.
const DefaultConnectTimeout = 20 * time.Second

type dialFunc func(addr string, cfg *xssh.ClientConfig, timeout time.Duration) (*xssh.Client, error)

// Dialer opens SSH connections subject to the connection policy.
type Dialer struct {
	policy          *Policy
	hostKeyCallback xssh.HostKeyCallback
	useAgent        bool
	dial            dialFunc
	logger          zerolog.Logger
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithAgent enables ssh-agent authentication.
func WithAgent(enabled bool) DialerOption {
	return func(d *Dialer) {
		d.useAgent = enabled
	}
}

// WithHostKeyCallback overrides host key verification.
func WithHostKeyCallback(cb xssh.HostKeyCallback) DialerOption {
	return func(d *Dialer) {
		if cb != nil {
			d.hostKeyCallback = cb
		}
	}
}

// WithKnownHosts verifies host keys against a known_hosts file.
func WithKnownHosts(path string) (DialerOption, error) {
	if path == "" {
		return func(*Dialer) {}, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return WithHostKeyCallback(cb), nil
}

// NewDialer creates a Dialer. Host keys are accepted unless a callback is set.
func NewDialer(policy *Policy, opts ...DialerOption) *Dialer {
	d := &Dialer{
		policy:          policy,
		hostKeyCallback: xssh.InsecureIgnoreHostKey(),
		dial:            dialSSH,
		logger:          logging.Component("ssh-dialer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type dialResult struct {
	client *xssh.Client
	err    error
}

// Dial opens a connection to params, racing the handshake against timeout.
// A handshake that completes after the deadline is closed on arrival.
func (d *Dialer) Dial(ctx context.Context, params ConnectionParameters, timeout time.Duration) (*xssh.Client, error) {
	if !d.policy.IsHostAllowed(params.Host) {
		return nil, &PolicyError{Reason: fmt.Sprintf("host %q is not in SSH_ALLOWED_HOSTS", params.Host)}
	}
	if timeout <= 0 {
		timeout = params.ConnectTimeout
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	auth, releaseAuth, err := authMethods(params, d.useAgent)
	if err != nil {
		return nil, err
	}

	addr := params.Addr()
	clientCfg := &xssh.ClientConfig{
		User:            params.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         timeout + handshakeGrace,
	}

	results := make(chan dialResult, 1)
	go func() {
		client, err := d.dial(addr, clientCfg, timeout+handshakeGrace)
		releaseAuth()
		results <- dialResult{client: client, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			d.logger.Debug().Str("addr", addr).Err(res.err).Msg("ssh dial failed")
			return nil, res.err
		}
		return res.client, nil
	case <-timer.C:
		go discardLate(results)
		d.logger.Debug().Str("addr", addr).Dur("timeout", timeout).Msg("ssh connect timed out")
		return nil, connectTimeout(addr, timeout)
	case <-ctx.Done():
		go discardLate(results)
		return nil, ctx.Err()
	}
}

// discardLate closes a client that finished its handshake after the caller gave up.
func discardLate(results <-chan dialResult) {
	if res := <-results; res.client != nil {
		_ = res.client.Close()
	}
}

func dialSSH(addr string, cfg *xssh.ClientConfig, timeout time.Duration) (*xssh.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := xssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "handshake", Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return xssh.NewClient(c, chans, reqs), nil
}
