package ssh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/sshmcp/internal/config"
	"github.com/tOgg1/sshmcp/internal/testutil"
)

type harness struct {
	policy   *Policy
	dialer   *Dialer
	registry *Registry
	executor *Executor
}

func serverConfig(srv *testutil.SSHServer) config.SSHConfig {
	return config.SSHConfig{
		Host:           srv.Host(),
		Port:           srv.Port(),
		Username:       testutil.TestUser,
		Password:       testutil.TestPassword,
		ConnectTimeout: 5 * time.Second,
	}
}

func newHarness(t *testing.T, sshCfg config.SSHConfig, policyCfg config.PolicyConfig, opts ...ExecutorOption) *harness {
	t.Helper()
	policy := NewPolicy(sshCfg, policyCfg)
	dialer := NewDialer(policy)
	registry := NewRegistry(dialer)
	t.Cleanup(registry.CloseAll)
	return &harness{
		policy:   policy,
		dialer:   dialer,
		registry: registry,
		executor: NewExecutor(policy, dialer, registry, opts...),
	}
}

func (h *harness) connect(t *testing.T) SessionInfo {
	t.Helper()
	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)
	info, err := h.registry.Connect(context.Background(), params, params.ConnectTimeout)
	require.NoError(t, err)
	return info
}

func TestRegistry_ConnectListDisconnect(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})

	info := h.connect(t)
	require.NotEmpty(t, info.ID)
	require.Equal(t, srv.Host(), info.Host)
	require.Equal(t, srv.Port(), info.Port)
	require.Equal(t, testutil.TestUser, info.Username)

	require.Equal(t, []string{info.ID}, h.registry.List())
	require.True(t, h.registry.IsReady(info.ID))
	client, ok := h.registry.Lookup(info.ID)
	require.True(t, ok)
	require.NotNil(t, client)

	require.True(t, h.registry.Disconnect(info.ID))
	require.False(t, h.registry.Disconnect(info.ID))
	require.Empty(t, h.registry.List())
	require.False(t, h.registry.IsReady(info.ID))

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_DistinctSessions(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})

	first := h.connect(t)
	second := h.connect(t)
	require.NotEqual(t, first.ID, second.ID)
	require.Len(t, h.registry.List(), 2)
}

func TestRegistry_DisconnectUnknown(t *testing.T) {
	h := newHarness(t, baseSSHConfig(), config.PolicyConfig{})
	require.False(t, h.registry.Disconnect("does-not-exist"))
}

func TestRegistry_ConnectTimeout(t *testing.T) {
	host, port := testutil.NewStallListener(t)
	cfg := config.SSHConfig{
		Host:     host,
		Port:     port,
		Username: testutil.TestUser,
		Password: testutil.TestPassword,
	}
	h := newHarness(t, cfg, config.PolicyConfig{})

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = h.registry.Connect(context.Background(), params, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrConnectTimeout)
	require.Less(t, time.Since(start), time.Second)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)

	require.Empty(t, h.registry.List())
}

func TestRegistry_AuthFailureLeavesNothing(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	cfg := serverConfig(srv)
	cfg.Password = "wrong"
	h := newHarness(t, cfg, config.PolicyConfig{})

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	_, err = h.registry.Connect(context.Background(), params, 0)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Empty(t, h.registry.List())
}

func TestRegistry_HostNotAllowed(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{AllowedHosts: []string{"other.example.com"}})

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	_, err = h.registry.Connect(context.Background(), params, 0)
	require.ErrorIs(t, err, ErrPolicyViolation)
	require.Equal(t, 0, srv.ConnectionCount())
}

func TestRegistry_TransportCloseRemovesSession(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})

	info := h.connect(t)
	srv.DropConnections()

	require.Eventually(t, func() bool { return len(h.registry.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
	require.False(t, h.registry.Disconnect(info.ID))

	_, _, ok := h.registry.Acquire(info.ID)
	require.False(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})

	h.connect(t)
	h.connect(t)
	h.registry.CloseAll()

	require.Empty(t, h.registry.List())
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (r *Registry) pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	isReady, ok := r.ready[id]
	return ok && !isReady
}

func TestRegistry_HandshakeInProgressNotListed(t *testing.T) {
	host, port := testutil.NewStallListener(t)
	cfg := config.SSHConfig{
		Host:     host,
		Port:     port,
		Username: testutil.TestUser,
		Password: testutil.TestPassword,
	}
	h := newHarness(t, cfg, config.PolicyConfig{})
	h.registry.newID = func() string { return "handshaking" }

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := h.registry.Connect(context.Background(), params, 500*time.Millisecond)
		errs <- err
	}()

	require.Eventually(t, func() bool { return h.registry.pending("handshaking") }, time.Second, 5*time.Millisecond)
	require.Empty(t, h.registry.List())
	require.False(t, h.registry.IsReady("handshaking"))
	_, ok := h.registry.Lookup("handshaking")
	require.False(t, ok)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrConnectTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("connect did not return")
	}
	require.False(t, h.registry.pending("handshaking"))
	require.Empty(t, h.registry.List())
}

func TestRegistry_CloseAllDuringHandshake(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})

	dialing := make(chan struct{})
	proceed := make(chan struct{})
	next := h.dialer.dial
	h.dialer.dial = func(addr string, cfg *xssh.ClientConfig, timeout time.Duration) (*xssh.Client, error) {
		close(dialing)
		<-proceed
		return next(addr, cfg, timeout)
	}

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := h.registry.Connect(context.Background(), params, 5*time.Second)
		errs <- err
	}()

	<-dialing
	h.registry.CloseAll()
	close(proceed)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrRegistryClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return")
	}
	require.Empty(t, h.registry.List())
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_ConnectAfterCloseAll(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	h := newHarness(t, serverConfig(srv), config.PolicyConfig{})
	h.registry.CloseAll()

	params, err := h.policy.ResolveParameters(nil)
	require.NoError(t, err)

	_, err = h.registry.Connect(context.Background(), params, 0)
	require.ErrorIs(t, err, ErrRegistryClosed)
	require.Zero(t, srv.ConnectionCount())
}
