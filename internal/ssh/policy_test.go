package ssh

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/sshmcp/internal/config"
)

func baseSSHConfig() config.SSHConfig {
	return config.SSHConfig{
		Host:           "build.example.com",
		Port:           22,
		Username:       "deploy",
		Password:       "pw",
		ConnectTimeout: 5 * time.Second,
	}
}

func TestResolveParameters_FromConfig(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	params, err := p.ResolveParameters(map[string]any{"command": "ls", "connectTimeoutMs": 100})
	require.NoError(t, err)
	require.Equal(t, "build.example.com", params.Host)
	require.Equal(t, 22, params.Port)
	require.Equal(t, "deploy", params.Username)
	require.Equal(t, "pw", params.Password)
	require.Equal(t, 5*time.Second, params.ConnectTimeout)
	require.Equal(t, "build.example.com:22", params.Addr())
}

func TestResolveParameters_RejectsCallerIdentity(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	for _, field := range identityFields {
		t.Run(field, func(t *testing.T) {
			_, err := p.ResolveParameters(map[string]any{field: "build.example.com"})
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrPolicyViolation), "expected policy violation, got %v", err)
			require.Contains(t, err.Error(), field)
		})
	}
}

func TestResolveParameters_IgnoresEmptyIdentityValues(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	_, err := p.ResolveParameters(map[string]any{"host": "", "port": nil, "username": "  "})
	require.NoError(t, err)
}

func TestResolveParameters_NumericPortRejected(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	_, err := p.ResolveParameters(map[string]any{"port": float64(2222)})
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestResolveParameters_MissingConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.SSHConfig)
		want   string
	}{
		{name: "no host", mutate: func(c *config.SSHConfig) { c.Host = "" }, want: "SSH_HOST"},
		{name: "no username", mutate: func(c *config.SSHConfig) { c.Username = "" }, want: "SSH_USERNAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseSSHConfig()
			tt.mutate(&cfg)
			_, err := NewPolicy(cfg, config.PolicyConfig{}).ResolveParameters(nil)
			require.ErrorIs(t, err, ErrPolicyViolation)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		want    bool
	}{
		{name: "empty list allows all", host: "anything.example.com", want: true},
		{name: "member", allowed: []string{"a.example.com", "b.example.com"}, host: "b.example.com", want: true},
		{name: "case insensitive", allowed: []string{"A.Example.com"}, host: "a.example.COM", want: true},
		{name: "not member", allowed: []string{"a.example.com"}, host: "c.example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(baseSSHConfig(), config.PolicyConfig{AllowedHosts: tt.allowed})
			if got := p.IsHostAllowed(tt.host); got != tt.want {
				t.Errorf("IsHostAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestResolvePrivateKey_Precedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	explicitPath := filepath.Join(home, "explicit")
	defaultPath := filepath.Join(home, ".ssh", "id_default")
	require.NoError(t, os.MkdirAll(filepath.Dir(defaultPath), 0700))
	require.NoError(t, os.WriteFile(explicitPath, []byte("explicit-key"), 0600))
	require.NoError(t, os.WriteFile(defaultPath, []byte("default-key"), 0600))

	cfg := baseSSHConfig()
	cfg.DefaultKeyPath = "~/.ssh/id_default"
	p := NewPolicy(cfg, config.PolicyConfig{})

	key, err := p.ResolvePrivateKey("inline-key", explicitPath)
	require.NoError(t, err)
	require.Equal(t, "inline-key", string(key))

	key, err = p.ResolvePrivateKey("", explicitPath)
	require.NoError(t, err)
	require.Equal(t, "explicit-key", string(key))

	key, err = p.ResolvePrivateKey("", "")
	require.NoError(t, err)
	require.Equal(t, "default-key", string(key))

	key, err = p.ResolvePrivateKey("", "~/explicit")
	require.NoError(t, err)
	require.Equal(t, "explicit-key", string(key))
}

func TestResolvePrivateKey_NothingConfigured(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	key, err := p.ResolvePrivateKey("", "")
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestResolvePrivateKey_MissingFile(t *testing.T) {
	p := NewPolicy(baseSSHConfig(), config.PolicyConfig{})

	_, err := p.ResolvePrivateKey("", filepath.Join(t.TempDir(), "missing"))
	var keyErr *KeyResolutionError
	require.ErrorAs(t, err, &keyErr)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResolveParameters_KeyFailureAbortsConnect(t *testing.T) {
	cfg := baseSSHConfig()
	cfg.PrivateKeyPath = filepath.Join(t.TempDir(), "missing")

	_, err := NewPolicy(cfg, config.PolicyConfig{}).ResolveParameters(nil)
	var keyErr *KeyResolutionError
	require.ErrorAs(t, err, &keyErr)
}
