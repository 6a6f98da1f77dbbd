package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv blanks every bound variable so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(strings.ToUpper(key), "")
	}
	t.Setenv(EnvFileVar, "")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)

	require.Equal(t, 22, cfg.SSH.Port)
	require.Equal(t, 20*time.Second, cfg.SSH.ConnectTimeout)
	require.Equal(t, 60*time.Second, cfg.Exec.Timeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.Empty(t, cfg.Policy.AllowedHosts)
	require.False(t, cfg.Remote.HasLocale())
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("SSH_HOST", "build.example.com")
	t.Setenv("SSH_PORT", "2222")
	t.Setenv("SSH_USERNAME", "deploy")
	t.Setenv("SSH_ALLOWED_HOSTS", "build.example.com, , db.example.com")
	t.Setenv("SSH_CONNECT_TIMEOUT_MS", "1500")
	t.Setenv("SSH_EXEC_TIMEOUT_MS", "2500")
	t.Setenv("SSH_REMOTE_LANG", "en_US.UTF-8")
	t.Setenv("SSH_USE_AGENT", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadDefault()
	require.NoError(t, err)

	require.Equal(t, "build.example.com", cfg.SSH.Host)
	require.Equal(t, 2222, cfg.SSH.Port)
	require.Equal(t, "deploy", cfg.SSH.Username)
	require.Equal(t, []string{"build.example.com", "db.example.com"}, cfg.Policy.AllowedHosts)
	require.Equal(t, 1500*time.Millisecond, cfg.SSH.ConnectTimeout)
	require.Equal(t, 2500*time.Millisecond, cfg.Exec.Timeout)
	require.True(t, cfg.Remote.HasLocale())
	require.True(t, cfg.SSH.UseAgent)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvFileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	content := "SSH_HOST=file.example.com\nSSH_USERNAME=fileuser\nSSH_PORT=2200\n"
	path := filepath.Join(dir, "sshmcp.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("SSH_USERNAME", "envuser")

	loader := NewLoader()
	loader.SetEnvFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, path, loader.ConfigFileUsed())
	require.Equal(t, "file.example.com", cfg.SSH.Host)
	require.Equal(t, 2200, cfg.SSH.Port)
	require.Equal(t, "envuser", cfg.SSH.Username)
}

func TestLoad_ImplicitDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SSH_HOST=dotenv.example.com\n"), 0600))

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, "dotenv.example.com", cfg.SSH.Host)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoad_ExpandsTilde(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	t.Setenv("SSH_PRIVATE_KEY_PATH", "~/.ssh/id_test")
	t.Setenv("SSH_LOG_FILE", "~/sshmcp.log")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".ssh", "id_test"), cfg.SSH.PrivateKeyPath)
	require.Equal(t, filepath.Join(home, "sshmcp.log"), cfg.Logging.ActivityFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.SSH.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.SSH.ConnectTimeout = 0 },
			wantErr: "ConnectTimeout",
		},
		{
			name:    "zero exec timeout",
			mutate:  func(c *Config) { c.Exec.Timeout = 0 },
			wantErr: "Timeout",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "bad host",
			mutate:  func(c *Config) { c.SSH.Host = "not a host" },
			wantErr: "Host",
		},
		{
			name:   "ip host",
			mutate: func(c *Config) { c.SSH.Host = "10.0.0.5" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplitList(t *testing.T) {
	require.Nil(t, splitList(""))
	require.Nil(t, splitList("   "))
	require.Equal(t, []string{"a", "b"}, splitList("a,,b, "))
}
