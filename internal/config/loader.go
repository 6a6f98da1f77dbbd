package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys. Each key is bound to the upper-case environment
// variable of the same name, and env files use the same names.
const (
	KeyHost              = "ssh_host"
	KeyPort              = "ssh_port"
	KeyUsername          = "ssh_username"
	KeyPassword          = "ssh_password"
	KeyPrivateKey        = "ssh_private_key"
	KeyPrivateKeyPath    = "ssh_private_key_path"
	KeyDefaultKeyPath    = "ssh_default_key_path"
	KeyPassphrase        = "ssh_passphrase"
	KeyUseAgent          = "ssh_use_agent"
	KeyKnownHosts        = "ssh_known_hosts"
	KeyAllowedHosts      = "ssh_allowed_hosts"
	KeyDefaultCommand    = "ssh_default_command"
	KeyConnectTimeoutMs  = "ssh_connect_timeout_ms"
	KeyExecTimeoutMs     = "ssh_exec_timeout_ms"
	KeyLogFile           = "ssh_log_file"
	KeyLogMaxSizeMB      = "ssh_log_max_size_mb"
	KeyRemoteLang        = "ssh_remote_lang"
	KeyRemoteLCAll       = "ssh_remote_lc_all"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	EnvFileVar           = "SSHMCP_ENV_FILE"
	defaultEnvFileName   = ".env"
	defaultEnvFileFormat = "env"
)

var allKeys = []string{
	KeyHost,
	KeyPort,
	KeyUsername,
	KeyPassword,
	KeyPrivateKey,
	KeyPrivateKeyPath,
	KeyDefaultKeyPath,
	KeyPassphrase,
	KeyUseAgent,
	KeyKnownHosts,
	KeyAllowedHosts,
	KeyDefaultCommand,
	KeyConnectTimeoutMs,
	KeyExecTimeoutMs,
	KeyLogFile,
	KeyLogMaxSizeMB,
	KeyRemoteLang,
	KeyRemoteLCAll,
	KeyLogLevel,
	KeyLogFormat,
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetEnvFile sets an explicit env file path.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads configuration with precedence:
// defaults < env file < process environment
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	l.apply(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setupViper configures defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetDefault(KeyPort, cfg.SSH.Port)
	v.SetDefault(KeyConnectTimeoutMs, cfg.SSH.ConnectTimeout.Milliseconds())
	v.SetDefault(KeyExecTimeoutMs, cfg.Exec.Timeout.Milliseconds())
	v.SetDefault(KeyLogLevel, cfg.Logging.Level)
	v.SetDefault(KeyLogFormat, cfg.Logging.Format)
	v.SetDefault(KeyLogMaxSizeMB, cfg.Logging.ActivityMaxSizeMB)

	for _, key := range allKeys {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}
}

// loadEnvFile reads the env file if one is configured or present.
// An explicitly named file must exist; the implicit .env is optional.
func (l *Loader) loadEnvFile() error {
	path := l.envFile
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvFileVar)
		explicit = path != ""
	}
	if !explicit {
		path = defaultEnvFileName
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	l.v.SetConfigFile(expandTilde(path))
	l.v.SetConfigType(defaultEnvFileFormat)
	return l.v.ReadInConfig()
}

// apply copies resolved values into the config struct.
func (l *Loader) apply(cfg *Config) {
	v := l.v

	cfg.SSH.Host = strings.TrimSpace(v.GetString(KeyHost))
	cfg.SSH.Port = v.GetInt(KeyPort)
	cfg.SSH.Username = strings.TrimSpace(v.GetString(KeyUsername))
	cfg.SSH.Password = v.GetString(KeyPassword)
	cfg.SSH.PrivateKey = v.GetString(KeyPrivateKey)
	cfg.SSH.PrivateKeyPath = v.GetString(KeyPrivateKeyPath)
	cfg.SSH.DefaultKeyPath = v.GetString(KeyDefaultKeyPath)
	cfg.SSH.Passphrase = v.GetString(KeyPassphrase)
	cfg.SSH.UseAgent = v.GetBool(KeyUseAgent)
	cfg.SSH.KnownHostsPath = v.GetString(KeyKnownHosts)
	cfg.SSH.ConnectTimeout = time.Duration(v.GetInt64(KeyConnectTimeoutMs)) * time.Millisecond

	cfg.Policy.AllowedHosts = splitList(v.GetString(KeyAllowedHosts))

	cfg.Exec.DefaultCommand = v.GetString(KeyDefaultCommand)
	cfg.Exec.Timeout = time.Duration(v.GetInt64(KeyExecTimeoutMs)) * time.Millisecond

	cfg.Remote.Lang = strings.TrimSpace(v.GetString(KeyRemoteLang))
	cfg.Remote.LCAll = strings.TrimSpace(v.GetString(KeyRemoteLCAll))

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat)))
	cfg.Logging.ActivityFile = v.GetString(KeyLogFile)
	cfg.Logging.ActivityMaxSizeMB = v.GetInt(KeyLogMaxSizeMB)
}

// ConfigFileUsed returns the env file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific env file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetEnvFile(path)
	return loader.Load()
}

// LoadDefault loads configuration from the environment and an optional ./.env.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// ExpandTilde expands a leading ~ to the invoking user's home directory.
func ExpandTilde(path string) string {
	return expandTilde(path)
}

func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.SSH.PrivateKeyPath = expandTilde(cfg.SSH.PrivateKeyPath)
	cfg.SSH.DefaultKeyPath = expandTilde(cfg.SSH.DefaultKeyPath)
	cfg.SSH.KnownHostsPath = expandTilde(cfg.SSH.KnownHostsPath)
	cfg.Logging.ActivityFile = expandTilde(cfg.Logging.ActivityFile)
}
