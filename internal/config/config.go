// Package config handles sshmcp configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration structure for sshmcp.
//
// Every value comes from the process environment, optionally seeded from an
// env file. Connection identity is never taken from tool callers.
type Config struct {
	// SSH holds the target connection settings.
	SSH SSHConfig

	// Policy holds outbound restrictions.
	Policy PolicyConfig

	// Exec holds command execution defaults.
	Exec ExecConfig

	// Remote holds settings applied to the remote shell environment.
	Remote RemoteConfig

	// Logging holds diagnostics and activity log settings.
	Logging LoggingConfig
}

// SSHConfig contains the configured remote endpoint and credentials.
type SSHConfig struct {
	// Host is the target host name or IP.
	Host string `validate:"omitempty,hostname_rfc1123|ip"`

	// Port is the SSH port (default 22).
	Port int `validate:"min=1,max=65535"`

	// Username is the SSH login user.
	Username string

	// Password enables password and keyboard-interactive auth when set.
	Password string

	// PrivateKey is inline PEM key material.
	PrivateKey string

	// PrivateKeyPath is an explicit private key file.
	PrivateKeyPath string

	// DefaultKeyPath is consulted when neither PrivateKey nor PrivateKeyPath is set.
	DefaultKeyPath string

	// Passphrase decrypts an encrypted private key.
	Passphrase string

	// UseAgent enables ssh-agent auth via SSH_AUTH_SOCK.
	UseAgent bool

	// KnownHostsPath enables host key verification against a known_hosts file.
	KnownHostsPath string

	// ConnectTimeout bounds the TCP connect plus SSH handshake.
	ConnectTimeout time.Duration `validate:"gt=0"`
}

// PolicyConfig contains outbound connection policy.
type PolicyConfig struct {
	// AllowedHosts restricts outbound connections. Empty means unrestricted.
	AllowedHosts []string `validate:"dive,required"`
}

// ExecConfig contains command execution defaults.
type ExecConfig struct {
	// DefaultCommand runs when a call resolves no command text.
	DefaultCommand string

	// Timeout bounds a single remote command.
	Timeout time.Duration `validate:"gt=0"`
}

// RemoteConfig pins the remote locale when either value is set.
type RemoteConfig struct {
	Lang  string
	LCAll string
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum diagnostics level.
	Level string `validate:"oneof=trace debug info warn warning error disabled off"`

	// Format is the diagnostics output format.
	Format string `validate:"oneof=console json"`

	// ActivityFile is the optional activity log path.
	ActivityFile string

	// ActivityMaxSizeMB rotates the activity log at this size.
	ActivityMaxSizeMB int `validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			Port:           22,
			ConnectTimeout: 20 * time.Second,
		},
		Exec: ExecConfig{
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "console",
			ActivityMaxSizeMB: 10,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// HasLocale reports whether a remote locale override is configured.
func (r RemoteConfig) HasLocale() bool {
	return r.Lang != "" || r.LCAll != ""
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
