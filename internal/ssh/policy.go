package ssh

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tOgg1/sshmcp/internal/config"
)

// identityFields are caller arguments that would redirect the connection or
// inject credentials. Their presence on any call is refused.
var identityFields = []string{
	"host",
	"port",
	"username",
	"user",
	"password",
	"privateKey",
	"private_key",
	"privateKeyPath",
	"private_key_path",
	"passphrase",
}

// ConnectionParameters is everything needed to open one SSH connection.
type ConnectionParameters struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKey     []byte
	Passphrase     string
	ConnectTimeout time.Duration
}

// Addr returns host:port, defaulting the port to 22.
func (p ConnectionParameters) Addr() string {
	port := p.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// Policy resolves connection parameters from configuration only.
type Policy struct {
	ssh     config.SSHConfig
	allowed map[string]struct{}
}

// NewPolicy creates a policy from the SSH and policy configuration.
func NewPolicy(sshCfg config.SSHConfig, policyCfg config.PolicyConfig) *Policy {
	allowed := make(map[string]struct{}, len(policyCfg.AllowedHosts))
	for _, host := range policyCfg.AllowedHosts {
		if h := normalizeHost(host); h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &Policy{ssh: sshCfg, allowed: allowed}
}

// ResolveParameters returns the configured connection parameters. Any
// caller-supplied identity field is a policy violation, even when it matches
// the configuration.
func (p *Policy) ResolveParameters(overrides map[string]any) (ConnectionParameters, error) {
	for _, field := range identityFields {
		if supplied(overrides[field]) {
			return ConnectionParameters{}, &PolicyError{
				Reason: fmt.Sprintf("%q cannot be supplied by the caller; connection parameters come from configuration", field),
			}
		}
	}

	if p.ssh.Host == "" {
		return ConnectionParameters{}, &PolicyError{Reason: "no SSH host configured (set SSH_HOST)"}
	}
	if p.ssh.Username == "" {
		return ConnectionParameters{}, &PolicyError{Reason: "no SSH username configured (set SSH_USERNAME)"}
	}

	key, err := p.ResolvePrivateKey(p.ssh.PrivateKey, p.ssh.PrivateKeyPath)
	if err != nil {
		return ConnectionParameters{}, err
	}

	return ConnectionParameters{
		Host:           p.ssh.Host,
		Port:           p.ssh.Port,
		Username:       p.ssh.Username,
		Password:       p.ssh.Password,
		PrivateKey:     key,
		Passphrase:     p.ssh.Passphrase,
		ConnectTimeout: p.ssh.ConnectTimeout,
	}, nil
}

// IsHostAllowed reports whether host may be dialed. An empty allow-list
// permits every host.
func (p *Policy) IsHostAllowed(host string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[normalizeHost(host)]
	return ok
}

// ResolvePrivateKey returns key material from, in order, the inline value,
// the explicit path, or the configured default path. It returns nil when
// none is set.
func (p *Policy) ResolvePrivateKey(explicitValue, explicitPath string) ([]byte, error) {
	if strings.TrimSpace(explicitValue) != "" {
		return []byte(explicitValue), nil
	}

	path := explicitPath
	if path == "" {
		path = p.ssh.DefaultKeyPath
	}
	if path == "" {
		return nil, nil
	}

	path = config.ExpandTilde(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyResolutionError{Path: path, Err: err}
	}
	return data, nil
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

func supplied(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	default:
		return true
	}
}
