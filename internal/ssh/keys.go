package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"

	xssh "golang.org/x/crypto/ssh"
)

// AgentConnection wraps a live SSH agent connection.
type AgentConnection struct {
	Conn   net.Conn
	Client agent.ExtendedAgent
}

// ParseSigner parses PEM key material, using passphrase when the key is encrypted.
func ParseSigner(keyBytes []byte, passphrase string) (xssh.Signer, error) {
	signer, err := xssh.ParsePrivateKey(keyBytes)
	if err == nil {
		return signer, nil
	}

	var missing *xssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	signer, err = xssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("parse private key with passphrase: %w", err)
	}

	return signer, nil
}

// ConnectAgent opens a connection to the SSH agent referenced by SSH_AUTH_SOCK.
func ConnectAgent() (*AgentConnection, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, ErrSSHAgentUnavailable
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connect to ssh agent: %w", err)
	}

	return &AgentConnection{
		Conn:   conn,
		Client: agent.NewClient(conn),
	}, nil
}

// AuthMethod returns an AuthMethod backed by the SSH agent.
func (a *AgentConnection) AuthMethod() xssh.AuthMethod {
	if a == nil || a.Client == nil {
		return nil
	}
	return xssh.PublicKeysCallback(a.Client.Signers)
}

// Close closes the underlying SSH agent connection.
func (a *AgentConnection) Close() error {
	if a == nil || a.Conn == nil {
		return nil
	}
	return a.Conn.Close()
}

// authMethods builds the auth chain: key, then password (plain and
// keyboard-interactive), then agent. The returned closer releases the agent.
func authMethods(params ConnectionParameters, useAgent bool) ([]xssh.AuthMethod, func(), error) {
	var methods []xssh.AuthMethod
	closer := func() {}

	if len(params.PrivateKey) > 0 {
		signer, err := ParseSigner(params.PrivateKey, params.Passphrase)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, xssh.PublicKeys(signer))
	}

	if params.Password != "" {
		password := params.Password
		methods = append(methods,
			xssh.Password(password),
			xssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if useAgent {
		conn, err := ConnectAgent()
		if err == nil {
			methods = append(methods, conn.AuthMethod())
			closer = func() { _ = conn.Close() }
		} else if len(methods) == 0 {
			return nil, closer, err
		}
	}

	if len(methods) == 0 {
		return nil, closer, &PolicyError{Reason: "no authentication configured (set SSH_PASSWORD, SSH_PRIVATE_KEY, SSH_PRIVATE_KEY_PATH or SSH_USE_AGENT)"}
	}
	return methods, closer, nil
}
