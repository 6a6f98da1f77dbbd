// Package testutil provides shared helpers for tests, including an
// in-process SSH server that answers exec requests.
package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

const (
	// TestUser is the only login accepted by SSHServer.
	TestUser = "tester"

	// TestPassword is the password accepted for TestUser.
	TestPassword = "secret"
)

// ExitStatus is what an ExecHandler reports back to the client.
type ExitStatus struct {
	Code     int
	Signal   string
	NoStatus bool
}

// ExecHandler runs one exec request on the fake server.
type ExecHandler func(command string, stdout, stderr io.Writer) ExitStatus

// SSHServer is a loopback SSH server for tests.
type SSHServer struct {
	listener net.Listener
	config   *xssh.ServerConfig
	handler  ExecHandler
	hostKey  xssh.Signer

	mu       sync.Mutex
	conns    []*xssh.ServerConn
	commands []string
	closed   bool
}

// SSHServerOption configures an SSHServer.
type SSHServerOption func(*SSHServer)

// WithExecHandler replaces DefaultExecHandler.
func WithExecHandler(h ExecHandler) SSHServerOption {
	return func(s *SSHServer) {
		s.handler = h
	}
}

// WithAuthorizedKey accepts public key auth for key.
func WithAuthorizedKey(key xssh.PublicKey) SSHServerOption {
	return func(s *SSHServer) {
		want := key.Marshal()
		s.config.PublicKeyCallback = func(conn xssh.ConnMetadata, offered xssh.PublicKey) (*xssh.Permissions, error) {
			if conn.User() == TestUser && bytes.Equal(offered.Marshal(), want) {
				return &xssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", conn.User())
		}
	}
}

// NewSSHServer starts a server on 127.0.0.1 and stops it when t finishes.
func NewSSHServer(t *testing.T, opts ...SSHServerOption) *SSHServer {
	t.Helper()
	SkipIfNoNetwork(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	s := &SSHServer{
		handler: DefaultExecHandler,
		hostKey: hostKey,
		config: &xssh.ServerConfig{
			PasswordCallback: func(conn xssh.ConnMetadata, password []byte) (*xssh.Permissions, error) {
				if conn.User() == TestUser && string(password) == TestPassword {
					return &xssh.Permissions{}, nil
				}
				return nil, fmt.Errorf("password rejected for %s", conn.User())
			},
		},
	}
	s.config.AddHostKey(hostKey)
	for _, opt := range opts {
		opt(s)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener

	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *SSHServer) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *SSHServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostKey returns the server's public host key.
func (s *SSHServer) HostKey() xssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Commands returns every exec command received, in order.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// ConnectionCount returns the number of live client connections.
func (s *SSHServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every client connection from the server side.
func (s *SSHServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *SSHServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.listener.Close()
	s.DropConnections()
}

func (s *SSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	sConn, chans, reqs, err := xssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, sConn)
	s.mu.Unlock()

	go xssh.DiscardRequests(reqs)
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(xssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}

	s.mu.Lock()
	for i, c := range s.conns {
		if c == sConn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *SSHServer) handleSession(channel xssh.Channel, requests <-chan *xssh.Request) {
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		go s.runExec(channel, payload.Command)
	}
}

func (s *SSHServer) runExec(channel xssh.Channel, command string) {
	defer channel.Close()

	status := s.handler(command, channel, channel.Stderr())
	switch {
	case status.NoStatus:
	case status.Signal != "":
		msg := struct {
			Signal     string
			CoreDumped bool
			Error      string
			Lang       string
		}{Signal: status.Signal}
		_, _ = channel.SendRequest("exit-signal", false, xssh.Marshal(&msg))
	default:
		msg := struct{ Status uint32 }{Status: uint32(status.Code)}
		_, _ = channel.SendRequest("exit-status", false, xssh.Marshal(&msg))
	}
	_ = channel.CloseWrite()
}

// DefaultExecHandler understands a few commands. Only the text after the
// last " && " is interpreted, so cd and locale prefixes are ignored.
//
//	echo ARGS     prints ARGS and a newline
//	fail N        prints "boom" on stderr and exits N
//	signal NAME   terminates with signal NAME
//	sleep DUR     sleeps for a Go duration, then exits 0
//	nostatus      closes without an exit status
//
// Anything else prints "ok".
func DefaultExecHandler(command string, stdout, stderr io.Writer) ExitStatus {
	tail := command
	if i := strings.LastIndex(command, " && "); i >= 0 {
		tail = command[i+len(" && "):]
	}
	verb, arg, _ := strings.Cut(strings.TrimSpace(tail), " ")

	switch verb {
	case "echo":
		fmt.Fprintln(stdout, arg)
		return ExitStatus{}
	case "fail":
		code, err := strconv.Atoi(arg)
		if err != nil {
			code = 1
		}
		fmt.Fprintln(stderr, "boom")
		return ExitStatus{Code: code}
	case "signal":
		return ExitStatus{Signal: arg}
	case "sleep":
		d, err := time.ParseDuration(arg)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return ExitStatus{Code: 2}
		}
		time.Sleep(d)
		return ExitStatus{}
	case "nostatus":
		return ExitStatus{NoStatus: true}
	default:
		fmt.Fprintln(stdout, "ok")
		return ExitStatus{}
	}
}

// NewStallListener accepts TCP connections but never speaks SSH, so a
// client handshake hangs until the connection is dropped.
func NewStallListener(t *testing.T) (host string, port int) {
	t.Helper()
	SkipIfNoNetwork(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range held {
			_ = conn.Close()
		}
	})

	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// GenerateKeyPEM returns an ed25519 private key in OpenSSH PEM form,
// encrypted when passphrase is non-empty, with its public key.
func GenerateKeyPEM(t *testing.T, passphrase string) ([]byte, xssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = xssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = xssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return pem.EncodeToMemory(block), sshPub
}
