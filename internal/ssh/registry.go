package ssh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/sshmcp/internal/logging"
)

// sessionConn is a registered connection. execMu serializes commands on it.
type sessionConn struct {
	client *xssh.Client
	params ConnectionParameters
	execMu sync.Mutex
}

// SessionInfo describes a ready session.
type SessionInfo struct {
	ID       string `json:"sessionId"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// Registry owns every session connection.
//
// conns maps id to connection handle; ready records readiness. An id is in
// ready as false while its handshake runs and as true once it is usable.
type Registry struct {
	dialer *Dialer
	logger zerolog.Logger
	newID  func() string

	mu     sync.Mutex
	conns  map[string]*sessionConn
	ready  map[string]bool
	closed bool
}

// NewRegistry creates an empty registry that dials through dialer.
func NewRegistry(dialer *Dialer) *Registry {
	return &Registry{
		dialer: dialer,
		logger: logging.Component("ssh-registry"),
		newID:  uuid.NewString,
		conns:  make(map[string]*sessionConn),
		ready:  make(map[string]bool),
	}
}

// Connect opens a connection and registers it as a ready session.
// On timeout or transport error nothing stays registered. A connection that
// completes after CloseAll is closed and ErrRegistryClosed returned.
func (r *Registry) Connect(ctx context.Context, params ConnectionParameters, timeout time.Duration) (SessionInfo, error) {
	id := r.newID()
	logger := logging.WithSession(logging.FromContext(ctx, r.logger), id)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SessionInfo{}, ErrRegistryClosed
	}
	r.ready[id] = false
	r.mu.Unlock()

	client, err := r.dialer.Dial(ctx, params, timeout)
	if err != nil {
		r.mu.Lock()
		delete(r.ready, id)
		r.mu.Unlock()
		return SessionInfo{}, err
	}

	sc := &sessionConn{client: client, params: params}

	r.mu.Lock()
	if r.closed {
		delete(r.ready, id)
		r.mu.Unlock()
		_ = client.Close()
		logger.Debug().Msg("registry closed during handshake")
		return SessionInfo{}, ErrRegistryClosed
	}
	r.conns[id] = sc
	r.ready[id] = true
	r.mu.Unlock()

	go r.watch(id, sc)

	logger.Info().Str("addr", params.Addr()).Msg("session ready")
	return sc.info(id), nil
}

// watch drops the session once its transport closes or fails.
func (r *Registry) watch(id string, sc *sessionConn) {
	err := sc.client.Wait()

	r.mu.Lock()
	current, ok := r.conns[id]
	if ok && current == sc {
		delete(r.conns, id)
		delete(r.ready, id)
	}
	r.mu.Unlock()

	if ok && current == sc {
		logger := logging.WithSession(r.logger, id)
		logger.Warn().Err(err).Msg("session closed by transport")
	}
}

// Lookup returns the client of a ready session.
func (r *Registry) Lookup(id string) (*xssh.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready[id] {
		return nil, false
	}
	sc, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return sc.client, true
}

// IsReady reports whether id names a ready session.
func (r *Registry) IsReady(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready[id]
}

// Acquire locks a ready session for one command. The release func must be
// called when the command settles. ok is false if the session is not ready,
// including when it closed while waiting for the lock.
func (r *Registry) Acquire(id string) (client *xssh.Client, release func(), ok bool) {
	r.mu.Lock()
	sc, found := r.conns[id]
	isReady := r.ready[id]
	r.mu.Unlock()
	if !found || !isReady {
		return nil, nil, false
	}

	sc.execMu.Lock()

	r.mu.Lock()
	current := r.conns[id]
	r.mu.Unlock()
	if current != sc {
		sc.execMu.Unlock()
		return nil, nil, false
	}

	return sc.client, sc.execMu.Unlock, true
}

// Disconnect closes and forgets a session. It returns false if no such
// session exists, so repeated calls are harmless.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	sc, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		delete(r.ready, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	logger := logging.WithSession(r.logger, id)
	if err := sc.client.Close(); err != nil {
		logger.Debug().Err(err).Msg("close session")
	}
	logger.Info().Msg("session disconnected")
	return true
}

// List returns the ids of ready sessions, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.ready))
	for id, isReady := range r.ready {
		if isReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CloseAll disconnects every session and refuses new ones. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]*sessionConn)
	r.ready = make(map[string]bool)
	r.mu.Unlock()

	for id, sc := range conns {
		if err := sc.client.Close(); err != nil {
			logger := logging.WithSession(r.logger, id)
			logger.Debug().Err(err).Msg("close session")
		}
	}
}

func (sc *sessionConn) info(id string) SessionInfo {
	port := sc.params.Port
	if port <= 0 {
		port = 22
	}
	return SessionInfo{
		ID:       id,
		Host:     sc.params.Host,
		Port:     port,
		Username: sc.params.Username,
	}
}
