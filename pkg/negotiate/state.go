package negotiate

import (
	"sync"

	"github.com/google/uuid"
)

// Phase is the tag of a NegotiateState.
type Phase int

const (
	PhaseUnauthorized Phase = iota
	PhasePending
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthorized:
		return "unauthorized"
	case PhasePending:
		return "pending"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// NegotiateState is the handshake progress of one connection:
// Unauthorized, Pending(Context) or Authenticated(Identity).
// The zero value is Unauthorized.
type NegotiateState struct {
	phase    Phase
	pending  Context
	identity *Identity
}

func unauthorized() NegotiateState { return NegotiateState{} }

func pending(ctx Context) NegotiateState {
	return NegotiateState{phase: PhasePending, pending: ctx}
}

func authenticated(id *Identity) NegotiateState {
	return NegotiateState{phase: PhaseAuthenticated, identity: id}
}

// Phase returns the state tag.
func (s NegotiateState) Phase() Phase { return s.phase }

// ConnState is the handshake state shared by every request of a single
// connection. It is created when the connection is accepted and dropped
// with it; it is never shared between connections.
//
// The authenticated fast path only takes the read lock. Handshake steps
// go through takeExclusive/install, which hold the write lock for the
// whole read-step-write sequence.
type ConnState struct {
	id         string
	remoteAddr string

	mu    sync.RWMutex
	state NegotiateState
	steps int
}

// NewConnState creates an unauthorized connection state.
func NewConnState(remoteAddr string) *ConnState {
	return &ConnState{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
	}
}

// ID returns a random identifier used to correlate log lines of one connection.
func (s *ConnState) ID() string { return s.id }

// RemoteAddr returns the peer address recorded at accept time.
func (s *ConnState) RemoteAddr() string { return s.remoteAddr }

// IsAuthenticated reports whether the connection completed a handshake.
func (s *ConnState) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.phase == PhaseAuthenticated
}

// Phase returns the current phase. A connection in the middle of a step
// reports PhaseUnauthorized until the step result is installed.
func (s *ConnState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.phase
}

// Identity returns the authenticated identity, if any.
func (s *ConnState) Identity() (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.phase != PhaseAuthenticated {
		return nil, false
	}
	return s.state.identity, true
}

// takeExclusive acquires the write lock and moves the current state out,
// leaving Unauthorized in its place. The caller must call install exactly
// once to release the lock.
func (s *ConnState) takeExclusive() NegotiateState {
	s.mu.Lock()
	st := s.state
	s.state = unauthorized()
	s.steps++
	return st
}

// install writes st back and releases the lock taken by takeExclusive.
func (s *ConnState) install(st NegotiateState) {
	s.state = st
	s.mu.Unlock()
}

// stepCount returns the number of handshake steps attempted on the
// connection. Only valid while the write lock is held.
func (s *ConnState) stepCount() int { return s.steps }
