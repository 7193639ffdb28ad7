package server

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAuthRequired means a non-join envelope arrived before the handshake
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthTimeout means no valid join arrived before the deadline
	ErrAuthTimeout = errors.New("authentication timeout")
)

// sessionState is one of stateUnauthenticated, stateAuthenticated or stateClosed
type sessionState interface {
	sessionState()
}

type stateUnauthenticated struct{}

type stateAuthenticated struct {
	username string
}

type stateClosed struct{}

func (stateUnauthenticated) sessionState() {}
func (stateAuthenticated) sessionState()   {}
func (stateClosed) sessionState()          {}

// Session is one accepted connection, authenticated or not
type Session struct {
	ID        string
	OpenedAt  time.Time
	transport Transport

	mu        sync.Mutex // Protects state
	state     sessionState
	authTimer *time.Timer
	stopTimer sync.Once
}

func newSession(id string, transport Transport) *Session {
	return &Session{
		ID:        id,
		OpenedAt:  time.Now(),
		transport: transport,
		state:     stateUnauthenticated{},
	}
}

// armAuthDeadline calls onTimeout once if the session is still unauthenticated after d
func (s *Session) armAuthDeadline(d time.Duration, onTimeout func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authTimer = time.AfterFunc(d, onTimeout)
}

// cancelAuthDeadline stops the auth timer. Only the first call has any effect.
func (s *Session) cancelAuthDeadline() {
	s.stopTimer.Do(func() {
		s.mu.Lock()
		timer := s.authTimer
		s.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	})
}

func (s *Session) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the joined username, or "" before the handshake
func (s *Session) Username() string {
	if st, ok := s.currentState().(stateAuthenticated); ok {
		return st.username
	}
	return ""
}

// authenticate moves UNAUTHENTICATED to AUTHENTICATED. register runs under the
// session lock so the auth deadline cannot close the session halfway through.
func (s *Session) authenticate(username string, register func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.(stateUnauthenticated); !ok {
		return false, nil
	}
	if err := register(); err != nil {
		return false, err
	}
	s.state = stateAuthenticated{username: username}
	return true, nil
}

// closeIfUnauthenticated moves UNAUTHENTICATED to CLOSED and reports whether it did
func (s *Session) closeIfUnauthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.(stateUnauthenticated); !ok {
		return false
	}
	s.state = stateClosed{}
	return true
}

// markClosed moves any state to CLOSED and returns the previous state
func (s *Session) markClosed() sessionState {
	s.mu.Lock()
	prev := s.state
	s.state = stateClosed{}
	s.mu.Unlock()

	s.cancelAuthDeadline()
	return prev
}
