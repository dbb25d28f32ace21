package storefront

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/auth"
	"github.com/tidecrate/storefront/internal/users"
	"github.com/tidecrate/storefront/pkg/enums"
)

// SessionState is where the client is in its auth lifecycle.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitializing  SessionState = "initializing"
	StateReady         SessionState = "ready"
	StateSignedOut     SessionState = "signed_out"
)

// SessionEventType names a session transition delivered to subscribers.
type SessionEventType string

const (
	EventInitialSession SessionEventType = "initial_session"
	EventSignedIn       SessionEventType = "signed_in"
	EventSignedOut      SessionEventType = "signed_out"
	EventTokenRefreshed SessionEventType = "token_refreshed"
)

// SessionEvent is delivered to every subscriber in the order it happened.
// User is nil when no one is signed in.
type SessionEvent struct {
	Type SessionEventType
	User *users.UserDTO
	At   time.Time
}

// Credentials is the token pair the client authenticates with.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Session owns the current credentials and user. Listeners run on a single
// dispatcher goroutine, one event at a time, in emission order.
type Session struct {
	mu        sync.RWMutex
	state     SessionState
	creds     Credentials
	user      *users.UserDTO
	listeners map[int]func(SessionEvent)
	nextID    int

	queueMu sync.Mutex
	queue   []SessionEvent
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSession() *Session {
	s := &Session{
		state:     StateUninitialized,
		listeners: map[int]func(SessionEvent){},
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Current returns the signed-in user, or nil.
func (s *Session) Current() *users.UserDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Credentials returns the stored token pair.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// AccessToken returns the bearer token, or "" when signed out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

// UserID returns the signed-in user's id, or uuid.Nil.
func (s *Session) UserID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return uuid.Nil
	}
	return s.user.ID
}

// IsAdmin reports whether the signed-in user holds the admin role.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.Role == enums.AppRoleAdmin
}

// Subscribe registers fn for future events and returns the unsubscribe func.
func (s *Session) Subscribe(fn func(SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) beginInit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return false
	}
	s.state = StateInitializing
	return true
}

func (s *Session) establish(resp *auth.SessionResponse, event SessionEventType) {
	s.mu.Lock()
	s.creds = Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, ExpiresAt: resp.ExpiresAt}
	if resp.User != nil {
		s.user = resp.User
	}
	s.state = StateReady
	user := s.user
	s.mu.Unlock()
	s.emit(SessionEvent{Type: event, User: user})
}

func (s *Session) restored(creds Credentials, user *users.UserDTO) {
	s.mu.Lock()
	s.creds = creds
	s.user = user
	s.state = StateReady
	s.mu.Unlock()
	s.emit(SessionEvent{Type: EventInitialSession, User: user})
}

// clear drops the credentials. initial reports whether this ends a restore
// attempt, in which case subscribers see initial_session with no user.
func (s *Session) clear(initial bool) {
	s.mu.Lock()
	s.creds = Credentials{}
	s.user = nil
	s.state = StateSignedOut
	s.mu.Unlock()
	if initial {
		s.emit(SessionEvent{Type: EventInitialSession})
		return
	}
	s.emit(SessionEvent{Type: EventSignedOut})
}

func (s *Session) emit(event SessionEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, event)
	s.queueMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()
			for _, fn := range s.snapshotListeners() {
				fn(event)
			}
		}
	}
}

func (s *Session) snapshotListeners() []func(SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(SessionEvent), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
	})
}
