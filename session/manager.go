package session

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
)

// ErrCapacityExceeded is returned by Register when the manager already holds
// the maximum number of live sessions.
var ErrCapacityExceeded = errors.New("session capacity exceeded")

// ErrManagerClosed is returned by Register after Close.
var ErrManagerClosed = errors.New("session manager closed")

type (
	// LifetimeHandler represents a callback that will be called when a
	// session is closed and removed from the manager.
	LifetimeHandler func(*Session)

	// Executor runs a task on behalf of a session, the gateway uses it to
	// run lifetime callbacks after the pending handlers of the session.
	Executor func(s *Session, task func())
)

// Manager is the registry of live sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	max      int
	sid      int64 // last assigned session id
	count    int64
	closed   bool

	muCallbacks sync.RWMutex
	onClosed    []LifetimeHandler
	executor    Executor
}

// NewManager returns a manager which holds at most maxConnections sessions
func NewManager(maxConnections int) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		max:      maxConnections,
		executor: func(_ *Session, task func()) { task() },
	}
}

// SetExecutor replaces the executor of lifetime callbacks
func (m *Manager) SetExecutor(e Executor) {
	if e == nil {
		return
	}
	m.muCallbacks.Lock()
	m.executor = e
	m.muCallbacks.Unlock()
}

// OnClosed sets the callback which will be called once for every session after
// it has been removed. Warning: the session has closed already.
func (m *Manager) OnClosed(h LifetimeHandler) {
	m.muCallbacks.Lock()
	m.onClosed = append(m.onClosed, h)
	m.muCallbacks.Unlock()
}

// Register creates a session for a newly accepted transport. When the manager
// is full or closed the transport is closed and ErrCapacityExceeded or
// ErrManagerClosed returned.
func (m *Manager) Register(t Transport) (*Session, error) {
	if t == nil {
		return nil, ErrNilTransport
	}

	m.mu.Lock()
	var reject error
	switch {
	case m.closed:
		reject = ErrManagerClosed
	case len(m.sessions) >= m.max:
		reject = ErrCapacityExceeded
	}
	if reject != nil {
		m.mu.Unlock()
		if err := t.Close(); err != nil {
			log.Debugf("Close rejected transport error: %v", err)
		}
		return nil, reject
	}
	s := newSession(atomic.AddInt64(&m.sid, 1), t)
	m.sessions[s.id] = s
	atomic.StoreInt64(&m.count, int64(len(m.sessions)))
	m.mu.Unlock()

	s.transit(StateConnecting, StateConnected)
	return s, nil
}

// Unregister removes the session and moves it into CLOSED. It is a no-op if
// the session is absent.
func (m *Manager) Unregister(id int64) {
	m.mu.Lock()
	s, found := m.sessions[id]
	if found {
		delete(m.sessions, id)
		atomic.StoreInt64(&m.count, int64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !found {
		return
	}
	atomic.StoreInt32(&s.state, int32(StateClosed))

	m.muCallbacks.RLock()
	callbacks := m.onClosed
	executor := m.executor
	m.muCallbacks.RUnlock()
	if len(callbacks) < 1 {
		return
	}
	executor(s, func() {
		for _, h := range callbacks {
			m.lifetime(h, s)
		}
	})
}

func (m *Manager) lifetime(h LifetimeHandler, s *Session) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorf("%s", fmt.Sprintf("session/OnClosed: Error=%+v, Stack=%s", err, debug.Stack()))
		}
	}()
	h(s)
}

// Find returns the live session with the id, or nil
func (m *Manager) Find(id int64) *Session {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	return s
}

// Touch records activity on the session with the id
func (m *Manager) Touch(id int64) bool {
	s := m.Find(id)
	if s == nil {
		return false
	}
	s.Touch()
	return true
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	return int(atomic.LoadInt64(&m.count))
}

// Capacity returns the maximum number of live sessions
func (m *Manager) Capacity() int {
	return m.max
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	return list
}

// Range calls fn for every live session until fn returns false. Sessions
// registered or removed during the iteration may or may not be visited.
func (m *Manager) Range(fn func(*Session) bool) {
	for _, s := range m.snapshot() {
		if !fn(s) {
			return
		}
	}
}

// ForEachAuthenticated calls fn for every authenticated session, it is used
// to broadcast messages.
func (m *Manager) ForEachAuthenticated(fn func(*Session)) {
	for _, s := range m.snapshot() {
		if s.IsAuthenticated() {
			fn(s)
		}
	}
}

// Idle returns live sessions whose last activity is older than deadline
func (m *Manager) Idle(deadline time.Time) []*Session {
	var idle []*Session
	dl := deadline.UnixNano()
	for _, s := range m.snapshot() {
		if atomic.LoadInt64(&s.lastAt) < dl {
			idle = append(idle, s)
		}
	}
	return idle
}

// CloseAll closes every live session, it is used by the gateway on shutdown
func (m *Manager) CloseAll() int {
	n := 0
	for _, s := range m.snapshot() {
		if err := s.Close(); err == nil {
			n++
		}
	}
	return n
}

// Close rejects every later Register and closes the live sessions. It returns
// the number of sessions closed.
func (m *Manager) Close() int {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.CloseAll()
}

// Closed reports whether Close has been called
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
