package session

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/scheduler"
	"github.com/pingcap/errors"
)

// Transport is the low-level connection of a session, implemented by the
// gateway for every network it serves.
type Transport interface {
	// Send queues an envelope to be written to the client
	Send(e *message.Envelope) error
	// Close closes the low-level connection, the gateway unregisters the
	// session once the connection is gone.
	Close() error
	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
}

var (
	ErrIllegalUID    = errors.New("illegal uid")
	ErrSessionClosed = errors.New("session closed")
	ErrIllegalState  = errors.New("illegal session state")
	ErrNilTransport  = errors.New("nil transport")
)

// Session represents one connected client. The attribute bag is not guarded by
// a lock, it must only be touched by handlers of this session, which never run
// concurrently with each other.
type Session struct {
	id       int64                  // session unique id, never reused
	uid      int64                  // binding user id
	entity   Transport              // low-level transport
	state    int32                  // current State
	lastAt   int64                  // last activity unix nano
	createAt time.Time              // when the connection was accepted
	data     map[string]interface{} // session data store
	mailbox  *scheduler.Mailbox     // pending handler executions
}

func newSession(id int64, entity Transport) *Session {
	now := time.Now()
	return &Session{
		id:       id,
		entity:   entity,
		state:    int32(StateConnecting),
		lastAt:   now.UnixNano(),
		createAt: now,
		data:     make(map[string]interface{}),
		mailbox:  scheduler.NewMailbox(),
	}
}

// New returns a detached session, it is not registered in any manager. It is
// used by tests and tools which drive handlers directly.
func New(entity Transport) *Session {
	s := newSession(0, entity)
	s.state = int32(StateConnected)
	return s
}

// ID returns the session id
func (s *Session) ID() int64 {
	return s.id
}

// UID returns the uid bound to the session
func (s *Session) UID() int64 {
	return atomic.LoadInt64(&s.uid)
}

// Bind binds a user id to the session
func (s *Session) Bind(uid int64) error {
	if uid < 1 {
		return ErrIllegalUID
	}
	atomic.StoreInt64(&s.uid, uid)
	return nil
}

// State returns current state of the session
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) transit(from, to State) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}

// IsAuthenticated reports whether a handler has marked the session authenticated
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// MarkAuthenticated moves the session from CONNECTED to AUTHENTICATED. Marking
// an authenticated session again is a no-op.
func (s *Session) MarkAuthenticated() error {
	if s.transit(StateConnected, StateAuthenticated) {
		return nil
	}
	switch s.State() {
	case StateAuthenticated:
		return nil
	case StateClosing, StateClosed:
		return ErrSessionClosed
	default:
		return errors.Annotatef(ErrIllegalState, "authenticate in state %s", s.State())
	}
}

// Touch records activity on the session
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastAt, time.Now().UnixNano())
}

func (s *Session) touchAt(t time.Time) {
	atomic.StoreInt64(&s.lastAt, t.UnixNano())
}

// LastActivity returns the time of the latest inbound frame
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastAt))
}

// CreateAt returns the time the connection was accepted
func (s *Session) CreateAt() time.Time {
	return s.createAt
}

// Mailbox returns the queue which serializes handler executions of the session
func (s *Session) Mailbox() *scheduler.Mailbox {
	return s.mailbox
}

// Send writes an envelope to the client
func (s *Session) Send(e *message.Envelope) error {
	if s.State() >= StateClosing {
		return ErrSessionClosed
	}
	return s.entity.Send(e)
}

// Push sends a server originated message to the client, it carries a fresh
// trace id and sequence 0.
func (s *Session) Push(command int32, body []byte) error {
	e := message.New(command, 0, body)
	e.TraceID = uuid.NewString()
	return s.Send(e)
}

// Close moves the session into CLOSING and closes the low-level transport.
// Closing a session which is already closing returns ErrSessionClosed.
func (s *Session) Close() error {
	for {
		st := s.State()
		if st >= StateClosing {
			return ErrSessionClosed
		}
		if s.transit(st, StateClosing) {
			break
		}
	}
	if s.entity == nil {
		return nil
	}
	return s.entity.Close()
}

// RemoteAddr returns the remote network address.
func (s *Session) RemoteAddr() net.Addr {
	if s.entity == nil {
		return nil
	}
	return s.entity.RemoteAddr()
}

// String, implementation for fmt.Stringer interface
func (s *Session) String() string {
	return fmt.Sprintf("ID=%d, UID=%d, State=%s", s.id, s.UID(), s.State())
}

// Remove delete data associated with the key from session storage
func (s *Session) Remove(key string) {
	delete(s.data, key)
}

// Set associates value with the key in session storage
func (s *Session) Set(key string, value interface{}) {
	s.data[key] = value
}

// HasKey decides whether a key has associated value
func (s *Session) HasKey(key string) bool {
	_, has := s.data[key]
	return has
}

// Value returns the value associated with the key as a interface{}
func (s *Session) Value(key string) interface{} {
	return s.data[key]
}

// Int returns the value associated with the key as a int.
func (s *Session) Int(key string) int {
	v, ok := s.data[key].(int)
	if !ok {
		return 0
	}
	return v
}

// Int32 returns the value associated with the key as a int32.
func (s *Session) Int32(key string) int32 {
	v, ok := s.data[key].(int32)
	if !ok {
		return 0
	}
	return v
}

// Int64 returns the value associated with the key as a int64.
func (s *Session) Int64(key string) int64 {
	v, ok := s.data[key].(int64)
	if !ok {
		return 0
	}
	return v
}

// Uint32 returns the value associated with the key as a uint32.
func (s *Session) Uint32(key string) uint32 {
	v, ok := s.data[key].(uint32)
	if !ok {
		return 0
	}
	return v
}

// Float64 returns the value associated with the key as a float64.
func (s *Session) Float64(key string) float64 {
	v, ok := s.data[key].(float64)
	if !ok {
		return 0
	}
	return v
}

// Bool returns the value associated with the key as a bool.
func (s *Session) Bool(key string) bool {
	v, ok := s.data[key].(bool)
	if !ok {
		return false
	}
	return v
}

// StringValue returns the value associated with the key as a string.
func (s *Session) StringValue(key string) string {
	v, ok := s.data[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Attributes retrieves all session data
func (s *Session) Attributes() map[string]interface{} {
	return s.data
}

// Clear releases all data related to current session
func (s *Session) Clear() {
	s.data = map[string]interface{}{}
}
