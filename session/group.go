// Copyright (c) nano Author. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package session

import (
	"sync"
	"sync/atomic"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
)

const (
	groupStatusWorking = 0
	groupStatusClosed  = 1
)

// SessionFilter selects the members receiving a multicast
type SessionFilter func(*Session) bool

var (
	ErrCloseClosedGroup = errors.New("close closed group")
	ErrClosedGroup      = errors.New("group closed")
	ErrMemberNotFound   = errors.New("member not found in the group")
)

// Group represents a session group which used to manage a number of
// sessions, data send to the group will send to all session in it.
type Group struct {
	mu       sync.RWMutex
	status   int32
	name     string             // group name
	sessions map[int64]*Session // session id map to session pointer
}

// NewGroup returns a new group instance
func NewGroup(n string) *Group {
	return &Group{
		status:   groupStatusWorking,
		name:     n,
		sessions: make(map[int64]*Session),
	}
}

// Name returns the group name
func (c *Group) Name() string {
	return c.name
}

// Member returns the member session with the session id
func (c *Group) Member(id int64) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sessions[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return s, nil
}

// Members returns the session ids of all members
func (c *Group) Members() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var members []int64
	for id := range c.sessions {
		members = append(members, id)
	}
	return members
}

// Multicast pushes a message to the members which filter return true
func (c *Group) Multicast(command int32, body []byte, filter SessionFilter) error {
	if c.isClosed() {
		return ErrClosedGroup
	}

	if log.Debug() {
		log.Debugf("Multicast %s, Command=%d, Data=%dbytes", c.name, command, len(body))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.sessions {
		if !filter(s) {
			continue
		}
		if err := s.Push(command, body); err != nil {
			log.Debugf("Session push message error, ID=%d, UID=%d, Error=%s", s.ID(), s.UID(), err.Error())
		}
	}

	return nil
}

// Broadcast pushes a message to all members
func (c *Group) Broadcast(command int32, body []byte) error {
	return c.Multicast(command, body, func(*Session) bool { return true })
}

// Contains checks whether the session is a member
func (c *Group) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.sessions[id]
	return ok
}

// Add adds the session to the group
func (c *Group) Add(s *Session) error {
	if c.isClosed() {
		return ErrClosedGroup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[s.ID()] = s
	return nil
}

// Leave removes the session from the group
func (c *Group) Leave(s *Session) error {
	if c.isClosed() {
		return ErrClosedGroup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[s.ID()]; !ok {
		return ErrMemberNotFound
	}
	delete(c.sessions, s.ID())
	return nil
}

// LeaveAll clears all members
func (c *Group) LeaveAll() error {
	if c.isClosed() {
		return ErrClosedGroup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = make(map[int64]*Session)
	return nil
}

// Count get current member amount in the group
func (c *Group) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.sessions)
}

func (c *Group) isClosed() bool {
	return atomic.LoadInt32(&c.status) == groupStatusClosed
}

// Close destroy group, which will release all resource in the group
func (c *Group) Close() error {
	if !atomic.CompareAndSwapInt32(&c.status, groupStatusWorking, groupStatusClosed) {
		return ErrCloseClosedGroup
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// release all reference
	c.sessions = make(map[int64]*Session)
	return nil
}
