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

package component

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
)

var (
	ErrDuplicateHandler = errors.New("duplicate handler")
	ErrNoHandler        = errors.New("no handler")
	ErrRegistryFrozen   = errors.New("handler registry frozen")
	ErrNilHandler       = errors.New("nil handler")
)

// Registry maps message ids to handlers. It is built before the server
// starts and read without locks afterwards.
type Registry struct {
	frozen   int32
	handlers map[int32]Handler
	catchAll Handler
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[int32]Handler)}
}

// Register adds handlers to the registry. Registering a message id twice
// fails with ErrDuplicateHandler, a later catch-all replaces the earlier one.
func (r *Registry) Register(handlers ...Handler) error {
	if r.Frozen() {
		return ErrRegistryFrozen
	}
	for _, h := range handlers {
		if h == nil {
			return ErrNilHandler
		}
		id := h.MessageID()
		if id == CatchAll {
			if r.catchAll != nil {
				log.Warnf("Catch-all handler replaced by %s", describe(h))
			}
			r.catchAll = h
			continue
		}
		if _, found := r.handlers[id]; found {
			return errors.Annotatef(ErrDuplicateHandler, "message id %d", id)
		}
		r.handlers[id] = h
	}
	return nil
}

// Resolve returns the handler of the message id, falling back to the
// catch-all handler.
func (r *Registry) Resolve(id int32) (Handler, error) {
	if h, found := r.handlers[id]; found {
		return h, nil
	}
	if r.catchAll != nil {
		return r.catchAll, nil
	}
	return nil, ErrNoHandler
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	atomic.StoreInt32(&r.frozen, 1)
}

// Frozen reports whether the registry accepts no more handlers
func (r *Registry) Frozen() bool {
	return atomic.LoadInt32(&r.frozen) == 1
}

// Len returns the number of exact handlers
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Dump prints all registered handlers in debug mode
func (r *Registry) Dump() {
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		h := r.handlers[int32(id)]
		log.Debugf("registered handler %s, requiresAuth=%t", describe(h), h.RequiresAuth())
	}
	if r.catchAll != nil {
		log.Debugf("registered catch-all handler %s", describe(r.catchAll))
	}
}

func describe(h Handler) string {
	if s, ok := h.(fmt.Stringer); ok {
		return s.String()
	}
	return nameOf(h.MessageID())
}

func nameOf(id int32) string {
	if id == CatchAll {
		return "catch-all"
	}
	return fmt.Sprintf("command(%d)", id)
}
