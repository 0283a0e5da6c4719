package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/session"
)

type (
	// Func inspects or rewrites an envelope, a non-nil error stops the chain
	Func func(s *session.Session, e *message.Envelope) error

	// Pipeline holds the hooks run on decoded requests (Inbound) and on
	// envelopes about to be encoded (Outbound).
	Pipeline interface {
		Outbound() Chain
		Inbound() Chain
	}

	// Chain is an ordered list of hooks. Hooks are usually installed before
	// the server starts; Process never takes a lock.
	Chain interface {
		PushFront(h Func)
		PushBack(h Func)
		Len() int
		Process(s *session.Session, e *message.Envelope) error
	}

	pipeline struct {
		outbound, inbound *chain
	}

	chain struct {
		mu    sync.Mutex // serializes writers
		hooks atomic.Pointer[[]Func]
	}
)

func New() Pipeline {
	return &pipeline{
		outbound: &chain{},
		inbound:  &chain{},
	}
}

func (p *pipeline) Outbound() Chain { return p.outbound }
func (p *pipeline) Inbound() Chain  { return p.inbound }

func (c *chain) load() []Func {
	if hooks := c.hooks.Load(); hooks != nil {
		return *hooks
	}
	return nil
}

// PushFront installs h before the existing hooks
func (c *chain) PushFront(h Func) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.load()
	hooks := make([]Func, 0, len(old)+1)
	hooks = append(hooks, h)
	hooks = append(hooks, old...)
	c.hooks.Store(&hooks)
}

// PushBack installs h after the existing hooks
func (c *chain) PushBack(h Func) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.load()
	hooks := make([]Func, 0, len(old)+1)
	hooks = append(hooks, old...)
	hooks = append(hooks, h)
	c.hooks.Store(&hooks)
}

func (c *chain) Len() int {
	return len(c.load())
}

// Process runs the hooks in order and stops at the first error
func (c *chain) Process(s *session.Session, e *message.Envelope) error {
	for _, h := range c.load() {
		if err := h(s, e); err != nil {
			return err
		}
	}
	return nil
}
