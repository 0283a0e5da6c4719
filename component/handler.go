package component

import (
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/session"
)

// CatchAll is the message id of the handler used when no exact handler matches
const CatchAll int32 = -1

// Handler processes envelopes of one message id. Handle runs on a dispatcher
// worker, never on an I/O goroutine, and never concurrently with another
// handler of the same session. A nil response is answered with an empty reply.
type Handler interface {
	MessageID() int32
	RequiresAuth() bool
	Handle(s *session.Session, in *message.Envelope) (*message.Envelope, error)
}

// HandlerFunc is the function form of Handler.Handle
type HandlerFunc func(s *session.Session, in *message.Envelope) (*message.Envelope, error)

type handler struct {
	id           int32
	requiresAuth bool
	name         string
	fn           HandlerFunc
}

// New returns a Handler for the message id backed by fn
func New(id int32, requiresAuth bool, fn HandlerFunc, opts ...Option) Handler {
	opt := options{}
	for _, option := range opts {
		option(&opt)
	}
	return &handler{id: id, requiresAuth: requiresAuth, name: opt.name, fn: fn}
}

func (h *handler) MessageID() int32   { return h.id }
func (h *handler) RequiresAuth() bool { return h.requiresAuth }

func (h *handler) Handle(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
	return h.fn(s, in)
}

func (h *handler) String() string {
	if h.name != "" {
		return h.name
	}
	return nameOf(h.id)
}
