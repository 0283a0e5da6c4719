package pipeline

import (
	"testing"

	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
)

func TestPipelineOrder(t *testing.T) {
	p := New()
	var order []string
	p.Inbound().PushBack(func(s *session.Session, e *message.Envelope) error {
		order = append(order, "back")
		return nil
	})
	p.Inbound().PushFront(func(s *session.Session, e *message.Envelope) error {
		order = append(order, "front")
		return nil
	})

	assert.NoError(t, p.Inbound().Process(session.New(nil), message.New(1, 1, nil)))
	assert.Equal(t, []string{"front", "back"}, order)
	assert.Equal(t, 2, p.Inbound().Len())
	assert.Equal(t, 0, p.Outbound().Len())
	assert.NoError(t, p.Outbound().Process(session.New(nil), message.New(1, 1, nil)))
}

func TestPipelineStop(t *testing.T) {
	p := New()
	errRejected := errors.New("rejected")
	called := false
	p.Outbound().PushBack(func(s *session.Session, e *message.Envelope) error {
		return errRejected
	})
	p.Outbound().PushBack(func(s *session.Session, e *message.Envelope) error {
		called = true
		return nil
	})
	assert.Equal(t, errRejected, p.Outbound().Process(session.New(nil), message.New(1, 1, nil)))
	assert.False(t, called)
}
