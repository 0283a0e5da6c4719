package mock

import (
	"net"
	"sync"

	"github.com/lonng/nano-gateway/message"
	"github.com/pingcap/errors"
)

// ErrClosed is returned by a closed transport
var ErrClosed = errors.New("mock transport closed")

type NetAddr struct{}

func (a NetAddr) Network() string { return "mock" }

func (a NetAddr) String() string { return "mock-addr" }

// Transport records envelopes sent to it, it implements session.Transport
type Transport struct {
	mu       sync.Mutex
	sent     []*message.Envelope
	closed   bool
	closes   int
	chSent   chan *message.Envelope
	OnClose  func()
	SendHook func(e *message.Envelope) error
}

func NewTransport() *Transport {
	return &Transport{chSent: make(chan *message.Envelope, 1024)}
}

func (t *Transport) Send(e *message.Envelope) error {
	if t.SendHook != nil {
		if err := t.SendHook(e); err != nil {
			return err
		}
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.sent = append(t.sent, e)
	t.mu.Unlock()

	select {
	case t.chSent <- e:
	default:
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closes++
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	t.mu.Unlock()
	if t.OnClose != nil {
		t.OnClose()
	}
	return nil
}

func (t *Transport) RemoteAddr() net.Addr {
	return NetAddr{}
}

// Sent returns a copy of all envelopes sent so far
func (t *Transport) Sent() []*message.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*message.Envelope(nil), t.sent...)
}

// LastSent returns the latest envelope sent
func (t *Transport) LastSent() *message.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) < 1 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

// Next returns a channel which receives every envelope sent
func (t *Transport) Next() <-chan *message.Envelope {
	return t.chSent
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Closes returns how many times Close was called
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}
