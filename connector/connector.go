package connector

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lonng/nano-gateway/internal/codec"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/internal/wsconn"
	"github.com/lonng/nano-gateway/message"
	"github.com/pingcap/errors"
)

// ErrClosed is returned when the connector has been closed
var ErrClosed = errors.New("connector closed")

type (
	// Callback receives a response or a push
	Callback func(e *message.Envelope)

	// Connector is a gateway client. Responses are matched to requests by
	// sequence, pushes (sequence 0) are routed by command.
	Connector struct {
		conn    net.Conn       // low-level connection
		decoder *codec.Decoder // decoder
		die     chan struct{}  // connector close channel
		chSend  chan []byte    // send queue
		seq     int32          // last request sequence
		once    sync.Once

		// push handler
		muEvents sync.RWMutex
		events   map[int32]Callback

		// response handler
		muResponses sync.RWMutex
		responses   map[int32]Callback
	}
)

// NewConnector returns a connector accepting frames up to maxFrameSize
func NewConnector(maxFrameSize int) *Connector {
	return &Connector{
		die:       make(chan struct{}),
		decoder:   codec.NewDecoder(maxFrameSize),
		chSend:    make(chan []byte, 64),
		events:    map[int32]Callback{},
		responses: map[int32]Callback{},
	}
}

// Start connects to a tcp gateway
func (c *Connector) Start(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return errors.Trace(err)
	}
	c.serve(conn)
	return nil
}

// StartWS connects to a websocket gateway, url looks like ws://host:port/path
func (c *Connector) StartWS(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return errors.Trace(err)
	}
	c.serve(wsconn.New(conn))
	return nil
}

func (c *Connector) serve(conn net.Conn) {
	c.conn = conn
	go c.write()
	go c.read()
}

// Request sends a request and calls callback with its response or error
// envelope. The sequence of the request is returned.
func (c *Connector) Request(command int32, body []byte, callback Callback) (int32, error) {
	seq := atomic.AddInt32(&c.seq, 1)
	c.setResponseHandler(seq, callback)
	if err := c.Send(message.New(command, seq, body)); err != nil {
		c.setResponseHandler(seq, nil)
		return 0, err
	}
	return seq, nil
}

// Call sends a request and waits for its response
func (c *Connector) Call(ctx context.Context, command int32, body []byte) (*message.Envelope, error) {
	ch := make(chan *message.Envelope, 1)
	seq, err := c.Request(command, body, func(e *message.Envelope) { ch <- e })
	if err != nil {
		return nil, err
	}
	select {
	case e := <-ch:
		return e, nil
	case <-c.die:
		return nil, ErrClosed
	case <-ctx.Done():
		c.setResponseHandler(seq, nil)
		return nil, ctx.Err()
	}
}

// Send encodes and sends an envelope as is
func (c *Connector) Send(e *message.Envelope) error {
	data, err := codec.Encode(e)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw sends bytes without framing
func (c *Connector) SendRaw(data []byte) error {
	select {
	case <-c.die:
		return ErrClosed
	case c.chSend <- data:
		return nil
	}
}

// On sets the callback of pushes with the command
func (c *Connector) On(command int32, callback Callback) {
	c.muEvents.Lock()
	defer c.muEvents.Unlock()

	c.events[command] = callback
}

// Close closes the connection, it is safe to call Close more than once
func (c *Connector) Close() {
	c.once.Do(func() {
		close(c.die)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Closed is closed when the connection is gone
func (c *Connector) Closed() <-chan struct{} {
	return c.die
}

func (c *Connector) eventHandler(command int32) (Callback, bool) {
	c.muEvents.RLock()
	defer c.muEvents.RUnlock()

	cb, ok := c.events[command]
	return cb, ok
}

func (c *Connector) responseHandler(seq int32) (Callback, bool) {
	c.muResponses.RLock()
	defer c.muResponses.RUnlock()

	cb, ok := c.responses[seq]
	return cb, ok
}

func (c *Connector) setResponseHandler(seq int32, cb Callback) {
	c.muResponses.Lock()
	defer c.muResponses.Unlock()

	if cb == nil {
		delete(c.responses, seq)
	} else {
		c.responses[seq] = cb
	}
}

func (c *Connector) write() {
	for {
		select {
		case data := <-c.chSend:
			if _, err := c.conn.Write(data); err != nil {
				log.Debugf("Connector write error: %v", err)
				c.Close()
				return
			}

		case <-c.die:
			return
		}
	}
}

func (c *Connector) read() {
	buf := make([]byte, 2048)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.Close()
			return
		}

		envelopes, err := c.decoder.Decode(buf[:n])
		for _, e := range envelopes {
			c.process(e)
		}
		if err != nil {
			log.Warnf("Connector decode error: %v", err)
			c.Close()
			return
		}
	}
}

func (c *Connector) process(e *message.Envelope) {
	if e.Sequence == 0 {
		cb, ok := c.eventHandler(e.Command)
		if !ok {
			log.Debugf("Push handler not found, %s", e)
			return
		}
		cb(e)
		return
	}

	cb, ok := c.responseHandler(e.Sequence)
	if !ok {
		log.Debugf("Response handler not found, %s", e)
		return
	}
	c.setResponseHandler(e.Sequence, nil)
	cb(e)
}
