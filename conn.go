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

package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lonng/nano-gateway/internal/codec"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/pipeline"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
)

const connWriteBacklog = 64

// connTransport is the session transport of goroutine based networks. Send
// encodes on the caller goroutine and hands the bytes to the write goroutine,
// so a slow client never blocks a dispatcher worker.
type connTransport struct {
	conn         net.Conn
	pipeline     pipeline.Pipeline
	writeTimeout time.Duration

	session atomic.Pointer[session.Session] // bound after registration
	chSend  chan []byte                     // pending frames
	chDie   chan struct{}                   // closed on Close
	done    chan struct{}                   // closed when the write goroutine exits
	once    sync.Once
}

func newConnTransport(conn net.Conn, pipe pipeline.Pipeline, writeTimeout time.Duration) *connTransport {
	return &connTransport{
		conn:         conn,
		pipeline:     pipe,
		writeTimeout: writeTimeout,
		chSend:       make(chan []byte, connWriteBacklog),
		chDie:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (t *connTransport) bind(s *session.Session) {
	t.session.Store(s)
}

// Send implements session.Transport
func (t *connTransport) Send(e *message.Envelope) error {
	select {
	case <-t.chDie:
		return ErrBrokenPipe
	default:
	}

	if pipe, s := t.pipeline, t.session.Load(); pipe != nil && s != nil {
		if err := pipe.Outbound().Process(s, e); err != nil {
			return errors.Annotate(err, "broken pipeline")
		}
	}

	data, err := codec.Encode(e)
	if err != nil {
		return errors.Trace(err)
	}

	select {
	case t.chSend <- data:
		return nil
	default:
		return ErrBufferExceed
	}
}

// Close implements session.Transport. Pending frames are flushed by the
// write goroutine before the connection is closed.
func (t *connTransport) Close() error {
	closed := false
	t.once.Do(func() {
		close(t.chDie)
		closed = true
	})
	if !closed {
		return ErrBrokenPipe
	}
	return nil
}

// RemoteAddr implements session.Transport
func (t *connTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *connTransport) write() {
	defer func() {
		if err := t.conn.Close(); err != nil {
			log.Debugf("Close connection error: %v", err)
		}
		close(t.done)
	}()

	for {
		select {
		case data := <-t.chSend:
			if err := t.writeFrame(data); err != nil {
				log.Debugf("Write message error: %v, connection will be closed immediately", err)
				t.Close()
				return
			}

		case <-t.chDie:
			for {
				select {
				case data := <-t.chSend:
					if err := t.writeFrame(data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (t *connTransport) writeFrame(data []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(data)
	return err
}

// serveConn runs the read loop of an accepted connection until the client
// disconnects, a frame is malformed, or the session is closed.
func (s *Server) serveConn(conn net.Conn) {
	t := newConnTransport(conn, s.opts.pipeline, s.cfg.ConnectTimeout())
	go t.write()

	sess, err := s.manager.Register(t)
	if err != nil {
		if err == session.ErrCapacityExceeded {
			s.stats.CapacityRejected.Inc()
		}
		log.Warnf("Reject connection from %s: %v", conn.RemoteAddr(), err)
		return
	}
	t.bind(sess)

	if log.Debug() {
		log.Debugf("New session established, SessionID=%d, Remote=%s", sess.ID(), conn.RemoteAddr())
	}

	defer func() {
		sess.Close()
		<-t.done
		s.manager.Unregister(sess.ID())
		if log.Debug() {
			log.Debugf("Session read goroutine exit, SessionID=%d, UID=%d", sess.ID(), sess.UID())
		}
	}()

	decoder := codec.NewDecoder(s.cfg.MaxFrameSize)
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if log.Debug() {
				log.Debugf("Read message error: %v, session will be closed immediately", err)
			}
			return
		}

		envelopes, err := decoder.Decode(buf[:n])
		for _, e := range envelopes {
			s.dispatcher.Dispatch(sess, e)
		}
		if err != nil {
			s.stats.FrameErrors.Inc()
			log.Warnf("Decode frame error: %v, SessionID=%d, Remote=%s", err, sess.ID(), conn.RemoteAddr())
			return
		}
	}
}
