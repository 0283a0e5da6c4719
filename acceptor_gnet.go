package gateway

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/lonng/nano-gateway/internal/codec"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/pipeline"
	"github.com/lonng/nano-gateway/session"
	"github.com/panjf2000/gnet/v2"
	"github.com/pingcap/errors"
)

// gnetTransport is the session transport of the event-loop network, writes
// are queued on the event loop of the connection.
type gnetTransport struct {
	conn     gnet.Conn
	pipeline pipeline.Pipeline
	decoder  *codec.Decoder
	session  *session.Session // only touched on the event loop
	bound    atomic.Pointer[session.Session]
	closed   int32
}

func (t *gnetTransport) Send(e *message.Envelope) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return ErrBrokenPipe
	}
	if pipe, s := t.pipeline, t.bound.Load(); pipe != nil && s != nil {
		if err := pipe.Outbound().Process(s, e); err != nil {
			return errors.Annotate(err, "broken pipeline")
		}
	}
	data, err := codec.Encode(e)
	if err != nil {
		return errors.Trace(err)
	}
	return t.conn.AsyncWrite(data, nil)
}

func (t *gnetTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return ErrBrokenPipe
	}
	return t.conn.Close()
}

func (t *gnetTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// gnetAcceptor serves clients on workerThreads event loops, with
// SO_REUSEPORT listeners when bossThreads is greater than one.
type gnetAcceptor struct {
	gnet.BuiltinEventEngine

	server *Server
	addr   net.Addr
	eng    gnet.Engine
	booted chan struct{}
	exited chan struct{} // closed when gnet.Run returns, err holds its result
	err    error
}

func newGnetAcceptor(s *Server) *gnetAcceptor {
	return &gnetAcceptor{
		server: s,
		booted: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (a *gnetAcceptor) Start() error {
	cfg := a.server.cfg
	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr())
	if err != nil {
		a.err = errors.Trace(err)
		close(a.exited)
		return a.err
	}
	a.addr = addr

	go func() {
		defer close(a.exited)
		a.err = gnet.Run(a, fmt.Sprintf("tcp://%s", cfg.Addr()),
			gnet.WithMulticore(true),
			gnet.WithNumEventLoop(cfg.WorkerThreads),
			gnet.WithReusePort(cfg.BossThreads > 1),
			gnet.WithTCPKeepAlive(cfg.HeartbeatTimeout()),
			gnet.WithLogger(log.Sugar()))
	}()

	select {
	case <-a.booted:
		log.Infof("Gateway listen at %s, network=%s, loops=%d", cfg.Addr(), NetworkGnet, cfg.WorkerThreads)
		return nil
	case <-a.exited:
		return errors.Annotate(a.err, "gnet engine")
	case <-time.After(cfg.ConnectTimeout()):
		// the engine may still boot, Release stops it
		return errors.New("gnet engine boot timeout")
	}
}

func (a *gnetAcceptor) OnBoot(eng gnet.Engine) gnet.Action {
	a.eng = eng
	close(a.booted)
	return gnet.None
}

func (a *gnetAcceptor) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if a.server.closing() {
		return nil, gnet.Close
	}

	s := a.server
	t := &gnetTransport{conn: c, pipeline: s.opts.pipeline, decoder: codec.NewDecoder(s.cfg.MaxFrameSize)}
	c.SetContext(t)

	sess, err := s.manager.Register(t)
	if err != nil {
		if err == session.ErrCapacityExceeded {
			s.stats.CapacityRejected.Inc()
		}
		log.Warnf("Reject connection from %s: %v", c.RemoteAddr(), err)
		return nil, gnet.None
	}
	t.session = sess
	t.bound.Store(sess)

	if log.Debug() {
		log.Debugf("New session established, SessionID=%d, Remote=%s", sess.ID(), c.RemoteAddr())
	}
	return nil, gnet.None
}

func (a *gnetAcceptor) OnTraffic(c gnet.Conn) gnet.Action {
	t, ok := c.Context().(*gnetTransport)
	if !ok || t.session == nil {
		// rejected by the session ceiling, discard until closed
		c.Discard(-1)
		return gnet.None
	}

	data, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	envelopes, err := t.decoder.Decode(data)
	for _, e := range envelopes {
		a.server.dispatcher.Dispatch(t.session, e)
	}
	if err != nil {
		a.server.stats.FrameErrors.Inc()
		log.Warnf("Decode frame error: %v, SessionID=%d, Remote=%s", err, t.session.ID(), c.RemoteAddr())
		atomic.StoreInt32(&t.closed, 1)
		return gnet.Close
	}
	return gnet.None
}

func (a *gnetAcceptor) OnClose(c gnet.Conn, err error) gnet.Action {
	t, ok := c.Context().(*gnetTransport)
	if !ok || t.session == nil {
		return gnet.None
	}
	atomic.StoreInt32(&t.closed, 1)
	t.session.Close()
	a.server.manager.Unregister(t.session.ID())
	if log.Debug() {
		log.Debugf("Session closed, SessionID=%d, UID=%d, Error=%v", t.session.ID(), t.session.UID(), err)
	}
	return gnet.None
}

func (a *gnetAcceptor) Addr() net.Addr {
	return a.addr
}

// Stop keeps the engine running, OnOpen rejects new connections once the
// server is closing. Stopping the engine closes every connection, it is done
// in Release after the grace period.
func (a *gnetAcceptor) Stop(ctx context.Context) error {
	return nil
}

// Release stops the engine, waiting for a late boot if Start timed out.
func (a *gnetAcceptor) Release(ctx context.Context) error {
	select {
	case <-a.exited:
		return nil
	case <-a.booted:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := a.eng.Stop(ctx); err != nil {
		return errors.Trace(err)
	}
	select {
	case <-a.exited:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
