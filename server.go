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
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/metrics"
	"github.com/lonng/nano-gateway/scheduler"
	"github.com/lonng/nano-gateway/serialize"
	"github.com/lonng/nano-gateway/serialize/json"
	"github.com/lonng/nano-gateway/serialize/msgpack"
	"github.com/lonng/nano-gateway/serialize/protobuf"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
)

const (
	statusIdle int32 = iota
	statusStarting
	statusRunning
	statusClosing
	statusClosed
)

// acceptor accepts client connections of one network
type acceptor interface {
	Start() error
	Addr() net.Addr
	// Stop stops accepting new connections
	Stop(ctx context.Context) error
	// Release frees the network resources once every session is closed
	Release(ctx context.Context) error
}

// Server is a gateway instance, it owns the session manager, the handler
// registry, the dispatcher and the heartbeat monitor.
type Server struct {
	cfg  Config
	opts options

	status int32
	mu     sync.Mutex
	done   chan struct{}

	manager    *session.Manager
	registry   *component.Registry
	scheduler  *scheduler.Scheduler
	dispatcher *Dispatcher
	heartbeat  *HeartbeatMonitor
	acceptor   acceptor
	admin      *metrics.AdminServer
	stats      *metrics.Stats
	components []component.CompWithOptions
}

// New returns a server for cfg, the config is validated by Start
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		done:     make(chan struct{}),
		registry: component.NewRegistry(),
		stats:    &metrics.Stats{},
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Register adds handlers, it must be called before Start
func (s *Server) Register(handlers ...component.Handler) error {
	return s.registry.Register(handlers...)
}

func (s *Server) serializer() serialize.Serializer {
	if s.opts.serializer != nil {
		return s.opts.serializer
	}
	switch s.cfg.Serializer {
	case SerializerProtobuf:
		return protobuf.NewSerializer()
	case SerializerMsgpack:
		return msgpack.NewSerializer()
	default:
		return json.NewSerializer()
	}
}

// Start validates the config, initializes components, binds the listeners
// and starts serving. A failed Start leaves the server safe to Shutdown.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.status, statusIdle, statusStarting) {
		if s.closing() {
			return ErrServerClosed
		}
		return ErrServerStarted
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	if s.opts.debug {
		log.SetDebug(true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.manager = session.NewManager(s.cfg.MaxConnections)
	s.scheduler = scheduler.New(s.cfg.DispatchWorkers, s.cfg.DispatchQueue)
	s.scheduler.Start()

	// lifetime callbacks follow the pending handlers of the session
	sched := s.scheduler
	s.manager.SetExecutor(func(sess *session.Session, task func()) {
		if err := sched.Schedule(sess.Mailbox(), task); err != nil {
			task()
		}
	})

	// components may register handlers, the registry is read-only afterwards
	if s.opts.components != nil {
		s.components = s.opts.components.List()
	}
	for _, c := range s.components {
		c.Comp.Init()
	}
	for _, c := range s.components {
		c.Comp.AfterInit()
	}
	for _, c := range s.components {
		p, ok := c.Comp.(component.Provider)
		if !ok {
			continue
		}
		if err := s.registry.Register(p.Handlers()...); err != nil {
			return errors.Annotatef(err, "register handlers of component %s", c.Name())
		}
	}
	s.registry.Freeze()
	if log.Debug() {
		s.registry.Dump()
	}

	s.dispatcher = NewDispatcher(s.registry, s.scheduler, s.opts.pipeline, s.serializer(), s.stats)

	switch s.cfg.Network {
	case NetworkWS:
		s.acceptor = newWSAcceptor(s)
	case NetworkGnet:
		s.acceptor = newGnetAcceptor(s)
	default:
		s.acceptor = newTCPAcceptor(s)
	}
	// a failed acceptor is kept, Shutdown releases what it started
	if err := s.acceptor.Start(); err != nil {
		return errors.Annotatef(err, "start %s acceptor", s.cfg.Network)
	}

	s.heartbeat = NewHeartbeatMonitor(s.manager, s.stats, s.cfg.HeartbeatInterval(), s.cfg.HeartbeatTimeout())
	s.heartbeat.Start()

	if s.cfg.AdminAddr != "" || s.cfg.HealthAddr != "" {
		admin := metrics.NewAdminServer(s.cfg.AdminAddr, s.cfg.HealthAddr, s.Stats,
			metrics.NewCollector("gateway", s.Stats))
		if err := admin.Start(); err != nil {
			return err
		}
		s.admin = admin
	}

	atomic.StoreInt32(&s.status, statusRunning)
	return nil
}

// Shutdown stops accepting, waits for in-flight handlers within the grace
// period, force-closes remaining sessions and releases all resources. It is
// safe to call Shutdown more than once, before Start, or after a failed Start.
func (s *Server) Shutdown() {
	for {
		status := atomic.LoadInt32(&s.status)
		if status >= statusClosing {
			<-s.done
			return
		}
		if atomic.CompareAndSwapInt32(&s.status, status, statusClosing) {
			break
		}
	}
	defer close(s.done)

	// wait for a concurrent Start to return
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Infof("Gateway is stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
	defer cancel()

	// frames decoded from now on are answered with 503, including frames
	// that complete during the grace period
	if s.dispatcher != nil {
		s.dispatcher.Drain()
	}
	if s.admin != nil {
		s.admin.SetServing(false)
	}
	if s.acceptor != nil {
		if err := s.acceptor.Stop(ctx); err != nil {
			log.Warnf("Stop acceptor error: %v", err)
		}
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	if s.scheduler != nil {
		if err := s.scheduler.Close(ctx); err != nil {
			log.Warnf("Handlers did not finish in %s: %v", s.cfg.ShutdownGrace(), err)
		}
	}

	// independent of the grace period, it may have been used up by handlers
	release, cancelRelease := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
	defer cancelRelease()
	if s.manager != nil {
		// connections accepted before the listeners closed may still be
		// registering, Close makes them fail
		if n := s.manager.Close(); n > 0 {
			log.Infof("Force closed %d sessions", n)
		}
		s.waitSessions(release)
	}
	if s.acceptor != nil {
		if err := s.acceptor.Release(release); err != nil {
			log.Warnf("Release acceptor error: %v", err)
		}
	}
	if s.admin != nil {
		if err := s.admin.Stop(release); err != nil {
			log.Warnf("Stop admin server error: %v", err)
		}
	}

	// shutdown all components registered by application, that
	// call by reverse order against register
	length := len(s.components)
	for i := length - 1; i >= 0; i-- {
		s.components[i].Comp.BeforeShutdown()
	}
	for i := length - 1; i >= 0; i-- {
		s.components[i].Comp.Shutdown()
	}

	atomic.StoreInt32(&s.status, statusClosed)
	log.Infof("Gateway stopped")
	log.Sync()
}

// waitSessions waits for the connection goroutines to unregister their
// sessions after CloseAll.
func (s *Server) waitSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.manager.Count() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Warnf("%d sessions still open after shutdown", s.manager.Count())
			return
		}
	}
}

func (s *Server) closing() bool {
	return atomic.LoadInt32(&s.status) >= statusClosing
}

// Addr returns the address the gateway listens on, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// AdminAddr returns the address of the admin http server, nil if disabled
func (s *Server) AdminAddr() net.Addr {
	if s.admin == nil {
		return nil
	}
	return s.admin.HTTPAddr()
}

// HealthAddr returns the address of the grpc health server, nil if disabled
func (s *Server) HealthAddr() net.Addr {
	if s.admin == nil {
		return nil
	}
	return s.admin.GRPCAddr()
}

// Sessions returns the session manager, it is available to components from
// Init on and nil before Start
func (s *Server) Sessions() *session.Manager {
	return s.manager
}

// Stats returns a snapshot of the gateway counters
func (s *Server) Stats() metrics.Snapshot {
	active := 0
	if m := s.manager; m != nil {
		active = m.Count()
	}
	return s.stats.Snapshot(active)
}
