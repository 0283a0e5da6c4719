package gateway

import (
	"context"
	"net"
	"sync"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
)

// tcpAcceptor runs bossThreads accept loops. On platforms with SO_REUSEPORT
// every loop owns a listener bound to the same address and the kernel
// balances connections, elsewhere the loops share one listener.
type tcpAcceptor struct {
	server    *Server
	listeners []net.Listener
	wg        sync.WaitGroup
}

func newTCPAcceptor(s *Server) *tcpAcceptor {
	return &tcpAcceptor{server: s}
}

func (a *tcpAcceptor) listen(addr string, n int) ([]net.Listener, error) {
	if n <= 1 || !reusePortSupported {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return []net.Listener{ln}, nil
	}

	lc := net.ListenConfig{Control: reusePortControl}
	first, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	listeners := []net.Listener{first}
	// port 0 resolves on the first bind, the others must share it
	bound := first.Addr().String()
	for i := 1; i < n; i++ {
		ln, err := lc.Listen(context.Background(), "tcp", bound)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, errors.Trace(err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func (a *tcpAcceptor) Start() error {
	cfg := a.server.cfg
	listeners, err := a.listen(cfg.Addr(), cfg.BossThreads)
	if err != nil {
		return err
	}
	a.listeners = listeners

	for i := 0; i < cfg.BossThreads; i++ {
		ln := listeners[i%len(listeners)]
		a.wg.Add(1)
		go a.accept(ln)
	}
	log.Infof("Gateway listen at %s, network=%s, boss=%d", listeners[0].Addr(), NetworkTCP, cfg.BossThreads)
	return nil
}

func (a *tcpAcceptor) accept(ln net.Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !a.server.closing() {
				log.Errorf("Accept connection error: %v", err)
			}
			return
		}
		go a.server.serveConn(conn)
	}
}

func (a *tcpAcceptor) Addr() net.Addr {
	if len(a.listeners) == 0 {
		return nil
	}
	return a.listeners[0].Addr()
}

func (a *tcpAcceptor) Stop(ctx context.Context) error {
	for _, ln := range a.listeners {
		ln.Close()
	}
	a.wg.Wait()
	return nil
}

func (a *tcpAcceptor) Release(ctx context.Context) error {
	return nil
}
