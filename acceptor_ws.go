package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/internal/wsconn"
)

// wsAcceptor serves websocket clients. Binary messages carry the same
// length-prefixed stream as tcp, so both share the read loop.
type wsAcceptor struct {
	server    *Server
	http      *http.Server
	listeners []net.Listener
	wg        sync.WaitGroup
}

func newWSAcceptor(s *Server) *wsAcceptor {
	return &wsAcceptor{server: s}
}

func (a *wsAcceptor) Start() error {
	cfg := a.server.cfg
	checkOrigin := a.server.opts.checkOrigin
	if checkOrigin == nil {
		checkOrigin = func(_ *http.Request) bool { return true }
	}
	upgrader := &websocket.Upgrader{
		ReadBufferSize:   2048,
		WriteBufferSize:  2048,
		HandshakeTimeout: cfg.ConnectTimeout(),
		CheckOrigin:      checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("Upgrade failure, URI=%s, Error=%s", r.RequestURI, err.Error())
			return
		}
		a.server.serveConn(wsconn.New(conn))
	})
	a.http = &http.Server{Handler: mux}

	listeners, err := newTCPAcceptor(a.server).listen(cfg.Addr(), cfg.BossThreads)
	if err != nil {
		return err
	}
	a.listeners = listeners
	for _, ln := range listeners {
		a.wg.Add(1)
		go func(ln net.Listener) {
			defer a.wg.Done()
			if err := a.http.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Errorf("Websocket server error: %v", err)
			}
		}(ln)
	}
	log.Infof("Gateway listen at ws://%s%s, boss=%d", listeners[0].Addr(), cfg.WSPath, len(listeners))
	return nil
}

func (a *wsAcceptor) Addr() net.Addr {
	if len(a.listeners) == 0 {
		return nil
	}
	return a.listeners[0].Addr()
}

// Stop closes the listeners. Hijacked websocket connections are not tracked
// by the http server, they are closed with their sessions.
func (a *wsAcceptor) Stop(ctx context.Context) error {
	if a.http == nil {
		return nil
	}
	err := a.http.Shutdown(ctx)
	a.wg.Wait()
	return err
}

func (a *wsAcceptor) Release(ctx context.Context) error {
	return nil
}
