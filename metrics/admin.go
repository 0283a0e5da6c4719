package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the gateway
const ServiceName = "gateway"

// AdminServer serves the operational surfaces of a gateway: prometheus
// metrics and a JSON stats snapshot over HTTP, and the standard gRPC
// health service. An empty address disables the corresponding server.
type AdminServer struct {
	httpAddr string
	grpcAddr string
	snapshot func() Snapshot
	registry *prometheus.Registry

	mu       sync.Mutex
	draining bool
	httpLn   net.Listener
	grpcLn   net.Listener
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	group    *errgroup.Group
}

// NewAdminServer returns an admin server exposing snapshot and collectors
func NewAdminServer(httpAddr, grpcAddr string, snapshot func() Snapshot, collectors ...prometheus.Collector) *AdminServer {
	registry := prometheus.NewRegistry()
	for _, c := range collectors {
		registry.MustRegister(c)
	}
	return &AdminServer{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		snapshot: snapshot,
		registry: registry,
		health:   health.NewServer(),
	}
}

// Start binds the listeners and serves in background
func (a *AdminServer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.group != nil {
		return errors.New("admin server started")
	}

	if a.httpAddr != "" {
		ln, err := net.Listen("tcp", a.httpAddr)
		if err != nil {
			return errors.Annotatef(err, "listen admin http %s", a.httpAddr)
		}
		a.httpLn = ln
	}
	if a.grpcAddr != "" {
		ln, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			if a.httpLn != nil {
				a.httpLn.Close()
			}
			return errors.Annotatef(err, "listen health grpc %s", a.grpcAddr)
		}
		a.grpcLn = ln
	}

	a.group = &errgroup.Group{}
	if a.httpLn != nil {
		a.http = &http.Server{Handler: a.mux()}
		ln := a.httpLn
		a.group.Go(func() error {
			if err := a.http.Serve(ln); err != nil && err != http.ErrServerClosed {
				return errors.Trace(err)
			}
			return nil
		})
		log.Infof("Admin http server listen at %s", ln.Addr())
	}
	if a.grpcLn != nil {
		a.grpc = grpc.NewServer()
		healthpb.RegisterHealthServer(a.grpc, a.health)
		a.setServingLocked(true)
		ln := a.grpcLn
		a.group.Go(func() error {
			return errors.Trace(a.grpc.Serve(ln))
		})
		log.Infof("Health grpc server listen at %s", ln.Addr())
	}
	return nil
}

func (a *AdminServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", a.statsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", a.readyHandler)
	return mux
}

func (a *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.snapshot()); err != nil {
		log.Warnf("Encode stats error: %v", err)
	}
}

func (a *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	draining := a.draining
	a.mu.Unlock()
	if draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// SetServing switches the reported health, the gateway reports NOT_SERVING
// once it starts draining.
func (a *AdminServer) SetServing(serving bool) {
	a.mu.Lock()
	a.setServingLocked(serving)
	a.mu.Unlock()
}

func (a *AdminServer) setServingLocked(serving bool) {
	a.draining = !serving
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(ServiceName, status)
}

// HTTPAddr returns the bound http address, nil if disabled
func (a *AdminServer) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpLn == nil {
		return nil
	}
	return a.httpLn.Addr()
}

// GRPCAddr returns the bound grpc address, nil if disabled
func (a *AdminServer) GRPCAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grpcLn == nil {
		return nil
	}
	return a.grpcLn.Addr()
}

// Stop stops both servers and waits for them to exit
func (a *AdminServer) Stop(ctx context.Context) error {
	a.mu.Lock()
	group := a.group
	httpSrv, grpcSrv := a.http, a.grpc
	a.mu.Unlock()

	if group == nil {
		return nil
	}

	var err error
	if httpSrv != nil {
		err = httpSrv.Shutdown(ctx)
	}
	if grpcSrv != nil {
		a.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	if werr := group.Wait(); err == nil {
		err = werr
	}
	return err
}
