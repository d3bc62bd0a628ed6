package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PhiYerion/bucface/internal/metrics"
	"github.com/PhiYerion/bucface/internal/runtime"
	brokersvc "github.com/PhiYerion/bucface/internal/services/broker"
	"github.com/PhiYerion/bucface/internal/transport"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// Server is the broker's HTTP surface: the WebSocket endpoint, health and
// metrics.
type Server struct {
	rt      *runtime.Runtime
	broker  *brokersvc.Broker
	metrics *metrics.Metrics
	logger  logpkg.Logger
	srv     *http.Server
	lis     net.Listener
}

// New builds the router. The broker's Run loop must be started separately.
func New(rt *runtime.Runtime, broker *brokersvc.Broker, m *metrics.Metrics, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{rt: rt, broker: broker, metrics: m, logger: logger.WithComponent("http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/v1/ws", s.handleWebSocket)
	r.Get("/v1/healthz", s.handleHealth)
	r.Get("/v1/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves on addr until ctx is cancelled. Request contexts,
// including those of upgraded WebSocket connections, derive from ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("listening", logpkg.Str("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound listener address once serving.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops accepting connections.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	bc := s.rt.Config().Broker
	conn, err := transport.Upgrade(w, r, transport.Options{
		WriteTimeout: bc.WriteTimeout(),
		PingInterval: bc.PingInterval(),
		ReadLimit:    int64(bc.MaxFrameBytes),
	})
	if err != nil {
		// the upgrader has already written an HTTP error
		s.logger.Warn("websocket upgrade failed", logpkg.Str(logpkg.RemoteKey, r.RemoteAddr), logpkg.Err(err))
		return
	}
	s.logger.Debug("client connected", logpkg.Str(logpkg.RemoteKey, r.RemoteAddr))
	if err := s.broker.Serve(r.Context(), conn); err != nil {
		s.logger.Warn("connection ended with error", logpkg.Str(logpkg.RemoteKey, r.RemoteAddr), logpkg.Err(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResp struct {
	Collection string `json:"collection"`
	NextID     uint64 `json:"nextId"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	l := s.rt.Log()
	_ = json.NewEncoder(w).Encode(statusResp{Collection: l.Collection(), NextID: l.Next()})
}
