// Package gateway connects network clients to the world. It serves the
// websocket endpoint, the QUIC listener and a small admin API; every
// connection becomes a session.Session whose packets flow through the
// world's Ingress.
package gateway

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/world"
)

// Metrics receives gateway measurements. The metrics package implements it.
type Metrics interface {
	Rejected(reason string)
	Request(method, endpoint string, status int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Rejected(string)                            {}
func (nopMetrics) Request(string, string, int, time.Duration) {}

type Options struct {
	Addr     string
	QUICAddr string

	Session  session.Options
	MaxFrame int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	// AllowedOrigins applies to the admin API and the websocket upgrade.
	// Empty allows any origin.
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		Addr:         ":4515",
		Session:      session.DefaultOptions(),
		MaxFrame:     session.DefaultMaxFrame,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

type Deps struct {
	Log     log.Log
	Metrics Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Reload re-reads the configuration for POST /admin/reload.
	Reload func() error
}

type Gateway struct {
	opts     Options
	world    *world.World
	log      log.Log
	metrics  Metrics
	reload   func() error
	router   *chi.Mux
	upgrader websocket.Upgrader
	server   *http.Server
	closed   atomic.Bool
}

func New(opts Options, w *world.World, deps Deps) *Gateway {
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = session.DefaultMaxFrame
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Log == nil {
		deps.Log = log.Provide()
	}

	g := &Gateway{
		opts:    opts,
		world:   w,
		log:     deps.Log.With(log.String("component", "gateway")),
		metrics: deps.Metrics,
		reload:  deps.Reload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	g.router = g.routes(deps.Gatherer)
	return g
}

func (g *Gateway) routes(gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", g.handleWebSocket)
	r.Get("/healthz", g.handleHealth)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/admin", func(r chi.Router) {
		origins := g.opts.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
		r.Use(middleware.RequestID)
		r.Use(g.observe)

		r.Get("/stats", g.handleStats)
		r.Get("/entities/{handle}", g.handleEntity)
		r.Post("/reload", g.handleReload)
	})
	return r
}

// Handler returns the HTTP handler for use with httptest.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Serve listens on Options.Addr until ctx is done, then shuts the HTTP
// server down. Live websocket sessions are closed by the world.
func (g *Gateway) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", g.opts.Addr)
	}
	return g.ServeListener(ctx, ln)
}

func (g *Gateway) ServeListener(ctx context.Context, ln net.Listener) error {
	g.server = &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Info("gateway listening", log.String("addr", ln.Addr().String()))
		errCh <- g.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		g.closed.Store(true)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve http")
	case <-ctx.Done():
	}

	g.closed.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http")
	}
	g.log.Info("gateway stopped")
	return nil
}

// open registers a new session with the hub, or reports why it could not.
func (g *Gateway) open(remote string) (*session.Session, error) {
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}
	s := session.New(remote, g.opts.Session)
	if err := g.world.Hub().Open(s); err != nil {
		g.metrics.Rejected(rejectFull)
		return nil, err
	}
	return s, nil
}

// deliver pushes one decoded packet to the world. It closes s and returns
// an error when the packet must not be accepted.
func (g *Gateway) deliver(s *session.Session, p session.Packet) error {
	if !s.Allow() {
		g.metrics.Rejected(rejectRateLimit)
		s.Close(session.ErrRateLimited)
		return session.ErrRateLimited
	}
	if !g.world.Ingress().Push(s, p) {
		g.metrics.Rejected(rejectIngress)
		s.Close(ErrIngressFull)
		return ErrIngressFull
	}
	return nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
