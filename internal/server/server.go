// Package server assembles the txsearch HTTP service: it opens the Index
// Store, wires optional Redis caching and Kafka analytics, and serves the
// routes behind the middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search/handler"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/redis"
)

// State is the server lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the collaborators New wires into the routes. Only Store is
// required.
type Deps struct {
	Store     store.Store
	Redis     *pkgredis.Client
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Producer  *kafka.Producer
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg     *config.Config
	deps    Deps
	handler http.Handler
	state   atomic.Int32
	addr    atomic.Value
	logger  *slog.Logger

	closeOnce sync.Once
}

// New builds the routes and middleware chain. The server starts in
// StateStarting.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
	s.state.Store(int32(StateStarting))

	checker := health.NewChecker()
	checker.Register("index_store", health.PingCheck(deps.Store.Ping, false))
	if deps.Redis != nil {
		checker.Register("redis", health.PingCheck(deps.Redis.Ping, true))
	}

	svc := search.NewService(deps.Store, cfg.Search, cfg.Store.QueryTimeout)
	h := handler.New(svc, deps.Cache, deps.Collector, deps.Metrics, cfg.Search)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", h.CacheInvalidate)

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORS.AllowOrigins
	}

	// request → RequestID → CORS → Metrics → RateLimit → Timeout → mux
	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RateLimit(deps.Limiter, deps.Metrics)(chain)
	chain = middleware.Metrics(deps.Metrics)(chain)
	chain = middleware.CORS(corsCfg)(chain)
	chain = middleware.RequestID(chain)
	s.handler = chain
	return s
}

// Bootstrap performs the Starting phase: the Index Store must open or
// Bootstrap fails. Redis and Kafka are optional and only logged when
// unavailable.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Server, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	deps := Deps{Store: st, Metrics: metrics.New()}
	if err := deps.Metrics.Registry.Register(store.NewCollector(st)); err != nil {
		slog.Warn("index store collector not registered", "error", err)
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			deps.Redis = client
			deps.Cache = cache.New(client, cfg.Redis, deps.Metrics)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		deps.Producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		deps.Collector = analytics.NewCollector(deps.Producer, 10000)
		deps.Collector.Start(context.Background())
		slog.Info("search analytics enabled", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		deps.Limiter = ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	return New(cfg, deps), nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the registry-backed collectors the server reports to.
func (s *Server) Metrics() *metrics.Metrics {
	return s.deps.Metrics
}

// State reports the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound listen address once Run has started listening.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Run binds the listener and serves until ctx is cancelled, then shuts down
// gracefully. A port already in use is reported as ErrPortInUse.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s: %w", apperrors.ErrPortInUse, addr, err)
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr.Store(ln.Addr().String())

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	if s.deps.Limiter != nil {
		s.deps.Limiter.StartCleanup(ctx, time.Minute)
	}
	metricsDone := make(chan struct{})
	if s.cfg.Metrics.Enabled {
		mln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Metrics.Port))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listening for metrics: %w", err)
		}
		go func() {
			defer close(metricsDone)
			if err := s.deps.Metrics.Serve(ctx, mln, s.cfg.Server.ShutdownTimeout); err != nil {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	s.state.Store(int32(StateServing))
	s.logger.Info("txsearch listening", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	s.state.Store(int32(StateStopped))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	<-shutdownDone
	<-metricsDone
	s.logger.Info("txsearch stopped")
	return nil
}

// Close releases the store and optional backends. It is safe to call more
// than once.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.deps.Collector.Close()
		if s.deps.Producer != nil {
			errs = append(errs, s.deps.Producer.Close())
		}
		if s.deps.Redis != nil {
			errs = append(errs, s.deps.Redis.Close())
		}
		errs = append(errs, s.deps.Store.Close())
	})
	return errors.Join(errs...)
}
