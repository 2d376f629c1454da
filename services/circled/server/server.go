package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"circlefi/core/events"
	"circlefi/core/types"
	"circlefi/native/lending"
	"circlefi/observability/metrics"
)

// EventSource serves committed events from durable storage.
type EventSource interface {
	Events(from uint64) ([]*types.Event, error)
}

// Options wires the server's collaborators.
type Options struct {
	Engine    *lending.Engine
	Events    EventSource
	Bus       *events.Bus
	Logger    *slog.Logger
	Metrics   *metrics.PoolMetrics
	RateLimit RateLimit
	Auth      AuthConfig
	// Clock supplies the operation time. Defaults to time.Now.
	Clock func() time.Time
}

// Server exposes the lending engine over HTTP/JSON.
type Server struct {
	engine  *lending.Engine
	events  EventSource
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.PoolMetrics
	limiter *rateLimiter
	auth    *authenticator
	clock   func() time.Time
	router  chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{
		engine:  opts.Engine,
		events:  opts.Events,
		bus:     opts.Bus,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		limiter: newRateLimiter(opts.RateLimit),
		auth:    newAuthenticator(opts.Auth),
		clock:   opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.router = s.routes()
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "circled")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(s.identify)

		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/circles", s.handleCreateCircle)
		r.Post("/loans", s.handleBorrow)
		r.Post("/loans/{id}/repay", s.handleRepay)
		r.Post("/loans/{id}/liquidate", s.handleLiquidate)

		r.Get("/users/{addr}", s.handleUser)
		r.Get("/circles/{id}", s.handleCircle)
		r.Get("/circles/{id}/borrower", s.handleCurrentBorrower)
		r.Get("/loans/{id}", s.handleLoan)
		r.Get("/loans/{id}/owed", s.handleLoanOwed)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventStream)
	})
	return r
}

func (s *Server) now() int64 { return s.clock().Unix() }

// observe feeds the operation and market metrics after a mutation.
func (s *Server) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		_, outcome = classify(err)
	}
	s.metrics.ObserveOperation(op, outcome)
	if err == nil {
		stats := s.engine.Stats()
		util, _ := stats.UtilizationRate.Float64()
		s.metrics.ObserveMarket(stats.TotalSupply, stats.TotalBorrowed, stats.WrittenOff, stats.Reserves, util, stats.CurrentRateBps)
	}
}
