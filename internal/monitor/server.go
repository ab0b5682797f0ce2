// Package monitor serves live training results, persisted runs and
// prometheus metrics over HTTP.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kingrea/cortex/internal/metrics"
	"github.com/kingrea/cortex/internal/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Status describes what the running experiment is doing.
type Status struct {
	RunID     string    `json:"run_id"`
	Model     string    `json:"model"`
	Mode      string    `json:"mode"`
	Epoch     int       `json:"epoch"`
	Step      int       `json:"step"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics counts requests on c and serves /metrics from gatherer.
func WithMetrics(c *metrics.Collectors, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.collectors = c
		s.gatherer = gatherer
	}
}

// WithStore exposes persisted runs under /runs.
func WithStore(store results.Store) Option {
	return func(s *Server) { s.store = store }
}

type Server struct {
	addr       string
	logger     zerolog.Logger
	collectors *metrics.Collectors
	gatherer   prometheus.Gatherer
	store      results.Store
	router     *gin.Engine
	started    time.Time

	mu      sync.RWMutex
	phases  map[string]*results.Accumulator
	status  Status
	httpSrv *http.Server
}

func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		logger:   zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
		phases:   map[string]*results.Accumulator{},
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	if s.collectors != nil {
		r.Use(RequestMetrics(s.collectors))
	}
	s.router = r
	s.registerRoutes()
	return s
}

// Attach publishes acc under /results/<phase>.
func (s *Server) Attach(phase string, acc *results.Accumulator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[phase] = acc
}

func (s *Server) SetStatus(st Status) {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Start listens in the background until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		return errors.New("monitor: already started")
	}
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.router}
	srv := s.httpSrv
	s.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.addr).Msg("monitor stopped")
		}
	}()
	s.logger.Info().Str("addr", s.addr).Msg("monitor listening")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) accumulator(phase string) (*results.Accumulator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.phases[phase]
	return acc, ok
}
