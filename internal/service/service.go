package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cmdframe/internal/observability"
	"github.com/danmuck/cmdframe/internal/protocol/decoder"
	"github.com/danmuck/cmdframe/internal/server"
	"github.com/danmuck/cmdframe/internal/sink"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidDrainTimeout      = errors.New("service: invalid drain timeout")
	ErrInvalidHeartbeatInterval = errors.New("service: invalid heartbeat interval")
	ErrNotRunning               = errors.New("service: not running")
	ErrAlreadyStarted           = errors.New("service: already started")
)

const adminShutdownTimeout = 5 * time.Second

// Config configures the daemon runtime.
type Config struct {
	NodeID            string
	Listen            server.Config
	OutputFormat      sink.Format
	AdminAddr         string
	CORSOrigins       []string
	DrainTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig mirrors the daemon's flag defaults.
func DefaultConfig() Config {
	return Config{
		NodeID:            "cmdframed",
		Listen:            server.DefaultConfig(),
		OutputFormat:      sink.FormatText,
		DrainTimeout:      10 * time.Second,
		HeartbeatInterval: 0,
	}
}

func (c Config) Validate() error {
	if err := c.Listen.WithDefaults().Validate(); err != nil {
		return err
	}
	if _, err := sink.ParseFormat(string(c.OutputFormat)); err != nil {
		return err
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDrainTimeout, c.DrainTimeout)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidHeartbeatInterval, c.HeartbeatInterval)
	}
	return nil
}

// SinkFactory returns the sink bound to one new connection's decoder.
type SinkFactory func() decoder.Sink

type Option func(*Service)

// WithSinkFactory replaces the shared stdout printer with per-connection sinks.
func WithSinkFactory(f SinkFactory) Option {
	return func(s *Service) {
		s.sinks = f
	}
}

// Status is the admin view of a running service.
type Status struct {
	Node         string       `json:"node"`
	OutputFormat string       `json:"output_format"`
	Uptime       string       `json:"uptime"`
	Listener     server.Stats `json:"listener"`
}

// Service runs the command listener and its optional admin endpoint.
type Service struct {
	cfg   Config
	sinks SinkFactory

	mu        sync.RWMutex
	listener  *server.Listener
	adminAddr net.Addr
	started   time.Time

	running   atomic.Bool
	bound     chan struct{}
	boundOnce sync.Once
}

// New builds a service that prints decoded commands to out.
func New(cfg Config, out io.Writer, opts ...Option) (*Service, error) {
	cfg.Listen = cfg.Listen.WithDefaults()
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = sink.FormatText
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = DefaultConfig().NodeID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, bound: make(chan struct{})}
	printer := sink.NewMetered(sink.NewPrinter(out, cfg.OutputFormat))
	s.sinks = func() decoder.Sink { return printer }
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run binds, serves until ctx is cancelled, then drains open sessions for
// at most DrainTimeout (0 waits for every session). A Service runs once.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.markBound()

	ln, err := server.Listen(s.cfg.Listen, s.handlerFactory())
	if err != nil {
		return err
	}

	var admin *http.Server
	var adminLn net.Listener
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		adminLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Stop()
			return fmt.Errorf("service: admin listen: %w", err)
		}
		admin = &http.Server{
			Handler:           observability.NewAdminRouter(s.cfg.NodeID, s.cfg.CORSOrigins, s),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.started = time.Now()
	if adminLn != nil {
		s.adminAddr = adminLn.Addr()
	}
	s.mu.Unlock()
	s.markBound()

	// stdout is reserved for command output; the port goes to the log stream
	log.Log().
		Str("node", s.cfg.NodeID).
		Int("port", ln.Port()).
		Bool("auto_assigned", s.cfg.Listen.Port == 0).
		Msgf("Server listening on port %d", ln.Port())

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return ln.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()
		return ln.Stop()
	})
	if admin != nil {
		log.Info().Str("addr", adminLn.Addr().String()).Msg("service.Service admin listening")
		g.Go(func() error {
			if err := admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("service: admin serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer done()
			return admin.Shutdown(shutdownCtx)
		})
	}
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error {
			s.heartbeat(gctx)
			return nil
		})
	}

	runErr := g.Wait()
	s.drain()
	log.Info().Str("node", s.cfg.NodeID).Msg("service.Service shutdown")
	return runErr
}

// Bound is closed once the listener holds its port, or once Run gave up
// binding. Port reports which of the two happened.
func (s *Service) Bound() <-chan struct{} {
	return s.bound
}

func (s *Service) markBound() {
	s.boundOnce.Do(func() { close(s.bound) })
}

// Port returns the bound listener port.
func (s *Service) Port() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return 0, ErrNotRunning
	}
	return s.listener.Port(), nil
}

// AdminAddr returns the bound admin address, nil when admin is disabled.
func (s *Service) AdminAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminAddr
}

// Ready reports whether the listener is bound and still accepting.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil && !s.listener.Stats().Stopped
}

func (s *Service) Status() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Node:         s.cfg.NodeID,
		OutputFormat: string(s.cfg.OutputFormat),
	}
	if s.listener != nil {
		st.Listener = s.listener.Stats()
		st.Uptime = time.Since(s.started).String()
	}
	return st
}

func (s *Service) handlerFactory() server.HandlerFactory {
	return func() server.Handler {
		return decoder.New(s.sinks())
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.listener.Stats()
			log.Info().
				Str("node", s.cfg.NodeID).
				Int("port", st.Port).
				Uint64("accepted_sessions", st.Accepted).
				Int64("active_sessions", st.ActiveSessions).
				Msg("service.Service heartbeat")
		}
	}
}

func (s *Service) drain() {
	ctx := context.Background()
	if s.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}
	active := s.listener.Stats().ActiveSessions
	if active > 0 {
		log.Info().Int64("active_sessions", active).Msg("service.Service draining sessions")
	}
	if err := s.listener.WaitContext(ctx); err != nil {
		log.Warn().
			Int64("active_sessions", s.listener.Stats().ActiveSessions).
			Dur("drain_timeout", s.cfg.DrainTimeout).
			Msg("service.Service drain timed out; abandoning sessions")
	}
}
