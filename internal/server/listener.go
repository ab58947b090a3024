package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cmdframe/internal/observability"
	"github.com/rs/zerolog/log"
)

const DefaultReceiveBufferSize = 256

var (
	ErrInvalidPort       = errors.New("server: invalid port")
	ErrInvalidBufferSize = errors.New("server: invalid receive buffer size")
	ErrNilFactory        = errors.New("server: nil handler factory")
)

// Handler consumes one connection's bytes in arrival order. It is only ever
// called from that connection's session goroutine.
type Handler interface {
	Feed(p []byte)
}

// HandlerFactory mints a fresh Handler for every accepted connection.
type HandlerFactory func() Handler

// Config defines the listening endpoint.
type Config struct {
	Host              string
	Port              int
	ReceiveBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Host:              "",
		Port:              0,
		ReceiveBufferSize: DefaultReceiveBufferSize,
	}
}

func (c Config) WithDefaults() Config {
	if c.ReceiveBufferSize == 0 {
		c.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	c.Host = strings.TrimSpace(c.Host)
	return c
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.ReceiveBufferSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, c.ReceiveBufferSize)
	}
	return nil
}

// Stats is a point-in-time view of listener activity.
type Stats struct {
	Port           int    `json:"port"`
	Stopped        bool   `json:"stopped"`
	Accepted       uint64 `json:"accepted_sessions"`
	ActiveSessions int64  `json:"active_sessions"`
}

// Listener accepts connections and starts one session per connection.
type Listener struct {
	ln      net.Listener
	factory HandlerFactory
	bufSize int

	sessions sync.WaitGroup
	stopped  atomic.Bool
	nextID   atomic.Uint64
	active   atomic.Int64
}

// Listen binds cfg.Host:cfg.Port. Port 0 asks the OS for an ephemeral port.
func Listen(cfg Config, factory HandlerFactory) (*Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	observability.RegisterMetrics()
	return &Listener{
		ln:      ln,
		factory: factory,
		bufSize: cfg.ReceiveBufferSize,
	}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound port, which differs from the requested one when
// the OS picked it.
func (l *Listener) Port() int {
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve runs the accept loop until Stop. It returns nil after a stop.
func (l *Listener) Serve() error {
	log.Info().Str("addr", l.Addr().String()).Msg("server.Listener accepting")
	attempt := 0
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.stopped.Load() || errors.Is(err, net.ErrClosed) {
				log.Info().Str("addr", l.Addr().String()).Msg("server.Listener stopped accepting")
				return nil
			}
			attempt++
			delay := NextBackoffDelay(acceptBackoff, attempt, rng)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("server.Listener accept failed")
			time.Sleep(delay)
			continue
		}
		attempt = 0
		l.startSession(conn)
	}
}

// Stop closes the listening socket. Running sessions are left alone.
func (l *Listener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return l.ln.Close()
}

// Wait blocks until every session goroutine has returned.
func (l *Listener) Wait() {
	l.sessions.Wait()
}

// WaitContext is Wait bounded by ctx.
func (l *Listener) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) Stats() Stats {
	return Stats{
		Port:           l.Port(),
		Stopped:        l.stopped.Load(),
		Accepted:       l.nextID.Load(),
		ActiveSessions: l.active.Load(),
	}
}

func (l *Listener) startSession(conn net.Conn) {
	l.sessions.Add(1)
	l.active.Add(1)
	observability.RecordSessionOpened()
	s := newSession(l.nextID.Add(1), conn, l.factory(), l.bufSize)
	go func() {
		defer l.sessions.Done()
		defer func() {
			l.active.Add(-1)
			observability.RecordSessionClosed()
		}()
		s.run()
	}()
}
