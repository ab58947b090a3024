package server

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cmdframe/internal/protocol/decoder"
	"github.com/danmuck/cmdframe/internal/protocol/frame"
	"github.com/danmuck/cmdframe/internal/sink"
	"github.com/danmuck/cmdframe/internal/testutil/testlog"
)

// recorderFactory hands every connection its own decoder and recorder.
type recorderFactory struct {
	mu   sync.Mutex
	recs []*sink.Recorder
}

func (f *recorderFactory) New() Handler {
	rec := sink.NewRecorder()
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	return decoder.New(rec)
}

func (f *recorderFactory) recorders() []*sink.Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*sink.Recorder, len(f.recs))
	copy(out, f.recs)
	return out
}

func startListener(t *testing.T, f *recorderFactory) (*Listener, chan error) {
	t.Helper()
	l, err := Listen(Config{Host: "127.0.0.1"}, f.New)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve() }()
	t.Cleanup(func() { _ = l.Stop() })
	return l, errCh
}

func dial(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func encode(t *testing.T, cmd frame.Command) []byte {
	t.Helper()
	b, err := frame.Encode(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListenerDecodesFragmentedStream(t *testing.T) {
	testlog.Start(t)
	f := &recorderFactory{}
	l, errCh := startListener(t, f)
	if l.Port() == 0 {
		t.Fatalf("expected an OS-assigned port")
	}

	conn := dial(t, l)
	stream := append(encode(t, frame.Command1{Text: []byte("ABCDE")}), encode(t, frame.Command2{Value: 0xAC})...)
	stream = append(stream, "garbage"...)
	stream = append(stream, encode(t, frame.Command3{A: 0x0100, B: 0x10})...)
	for _, b := range stream {
		if _, err := conn.Write([]byte{b}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = conn.Close()

	waitFor(t, "session to drain", func() bool { return l.Stats().Accepted == 1 && l.Stats().ActiveSessions == 0 })
	recs := f.recorders()
	if len(recs) != 1 {
		t.Fatalf("expected one handler per connection, got %d", len(recs))
	}
	got := recs[0].Snapshot()
	if len(got.Calls) != 3 || got.Calls[0] != frame.CommandText || got.Calls[1] != frame.CommandByte || got.Calls[2] != frame.CommandPair {
		t.Fatalf("unexpected calls: %v", got.Calls)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("serve returned error after stop: %v", err)
	}
}

func TestConnectionsDoNotShareState(t *testing.T) {
	testlog.Start(t)
	f := &recorderFactory{}
	l, _ := startListener(t, f)

	a := dial(t, l)
	waitFor(t, "first session", func() bool { return len(f.recorders()) == 1 })
	b := dial(t, l)
	waitFor(t, "second session", func() bool { return len(f.recorders()) == 2 })
	defer a.Close()
	defer b.Close()

	frameA := encode(t, frame.Command2{Value: 0xA1})
	frameB := encode(t, frame.Command2{Value: 0xB2})

	// interleave halves so a shared decoder would splice the frames together
	if _, err := a.Write(frameA[:4]); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if _, err := b.Write(frameB[:4]); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if _, err := a.Write(frameA[4:]); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if _, err := b.Write(frameB[4:]); err != nil {
		t.Fatalf("write b: %v", err)
	}

	recs := f.recorders()
	waitFor(t, "both commands", func() bool { return recs[0].Len() == 1 && recs[1].Len() == 1 })
	if got := recs[0].Snapshot().Bytes(); len(got) != 1 || got[0] != 0xA1 {
		t.Fatalf("first connection saw %v", got)
	}
	if got := recs[1].Snapshot().Bytes(); len(got) != 1 || got[0] != 0xB2 {
		t.Fatalf("second connection saw %v", got)
	}
}

func TestStopKeepsRunningSessions(t *testing.T) {
	testlog.Start(t)
	f := &recorderFactory{}
	l, errCh := startListener(t, f)

	conn := dial(t, l)
	waitFor(t, "session", func() bool { return len(f.recorders()) == 1 })

	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !l.Stats().Stopped {
		t.Fatalf("stats should report stopped")
	}

	if _, err := conn.Write(encode(t, frame.Command2{Value: 7})); err != nil {
		t.Fatalf("write after stop: %v", err)
	}
	rec := f.recorders()[0]
	waitFor(t, "command after stop", func() bool { return rec.Len() == 1 })

	if c, err := net.DialTimeout("tcp", l.Addr().String(), time.Second); err == nil {
		_ = c.Close()
		t.Fatalf("dial should fail once the listener is stopped")
	}

	_ = conn.Close()
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not exit after client close")
	}
}

func TestListenValidation(t *testing.T) {
	testlog.Start(t)
	f := &recorderFactory{}
	if _, err := Listen(Config{Port: 70000}, f.New); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
	if _, err := Listen(Config{Port: -1}, f.New); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
	if _, err := Listen(Config{ReceiveBufferSize: -4}, f.New); !errors.Is(err, ErrInvalidBufferSize) {
		t.Fatalf("expected ErrInvalidBufferSize, got %v", err)
	}
	if _, err := Listen(Config{Host: "127.0.0.1"}, nil); !errors.Is(err, ErrNilFactory) {
		t.Fatalf("expected ErrNilFactory, got %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestAcceptBackoffJitterStaysInRange(t *testing.T) {
	testlog.Start(t)
	if got := NextBackoffDelay(acceptBackoff, 20, nil); got != 500*time.Millisecond {
		t.Fatalf("capped delay without rng should be halved, got=%v", got)
	}
	rng := rand.New(rand.NewSource(7))
	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(acceptBackoff, 20, rng)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Fatalf("jitter should vary the delay, saw %v", seen)
	}
	if got := NextBackoffDelay(acceptBackoff, 1, rng); got != 5*time.Millisecond {
		t.Fatalf("first attempt should use the initial delay, got=%v", got)
	}
}
