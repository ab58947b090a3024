package server

import (
	"errors"
	"io"
	"net"

	"github.com/danmuck/cmdframe/internal/observability"
	"github.com/rs/zerolog/log"
)

// Session pumps one connection into its handler.
type Session struct {
	id      uint64
	conn    net.Conn
	handler Handler
	buf     []byte
	read    uint64
}

func newSession(id uint64, conn net.Conn, handler Handler, bufSize int) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		handler: handler,
		buf:     make([]byte, bufSize),
	}
}

// run reads until the first error. Bytes returned alongside an error are
// still fed to the handler.
func (s *Session) run() {
	defer s.conn.Close()
	remote := s.conn.RemoteAddr().String()
	log.Debug().Uint64("session", s.id).Str("remote", remote).Msg("server.Session opened")

	var err error
	for {
		var n int
		n, err = s.conn.Read(s.buf)
		if n > 0 {
			s.read += uint64(n)
			observability.RecordBytesReceived(n)
			s.handler.Feed(s.buf[:n])
		}
		if err != nil {
			break
		}
	}

	event := log.Debug()
	if !isOrderlyClose(err) {
		event = log.Warn().Err(err)
	}
	if b, ok := s.handler.(interface{ Buffered() int }); ok {
		event = event.Int("unframed_bytes", b.Buffered())
	}
	event.
		Uint64("session", s.id).
		Str("remote", remote).
		Uint64("bytes_read", s.read).
		Msg("server.Session closed")
}

func isOrderlyClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
