package sink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/danmuck/cmdframe/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrUnknownFormat = errors.New("sink: unknown output format")

// Format selects how a Printer renders commands.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Printer writes one line per command. A single Printer may be shared by
// every connection; lines never interleave.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	buf    bytes.Buffer
}

func NewPrinter(w io.Writer, format Format) *Printer {
	if format == "" {
		format = FormatText
	}
	return &Printer{w: w, format: format}
}

type textLine struct {
	CommandID uint16 `json:"command_id"`
	Text      string `json:"text"`
}

type byteLine struct {
	CommandID uint16 `json:"command_id"`
	Value     uint8  `json:"value"`
}

type pairLine struct {
	CommandID uint16 `json:"command_id"`
	A         uint16 `json:"a"`
	B         uint8  `json:"b"`
}

func (p *Printer) HandleCommand1(text []byte) {
	if p.format == FormatJSON {
		p.emitJSON(textLine{CommandID: uint16(frame.CommandText), Text: string(text)})
		return
	}
	p.emitText(func(b *bytes.Buffer) {
		fmt.Fprintf(b, "%s ", frame.CommandText)
		b.Write(text)
		b.WriteByte('\n')
	})
}

func (p *Printer) HandleCommand2(value uint8) {
	if p.format == FormatJSON {
		p.emitJSON(byteLine{CommandID: uint16(frame.CommandByte), Value: value})
		return
	}
	p.emitText(func(b *bytes.Buffer) {
		fmt.Fprintf(b, "%s %#x\n", frame.CommandByte, value)
	})
}

func (p *Printer) HandleCommand3(a uint16, v uint8) {
	if p.format == FormatJSON {
		p.emitJSON(pairLine{CommandID: uint16(frame.CommandPair), A: a, B: v})
		return
	}
	p.emitText(func(b *bytes.Buffer) {
		fmt.Fprintf(b, "%s %#x %#x\n", frame.CommandPair, a, v)
	})
}

func (p *Printer) emitText(render func(*bytes.Buffer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	render(&p.buf)
	p.flush()
}

// emitJSON uses the std config so invalid UTF-8 in text is replaced, not
// copied into the line.
func (p *Printer) emitJSON(v any) {
	line, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("sink.Printer encode failed")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	p.buf.Write(line)
	p.buf.WriteByte('\n')
	p.flush()
}

func (p *Printer) flush() {
	if _, err := p.w.Write(p.buf.Bytes()); err != nil {
		log.Warn().Err(err).Str("format", string(p.format)).Msg("sink.Printer write failed")
	}
}
