package sink

import (
	"github.com/danmuck/cmdframe/internal/observability"
	"github.com/danmuck/cmdframe/internal/protocol/decoder"
	"github.com/danmuck/cmdframe/internal/protocol/frame"
)

// Metered counts dispatched commands before handing them on.
type Metered struct {
	next decoder.Sink
}

var _ decoder.Sink = (*Metered)(nil)

func NewMetered(next decoder.Sink) *Metered {
	observability.RegisterMetrics()
	return &Metered{next: next}
}

func (m *Metered) HandleCommand1(text []byte) {
	observability.RecordCommand(frame.CommandText.String())
	m.next.HandleCommand1(text)
}

func (m *Metered) HandleCommand2(value uint8) {
	observability.RecordCommand(frame.CommandByte.String())
	m.next.HandleCommand2(value)
}

func (m *Metered) HandleCommand3(a uint16, b uint8) {
	observability.RecordCommand(frame.CommandPair.String())
	m.next.HandleCommand3(a, b)
}
