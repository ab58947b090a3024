package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/danmuck/cmdframe/internal/protocol/frame"
)

// Sink receives every fully validated command. Implementations must not
// block or call back into the decoder.
type Sink interface {
	// HandleCommand1 owns text; the decoder never touches it again.
	HandleCommand1(text []byte)
	HandleCommand2(value uint8)
	HandleCommand3(a uint16, b uint8)
}

// State is the parser position within the current frame.
type State int

const (
	StateSeekingHeader State = iota
	StateEstimatingLength
	StateVerifyingChecksum
	StateDispatching
	StateResynchronizing
)

func (s State) String() string {
	switch s {
	case StateSeekingHeader:
		return "seeking_header"
	case StateEstimatingLength:
		return "estimating_length"
	case StateVerifyingChecksum:
		return "verifying_checksum"
	case StateDispatching:
		return "dispatching"
	case StateResynchronizing:
		return "resynchronizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decoder rebuilds frames from an arbitrarily chunked byte stream. One
// Decoder serves exactly one connection and is not safe for concurrent use.
type Decoder struct {
	sink  Sink
	queue bytes.Buffer
	state State

	commandID  frame.CommandID
	payloadLen int
}

func New(sink Sink) *Decoder {
	return &Decoder{
		sink:       sink,
		state:      StateSeekingHeader,
		payloadLen: frame.MinPayloadLen,
	}
}

// Feed queues p and advances the state machine for as long as the queue
// holds enough bytes for the current step. Malformed input is dropped
// silently; Feed never fails.
func (d *Decoder) Feed(p []byte) {
	d.queue.Write(p)
	for d.queue.Len() >= frame.Overhead+d.payloadLen {
		d.state = d.step()
	}
}

// Buffered reports how many received bytes are still waiting for a frame
// boundary.
func (d *Decoder) Buffered() int {
	return d.queue.Len()
}

func (d *Decoder) step() State {
	switch d.state {
	case StateSeekingHeader:
		return d.seekHeader()
	case StateEstimatingLength:
		return d.estimateLength()
	case StateVerifyingChecksum:
		return d.verifyChecksum()
	case StateDispatching:
		return d.dispatch()
	default:
		return d.resynchronize()
	}
}

func (d *Decoder) seekHeader() State {
	b := d.queue.Bytes()
	for i := 0; i < frame.MagicLen; i++ {
		if b[i] != frame.Magic[i] {
			d.queue.Next(1)
			return StateSeekingHeader
		}
	}
	return StateEstimatingLength
}

func (d *Decoder) estimateLength() State {
	b := d.queue.Bytes()
	d.commandID = frame.CommandID(binary.BigEndian.Uint16(b[frame.CommandIDPos:]))
	n, ok := frame.PayloadLen(d.commandID, b[frame.PayloadPos])
	if !ok {
		return StateResynchronizing
	}
	d.payloadLen = n
	return StateVerifyingChecksum
}

func (d *Decoder) verifyChecksum() State {
	b := d.queue.Bytes()
	end := frame.PayloadPos + d.payloadLen
	if frame.Checksum(b[frame.CommandIDPos:end]) != binary.BigEndian.Uint16(b[end:]) {
		return StateResynchronizing
	}
	return StateDispatching
}

func (d *Decoder) dispatch() State {
	payload := d.queue.Bytes()[frame.PayloadPos : frame.PayloadPos+d.payloadLen]
	switch d.commandID {
	case frame.CommandText:
		text := make([]byte, len(payload)-1)
		copy(text, payload[1:])
		d.sink.HandleCommand1(text)
	case frame.CommandByte:
		d.sink.HandleCommand2(payload[0])
	case frame.CommandPair:
		d.sink.HandleCommand3(binary.BigEndian.Uint16(payload), payload[2])
	default:
		return StateResynchronizing
	}
	d.queue.Next(frame.Overhead + d.payloadLen)
	d.reset()
	return StateSeekingHeader
}

// resynchronize drops only the magic. The command id and payload bytes may
// hold the start of the next real header.
func (d *Decoder) resynchronize() State {
	d.queue.Next(frame.MagicLen)
	d.reset()
	return StateSeekingHeader
}

func (d *Decoder) reset() {
	d.commandID = 0
	d.payloadLen = frame.MinPayloadLen
}
