package sink

import (
	"sync"

	"github.com/danmuck/cmdframe/internal/protocol/frame"
)

// Recorder keeps every call it receives. Mostly useful for tests.
type Recorder struct {
	mu       sync.Mutex
	calls    []frame.CommandID
	commands []frame.Command
}

// Recording is a point-in-time copy of a Recorder.
type Recording struct {
	Calls    []frame.CommandID
	Commands []frame.Command
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) HandleCommand1(text []byte) {
	r.record(frame.Command1{Text: text})
}

func (r *Recorder) HandleCommand2(value uint8) {
	r.record(frame.Command2{Value: value})
}

func (r *Recorder) HandleCommand3(a uint16, b uint8) {
	r.record(frame.Command3{A: a, B: b})
}

func (r *Recorder) Snapshot() Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Recording{
		Calls:    make([]frame.CommandID, len(r.calls)),
		Commands: make([]frame.Command, len(r.commands)),
	}
	copy(out.Calls, r.calls)
	copy(out.Commands, r.commands)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.commands = nil
}

func (r *Recorder) record(cmd frame.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.ID())
	r.commands = append(r.commands, cmd)
}

// Texts returns the payloads of every recorded Command1 in order.
func (rec Recording) Texts() []string {
	var out []string
	for _, cmd := range rec.Commands {
		if c, ok := cmd.(frame.Command1); ok {
			out = append(out, string(c.Text))
		}
	}
	return out
}

// Bytes returns the values of every recorded Command2 in order.
func (rec Recording) Bytes() []uint8 {
	var out []uint8
	for _, cmd := range rec.Commands {
		if c, ok := cmd.(frame.Command2); ok {
			out = append(out, c.Value)
		}
	}
	return out
}

// Pairs returns every recorded Command3 in order.
func (rec Recording) Pairs() []frame.Command3 {
	var out []frame.Command3
	for _, cmd := range rec.Commands {
		if c, ok := cmd.(frame.Command3); ok {
			out = append(out, c)
		}
	}
	return out
}
