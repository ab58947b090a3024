package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

const (
	Magic          = "CMD"
	MagicLen       = len(Magic)
	CommandIDLen   = 2
	ChecksumLen    = 2
	CommandIDPos   = MagicLen
	PayloadPos     = CommandIDPos + CommandIDLen
	Overhead       = MagicLen + CommandIDLen + ChecksumLen
	MinPayloadLen  = 1
	MaxTextLen     = 255
	MaxFrameLen    = Overhead + 1 + MaxTextLen
	command3Length = 3
)

var (
	ErrTextTooLong      = errors.New("frame: command 1 text longer than 255 bytes")
	ErrUnknownCommandID = errors.New("frame: unknown command id")
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// CommandID is the big-endian u16 selector following the magic.
type CommandID uint16

const (
	CommandText CommandID = 1
	CommandByte CommandID = 2
	CommandPair CommandID = 3
)

func (id CommandID) Known() bool {
	return id >= CommandText && id <= CommandPair
}

func (id CommandID) String() string {
	return fmt.Sprintf("0x%04x", uint16(id))
}

// PayloadLen returns the payload size implied by id. first is the first
// payload byte and is only consulted for command 1.
func PayloadLen(id CommandID, first byte) (int, bool) {
	switch id {
	case CommandText:
		return 1 + int(first), true
	case CommandByte:
		return 1, true
	case CommandPair:
		return command3Length, true
	default:
		return 0, false
	}
}

// Checksum is CRC-16/ARC over command id and payload.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// Command is one decoded protocol command.
type Command interface {
	ID() CommandID
	appendPayload(dst []byte) ([]byte, error)
}

// Command1 carries a length-prefixed byte string.
type Command1 struct {
	Text []byte
}

// Command2 carries a single byte value.
type Command2 struct {
	Value uint8
}

// Command3 carries a u16 and a u8.
type Command3 struct {
	A uint16
	B uint8
}

func (Command1) ID() CommandID { return CommandText }
func (Command2) ID() CommandID { return CommandByte }
func (Command3) ID() CommandID { return CommandPair }

func (c Command1) appendPayload(dst []byte) ([]byte, error) {
	if len(c.Text) > MaxTextLen {
		return nil, ErrTextTooLong
	}
	dst = append(dst, byte(len(c.Text)))
	return append(dst, c.Text...), nil
}

func (c Command2) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, c.Value), nil
}

func (c Command3) appendPayload(dst []byte) ([]byte, error) {
	dst = binary.BigEndian.AppendUint16(dst, c.A)
	return append(dst, c.B), nil
}

// Encode returns the complete wire frame for cmd.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil || !cmd.ID().Known() {
		return nil, ErrUnknownCommandID
	}
	body := binary.BigEndian.AppendUint16(make([]byte, 0, MaxFrameLen), uint16(cmd.ID()))
	body, err := cmd.appendPayload(body)
	if err != nil {
		return nil, err
	}
	return seal(body), nil
}

// EncodeRaw frames an arbitrary id and payload without validating either.
// It exists for clients that probe resynchronization behavior.
func EncodeRaw(id uint16, payload []byte) []byte {
	body := binary.BigEndian.AppendUint16(make([]byte, 0, CommandIDLen+len(payload)), id)
	return seal(append(body, payload...))
}

func WriteCommand(w io.Writer, cmd Command) error {
	b, err := Encode(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// seal prepends the magic and appends the checksum of body.
func seal(body []byte) []byte {
	out := make([]byte, 0, Overhead+len(body)-CommandIDLen)
	out = append(out, Magic...)
	out = append(out, body...)
	return binary.BigEndian.AppendUint16(out, Checksum(body))
}
