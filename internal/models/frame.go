package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FrameDataSize is the payload capacity of a classical CAN frame
const FrameDataSize = 8

// DefaultInterval is the send period used for periodic frames when none is given
const DefaultInterval = 250 * time.Millisecond

// Identifier limits
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("models: invalid identifier")
	ErrInvalidLen = errors.New("models: invalid data length")
)

// Frame is an application-level CAN frame.
//
// Interval and NextSend carry transmission scheduling state: an Interval of
// zero means the caller paces sends itself; otherwise the controller refuses
// to send the frame before NextSend and advances NextSend on every attempt.
// Inbound frames never carry scheduling state.
type Frame struct {
	ID       uint32
	Data     [FrameDataSize]byte
	Len      uint8
	Extended bool
	RTR      bool

	Interval time.Duration
	NextSend time.Time
}

// NewFrame builds a caller-paced data frame. Identifiers above the standard
// range select the extended format.
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > FrameDataSize {
		return f, ErrInvalidLen
	}
	f.ID = id
	f.Extended = id > MaxStandardID
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// NewPeriodicFrame builds a data frame gated to at most one send per interval
func NewPeriodicFrame(id uint32, data []byte, interval time.Duration) (Frame, error) {
	f, err := NewFrame(id, data)
	if err != nil {
		return f, err
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	f.Interval = interval
	return f, nil
}

// Validate returns an error if the frame cannot be put on the bus
func (f Frame) Validate() error {
	if f.Len > FrameDataSize {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtendedID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStandardID {
		return ErrInvalidID
	}
	return nil
}

// HasData reports whether the frame carries a payload worth transmitting
func (f Frame) HasData() bool {
	return f.ID > 0 && f.Len > 0 && !f.RTR
}

// Clear resets the frame to its zero value
func (f *Frame) Clear() {
	*f = Frame{}
}

// Payload returns the live bytes of the frame
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > FrameDataSize {
		n = FrameDataSize
	}
	return f.Data[:n]
}

// Equal compares identity, flags and live payload; scheduling state is ignored
func (f Frame) Equal(o Frame) bool {
	if f.ID != o.ID || f.Len != o.Len || f.Extended != o.Extended || f.RTR != o.RTR {
		return false
	}
	return string(f.Payload()) == string(o.Payload())
}

// Word reads a little-endian 16-bit value starting at byte index
func (f Frame) Word(index int) uint16 {
	if index < 0 || index+1 >= FrameDataSize {
		return 0
	}
	return binary.LittleEndian.Uint16(f.Data[index:])
}

// SetWord writes a little-endian 16-bit value starting at byte index
func (f *Frame) SetWord(index int, v uint16) {
	if index < 0 || index+1 >= FrameDataSize {
		return
	}
	binary.LittleEndian.PutUint16(f.Data[index:], v)
}

// Bit returns payload bit i, counting from the LSB of byte 0
func (f Frame) Bit(i int) bool {
	return GetBit(f.Data[:], i)
}

// SetBit writes payload bit i
func (f *Frame) SetBit(i int, v bool) {
	SetBit(f.Data[:], i, v)
}

// Bits gathers the listed payload bits, LSB first, into a new buffer
func (f Frame) Bits(indexes ...int) [FrameDataSize]byte {
	var out [FrameDataSize]byte
	for n, i := range indexes {
		if n >= FrameDataSize*8 {
			break
		}
		SetBit(out[:], n, GetBit(f.Data[:], i))
	}
	return out
}

// IDString formats the identifier as 3 hex digits, or 8 for extended frames
func (f Frame) IDString() string {
	if f.Extended {
		return fmt.Sprintf("%08X", f.ID)
	}
	return fmt.Sprintf("%03X", f.ID)
}

// String renders the frame as "123 [2] DE AD"
func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%d]", f.IDString(), f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}

// CANFrame converts the frame to its raw driver representation
func (f Frame) CANFrame() CANFrame {
	raw := CANFrame{
		ID:       f.ID,
		DLC:      f.Len,
		Extended: f.Extended,
		RTR:      f.RTR,
	}
	copy(raw.Data[:], f.Payload())
	return raw
}

// FrameFromCAN builds a frame from a raw driver frame. Bytes past the DLC are zeroed.
func FrameFromCAN(raw CANFrame) Frame {
	f := Frame{
		ID:       raw.ID,
		Len:      raw.DLC,
		Extended: raw.Extended,
		RTR:      raw.RTR,
	}
	if f.Len > FrameDataSize {
		f.Len = FrameDataSize
	}
	if !f.RTR {
		copy(f.Data[:f.Len], raw.Data[:f.Len])
	}
	return f
}
