package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Length prefix codes.
const (
	LenNull      = 0xFF
	LenUint16    = 0xFE
	LenUint32    = 0xFD
	maxInlineLen = 252
)

// Input is a bounds-checked read cursor over a borrowed byte slice. It is a
// plain value: copying an Input forks the cursor.
type Input struct {
	buf []byte
	pos int
}

// NewInput returns a cursor at the start of b.
func NewInput(b []byte) Input { return Input{buf: b} }

// Pos returns the cursor position.
func (in *Input) Pos() int { return in.pos }

// Len returns the total length of the underlying slice.
func (in *Input) Len() int { return len(in.buf) }

// Remaining returns the number of unread bytes.
func (in *Input) Remaining() int { return len(in.buf) - in.pos }

// Buffer returns the underlying slice.
func (in *Input) Buffer() []byte { return in.buf }

// At returns a copy of the cursor positioned at pos.
func (in Input) At(pos int) (Input, error) {
	if pos < 0 || pos > len(in.buf) {
		return Input{}, fmt.Errorf("%w: seek to %d, length %d", ErrBufferBounds, pos, len(in.buf))
	}
	in.pos = pos
	return in, nil
}

// Seek moves the cursor to pos.
func (in *Input) Seek(pos int) error {
	moved, err := in.At(pos)
	if err != nil {
		return err
	}
	*in = moved
	return nil
}

// Skip advances the cursor by n bytes.
func (in *Input) Skip(n int) error {
	return in.Seek(in.pos + n)
}

func (in *Input) check(n int) error {
	if n < 0 || in.pos+n > len(in.buf) {
		return fmt.Errorf("%w: read %d bytes at %d, length %d", ErrBufferBounds, n, in.pos, len(in.buf))
	}
	return nil
}

// ReadRaw returns the next n bytes without copying.
func (in *Input) ReadRaw(n int) ([]byte, error) {
	if err := in.check(n); err != nil {
		return nil, err
	}
	b := in.buf[in.pos : in.pos+n]
	in.pos += n
	return b, nil
}

func (in *Input) ReadUint8() (uint8, error) {
	if err := in.check(1); err != nil {
		return 0, err
	}
	v := in.buf[in.pos]
	in.pos++
	return v, nil
}

// PeekUint8 returns the next byte without advancing.
func (in *Input) PeekUint8() (uint8, error) {
	if err := in.check(1); err != nil {
		return 0, err
	}
	return in.buf[in.pos], nil
}

func (in *Input) ReadInt8() (int8, error) {
	v, err := in.ReadUint8()
	return int8(v), err
}

func (in *Input) ReadBool() (bool, error) {
	v, err := in.ReadUint8()
	return v != 0, err
}

func (in *Input) ReadUint16() (uint16, error) {
	if err := in.check(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(in.buf[in.pos:])
	in.pos += 2
	return v, nil
}

func (in *Input) ReadInt16() (int16, error) {
	v, err := in.ReadUint16()
	return int16(v), err
}

func (in *Input) ReadUint32() (uint32, error) {
	if err := in.check(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(in.buf[in.pos:])
	in.pos += 4
	return v, nil
}

func (in *Input) ReadInt32() (int32, error) {
	v, err := in.ReadUint32()
	return int32(v), err
}

func (in *Input) ReadUint64() (uint64, error) {
	if err := in.check(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(in.buf[in.pos:])
	in.pos += 8
	return v, nil
}

func (in *Input) ReadInt64() (int64, error) {
	v, err := in.ReadUint64()
	return int64(v), err
}

func (in *Input) ReadFloat32() (float32, error) {
	v, err := in.ReadUint32()
	return math.Float32frombits(v), err
}

func (in *Input) ReadFloat64() (float64, error) {
	v, err := in.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadUintN reads an unsigned value of width bytes (1, 2 or 4).
func (in *Input) ReadUintN(width int) (uint32, error) {
	switch width {
	case 1:
		v, err := in.ReadUint8()
		return uint32(v), err
	case 2:
		v, err := in.ReadUint16()
		return uint32(v), err
	default:
		return in.ReadUint32()
	}
}

// ReadArrayLen decodes a length prefix; -1 is the null marker.
func (in *Input) ReadArrayLen() (int, error) {
	code, err := in.ReadUint8()
	if err != nil {
		return 0, err
	}
	switch {
	case code <= maxInlineLen:
		return int(code), nil
	case code == LenNull:
		return -1, nil
	case code == LenUint16:
		v, err := in.ReadUint16()
		return int(v), err
	case code == LenUint32:
		v, err := in.ReadUint32()
		if err != nil {
			return 0, err
		}
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: length %d overflows int32", ErrMalformedLengthCode, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: 0x%02x", ErrMalformedLengthCode, code)
}

// ReadBytes reads a length-prefixed byte array as a copy; null yields nil.
func (in *Input) ReadBytes() ([]byte, error) {
	n, err := in.ReadArrayLen()
	if err != nil || n < 0 {
		return nil, err
	}
	raw, err := in.ReadRaw(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, raw)
	return out, nil
}
