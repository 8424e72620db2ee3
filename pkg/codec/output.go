package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const minGrow = 64

// Output is a growable big-endian write buffer.
type Output struct {
	buf []byte
}

// NewOutput returns an Output with at least capacity bytes preallocated.
func NewOutput(capacity int) *Output {
	if capacity < 0 {
		capacity = 0
	}
	return &Output{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes. The slice aliases the buffer until the
// next write.
func (o *Output) Bytes() []byte { return o.buf }

// Len returns the number of bytes written so far.
func (o *Output) Len() int { return len(o.buf) }

// Reset empties the buffer but keeps its capacity.
func (o *Output) Reset() { o.buf = o.buf[:0] }

// Grow ensures room for n more bytes. Capacity doubles; a write larger than
// the doubled capacity allocates exactly what it needs.
func (o *Output) Grow(n int) {
	if len(o.buf)+n <= cap(o.buf) {
		return
	}
	newCap := cap(o.buf) * 2
	if newCap < minGrow {
		newCap = minGrow
	}
	if need := len(o.buf) + n; newCap < need {
		newCap = need
	}
	nb := make([]byte, len(o.buf), newCap)
	copy(nb, o.buf)
	o.buf = nb
}

// Write appends p and implements io.Writer.
func (o *Output) Write(p []byte) (int, error) {
	o.Grow(len(p))
	o.buf = append(o.buf, p...)
	return len(p), nil
}

func (o *Output) WriteBool(v bool) {
	if v {
		o.WriteUint8(1)
		return
	}
	o.WriteUint8(0)
}

func (o *Output) WriteUint8(v uint8) {
	o.Grow(1)
	o.buf = append(o.buf, v)
}

func (o *Output) WriteInt8(v int8) { o.WriteUint8(uint8(v)) }

func (o *Output) WriteUint16(v uint16) {
	o.Grow(2)
	o.buf = binary.BigEndian.AppendUint16(o.buf, v)
}

func (o *Output) WriteInt16(v int16) { o.WriteUint16(uint16(v)) }

func (o *Output) WriteUint32(v uint32) {
	o.Grow(4)
	o.buf = binary.BigEndian.AppendUint32(o.buf, v)
}

func (o *Output) WriteInt32(v int32) { o.WriteUint32(uint32(v)) }

func (o *Output) WriteUint64(v uint64) {
	o.Grow(8)
	o.buf = binary.BigEndian.AppendUint64(o.buf, v)
}

func (o *Output) WriteInt64(v int64) { o.WriteUint64(uint64(v)) }

func (o *Output) WriteFloat32(v float32) { o.WriteUint32(math.Float32bits(v)) }

func (o *Output) WriteFloat64(v float64) { o.WriteUint64(math.Float64bits(v)) }

// WriteArrayLen writes an array or string length prefix. Any negative n is
// the null marker.
func (o *Output) WriteArrayLen(n int) {
	switch {
	case n < 0:
		o.WriteUint8(LenNull)
	case n <= maxInlineLen:
		o.WriteUint8(uint8(n))
	case n <= math.MaxUint16:
		o.WriteUint8(LenUint16)
		o.WriteUint16(uint16(n))
	default:
		o.WriteUint8(LenUint32)
		o.WriteUint32(uint32(n))
	}
}

// WriteBytes writes a length-prefixed byte array; nil is written as null.
func (o *Output) WriteBytes(p []byte) {
	if p == nil {
		o.WriteArrayLen(-1)
		return
	}
	o.WriteArrayLen(len(p))
	o.Write(p)
}

// PutInt32At overwrites four bytes at pos, used to back-fill headers.
func (o *Output) PutInt32At(pos int, v int32) error {
	if pos < 0 || pos+4 > len(o.buf) {
		return fmt.Errorf("%w: put 4 bytes at %d, length %d", ErrBufferBounds, pos, len(o.buf))
	}
	binary.BigEndian.PutUint32(o.buf[pos:], uint32(v))
	return nil
}

// PutUintAt writes v at pos using width bytes (1, 2 or 4).
func (o *Output) PutUintAt(pos, width int, v uint32) error {
	if pos < 0 || pos+width > len(o.buf) {
		return fmt.Errorf("%w: put %d bytes at %d, length %d", ErrBufferBounds, width, pos, len(o.buf))
	}
	switch width {
	case 1:
		o.buf[pos] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(o.buf[pos:], uint16(v))
	default:
		binary.BigEndian.PutUint32(o.buf[pos:], v)
	}
	return nil
}

// WriteUintN appends v using width bytes (1, 2 or 4).
func (o *Output) WriteUintN(width int, v uint32) {
	switch width {
	case 1:
		o.WriteUint8(uint8(v))
	case 2:
		o.WriteUint16(uint16(v))
	default:
		o.WriteUint32(v)
	}
}
