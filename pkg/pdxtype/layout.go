package pdxtype

import (
	"fmt"

	"github.com/rawbytedev/pdx/pkg/codec"
)

// Initialize computes, once, where each field sits relative to a known
// anchor: the payload start, the payload end, or the start of a later
// variable-length field recorded in the offset table.
func (t *TypeDescriptor) Initialize() {
	t.initOnce.Do(t.layout)
}

func (t *TypeDescriptor) layout() {
	n := len(t.fields)
	firstVar := n
	pos := 0
	for i, f := range t.fields {
		f.varOffsetID = -1
		f.relOffset = pos
		if f.IsVariableLength() {
			firstVar = i
			break
		}
		pos += f.FixedSize
	}
	anchor, rel := -1, 0
	for i := n - 1; i > firstVar; i-- {
		f := t.fields[i]
		if f.IsVariableLength() {
			f.varOffsetID = f.VarLenIndex
			f.relOffset = 0
			anchor, rel = f.VarLenIndex, 0
			continue
		}
		rel -= f.FixedSize
		f.varOffsetID = anchor
		f.relOffset = rel
	}
}

// OffsetWidth returns the width of one offset-table entry for a blob whose
// header length (payload plus table) is total.
func OffsetWidth(total int) int {
	switch {
	case total <= 0xFF:
		return 1
	case total <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

// TotalLength returns the header length for a payload of bodyLen bytes with
// varCount variable-length fields: the payload plus an offset table of
// varCount-1 entries sized by the result itself.
func TotalLength(bodyLen, varCount int) int {
	entries := 0
	if varCount > 0 {
		entries = varCount - 1
	}
	total := bodyLen + entries
	switch {
	case total <= 0xFF:
		return total
	case total+entries <= 0xFFFF:
		return total + entries
	default:
		return total + entries*3
	}
}

// SerializedLength returns the payload length for a blob whose header
// length is total, i.e. the position where the offset table starts.
func (t *TypeDescriptor) SerializedLength(total int) int {
	if t.varLenCount <= 1 {
		return total
	}
	return total - (t.varLenCount-1)*OffsetWidth(total)
}

// PositionOf returns where field seq starts inside a payload of
// serializedLength bytes. offsets holds the raw offset table and width its
// entry size. Nothing else in the payload is decoded.
func (t *TypeDescriptor) PositionOf(seq int, offsets []byte, width, serializedLength int) (int, error) {
	t.Initialize()
	f := t.FieldAt(seq)
	if f == nil {
		return 0, fmt.Errorf("%w: sequence %d on %s", ErrNoSuchField, seq, t.ClassName)
	}
	switch {
	case f.varOffsetID < 0 && f.relOffset >= 0:
		return f.relOffset, nil
	case f.varOffsetID < 0:
		return serializedLength + f.relOffset, nil
	}
	slot := t.varLenCount - 1 - f.varOffsetID
	in, err := codec.NewInput(offsets).At(slot * width)
	if err != nil {
		return 0, err
	}
	start, err := in.ReadUintN(width)
	if err != nil {
		return 0, err
	}
	if int(start) > serializedLength {
		return 0, fmt.Errorf("%w: offset %d past payload %d", codec.ErrBufferBounds, start, serializedLength)
	}
	return int(start) + f.relOffset, nil
}

// FieldRange returns the [start, end) byte range of field seq.
func (t *TypeDescriptor) FieldRange(seq int, offsets []byte, width, serializedLength int) (int, int, error) {
	start, err := t.PositionOf(seq, offsets, width, serializedLength)
	if err != nil {
		return 0, 0, err
	}
	end := serializedLength
	if seq+1 < len(t.fields) {
		if end, err = t.PositionOf(seq+1, offsets, width, serializedLength); err != nil {
			return 0, 0, err
		}
	}
	if start < 0 || end < start || end > serializedLength {
		return 0, 0, fmt.Errorf("%w: field %d range [%d,%d) in %d", codec.ErrBufferBounds, seq, start, end, serializedLength)
	}
	return start, end, nil
}

// Layout binds a descriptor to one serialized payload so field ranges can be
// computed repeatedly.
type Layout struct {
	Type             *TypeDescriptor
	Payload          []byte // payload followed by the offset table
	SerializedLength int
	Width            int
}

// NewLayout splits blob (payload plus offset table, header stripped) using t.
func NewLayout(t *TypeDescriptor, blob []byte) (Layout, error) {
	t.Initialize()
	total := len(blob)
	ser := t.SerializedLength(total)
	if ser < 0 {
		return Layout{}, fmt.Errorf("%w: blob of %d bytes too short for %d offsets", codec.ErrBufferBounds, total, t.varLenCount-1)
	}
	return Layout{Type: t, Payload: blob, SerializedLength: ser, Width: OffsetWidth(total)}, nil
}

// Offsets returns the raw offset table.
func (l Layout) Offsets() []byte { return l.Payload[l.SerializedLength:] }

// Range returns the byte range of field seq inside Payload.
func (l Layout) Range(seq int) (int, int, error) {
	return l.Type.FieldRange(seq, l.Offsets(), l.Width, l.SerializedLength)
}

// Bytes returns the raw bytes of field seq.
func (l Layout) Bytes(seq int) ([]byte, error) {
	start, end, err := l.Range(seq)
	if err != nil {
		return nil, err
	}
	return l.Payload[start:end], nil
}

// Input returns a read cursor positioned at field seq, bounded by the
// payload.
func (l Layout) Input(seq int) (codec.Input, error) {
	start, err := l.Type.PositionOf(seq, l.Offsets(), l.Width, l.SerializedLength)
	if err != nil {
		return codec.Input{}, err
	}
	return codec.NewInput(l.Payload[:l.SerializedLength]).At(start)
}
