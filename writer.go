package pdx

import (
	"context"
	"fmt"
	"time"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
	"github.com/rawbytedev/pdx/pkg/registry"
)

// Writer receives the fields of an object in Serializable.ToPdx.
type Writer interface {
	WriteBool(name string, v bool) error
	WriteInt8(name string, v int8) error
	WriteChar(name string, v uint16) error
	WriteInt16(name string, v int16) error
	WriteInt32(name string, v int32) error
	WriteInt64(name string, v int64) error
	WriteFloat32(name string, v float32) error
	WriteFloat64(name string, v float64) error
	WriteDate(name string, v time.Time) error
	WriteString(name string, v string) error
	WriteObject(name string, v any) error
	WriteBoolArray(name string, v []bool) error
	WriteCharArray(name string, v []uint16) error
	WriteByteArray(name string, v []byte) error
	WriteInt16Array(name string, v []int16) error
	WriteInt32Array(name string, v []int32) error
	WriteInt64Array(name string, v []int64) error
	WriteFloat32Array(name string, v []float32) error
	WriteFloat64Array(name string, v []float64) error
	WriteStringArray(name string, v []string) error
	WriteObjectArray(name string, v []any) error
	WriteByteArrays(name string, v [][]byte) error
	// WriteField writes v, which must have the Go type ft maps to.
	WriteField(name string, v any, ft FieldType) error
	// MarkIdentityField makes an already written field take part in
	// instance equality and hashing.
	MarkIdentityField(name string) error
	// WriteUnreadFields re-emits fields captured by Reader.ReadUnreadFields.
	// It must be called before any field is written.
	WriteUnreadFields(u *UnreadFields) error
}

type span struct {
	start, end int
	set        bool
}

// writer builds one payload. With collecting set it grows a new descriptor
// in write order; otherwise fields are placed by name into td, and any
// field never written is filled from preserved data or default bytes.
type writer struct {
	ctx        context.Context
	s          *Serializer
	td         *pdxtype.TypeDescriptor
	collecting bool
	pd         *registry.PreservedData

	out     *codec.Output
	spans   []span
	last    int
	cur     int
	inOrder bool
	written int
	err     error
	done    bool
}

func (s *Serializer) newWriter(ctx context.Context) *writer {
	return &writer{ctx: ctx, s: s, out: codec.NewOutput(128), last: -1, inOrder: true}
}

func (w *writer) collect(className string) {
	w.td = pdxtype.New(className)
	w.collecting = true
	w.spans = w.spans[:0]
}

func (w *writer) useType(td *pdxtype.TypeDescriptor, pd *registry.PreservedData) {
	w.td = td
	w.collecting = false
	w.pd = pd
	w.spans = make([]span, td.NumFields())
}

func (w *writer) begin(name string, ft common.FieldType) error {
	if w.done {
		return ErrAlreadyFinalized
	}
	if w.err != nil {
		return w.err
	}
	var f *pdxtype.FieldDescriptor
	if w.collecting {
		nf, err := w.td.AddField(name, ft)
		if err != nil {
			return err
		}
		w.spans = append(w.spans, span{})
		f = nf
	} else {
		f = w.td.Field(name)
		if f == nil {
			return fmt.Errorf("%w: %s has no field %q", ErrFieldShapeMismatch, w.td.ClassName, name)
		}
		if f.Type != ft {
			return fmt.Errorf("%w: field %q is %s, written as %s", ErrFieldShapeMismatch, name, f.Type, ft)
		}
		if w.spans[f.SequenceID].set {
			return fmt.Errorf("%w: %q on %s", ErrDuplicateField, name, w.td.ClassName)
		}
	}
	if f.SequenceID != w.last+1 {
		w.inOrder = false
	}
	w.last = f.SequenceID
	w.cur = f.SequenceID
	w.spans[f.SequenceID].start = w.out.Len()
	return nil
}

func (w *writer) WriteField(name string, v any, ft FieldType) error {
	if !ft.Valid() {
		return fmt.Errorf("%w: field %q has invalid type %d", ErrFieldShapeMismatch, name, ft)
	}
	if !valueMatches(ft, v) {
		return shapeError(name, ft, v)
	}
	if err := w.begin(name, ft); err != nil {
		return err
	}
	if err := w.s.encodeField(w.ctx, w.out, ft, v); err != nil {
		w.err = fmt.Errorf("field %q: %w", name, err)
		return w.err
	}
	sp := &w.spans[w.cur]
	sp.end = w.out.Len()
	sp.set = true
	w.written++
	return nil
}

func (w *writer) WriteBool(name string, v bool) error       { return w.WriteField(name, v, Boolean) }
func (w *writer) WriteInt8(name string, v int8) error       { return w.WriteField(name, v, Byte) }
func (w *writer) WriteChar(name string, v uint16) error     { return w.WriteField(name, v, Char) }
func (w *writer) WriteInt16(name string, v int16) error     { return w.WriteField(name, v, Short) }
func (w *writer) WriteInt32(name string, v int32) error     { return w.WriteField(name, v, Int) }
func (w *writer) WriteInt64(name string, v int64) error     { return w.WriteField(name, v, Long) }
func (w *writer) WriteFloat32(name string, v float32) error { return w.WriteField(name, v, Float) }
func (w *writer) WriteFloat64(name string, v float64) error { return w.WriteField(name, v, Double) }
func (w *writer) WriteDate(name string, v time.Time) error  { return w.WriteField(name, v, Date) }
func (w *writer) WriteString(name string, v string) error   { return w.WriteField(name, v, String) }
func (w *writer) WriteObject(name string, v any) error      { return w.WriteField(name, v, Object) }

// Nil slices are passed on untyped so they are written as null.

func (w *writer) WriteBoolArray(name string, v []bool) error {
	return w.WriteField(name, nilable(v == nil, v), BooleanArray)
}

func (w *writer) WriteCharArray(name string, v []uint16) error {
	return w.WriteField(name, nilable(v == nil, v), CharArray)
}

func (w *writer) WriteByteArray(name string, v []byte) error {
	return w.WriteField(name, nilable(v == nil, v), ByteArray)
}

func (w *writer) WriteInt16Array(name string, v []int16) error {
	return w.WriteField(name, nilable(v == nil, v), ShortArray)
}

func (w *writer) WriteInt32Array(name string, v []int32) error {
	return w.WriteField(name, nilable(v == nil, v), IntArray)
}

func (w *writer) WriteInt64Array(name string, v []int64) error {
	return w.WriteField(name, nilable(v == nil, v), LongArray)
}

func (w *writer) WriteFloat32Array(name string, v []float32) error {
	return w.WriteField(name, nilable(v == nil, v), FloatArray)
}

func (w *writer) WriteFloat64Array(name string, v []float64) error {
	return w.WriteField(name, nilable(v == nil, v), DoubleArray)
}

func (w *writer) WriteStringArray(name string, v []string) error {
	return w.WriteField(name, nilable(v == nil, v), StringArray)
}

func (w *writer) WriteObjectArray(name string, v []any) error {
	return w.WriteField(name, nilable(v == nil, v), ObjectArray)
}

func (w *writer) WriteByteArrays(name string, v [][]byte) error {
	return w.WriteField(name, nilable(v == nil, v), ArrayOfByteArrays)
}

func nilable(isNil bool, v any) any {
	if isNil {
		return nil
	}
	return v
}

func (w *writer) MarkIdentityField(name string) error {
	if w.done {
		return ErrAlreadyFinalized
	}
	if !w.collecting {
		if w.td.Field(name) == nil {
			return fmt.Errorf("%w: %s has no field %q", ErrFieldShapeMismatch, w.td.ClassName, name)
		}
		return nil
	}
	return w.td.MarkIdentity(name)
}

func (w *writer) WriteUnreadFields(u *UnreadFields) error {
	if w.done {
		return ErrAlreadyFinalized
	}
	if u == nil || u.data == nil || u.data.Len() == 0 {
		return nil
	}
	if w.written > 0 {
		return fmt.Errorf("%w: unread fields must be written before any field", ErrFieldShapeMismatch)
	}
	merged, ok := w.s.reg.Lookup(u.data.MergedTypeID)
	if !ok {
		return fmt.Errorf("%w: merged type %d", ErrUnknownTypeID, u.data.MergedTypeID)
	}
	if merged.ClassName != w.td.ClassName {
		return fmt.Errorf("%w: unread fields of %s written for %s", ErrFieldShapeMismatch, merged.ClassName, w.td.ClassName)
	}
	w.useType(merged, u.data)
	return nil
}

// finish returns the payload and the start of every variable-length field.
func (w *writer) finish() ([]byte, []int, error) {
	if w.done {
		return nil, nil, ErrAlreadyFinalized
	}
	w.done = true
	if w.err != nil {
		return nil, nil, w.err
	}
	fields := w.td.Fields()
	varStarts := make([]int, 0, w.td.VarLenCount())

	if w.inOrder && w.written == len(fields) {
		for i, f := range fields {
			if f.IsVariableLength() {
				varStarts = append(varStarts, w.spans[i].start)
			}
		}
		return w.out.Bytes(), varStarts, nil
	}

	src := w.out.Bytes()
	out := codec.NewOutput(len(src) + 8*len(fields))
	for i, f := range fields {
		if f.IsVariableLength() {
			varStarts = append(varStarts, out.Len())
		}
		sp := w.spans[i]
		if sp.set {
			out.Write(src[sp.start:sp.end])
			continue
		}
		if w.pd != nil {
			if b, ok := w.pd.Field(i); ok {
				out.Write(b)
				continue
			}
		}
		out.Write(common.DefaultBytes(f.Type))
	}
	return out.Bytes(), varStarts, nil
}
