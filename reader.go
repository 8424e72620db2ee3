package pdx

import (
	"context"
	"fmt"
	"time"

	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
	"github.com/rawbytedev/pdx/pkg/registry"
)

// Reader supplies the fields of an object in Serializable.FromPdx. Fields
// the sender did not write read as the zero value.
type Reader interface {
	ReadBool(name string) (bool, error)
	ReadInt8(name string) (int8, error)
	ReadChar(name string) (uint16, error)
	ReadInt16(name string) (int16, error)
	ReadInt32(name string) (int32, error)
	ReadInt64(name string) (int64, error)
	ReadFloat32(name string) (float32, error)
	ReadFloat64(name string) (float64, error)
	ReadDate(name string) (time.Time, error)
	ReadString(name string) (string, error)
	ReadObject(name string) (any, error)
	ReadBoolArray(name string) ([]bool, error)
	ReadCharArray(name string) ([]uint16, error)
	ReadByteArray(name string) ([]byte, error)
	ReadInt16Array(name string) ([]int16, error)
	ReadInt32Array(name string) ([]int32, error)
	ReadInt64Array(name string) ([]int64, error)
	ReadFloat32Array(name string) ([]float32, error)
	ReadFloat64Array(name string) ([]float64, error)
	ReadStringArray(name string) ([]string, error)
	ReadObjectArray(name string) ([]any, error)
	ReadByteArrays(name string) ([][]byte, error)
	// ReadField returns the value in its canonical Go type, or nil when the
	// field is absent or null.
	ReadField(name string, ft FieldType) (any, error)
	HasField(name string) bool
	IsIdentityField(name string) bool
	// ReadUnreadFields returns the fields this version of the class does not
	// know. The value is filled in once FromPdx returns.
	ReadUnreadFields() *UnreadFields
}

type reader struct {
	ctx        context.Context
	s          *Serializer
	layout     pdxtype.Layout
	serialized bool

	in   codec.Input
	next int

	// collect grows the local descriptor while a class is read for the
	// first time.
	collect *pdxtype.TypeDescriptor
	local   *pdxtype.TypeDescriptor
	merged  *pdxtype.TypeDescriptor
	unread  *UnreadFields
}

func (s *Serializer) newReader(ctx context.Context, layout pdxtype.Layout) *reader {
	return &reader{
		ctx:        ctx,
		s:          s,
		layout:     layout,
		serialized: s.opts.ReadSerialized,
		in:         codec.NewInput(layout.Payload[:layout.SerializedLength]),
	}
}

// seek positions the cursor on name. It reports false when the remote type
// has no such field.
func (r *reader) seek(name string, ft FieldType) (bool, error) {
	if r.collect != nil && r.collect.Field(name) == nil {
		if _, err := r.collect.AddField(name, ft); err != nil {
			return false, fmt.Errorf("%w: %w", ErrFieldShapeMismatch, err)
		}
	}
	f := r.layout.Type.Field(name)
	if f == nil {
		return false, nil
	}
	if f.Type != ft {
		return false, fmt.Errorf("%w: field %q is %s, read as %s", ErrFieldShapeMismatch, name, f.Type, ft)
	}
	if f.SequenceID != r.next {
		in, err := r.layout.Input(f.SequenceID)
		if err != nil {
			r.next = -1
			return false, err
		}
		r.in = in
	}
	r.next = f.SequenceID + 1
	return true, nil
}

func (r *reader) ReadField(name string, ft FieldType) (any, error) {
	if !ft.Valid() {
		return nil, fmt.Errorf("%w: field %q has invalid type %d", ErrFieldShapeMismatch, name, ft)
	}
	ok, err := r.seek(name, ft)
	if err != nil || !ok {
		return nil, err
	}
	v, err := r.s.decodeField(r.ctx, &r.in, ft, r.serialized)
	if err != nil {
		r.next = -1
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	return v, nil
}

func readAs[T any](r *reader, name string, ft FieldType) (T, error) {
	var zero T
	v, err := r.ReadField(name, ft)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

func (r *reader) ReadBool(name string) (bool, error)       { return readAs[bool](r, name, Boolean) }
func (r *reader) ReadInt8(name string) (int8, error)       { return readAs[int8](r, name, Byte) }
func (r *reader) ReadChar(name string) (uint16, error)     { return readAs[uint16](r, name, Char) }
func (r *reader) ReadInt16(name string) (int16, error)     { return readAs[int16](r, name, Short) }
func (r *reader) ReadInt32(name string) (int32, error)     { return readAs[int32](r, name, Int) }
func (r *reader) ReadInt64(name string) (int64, error)     { return readAs[int64](r, name, Long) }
func (r *reader) ReadFloat32(name string) (float32, error) { return readAs[float32](r, name, Float) }
func (r *reader) ReadFloat64(name string) (float64, error) { return readAs[float64](r, name, Double) }
func (r *reader) ReadDate(name string) (time.Time, error)  { return readAs[time.Time](r, name, Date) }
func (r *reader) ReadString(name string) (string, error)   { return readAs[string](r, name, String) }
func (r *reader) ReadObject(name string) (any, error)      { return r.ReadField(name, Object) }

func (r *reader) ReadBoolArray(name string) ([]bool, error) {
	return readAs[[]bool](r, name, BooleanArray)
}

func (r *reader) ReadCharArray(name string) ([]uint16, error) {
	return readAs[[]uint16](r, name, CharArray)
}

func (r *reader) ReadByteArray(name string) ([]byte, error) {
	return readAs[[]byte](r, name, ByteArray)
}

func (r *reader) ReadInt16Array(name string) ([]int16, error) {
	return readAs[[]int16](r, name, ShortArray)
}

func (r *reader) ReadInt32Array(name string) ([]int32, error) {
	return readAs[[]int32](r, name, IntArray)
}

func (r *reader) ReadInt64Array(name string) ([]int64, error) {
	return readAs[[]int64](r, name, LongArray)
}

func (r *reader) ReadFloat32Array(name string) ([]float32, error) {
	return readAs[[]float32](r, name, FloatArray)
}

func (r *reader) ReadFloat64Array(name string) ([]float64, error) {
	return readAs[[]float64](r, name, DoubleArray)
}

func (r *reader) ReadStringArray(name string) ([]string, error) {
	return readAs[[]string](r, name, StringArray)
}

func (r *reader) ReadObjectArray(name string) ([]any, error) {
	return readAs[[]any](r, name, ObjectArray)
}

func (r *reader) ReadByteArrays(name string) ([][]byte, error) {
	return readAs[[][]byte](r, name, ArrayOfByteArrays)
}

func (r *reader) HasField(name string) bool {
	return r.layout.Type.Field(name) != nil
}

func (r *reader) IsIdentityField(name string) bool {
	f := r.layout.Type.Field(name)
	return f != nil && f.Identity
}

func (r *reader) ReadUnreadFields() *UnreadFields {
	if r.unread == nil {
		r.unread = &UnreadFields{}
	}
	return r.unread
}

// captureUnread copies every remote field missing from the local type into
// preserved data indexed by merged sequence. It returns nil when nothing
// is missing.
func (r *reader) captureUnread() (*registry.PreservedData, error) {
	if r.local == nil || r.merged == nil || r.merged == r.local {
		return nil, nil
	}
	remote := r.layout.Type
	pd := registry.NewPreservedData(remote.ClassName, r.merged.TypeID(), remote.TypeID(), r.merged.NumFields())
	for _, f := range r.merged.Fields() {
		if r.local.Field(f.Name) != nil {
			continue
		}
		rf := remote.Field(f.Name)
		if rf == nil {
			continue
		}
		b, err := r.layout.Bytes(rf.SequenceID)
		if err != nil {
			return nil, err
		}
		pd.Set(f.SequenceID, b)
	}
	if pd.Len() == 0 {
		return nil, nil
	}
	return pd, nil
}
