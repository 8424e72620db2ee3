package pdx

import (
	"context"
	"fmt"
	"time"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
)

// Field values travel as these Go types:
//
//	Boolean bool            BooleanArray []bool
//	Byte    int8            CharArray    []uint16
//	Char    uint16          ByteArray    []byte
//	Short   int16           ShortArray   []int16
//	Int     int32           IntArray     []int32
//	Long    int64           LongArray    []int64
//	Float   float32         FloatArray   []float32
//	Double  float64         DoubleArray  []float64
//	Date    time.Time       StringArray  []string
//	String  string          ObjectArray  []any
//	Object  any             ArrayOfByteArrays [][]byte
//
// Nil is accepted for strings, objects and arrays and written as null.

func valueMatches(ft common.FieldType, v any) bool {
	if v == nil {
		return !common.IsFixed(ft)
	}
	switch ft {
	case common.Boolean:
		_, ok := v.(bool)
		return ok
	case common.Byte:
		_, ok := v.(int8)
		return ok
	case common.Char:
		_, ok := v.(uint16)
		return ok
	case common.Short:
		_, ok := v.(int16)
		return ok
	case common.Int:
		_, ok := v.(int32)
		return ok
	case common.Long:
		_, ok := v.(int64)
		return ok
	case common.Float:
		_, ok := v.(float32)
		return ok
	case common.Double:
		_, ok := v.(float64)
		return ok
	case common.Date:
		_, ok := v.(time.Time)
		return ok
	case common.String:
		_, ok := v.(string)
		return ok
	case common.Object:
		return true
	case common.BooleanArray:
		_, ok := v.([]bool)
		return ok
	case common.CharArray:
		_, ok := v.([]uint16)
		return ok
	case common.ByteArray:
		_, ok := v.([]byte)
		return ok
	case common.ShortArray:
		_, ok := v.([]int16)
		return ok
	case common.IntArray:
		_, ok := v.([]int32)
		return ok
	case common.LongArray:
		_, ok := v.([]int64)
		return ok
	case common.FloatArray:
		_, ok := v.([]float32)
		return ok
	case common.DoubleArray:
		_, ok := v.([]float64)
		return ok
	case common.StringArray:
		_, ok := v.([]string)
		return ok
	case common.ObjectArray:
		_, ok := v.([]any)
		return ok
	case common.ArrayOfByteArrays:
		_, ok := v.([][]byte)
		return ok
	}
	return false
}

func shapeError(name string, ft common.FieldType, v any) error {
	return fmt.Errorf("%w: field %q is %s, got %T", ErrFieldShapeMismatch, name, ft, v)
}

func dateMillis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}

func millisDate(ms int64) time.Time {
	if ms == -1 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// encodeField writes v as a value of type ft. The caller has checked v with
// valueMatches.
func (s *Serializer) encodeField(ctx context.Context, out *codec.Output, ft common.FieldType, v any) error {
	switch ft {
	case common.Boolean:
		out.WriteBool(v.(bool))
	case common.Byte:
		out.WriteInt8(v.(int8))
	case common.Char:
		out.WriteUint16(v.(uint16))
	case common.Short:
		out.WriteInt16(v.(int16))
	case common.Int:
		out.WriteInt32(v.(int32))
	case common.Long:
		out.WriteInt64(v.(int64))
	case common.Float:
		out.WriteFloat32(v.(float32))
	case common.Double:
		out.WriteFloat64(v.(float64))
	case common.Date:
		out.WriteInt64(dateMillis(v.(time.Time)))
	case common.String:
		if v == nil {
			out.WriteNullString()
			return nil
		}
		out.WriteString(v.(string))
	case common.Object:
		return s.writeObject(ctx, out, v)
	case common.BooleanArray:
		a, _ := v.([]bool)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteBool(e)
		}
	case common.CharArray:
		a, _ := v.([]uint16)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteUint16(e)
		}
	case common.ByteArray:
		a, _ := v.([]byte)
		out.WriteBytes(a)
	case common.ShortArray:
		a, _ := v.([]int16)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteInt16(e)
		}
	case common.IntArray:
		a, _ := v.([]int32)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteInt32(e)
		}
	case common.LongArray:
		a, _ := v.([]int64)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteInt64(e)
		}
	case common.FloatArray:
		a, _ := v.([]float32)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteFloat32(e)
		}
	case common.DoubleArray:
		a, _ := v.([]float64)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteFloat64(e)
		}
	case common.StringArray:
		a, _ := v.([]string)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteString(e)
		}
	case common.ObjectArray:
		a, _ := v.([]any)
		return s.writeObjectArray(ctx, out, a)
	case common.ArrayOfByteArrays:
		a, _ := v.([][]byte)
		writeLen(out, a == nil, len(a))
		for _, e := range a {
			out.WriteBytes(e)
		}
	default:
		panic("pdx: encode of unknown field type " + ft.String())
	}
	return nil
}

func writeLen(out *codec.Output, null bool, n int) {
	if null {
		out.WriteArrayLen(-1)
		return
	}
	out.WriteArrayLen(n)
}

// readLen reads an array length and checks that n elements of at least
// size bytes each can follow.
func readLen(in *codec.Input, size int) (int, error) {
	n, err := in.ReadArrayLen()
	if err != nil || n < 0 {
		return n, err
	}
	if n*size > in.Remaining() {
		return 0, fmt.Errorf("%w: %d elements of %d bytes, %d remaining", codec.ErrBufferBounds, n, size, in.Remaining())
	}
	return n, nil
}

// decodeField reads a value of type ft. Nested PDX objects are returned as
// *Instance when serialized is set.
func (s *Serializer) decodeField(ctx context.Context, in *codec.Input, ft common.FieldType, serialized bool) (any, error) {
	switch ft {
	case common.Boolean:
		return in.ReadBool()
	case common.Byte:
		return in.ReadInt8()
	case common.Char:
		return in.ReadUint16()
	case common.Short:
		return in.ReadInt16()
	case common.Int:
		return in.ReadInt32()
	case common.Long:
		return in.ReadInt64()
	case common.Float:
		return in.ReadFloat32()
	case common.Double:
		return in.ReadFloat64()
	case common.Date:
		ms, err := in.ReadInt64()
		if err != nil {
			return nil, err
		}
		return millisDate(ms), nil
	case common.String:
		str, ok, err := in.ReadNullableString()
		if err != nil || !ok {
			return nil, err
		}
		return str, nil
	case common.Object:
		return s.readObject(ctx, in, serialized)
	case common.BooleanArray:
		n, err := readLen(in, 1)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]bool, n)
		for i := range a {
			a[i], _ = in.ReadBool()
		}
		return a, nil
	case common.CharArray:
		n, err := readLen(in, 2)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]uint16, n)
		for i := range a {
			a[i], _ = in.ReadUint16()
		}
		return a, nil
	case common.ByteArray:
		b, err := in.ReadBytes()
		if err != nil || b == nil {
			return nil, err
		}
		return b, nil
	case common.ShortArray:
		n, err := readLen(in, 2)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]int16, n)
		for i := range a {
			a[i], _ = in.ReadInt16()
		}
		return a, nil
	case common.IntArray:
		n, err := readLen(in, 4)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]int32, n)
		for i := range a {
			a[i], _ = in.ReadInt32()
		}
		return a, nil
	case common.LongArray:
		n, err := readLen(in, 8)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]int64, n)
		for i := range a {
			a[i], _ = in.ReadInt64()
		}
		return a, nil
	case common.FloatArray:
		n, err := readLen(in, 4)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]float32, n)
		for i := range a {
			a[i], _ = in.ReadFloat32()
		}
		return a, nil
	case common.DoubleArray:
		n, err := readLen(in, 8)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]float64, n)
		for i := range a {
			a[i], _ = in.ReadFloat64()
		}
		return a, nil
	case common.StringArray:
		n, err := readLen(in, 1)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([]string, n)
		for i := range a {
			if a[i], err = in.ReadString(); err != nil {
				return nil, err
			}
		}
		return a, nil
	case common.ObjectArray:
		a, err := s.readObjectArray(ctx, in, serialized)
		if err != nil || a == nil {
			return nil, err
		}
		return a, nil
	case common.ArrayOfByteArrays:
		n, err := readLen(in, 1)
		if err != nil || n < 0 {
			return nil, err
		}
		a := make([][]byte, n)
		for i := range a {
			if a[i], err = in.ReadBytes(); err != nil {
				return nil, err
			}
		}
		return a, nil
	}
	panic("pdx: decode of unknown field type " + ft.String())
}
