package pdx

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// Enum is a PDX enum constant. Its id is allocated by the authority on
// first write.
type Enum = pdxtype.EnumDescriptor

// writeObject writes v prefixed by its type code.
func (s *Serializer) writeObject(ctx context.Context, out *codec.Output, v any) error {
	switch x := v.(type) {
	case nil:
		out.WriteUint8(common.DSNullObj)
	case *Instance:
		if x == nil {
			out.WriteUint8(common.DSNullObj)
			return nil
		}
		out.Write(x.data)
	case *WritableInstance:
		return x.writeTo(ctx, out)
	case Serializable:
		return s.writePdx(ctx, out, x)
	case Enum:
		return s.writeEnum(ctx, out, x)
	case bool:
		out.WriteUint8(common.DSBoolean)
		out.WriteBool(x)
	case int8:
		out.WriteUint8(common.DSByte)
		out.WriteInt8(x)
	case uint16:
		out.WriteUint8(common.DSCharacter)
		out.WriteUint16(x)
	case int16:
		out.WriteUint8(common.DSShort)
		out.WriteInt16(x)
	case int32:
		out.WriteUint8(common.DSInt)
		out.WriteInt32(x)
	case int64:
		out.WriteUint8(common.DSLong)
		out.WriteInt64(x)
	case int:
		out.WriteUint8(common.DSLong)
		out.WriteInt64(int64(x))
	case float32:
		out.WriteUint8(common.DSFloat)
		out.WriteFloat32(x)
	case float64:
		out.WriteUint8(common.DSDouble)
		out.WriteFloat64(x)
	case time.Time:
		out.WriteUint8(common.DSDate)
		out.WriteInt64(dateMillis(x))
	case string:
		out.WriteString(x)
	case []byte:
		out.WriteUint8(common.DSBytes)
		out.WriteBytes(x)
	case []any:
		out.WriteUint8(common.DSObjectArray)
		return s.writeObjectArray(ctx, out, x)
	default:
		if obj, ok := s.structObjectFor(reflect.ValueOf(v)); ok {
			return s.writePdx(ctx, out, obj)
		}
		return fmt.Errorf("%w: %T", ErrUnsupportedObject, v)
	}
	return nil
}

// writeObjectArray writes the body of an object array: length, element
// class, then every element as an object.
func (s *Serializer) writeObjectArray(ctx context.Context, out *codec.Output, a []any) error {
	if a == nil {
		out.WriteArrayLen(-1)
		return nil
	}
	out.WriteArrayLen(len(a))
	out.WriteUint8(common.DSClass)
	out.WriteString(common.ObjectArrayElementType)
	for i, e := range a {
		if err := s.writeObject(ctx, out, e); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (s *Serializer) readObjectArray(ctx context.Context, in *codec.Input, serialized bool) ([]any, error) {
	n, err := readLen(in, 1)
	if err != nil || n < 0 {
		return nil, err
	}
	code, err := in.ReadUint8()
	if err != nil {
		return nil, err
	}
	if code != common.DSClass {
		return nil, fmt.Errorf("%w: object array class code %d", ErrUnsupportedObject, code)
	}
	if _, err := in.ReadString(); err != nil {
		return nil, err
	}
	a := make([]any, n)
	for i := range a {
		if a[i], err = s.readObject(ctx, in, serialized); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return a, nil
}

func (s *Serializer) writeEnum(ctx context.Context, out *codec.Output, e Enum) error {
	id, err := s.reg.EnumValue(ctx, e)
	if err != nil {
		return err
	}
	out.WriteUint8(common.DSPdxEnum)
	out.WriteArrayLen(int(uint32(id) >> 24))
	out.WriteArrayLen(int(id & 0xFFFFFF))
	return nil
}

func (s *Serializer) readEnum(ctx context.Context, in *codec.Input) (Enum, error) {
	dsid, err := in.ReadArrayLen()
	if err != nil {
		return Enum{}, err
	}
	seq, err := in.ReadArrayLen()
	if err != nil {
		return Enum{}, err
	}
	return s.reg.Enum(ctx, pdxtype.EnumID(int8(dsid), int32(seq)))
}

// readObject reads one type-coded value. PDX objects become instances of
// their registered factory unless serialized is set or no factory exists,
// in which case they are returned as *Instance.
func (s *Serializer) readObject(ctx context.Context, in *codec.Input, serialized bool) (any, error) {
	code, err := in.ReadUint8()
	if err != nil {
		return nil, err
	}
	if common.IsPdxMarker(code) {
		return s.readPdx(ctx, in, code, serialized)
	}
	switch code {
	case common.DSNullObj, common.DSNullString:
		return nil, nil
	case common.DSPdxEnum:
		return s.readEnum(ctx, in)
	case common.DSString, common.DSASCIIString, common.DSASCIIStringHuge, common.DSStringHuge:
		str, _, err := in.ReadStringBody(code)
		return str, err
	case common.DSBoolean:
		return in.ReadBool()
	case common.DSByte:
		return in.ReadInt8()
	case common.DSCharacter:
		return in.ReadUint16()
	case common.DSShort:
		return in.ReadInt16()
	case common.DSInt:
		return in.ReadInt32()
	case common.DSLong:
		return in.ReadInt64()
	case common.DSFloat:
		return in.ReadFloat32()
	case common.DSDouble:
		return in.ReadFloat64()
	case common.DSDate:
		ms, err := in.ReadInt64()
		if err != nil {
			return nil, err
		}
		return millisDate(ms), nil
	case common.DSBytes:
		b, err := in.ReadBytes()
		if err != nil || b == nil {
			return nil, err
		}
		return b, nil
	case common.DSObjectArray:
		a, err := s.readObjectArray(ctx, in, serialized)
		if err != nil || a == nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: type code %d", ErrUnsupportedObject, code)
}
