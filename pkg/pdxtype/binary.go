package pdxtype

import (
	"errors"
	"fmt"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
)

const descriptorClass = "org.apache.geode.pdx.internal.PdxType"

var ErrBadDescriptor = errors.New("pdx: malformed type descriptor")

// AppendTo appends the descriptor's wire form to out.
func (t *TypeDescriptor) AppendTo(out *codec.Output) {
	t.Initialize()
	out.WriteUint8(common.DSDataSerializable)
	out.WriteUint8(common.DSClass)
	out.WriteString(descriptorClass)
	out.WriteString(t.ClassName)
	out.WriteBool(false)
	out.WriteInt32(t.TypeID())
	out.WriteInt32(int32(t.varLenCount))
	out.WriteArrayLen(len(t.fields))
	for _, f := range t.fields {
		out.WriteString(f.Name)
		out.WriteInt32(int32(f.SequenceID))
		out.WriteInt32(int32(f.VarLenIndex))
		out.WriteUint8(uint8(f.Type))
		out.WriteInt32(int32(f.relOffset))
		out.WriteInt32(int32(f.varOffsetID))
		out.WriteBool(f.Identity)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *TypeDescriptor) MarshalBinary() ([]byte, error) {
	out := codec.NewOutput(64 + 32*len(t.fields))
	t.AppendTo(out)
	return out.Bytes(), nil
}

// ReadDescriptor decodes a descriptor written by AppendTo. The layout is
// recomputed rather than trusted.
func ReadDescriptor(in *codec.Input) (*TypeDescriptor, error) {
	head, err := in.ReadRaw(2)
	if err != nil {
		return nil, err
	}
	if head[0] != common.DSDataSerializable || head[1] != common.DSClass {
		return nil, fmt.Errorf("%w: header %x", ErrBadDescriptor, head)
	}
	if _, err := in.ReadString(); err != nil {
		return nil, err
	}
	className, err := in.ReadString()
	if err != nil {
		return nil, err
	}
	if _, err := in.ReadBool(); err != nil {
		return nil, err
	}
	id, err := in.ReadInt32()
	if err != nil {
		return nil, err
	}
	varCount, err := in.ReadInt32()
	if err != nil {
		return nil, err
	}
	n, err := in.ReadArrayLen()
	if err != nil {
		return nil, err
	}
	t := New(className)
	for i := 0; i < n; i++ {
		name, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		// sequence, var index; both follow from insertion order
		if err := in.Skip(8); err != nil {
			return nil, err
		}
		code, err := in.ReadUint8()
		if err != nil {
			return nil, err
		}
		// relative offset, var offset id
		if err := in.Skip(8); err != nil {
			return nil, err
		}
		identity, err := in.ReadBool()
		if err != nil {
			return nil, err
		}
		ft := common.FieldType(code)
		if !ft.Valid() {
			return nil, fmt.Errorf("%w: field %q type %d", ErrBadDescriptor, name, code)
		}
		f, err := t.AddField(name, ft)
		if err != nil {
			return nil, err
		}
		f.Identity = identity
	}
	if int(varCount) != t.varLenCount {
		return nil, fmt.Errorf("%w: %s declares %d variable fields, has %d", ErrBadDescriptor, className, varCount, t.varLenCount)
	}
	if id != 0 {
		t.SetTypeID(id)
	}
	t.Initialize()
	return t, nil
}

// UnmarshalDescriptor decodes a descriptor from b.
func UnmarshalDescriptor(b []byte) (*TypeDescriptor, error) {
	in := codec.NewInput(b)
	return ReadDescriptor(&in)
}
