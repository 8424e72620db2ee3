package pdx

import (
	"context"
	"fmt"
	"strings"

	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// Instance is a PDX object kept in serialized form. Fields are decoded on
// demand and the original bytes are re-emitted unchanged when the instance
// is serialized again.
type Instance struct {
	s      *Serializer
	data   []byte // full envelope, marker included
	layout pdxtype.Layout
}

// newInstance copies envelope, whose trailing blobLen bytes are the payload
// and offset table.
func (s *Serializer) newInstance(t *pdxtype.TypeDescriptor, envelope []byte, blobLen int) (*Instance, error) {
	data := append(make([]byte, 0, len(envelope)), envelope...)
	layout, err := pdxtype.NewLayout(t, data[len(data)-blobLen:])
	if err != nil {
		return nil, fmt.Errorf("pdx: instance of %s: %w", t.ClassName, err)
	}
	return &Instance{s: s, data: data, layout: layout}, nil
}

func (i *Instance) ClassName() string { return i.layout.Type.ClassName }

func (i *Instance) TypeID() int32 { return i.layout.Type.TypeID() }

// Type returns the descriptor the instance was written with.
func (i *Instance) Type() *pdxtype.TypeDescriptor { return i.layout.Type }

// Bytes returns the serialized form. The slice must not be modified.
func (i *Instance) Bytes() []byte { return i.data }

func (i *Instance) FieldNames() []string {
	fields := i.layout.Type.Fields()
	names := make([]string, len(fields))
	for n, f := range fields {
		names[n] = f.Name
	}
	return names
}

// FieldType returns the type of name and whether the field exists.
func (i *Instance) FieldType(name string) (FieldType, bool) {
	f := i.layout.Type.Field(name)
	if f == nil {
		return 0, false
	}
	return f.Type, true
}

func (i *Instance) HasField(name string) bool { return i.layout.Type.Field(name) != nil }

func (i *Instance) IsIdentityField(name string) bool {
	f := i.layout.Type.Field(name)
	return f != nil && f.Identity
}

// Field decodes name. Absent fields and nulls are returned as nil; nested
// PDX objects come back as *Instance.
func (i *Instance) Field(ctx context.Context, name string) (any, error) {
	f := i.layout.Type.Field(name)
	if f == nil {
		return nil, nil
	}
	return i.fieldAt(ctx, f)
}

func (i *Instance) fieldAt(ctx context.Context, f *pdxtype.FieldDescriptor) (any, error) {
	in, err := i.layout.Input(f.SequenceID)
	if err != nil {
		return nil, err
	}
	v, err := i.s.decodeField(ctx, &in, f.Type, true)
	if err != nil {
		return nil, fmt.Errorf("pdx: %s.%s: %w", i.ClassName(), f.Name, err)
	}
	return v, nil
}

// RawField returns the encoded bytes of name.
func (i *Instance) RawField(name string) ([]byte, bool) {
	f := i.layout.Type.Field(name)
	if f == nil {
		return nil, false
	}
	b, err := i.layout.Bytes(f.SequenceID)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ToObject decodes the instance through the factory registered for its
// class.
func (i *Instance) ToObject(ctx context.Context) (any, error) {
	factory := i.s.factory(i.ClassName())
	if factory == nil {
		return nil, fmt.Errorf("%w: no factory for class %s", ErrUnsupportedObject, i.ClassName())
	}
	obj := factory()
	if err := i.s.readInto(ctx, obj, i.layout.Type, i.layout.Payload); err != nil {
		return nil, err
	}
	return unwrapObject(obj), nil
}

// CreateWriter returns a copy-on-write view for changing field values.
func (i *Instance) CreateWriter() *WritableInstance {
	return &WritableInstance{inst: i, updates: make(map[int]any)}
}

func (i *Instance) String() string {
	var b strings.Builder
	b.WriteString(i.ClassName())
	b.WriteByte('{')
	for n, f := range i.layout.Type.Fields() {
		if n > 0 {
			b.WriteString(", ")
		}
		v, err := i.fieldAt(context.Background(), f)
		if err != nil {
			v = "<" + err.Error() + ">"
		}
		fmt.Fprintf(&b, "%s=%v", f.Name, v)
	}
	b.WriteByte('}')
	return b.String()
}
