package pdx

import (
	"bytes"
	"context"
	"reflect"
	"time"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// Equal compares the identity fields of two instances of the same class.
// A field present on only one side must hold its default value. Object
// fields are compared by decoded value, all others by encoded bytes.
func (i *Instance) Equal(o *Instance) bool {
	if i == o {
		return true
	}
	if i == nil || o == nil || i.ClassName() != o.ClassName() {
		return false
	}
	ctx := context.Background()
	a, b := i.Type().IdentityFields(), o.Type().IdentityFields()
	x, y := 0, 0
	for x < len(a) || y < len(b) {
		switch {
		case y >= len(b) || (x < len(a) && a[x].Name < b[y].Name):
			if !i.isDefault(ctx, a[x]) {
				return false
			}
			x++
		case x >= len(a) || b[y].Name < a[x].Name:
			if !o.isDefault(ctx, b[y]) {
				return false
			}
			y++
		default:
			if a[x].Type != b[y].Type || !fieldsEqual(ctx, i, a[x], o, b[y]) {
				return false
			}
			x++
			y++
		}
	}
	return true
}

func (i *Instance) isDefault(ctx context.Context, f *pdxtype.FieldDescriptor) bool {
	if f.Type == common.Object {
		v, err := i.fieldAt(ctx, f)
		return err == nil && v == nil
	}
	raw, err := i.layout.Bytes(f.SequenceID)
	return err == nil && bytes.Equal(raw, common.DefaultBytes(f.Type))
}

func fieldsEqual(ctx context.Context, i *Instance, fi *pdxtype.FieldDescriptor, o *Instance, fo *pdxtype.FieldDescriptor) bool {
	if fi.Type == common.Object || fi.Type == common.ObjectArray {
		a, errA := i.fieldAt(ctx, fi)
		b, errB := o.fieldAt(ctx, fo)
		return errA == nil && errB == nil && valuesEqual(a, b)
	}
	ra, errA := i.layout.Bytes(fi.SequenceID)
	rb, errB := o.layout.Bytes(fo.SequenceID)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Instance:
		y, ok := b.(*Instance)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for n := range x {
			if !valuesEqual(x[n], y[n]) {
				return false
			}
		}
		return true
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}

// Hash combines the identity fields so that instances that are Equal hash
// alike. Fields holding their default value do not contribute.
func (i *Instance) Hash() int32 {
	ctx := context.Background()
	h := int32(1)
	for _, f := range i.Type().IdentityFields() {
		switch f.Type {
		case common.Object, common.ObjectArray:
			v, err := i.fieldAt(ctx, f)
			if err != nil || v == nil {
				continue
			}
			h = 31*h + i.s.valueHash(ctx, v)
		default:
			raw, err := i.layout.Bytes(f.SequenceID)
			if err != nil || bytes.Equal(raw, common.DefaultBytes(f.Type)) {
				continue
			}
			if rh := rawHash(raw); rh != 0 {
				h = 31*h + rh
			}
		}
	}
	return h
}

func rawHash(b []byte) int32 {
	h := int32(1)
	for n := len(b) - 1; n >= 0; n-- {
		h = 31*h + int32(b[n])
	}
	return h
}

func (s *Serializer) valueHash(ctx context.Context, v any) int32 {
	switch x := v.(type) {
	case nil:
		return 0
	case *Instance:
		return x.Hash()
	case []any:
		h := int32(1)
		for _, e := range x {
			h = 31*h + s.valueHash(ctx, e)
		}
		return h
	}
	out := codec.NewOutput(32)
	if err := s.writeObject(ctx, out, v); err != nil {
		return 0
	}
	return rawHash(out.Bytes())
}
