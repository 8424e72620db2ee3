package pdx

import (
	"context"
	"fmt"

	"github.com/rawbytedev/pdx/pkg/codec"
)

// WritableInstance changes field values of an Instance without touching
// it. Serializing it produces a new envelope with the same type id.
type WritableInstance struct {
	inst    *Instance
	updates map[int]any
}

// SetField replaces the value of an existing field. The value must have the
// field's canonical Go type.
func (w *WritableInstance) SetField(name string, v any) error {
	f := w.inst.layout.Type.Field(name)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %q", ErrFieldShapeMismatch, w.inst.ClassName(), name)
	}
	if !valueMatches(f.Type, v) {
		return shapeError(name, f.Type, v)
	}
	w.updates[f.SequenceID] = v
	return nil
}

// Field returns the pending value of name, or the original one.
func (w *WritableInstance) Field(ctx context.Context, name string) (any, error) {
	if f := w.inst.layout.Type.Field(name); f != nil {
		if v, ok := w.updates[f.SequenceID]; ok {
			return v, nil
		}
	}
	return w.inst.Field(ctx, name)
}

func (w *WritableInstance) ClassName() string { return w.inst.ClassName() }

// ToBytes serializes the instance with the pending changes applied.
func (w *WritableInstance) ToBytes(ctx context.Context) ([]byte, error) {
	out := codec.NewOutput(len(w.inst.data) + 16)
	if err := w.writeTo(ctx, out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Instance returns a new read-only instance holding the changes.
func (w *WritableInstance) Instance(ctx context.Context) (*Instance, error) {
	data, err := w.ToBytes(ctx)
	if err != nil {
		return nil, err
	}
	return w.inst.s.newInstance(w.inst.layout.Type, data, len(data)-headerLen(data))
}

func (w *WritableInstance) writeTo(ctx context.Context, out *codec.Output) error {
	if len(w.updates) == 0 {
		out.Write(w.inst.data)
		return nil
	}
	t := w.inst.layout.Type
	payload := codec.NewOutput(len(w.inst.layout.Payload))
	varStarts := make([]int, 0, t.VarLenCount())
	for _, f := range t.Fields() {
		if f.IsVariableLength() {
			varStarts = append(varStarts, payload.Len())
		}
		if v, ok := w.updates[f.SequenceID]; ok {
			if err := w.inst.s.encodeField(ctx, payload, f.Type, v); err != nil {
				return fmt.Errorf("pdx: %s.%s: %w", t.ClassName, f.Name, err)
			}
			continue
		}
		raw, err := w.inst.layout.Bytes(f.SequenceID)
		if err != nil {
			return err
		}
		payload.Write(raw)
	}
	appendEnvelope(out, t.TypeID(), payload.Bytes(), varStarts)
	return nil
}
