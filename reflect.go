package pdx

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/rawbytedev/pdx/internal/common"
)

// structPlan maps the exported fields of a registered struct type onto PDX
// fields. Plans are built once per type.
type structPlan struct {
	className string
	typ       reflect.Type
	fields    []planField
	handle    []int // index of an embedded Handle, nil when absent
}

type planField struct {
	name     string
	index    []int
	ft       FieldType
	identity bool
}

var handleType = reflect.TypeOf(Handle{})

// RegisterStruct lets values of prototype's struct type be serialized
// without implementing Serializable. Exported fields are written in
// declaration order and may be tagged:
//
//	ID   int64  `pdx:"id,identity"`
//	Note string `pdx:"-"`
//
// Deserialized values are returned as pointers to the struct.
func (s *Serializer) RegisterStruct(className string, prototype any) error {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T", ErrNotStruct, prototype)
	}
	plan, err := s.getPlan(t, className)
	if err != nil {
		return err
	}
	s.RegisterType(className, func() Serializable {
		return &structObject{plan: plan, v: reflect.New(plan.typ).Elem()}
	})
	return nil
}

func (s *Serializer) getPlan(t reflect.Type, className string) (*structPlan, error) {
	s.planMu.RLock()
	plan, ok := s.plans[t]
	s.planMu.RUnlock()
	if !ok {
		built, err := buildPlan(t, className)
		if err != nil {
			return nil, err
		}
		s.planMu.Lock()
		// Double-check
		if plan, ok = s.plans[t]; !ok {
			s.plans[t] = built
			plan = built
		}
		s.planMu.Unlock()
	}
	if plan.className != className {
		return nil, fmt.Errorf("pdx: %s already registered as class %s", t, plan.className)
	}
	return plan, nil
}

func buildPlan(t reflect.Type, className string) (*structPlan, error) {
	plan := &structPlan{className: className, typ: t}
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Type == handleType && sf.Anonymous {
			plan.handle = sf.Index
			continue
		}
		if sf.PkgPath != "" {
			continue
		}
		tag := sf.Tag.Get("pdx")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateField, name, t)
		}
		seen[name] = true
		switch sf.Type.Kind() {
		case reflect.Chan, reflect.Func, reflect.Map, reflect.Complex64, reflect.Complex128,
			reflect.Uintptr, reflect.UnsafePointer:
			return nil, fmt.Errorf("%w: field %s of %s has kind %s", ErrUnsupportedObject, sf.Name, t, sf.Type.Kind())
		}
		plan.fields = append(plan.fields, planField{
			name:     name,
			index:    sf.Index,
			ft:       common.FieldTypeOf(sf.Type),
			identity: opts == "identity",
		})
	}
	return plan, nil
}

// structObjectFor adapts a registered struct, or a pointer to one.
func (s *Serializer) structObjectFor(rv reflect.Value) (Serializable, bool) {
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	s.planMu.RLock()
	plan, ok := s.plans[rv.Type()]
	s.planMu.RUnlock()
	if !ok {
		return nil, false
	}
	return &structObject{plan: plan, v: rv}, true
}

type structObject struct {
	plan *structPlan
	v    reflect.Value
}

func (o *structObject) PdxClassName() string { return o.plan.className }

func (o *structObject) ToPdx(w Writer) error {
	for _, f := range o.plan.fields {
		v, err := toFieldValue(o.v.FieldByIndex(f.index), f.ft)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
		if err := w.WriteField(f.name, v, f.ft); err != nil {
			return err
		}
		if f.identity {
			if err := w.MarkIdentityField(f.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *structObject) FromPdx(r Reader) error {
	for _, f := range o.plan.fields {
		v, err := r.ReadField(f.name, f.ft)
		if err != nil {
			return err
		}
		if err := assign(o.v.FieldByIndex(f.index), v); err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return nil
}

func (o *structObject) handle() *Handle {
	if o.plan.handle == nil || !o.v.CanAddr() {
		return nil
	}
	return o.v.FieldByIndex(o.plan.handle).Addr().Interface().(*Handle)
}

func (o *structObject) value() any {
	if o.v.CanAddr() {
		return o.v.Addr().Interface()
	}
	return o.v.Interface()
}

var canonicalTypes = map[FieldType]reflect.Type{
	common.BooleanArray:      reflect.TypeOf([]bool(nil)),
	common.CharArray:         reflect.TypeOf([]uint16(nil)),
	common.ByteArray:         reflect.TypeOf([]byte(nil)),
	common.ShortArray:        reflect.TypeOf([]int16(nil)),
	common.IntArray:          reflect.TypeOf([]int32(nil)),
	common.LongArray:         reflect.TypeOf([]int64(nil)),
	common.FloatArray:        reflect.TypeOf([]float32(nil)),
	common.DoubleArray:       reflect.TypeOf([]float64(nil)),
	common.StringArray:       reflect.TypeOf([]string(nil)),
	common.ArrayOfByteArrays: reflect.TypeOf([][]byte(nil)),
}

// toFieldValue converts a struct field to the canonical Go type of ft.
func toFieldValue(v reflect.Value, ft FieldType) (any, error) {
	switch ft {
	case common.Boolean:
		return v.Bool(), nil
	case common.Byte:
		if v.Kind() == reflect.Uint8 {
			return int8(v.Uint()), nil
		}
		return int8(v.Int()), nil
	case common.Char:
		return uint16(v.Uint()), nil
	case common.Short:
		return int16(v.Int()), nil
	case common.Int:
		if v.Kind() == reflect.Uint32 {
			return int32(v.Uint()), nil
		}
		return int32(v.Int()), nil
	case common.Long:
		switch v.Kind() {
		case reflect.Uint, reflect.Uint64:
			return int64(v.Uint()), nil
		}
		return v.Int(), nil
	case common.Float:
		return float32(v.Float()), nil
	case common.Double:
		return v.Float(), nil
	case common.Date:
		return v.Interface(), nil
	case common.String:
		return v.String(), nil
	case common.Object:
		if isNilValue(v) {
			return nil, nil
		}
		return v.Interface(), nil
	case common.ObjectArray:
		if v.IsNil() {
			return nil, nil
		}
		a := make([]any, v.Len())
		for i := range a {
			if e := v.Index(i); !isNilValue(e) {
				a[i] = e.Interface()
			}
		}
		return a, nil
	}
	canon := canonicalTypes[ft]
	if v.IsNil() {
		return nil, nil
	}
	switch {
	case v.Type() == canon:
		return v.Interface(), nil
	case v.Type().ConvertibleTo(canon):
		return v.Convert(canon).Interface(), nil
	}
	out := reflect.MakeSlice(canon, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		if err := assign(out.Index(i), v.Index(i).Interface()); err != nil {
			return nil, err
		}
	}
	return out.Interface(), nil
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

// assign stores a decoded value into dst, converting between numeric kinds
// and element by element between slice types.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.SetZero()
		return nil
	}
	src := reflect.ValueOf(v)
	st, dt := src.Type(), dst.Type()
	switch {
	case st.AssignableTo(dt):
		dst.Set(src)
	case dt.Kind() == reflect.Pointer && st.AssignableTo(dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(src)
		dst.Set(p)
	case st.Kind() == reflect.Pointer && !src.IsNil() && st.Elem().AssignableTo(dt):
		dst.Set(src.Elem())
	case st.Kind() == reflect.Slice && dt.Kind() == reflect.Slice:
		n := src.Len()
		out := reflect.MakeSlice(dt, n, n)
		for i := 0; i < n; i++ {
			if err := assign(out.Index(i), src.Index(i).Interface()); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		dst.Set(out)
	case isNumeric(st.Kind()) && isNumeric(dt.Kind()):
		dst.Set(src.Convert(dt))
	case st.Kind() == reflect.String && dt.Kind() == reflect.String:
		dst.Set(src.Convert(dt))
	default:
		return fmt.Errorf("%w: cannot assign %s to %s", ErrFieldShapeMismatch, st, dt)
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}
