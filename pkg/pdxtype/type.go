package pdxtype

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/spaolacci/murmur3"
)

var (
	ErrDuplicateField = errors.New("pdx: field already added")
	ErrTypeIDAssigned = errors.New("pdx: type id already assigned")
	ErrBadFieldType   = errors.New("pdx: invalid field type")
	ErrNoSuchField    = errors.New("pdx: no such field")
)

// TypeDescriptor is one version of one class: its ordered fields and the
// layout needed to locate any of them inside a serialized payload.
type TypeDescriptor struct {
	ClassName string

	typeID      atomic.Int32
	local       atomic.Bool
	fields      []*FieldDescriptor
	byName      map[string]*FieldDescriptor
	varLenCount int

	initOnce sync.Once

	mu            sync.Mutex
	otherVersions []*TypeDescriptor
}

// New returns an empty descriptor for className.
func New(className string) *TypeDescriptor {
	return &TypeDescriptor{
		ClassName: className,
		byName:    make(map[string]*FieldDescriptor),
	}
}

// TypeID returns the assigned type id, zero if none has been assigned yet.
func (t *TypeDescriptor) TypeID() int32 { return t.typeID.Load() }

// SetTypeID assigns the type id. It can only be set once to a non-zero
// value; re-assigning the same id is a no-op.
func (t *TypeDescriptor) SetTypeID(id int32) error {
	if t.typeID.CompareAndSwap(0, id) || t.typeID.Load() == id {
		return nil
	}
	return fmt.Errorf("%w: %s has %d, got %d", ErrTypeIDAssigned, t.ClassName, t.typeID.Load(), id)
}

// IsLocal reports whether this version is the shape the local process writes.
func (t *TypeDescriptor) IsLocal() bool { return t.local.Load() }

// SetLocal flags the descriptor as the local version of its class.
func (t *TypeDescriptor) SetLocal(v bool) { t.local.Store(v) }

// Fields returns the fields ordered by sequence id. Callers must not modify
// the returned slice.
func (t *TypeDescriptor) Fields() []*FieldDescriptor { return t.fields }

// NumFields returns the number of fields.
func (t *TypeDescriptor) NumFields() int { return len(t.fields) }

// VarLenCount returns the number of variable-length fields.
func (t *TypeDescriptor) VarLenCount() int { return t.varLenCount }

// Field returns the field named name, or nil.
func (t *TypeDescriptor) Field(name string) *FieldDescriptor { return t.byName[name] }

// FieldAt returns the field with the given sequence id, or nil.
func (t *TypeDescriptor) FieldAt(seq int) *FieldDescriptor {
	if seq < 0 || seq >= len(t.fields) {
		return nil
	}
	return t.fields[seq]
}

// AddFixedLengthField appends a fixed-size field.
func (t *TypeDescriptor) AddFixedLengthField(name string, ft common.FieldType, size int) (*FieldDescriptor, error) {
	if !common.IsFixed(ft) || size <= 0 {
		return nil, fmt.Errorf("%w: %s is not fixed-length", ErrBadFieldType, ft)
	}
	return t.add(&FieldDescriptor{Name: name, Type: ft, FixedSize: size, VarLenIndex: -1})
}

// AddVariableLengthField appends a variable-length field and assigns it the
// next offset-table slot.
func (t *TypeDescriptor) AddVariableLengthField(name string, ft common.FieldType) (*FieldDescriptor, error) {
	if !ft.Valid() || common.IsFixed(ft) {
		return nil, fmt.Errorf("%w: %s is not variable-length", ErrBadFieldType, ft)
	}
	f, err := t.add(&FieldDescriptor{Name: name, Type: ft, VarLenIndex: t.varLenCount})
	if err != nil {
		return nil, err
	}
	t.varLenCount++
	return f, nil
}

// AddField appends a field, choosing fixed or variable length from ft.
func (t *TypeDescriptor) AddField(name string, ft common.FieldType) (*FieldDescriptor, error) {
	if common.IsFixed(ft) {
		return t.AddFixedLengthField(name, ft, common.FixedSize(ft))
	}
	return t.AddVariableLengthField(name, ft)
}

func (t *TypeDescriptor) add(f *FieldDescriptor) (*FieldDescriptor, error) {
	if t.byName == nil {
		t.byName = make(map[string]*FieldDescriptor)
	}
	if _, ok := t.byName[f.Name]; ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrDuplicateField, f.Name, t.ClassName)
	}
	f.SequenceID = len(t.fields)
	t.fields = append(t.fields, f)
	t.byName[f.Name] = f
	return f, nil
}

// MarkIdentity flags name as an identity field.
func (t *TypeDescriptor) MarkIdentity(name string) error {
	f := t.byName[name]
	if f == nil {
		return fmt.Errorf("%w: %q on %s", ErrNoSuchField, name, t.ClassName)
	}
	f.Identity = true
	return nil
}

// IdentityFields returns the fields taking part in equality and hashing,
// sorted by name. With no field marked, every field takes part.
func (t *TypeDescriptor) IdentityFields() []*FieldDescriptor {
	var out []*FieldDescriptor
	for _, f := range t.fields {
		if f.Identity {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = append(out, t.fields...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Equal reports whether both descriptors describe the same class with the
// same fields in the same order.
func (t *TypeDescriptor) Equal(o *TypeDescriptor) bool {
	if t == o {
		return true
	}
	if o == nil || t.ClassName != o.ClassName || len(t.fields) != len(o.fields) {
		return false
	}
	for i, f := range t.fields {
		if !f.SameShape(o.fields[i]) {
			return false
		}
	}
	return true
}

// Fingerprint hashes the class name and the ordered field shapes. Equal
// descriptors have equal fingerprints.
func (t *TypeDescriptor) Fingerprint() uint64 {
	h := murmur3.New64()
	h.Write([]byte(t.ClassName))
	for _, f := range t.fields {
		h.Write([]byte{0, byte(f.Type)})
		h.Write([]byte(f.Name))
	}
	return h.Sum64()
}

// OtherVersions returns the versions this one was merged from.
func (t *TypeDescriptor) OtherVersions() []*TypeDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*TypeDescriptor(nil), t.otherVersions...)
}

func (t *TypeDescriptor) addOtherVersion(o *TypeDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.otherVersions {
		if v == o {
			return
		}
	}
	t.otherVersions = append(t.otherVersions, o)
}

// Clone returns an uninitialized copy without a type id.
func (t *TypeDescriptor) Clone() *TypeDescriptor {
	c := New(t.ClassName)
	for _, f := range t.fields {
		nf := &FieldDescriptor{Name: f.Name, Type: f.Type, FixedSize: f.FixedSize,
			VarLenIndex: f.VarLenIndex, Identity: f.Identity}
		c.add(nf)
	}
	c.varLenCount = t.varLenCount
	return c
}

func (t *TypeDescriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PdxType[%s id=%d local=%t]{", t.ClassName, t.TypeID(), t.IsLocal())
	for i, f := range t.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", f.Type, f.Name)
	}
	b.WriteString("}")
	return b.String()
}
