package pdxtype

import (
	"fmt"

	"github.com/rawbytedev/pdx/internal/common"
)

// FieldDescriptor describes one field of one type version. It is immutable
// once its owning TypeDescriptor has been initialized.
type FieldDescriptor struct {
	Name        string
	Type        common.FieldType
	FixedSize   int // zero for variable-length fields
	SequenceID  int
	VarLenIndex int // -1 for fixed-length fields
	Identity    bool

	// layout, filled in by TypeDescriptor.Initialize
	relOffset   int
	varOffsetID int
}

// IsVariableLength reports whether the field has no fixed wire width.
func (f *FieldDescriptor) IsVariableLength() bool { return f.FixedSize == 0 }

// SameShape reports whether two fields have the same name and type.
func (f *FieldDescriptor) SameShape(o *FieldDescriptor) bool {
	return o != nil && f.Name == o.Name && f.Type == o.Type
}

func (f *FieldDescriptor) String() string {
	return fmt.Sprintf("%s %s seq=%d var=%d rel=%d anchor=%d", f.Type, f.Name,
		f.SequenceID, f.VarLenIndex, f.relOffset, f.varOffsetID)
}
