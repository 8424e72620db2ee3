package pdx

import "github.com/rawbytedev/pdx/pkg/registry"

// UnreadFields holds the fields of a newer class version that the local
// version does not declare. Pass it back to Writer.WriteUnreadFields to
// write them out again.
type UnreadFields struct {
	data *registry.PreservedData
}

// Len returns the number of preserved fields.
func (u *UnreadFields) Len() int {
	if u == nil || u.data == nil {
		return 0
	}
	return u.data.Len()
}

// ClassName returns the class the fields belong to, or "" when empty.
func (u *UnreadFields) ClassName() string {
	if u == nil || u.data == nil {
		return ""
	}
	return u.data.ClassName
}
