package pdxtype

import "fmt"

// EnumDescriptor identifies one constant of one enum class.
type EnumDescriptor struct {
	ClassName string `msgpack:"class"`
	Name      string `msgpack:"name"`
	Ordinal   int32  `msgpack:"ordinal"`
}

// Key is the registry key of the constant; the ordinal is informative only.
func (e EnumDescriptor) Key() string { return e.ClassName + "#" + e.Name }

func (e EnumDescriptor) String() string {
	return fmt.Sprintf("%s.%s(%d)", e.ClassName, e.Name, e.Ordinal)
}

// EnumID packs a distributed system id and a per-system sequence into the
// 32-bit enum id used on the wire.
func EnumID(dsid int8, seq int32) int32 {
	return int32(dsid)<<24 | seq&0xFFFFFF
}
