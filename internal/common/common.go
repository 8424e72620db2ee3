package common

import (
	"reflect"
	"time"
)

// FieldType is the wire tag of a PDX field. The ordinals are part of the
// serialized type descriptor and must not be reordered.
type FieldType int8

const (
	Boolean FieldType = iota
	Byte
	Char
	Short
	Int
	Long
	Float
	Double
	Date
	String
	Object
	BooleanArray
	CharArray
	ByteArray
	ShortArray
	IntArray
	LongArray
	FloatArray
	DoubleArray
	StringArray
	ObjectArray
	ArrayOfByteArrays
)

// NumFieldTypes is the number of defined field types.
const NumFieldTypes = int(ArrayOfByteArrays) + 1

var fieldTypeNames = [NumFieldTypes]string{
	"boolean", "byte", "char", "short", "int", "long", "float", "double",
	"Date", "String", "Object", "boolean[]", "char[]", "byte[]", "short[]",
	"int[]", "long[]", "float[]", "double[]", "String[]", "Object[]", "byte[][]",
}

func (t FieldType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return fieldTypeNames[t]
}

// Valid reports whether t is one of the defined field types.
func (t FieldType) Valid() bool {
	return t >= Boolean && t <= ArrayOfByteArrays
}

// IsFixed reports whether t has a fixed wire width.
func IsFixed(t FieldType) bool {
	return t >= Boolean && t <= Date
}

// FixedSize returns the byte width for fixed-size field types, -1 otherwise.
func FixedSize(t FieldType) int {
	switch t {
	case Boolean, Byte:
		return 1
	case Char, Short:
		return 2
	case Int, Float:
		return 4
	case Long, Double, Date:
		return 8
	default:
		return -1
	}
}

// DS codes prefix values written through the generic object path.
const (
	DSNullObj          byte = 41
	DSString           byte = 42
	DSClass            byte = 43
	DSDataSerializable byte = 45
	DSBytes            byte = 46
	DSObjectArray      byte = 52
	DSBoolean          byte = 53
	DSCharacter        byte = 54
	DSByte             byte = 55
	DSShort            byte = 56
	DSInt              byte = 57
	DSLong             byte = 58
	DSFloat            byte = 59
	DSDouble           byte = 60
	DSDate             byte = 61
	DSNullString       byte = 69
	DSASCIIString      byte = 87
	DSASCIIStringHuge  byte = 88
	DSStringHuge       byte = 89
	DSPdx              byte = 93
	DSPdxEnum          byte = 94
	DSPdxShortID       byte = 95
	DSPdxByteID        byte = 96
)

// ObjectArrayElementType is the element class written ahead of object arrays.
const ObjectArrayElementType = "java.lang.Object"

// IsPdxMarker reports whether b opens a PDX envelope.
func IsPdxMarker(b byte) bool {
	return b == DSPdx || b == DSPdxShortID || b == DSPdxByteID
}

var (
	zero1    = []byte{0}
	zero2    = []byte{0, 0}
	zero4    = []byte{0, 0, 0, 0}
	zero8    = []byte{0, 0, 0, 0, 0, 0, 0, 0}
	nullDate = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	nullStr  = []byte{DSNullString}
	nullObj  = []byte{DSNullObj}
	nullArr  = []byte{0xFF}
)

// DefaultBytes returns the encoding of the default value of t. A field that
// is absent from one of two compared instances is compared against these.
func DefaultBytes(t FieldType) []byte {
	switch t {
	case Boolean, Byte:
		return zero1
	case Char, Short:
		return zero2
	case Int, Float:
		return zero4
	case Long, Double:
		return zero8
	case Date:
		return nullDate
	case String:
		return nullStr
	case Object:
		return nullObj
	case BooleanArray, CharArray, ByteArray, ShortArray, IntArray, LongArray,
		FloatArray, DoubleArray, StringArray, ObjectArray, ArrayOfByteArrays:
		return nullArr
	}
	panic("pdx: default bytes for unknown field type " + t.String())
}

var timeType = reflect.TypeOf(time.Time{})

// FieldTypeOf maps a Go type onto the field type used to encode it.
// Types with no natural mapping are reported as Object.
func FieldTypeOf(t reflect.Type) FieldType {
	if t == timeType {
		return Date
	}
	switch t.Kind() {
	case reflect.Bool:
		return Boolean
	case reflect.Int8, reflect.Uint8:
		return Byte
	case reflect.Uint16:
		return Char
	case reflect.Int16:
		return Short
	case reflect.Int32, reflect.Uint32:
		return Int
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return Long
	case reflect.Float32:
		return Float
	case reflect.Float64:
		return Double
	case reflect.String:
		return String
	case reflect.Slice:
		switch elem := t.Elem(); elem.Kind() {
		case reflect.Bool:
			return BooleanArray
		case reflect.Uint16:
			return CharArray
		case reflect.Int8, reflect.Uint8:
			return ByteArray
		case reflect.Int16:
			return ShortArray
		case reflect.Int32:
			return IntArray
		case reflect.Int64:
			return LongArray
		case reflect.Float32:
			return FloatArray
		case reflect.Float64:
			return DoubleArray
		case reflect.String:
			return StringArray
		case reflect.Slice:
			if k := elem.Elem().Kind(); k == reflect.Uint8 || k == reflect.Int8 {
				return ArrayOfByteArrays
			}
			return ObjectArray
		default:
			return ObjectArray
		}
	}
	return Object
}
