package pdxtype

import (
	"math/rand"
	"testing"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldDef struct {
	name string
	ft   common.FieldType
}

func build(t *testing.T, class string, fields ...fieldDef) *TypeDescriptor {
	t.Helper()
	td := New(class)
	for _, f := range fields {
		_, err := td.AddField(f.name, f.ft)
		require.NoError(t, err)
	}
	td.Initialize()
	return td
}

// encode lays out synthetic field bytes the way writers do and returns the
// payload+table blob with each field's expected start.
func encode(td *TypeDescriptor, varSizes []int) ([]byte, []int) {
	out := codec.NewOutput(0)
	var starts, offsets []int
	vi := 0
	for _, f := range td.Fields() {
		starts = append(starts, out.Len())
		size := f.FixedSize
		if f.IsVariableLength() {
			offsets = append(offsets, out.Len())
			size = varSizes[vi]
			vi++
		}
		for i := 0; i < size; i++ {
			out.WriteUint8(byte(f.SequenceID))
		}
	}
	total := TotalLength(out.Len(), td.VarLenCount())
	width := OffsetWidth(total)
	for i := len(offsets) - 1; i > 0; i-- {
		out.WriteUintN(width, uint32(offsets[i]))
	}
	return out.Bytes(), starts
}

func TestAddFieldSequenceAndVarIndex(t *testing.T) {
	td := build(t, "Mixed",
		fieldDef{"a", common.Int}, fieldDef{"s", common.String}, fieldDef{"b", common.Long},
		fieldDef{"arr", common.IntArray}, fieldDef{"c", common.Boolean})
	for i, f := range td.Fields() {
		assert.Equal(t, i, f.SequenceID)
	}
	assert.Equal(t, 2, td.VarLenCount())
	assert.Equal(t, 0, td.Field("s").VarLenIndex)
	assert.Equal(t, 1, td.Field("arr").VarLenIndex)
	assert.Equal(t, -1, td.Field("a").VarLenIndex)
	assert.Equal(t, 8, td.Field("b").FixedSize)
}

func TestDuplicateField(t *testing.T) {
	td := New("P")
	_, err := td.AddField("age", common.Int)
	require.NoError(t, err)
	_, err = td.AddField("age", common.String)
	require.ErrorIs(t, err, ErrDuplicateField)
	assert.Equal(t, 1, td.NumFields())
}

func TestBadFieldKinds(t *testing.T) {
	td := New("P")
	_, err := td.AddFixedLengthField("s", common.String, 4)
	require.ErrorIs(t, err, ErrBadFieldType)
	_, err = td.AddVariableLengthField("i", common.Int)
	require.ErrorIs(t, err, ErrBadFieldType)
}

func TestTotalLengthWidths(t *testing.T) {
	assert.Equal(t, 12, TotalLength(10, 3))
	assert.Equal(t, 1, OffsetWidth(TotalLength(10, 3)))
	assert.Equal(t, 2, OffsetWidth(TotalLength(300, 3)))
	assert.Equal(t, 304, TotalLength(300, 3))
	assert.Equal(t, 4, OffsetWidth(TotalLength(70000, 3)))
	assert.Equal(t, 70008, TotalLength(70000, 3))
	assert.Equal(t, 40, TotalLength(40, 0))
	assert.Equal(t, 40, TotalLength(40, 1))
}

func TestPositionOfContiguousRanges(t *testing.T) {
	layouts := [][]fieldDef{
		{{"a", common.Int}, {"b", common.Long}},
		{{"s", common.String}},
		{{"a", common.Int}, {"s", common.String}, {"b", common.Short}},
		{{"a", common.Int}, {"s", common.String}, {"b", common.Short}, {"t", common.StringArray}, {"c", common.Double}, {"d", common.Byte}},
		{{"s", common.String}, {"t", common.Object}, {"u", common.ByteArray}, {"x", common.Char}},
		{{"x", common.Date}, {"s", common.String}, {"y", common.Float}, {"t", common.Object}},
	}
	rng := rand.New(rand.NewSource(7))
	for _, fields := range layouts {
		td := build(t, "T", fields...)
		for _, scale := range []int{4, 200, 40000} {
			sizes := make([]int, td.VarLenCount())
			for i := range sizes {
				sizes[i] = rng.Intn(scale) + 1
			}
			blob, starts := encode(td, sizes)
			l, err := NewLayout(td, blob)
			require.NoError(t, err)

			prevEnd := 0
			for seq := range td.Fields() {
				start, end, err := l.Range(seq)
				require.NoError(t, err)
				assert.Equal(t, starts[seq], start, "field %d scale %d", seq, scale)
				assert.Equal(t, prevEnd, start, "ranges must be contiguous")
				assert.LessOrEqual(t, start, end)
				raw, err := l.Bytes(seq)
				require.NoError(t, err)
				for _, b := range raw {
					require.Equal(t, byte(seq), b)
				}
				prevEnd = end
			}
			assert.Equal(t, l.SerializedLength, prevEnd, "ranges must cover the payload")
		}
	}
}

func TestPositionOfUnknownSequence(t *testing.T) {
	td := build(t, "T", fieldDef{"a", common.Int})
	_, err := td.PositionOf(3, nil, 1, 4)
	require.ErrorIs(t, err, ErrNoSuchField)
}

func TestPositionOfTruncatedTable(t *testing.T) {
	td := build(t, "T", fieldDef{"s", common.String}, fieldDef{"t", common.String})
	_, err := td.PositionOf(1, nil, 1, 10)
	require.ErrorIs(t, err, codec.ErrBufferBounds)
}

func point(t *testing.T, extra ...fieldDef) *TypeDescriptor {
	return build(t, "Point", append([]fieldDef{{"x", common.Int}, {"y", common.Int}}, extra...)...)
}

func TestMergeIdempotent(t *testing.T) {
	p := point(t)
	m, created := Merge(p, p)
	assert.Same(t, p, m)
	assert.False(t, created)
}

func TestMergeSubset(t *testing.T) {
	wide := point(t, fieldDef{"z", common.Int})
	narrow := point(t)

	m, created := Merge(wide, narrow)
	assert.Same(t, wide, m)
	assert.False(t, created)

	m, created = Merge(narrow, wide)
	assert.Same(t, wide, m)
	assert.False(t, created)
}

func TestMergeUnion(t *testing.T) {
	a := point(t, fieldDef{"label", common.String})
	b := point(t, fieldDef{"z", common.Long})
	ab, created := Merge(a, b)
	require.True(t, created)
	ba, _ := Merge(b, a)

	names := func(td *TypeDescriptor) []string {
		var out []string
		for _, f := range td.Fields() {
			out = append(out, f.Name)
		}
		return out
	}
	assert.Equal(t, []string{"x", "y", "label", "z"}, names(ab))
	assert.ElementsMatch(t, names(ab), names(ba))
	assert.True(t, ab.SameFieldSet(ba))
	assert.Equal(t, 1, ab.VarLenCount())
	assert.Zero(t, ab.TypeID())
	assert.Len(t, ab.OtherVersions(), 2)
}

func TestIdentityFields(t *testing.T) {
	td := build(t, "P", fieldDef{"b", common.Int}, fieldDef{"a", common.String}, fieldDef{"c", common.Int})
	var got []string
	for _, f := range td.IdentityFields() {
		got = append(got, f.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	require.NoError(t, td.MarkIdentity("c"))
	require.Len(t, td.IdentityFields(), 1)
	assert.Equal(t, "c", td.IdentityFields()[0].Name)
	require.ErrorIs(t, td.MarkIdentity("nope"), ErrNoSuchField)
}

func TestEqualAndFingerprint(t *testing.T) {
	a := point(t, fieldDef{"z", common.Int})
	b := point(t, fieldDef{"z", common.Int})
	c := point(t, fieldDef{"z", common.Long})
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestTypeIDAssignedOnce(t *testing.T) {
	td := point(t)
	require.NoError(t, td.SetTypeID(7))
	require.NoError(t, td.SetTypeID(7))
	require.ErrorIs(t, td.SetTypeID(9), ErrTypeIDAssigned)
	assert.Equal(t, int32(7), td.TypeID())
}

func TestDescriptorBinary(t *testing.T) {
	td := build(t, "com.example.Order",
		fieldDef{"id", common.Long}, fieldDef{"customer", common.String},
		fieldDef{"lines", common.ObjectArray}, fieldDef{"total", common.Double})
	require.NoError(t, td.MarkIdentity("id"))
	require.NoError(t, td.SetTypeID(42))

	raw, err := td.MarshalBinary()
	require.NoError(t, err)
	got, err := UnmarshalDescriptor(raw)
	require.NoError(t, err)
	assert.True(t, td.Equal(got))
	assert.Equal(t, int32(42), got.TypeID())
	assert.True(t, got.Field("id").Identity)
	assert.Equal(t, td.VarLenCount(), got.VarLenCount())

	_, err = UnmarshalDescriptor(raw[:len(raw)-3])
	require.ErrorIs(t, err, codec.ErrBufferBounds)
	_, err = UnmarshalDescriptor([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrBadDescriptor)
}

func TestEnumID(t *testing.T) {
	assert.Equal(t, int32(0x02000005), EnumID(2, 5))
	assert.Equal(t, int32(0x00FFFFFF), EnumID(0, -1))
}
