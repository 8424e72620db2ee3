package pdx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/pkg/authority"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

func newTestSerializer(t testing.TB, auth authority.Authority, opts ...Option) *Serializer {
	t.Helper()
	s, err := NewSerializer(auth, append([]Option{WithLogger(logging.Nop{})}, opts...)...)
	require.NoError(t, err)
	return s
}

// pointV1 is the older shape of Point.
type pointV1 struct {
	Handle
	X, Y int32
}

func (p *pointV1) PdxClassName() string { return "Point" }

func (p *pointV1) ToPdx(w Writer) error {
	if err := w.WriteInt32("x", p.X); err != nil {
		return err
	}
	return w.WriteInt32("y", p.Y)
}

func (p *pointV1) FromPdx(r Reader) (err error) {
	if p.X, err = r.ReadInt32("x"); err != nil {
		return err
	}
	p.Y, err = r.ReadInt32("y")
	return err
}

// pointV2 adds z.
type pointV2 struct {
	X, Y, Z int32
}

func (p *pointV2) PdxClassName() string { return "Point" }

func (p *pointV2) ToPdx(w Writer) error {
	for _, f := range []struct {
		name string
		v    int32
	}{{"x", p.X}, {"y", p.Y}, {"z", p.Z}} {
		if err := w.WriteInt32(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

func (p *pointV2) FromPdx(r Reader) (err error) {
	if p.X, err = r.ReadInt32("x"); err != nil {
		return err
	}
	if p.Y, err = r.ReadInt32("y"); err != nil {
		return err
	}
	p.Z, err = r.ReadInt32("z")
	return err
}

// pointExplicit keeps unread fields itself instead of embedding Handle.
type pointExplicit struct {
	X, Y   int32
	unread *UnreadFields
}

func (p *pointExplicit) PdxClassName() string { return "Point" }

func (p *pointExplicit) ToPdx(w Writer) error {
	if err := w.WriteUnreadFields(p.unread); err != nil {
		return err
	}
	if err := w.WriteInt32("x", p.X); err != nil {
		return err
	}
	return w.WriteInt32("y", p.Y)
}

func (p *pointExplicit) FromPdx(r Reader) (err error) {
	if p.X, err = r.ReadInt32("x"); err != nil {
		return err
	}
	if p.Y, err = r.ReadInt32("y"); err != nil {
		return err
	}
	p.unread = r.ReadUnreadFields()
	return nil
}

// scripted lets a test choose what ToPdx and FromPdx do.
type scripted struct {
	class string
	write func(w Writer) error
	read  func(r Reader) error
}

func (s *scripted) PdxClassName() string { return s.class }
func (s *scripted) ToPdx(w Writer) error { return s.write(w) }

func (s *scripted) FromPdx(r Reader) error {
	if s.read == nil {
		return nil
	}
	return s.read(r)
}

type evolution struct {
	auth   *authority.Memory
	older  *Serializer
	newer  *Serializer
	v1Data []byte
	v2Data []byte
}

// newEvolution sets up two processes sharing one authority: the older one
// writes Point{x,y} as type 7, the newer one Point{x,y,z} as type 9.
func newEvolution(t *testing.T, olderOpts ...Option) *evolution {
	ctx := context.Background()
	e := &evolution{auth: authority.NewMemory(authority.WithFirstTypeID(7))}
	e.older = newTestSerializer(t, e.auth, olderOpts...)
	e.newer = newTestSerializer(t, e.auth)
	e.older.RegisterType("Point", func() Serializable { return &pointV1{} })
	e.newer.RegisterType("Point", func() Serializable { return &pointV2{} })

	var err error
	e.v1Data, err = e.older.Serialize(ctx, &pointV1{X: 1, Y: 2})
	require.NoError(t, err)
	require.Equal(t, []byte{common.DSPdxByteID, 7}, e.v1Data[:2])

	_, err = e.newer.Serialize(ctx, &scripted{class: "Dummy", write: func(w Writer) error {
		return w.WriteBool("flag", true)
	}})
	require.NoError(t, err)

	e.v2Data, err = e.newer.Serialize(ctx, &pointV2{X: 1, Y: 2, Z: 3})
	require.NoError(t, err)
	require.Equal(t, []byte{common.DSPdxByteID, 9}, e.v2Data[:2])
	return e
}

func TestNewerReadsOlderWithDefaults(t *testing.T) {
	e := newEvolution(t)
	v, err := e.newer.Deserialize(context.Background(), e.v1Data)
	require.NoError(t, err)
	require.Equal(t, &pointV2{X: 1, Y: 2, Z: 0}, v)
}

func TestOlderPreservesNewerFields(t *testing.T) {
	ctx := context.Background()
	e := newEvolution(t)

	v, err := e.older.Deserialize(ctx, e.v2Data)
	require.NoError(t, err)
	p := v.(*pointV1)
	require.Equal(t, int32(1), p.X)
	require.Equal(t, int32(2), p.Y)
	require.Equal(t, 1, e.older.Registry().PreservedEntries())

	merged, ok := e.older.Registry().MergedType(9)
	require.True(t, ok)
	var names []string
	for _, f := range merged.Fields() {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"x", "y", "z"}, names)

	p.X = 10
	out, err := e.older.Serialize(ctx, p)
	require.NoError(t, err)
	require.Equal(t, byte(9), out[1], "re-serialized with the merged type")

	back, err := e.newer.Deserialize(ctx, out)
	require.NoError(t, err)
	require.Equal(t, &pointV2{X: 10, Y: 2, Z: 3}, back)

	p.ReleaseUnreadFields()
	require.Equal(t, 0, e.older.Registry().PreservedEntries())
	out, err = e.older.Serialize(ctx, p)
	require.NoError(t, err)
	require.Equal(t, byte(7), out[1])
}

func TestIgnoreUnreadFields(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.IgnoreUnreadFields = true
	e := newEvolution(t, WithOptions(opts))

	v, err := e.older.Deserialize(ctx, e.v2Data)
	require.NoError(t, err)
	require.Equal(t, 0, e.older.Registry().PreservedEntries())

	out, err := e.older.Serialize(ctx, v)
	require.NoError(t, err)
	back, err := e.newer.Deserialize(ctx, out)
	require.NoError(t, err)
	require.Equal(t, &pointV2{X: 1, Y: 2}, back)
}

func TestExplicitUnreadFields(t *testing.T) {
	ctx := context.Background()
	e := newEvolution(t)
	third := newTestSerializer(t, e.auth)
	third.RegisterType("Point", func() Serializable { return &pointExplicit{} })

	v, err := third.Deserialize(ctx, e.v2Data)
	require.NoError(t, err)
	p := v.(*pointExplicit)
	require.Equal(t, 1, p.unread.Len())
	require.Equal(t, "Point", p.unread.ClassName())
	local, ok := third.Registry().LocalType("Point")
	require.True(t, ok)
	require.Equal(t, int32(7), local.TypeID(), "discovered shape matches the older writer")

	p.Y = 20
	out, err := third.Serialize(ctx, p)
	require.NoError(t, err)
	back, err := e.newer.Deserialize(ctx, out)
	require.NoError(t, err)
	require.Equal(t, &pointV2{X: 1, Y: 20, Z: 3}, back)
}

func TestUnreadFieldsAfterFieldWrite(t *testing.T) {
	ctx := context.Background()
	e := newEvolution(t)
	third := newTestSerializer(t, e.auth)
	third.RegisterType("Point", func() Serializable { return &pointExplicit{} })
	v, err := third.Deserialize(ctx, e.v2Data)
	require.NoError(t, err)
	unread := v.(*pointExplicit).unread

	_, err = third.Serialize(ctx, &scripted{class: "Point", write: func(w Writer) error {
		require.NoError(t, w.WriteInt32("x", 1))
		return w.WriteUnreadFields(unread)
	}})
	require.ErrorIs(t, err, ErrFieldShapeMismatch)
}

func TestDuplicateFieldWrite(t *testing.T) {
	s := newTestSerializer(t, nil)
	person := func(w Writer) error {
		if err := w.WriteString("name", "ada"); err != nil {
			return err
		}
		if err := w.WriteInt32("age", 36); err != nil {
			return err
		}
		return w.WriteInt32("age", 37)
	}
	_, err := s.Serialize(context.Background(), &scripted{class: "Person", write: person})
	require.ErrorIs(t, err, ErrDuplicateField)
	_, ok := s.Registry().LocalType("Person")
	require.False(t, ok)
}

func TestWriteUnknownFieldForKnownType(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	_, err := s.Serialize(ctx, &pointV1{X: 1})
	require.NoError(t, err)

	_, err = s.Serialize(ctx, &scripted{class: "Point", write: func(w Writer) error {
		return w.WriteInt32("w", 1)
	}})
	require.ErrorIs(t, err, ErrFieldShapeMismatch)

	_, err = s.Serialize(ctx, &scripted{class: "Point", write: func(w Writer) error {
		return w.WriteInt64("x", 1)
	}})
	require.ErrorIs(t, err, ErrFieldShapeMismatch)
}

func TestWriteFieldRejectsWrongGoType(t *testing.T) {
	s := newTestSerializer(t, nil)
	_, err := s.Serialize(context.Background(), &scripted{class: "Bad", write: func(w Writer) error {
		return w.WriteField("n", 5, Int)
	}})
	require.ErrorIs(t, err, ErrFieldShapeMismatch)
}

func TestCollectingReaderRejectsBadFieldType(t *testing.T) {
	remote := pdxtype.New("Point")
	_, err := remote.AddField("x", common.Int)
	require.NoError(t, err)
	layout, err := pdxtype.NewLayout(remote, []byte{0, 0, 0, 1})
	require.NoError(t, err)

	s := newTestSerializer(t, nil)
	r := s.newReader(context.Background(), layout)
	r.collect = pdxtype.New("Point")
	_, err = r.seek("y", FieldType(100))
	require.ErrorIs(t, err, ErrFieldShapeMismatch)
	require.ErrorIs(t, err, pdxtype.ErrBadFieldType)
	assert.Zero(t, r.collect.NumFields())

	ok, err := r.seek("x", Int)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, r.collect.NumFields())
}

func TestReadTypeMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	data, err := s.Serialize(ctx, &pointV1{X: 1, Y: 2})
	require.NoError(t, err)

	other := newTestSerializer(t, s.Registry().Authority())
	other.RegisterType("Point", func() Serializable {
		return &scripted{class: "Point", read: func(r Reader) error {
			_, err := r.ReadString("x")
			return err
		}}
	})
	_, err = other.Deserialize(ctx, data)
	require.ErrorIs(t, err, ErrFieldShapeMismatch)
}

func TestUnknownTypeID(t *testing.T) {
	s := newTestSerializer(t, nil)
	_, err := s.Deserialize(context.Background(), []byte{common.DSPdxByteID, 42, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrUnknownTypeID)
	require.ErrorIs(t, err, authority.ErrNotFound)
}

func TestOutOfOrderWritesMatchDeclaredOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	ordered, err := s.Serialize(ctx, &scripted{class: "Pair", write: func(w Writer) error {
		if err := w.WriteString("a", "first"); err != nil {
			return err
		}
		return w.WriteInt64("b", 2)
	}})
	require.NoError(t, err)

	reversed, err := s.Serialize(ctx, &scripted{class: "Pair", write: func(w Writer) error {
		if err := w.WriteInt64("b", 2); err != nil {
			return err
		}
		return w.WriteString("a", "first")
	}})
	require.NoError(t, err)
	require.Equal(t, ordered, reversed)
}

// allTypes writes one field of every type.
type allTypes struct {
	Bool    bool
	Byte    int8
	Char    uint16
	Short   int16
	Int     int32
	Long    int64
	Float   float32
	Double  float64
	Date    time.Time
	Str     string
	Obj     any
	Bools   []bool
	Chars   []uint16
	Bytes   []byte
	Shorts  []int16
	Ints    []int32
	Longs   []int64
	Floats  []float32
	Doubles []float64
	Strs    []string
	Objs    []any
	Blobs   [][]byte

	partial bool
}

func (a *allTypes) PdxClassName() string { return "AllTypes" }

func (a *allTypes) ToPdx(w Writer) error {
	if a.partial {
		return w.WriteInt32("int", a.Int)
	}
	steps := []error{
		w.WriteBool("bool", a.Bool),
		w.WriteInt8("byte", a.Byte),
		w.WriteChar("char", a.Char),
		w.WriteInt16("short", a.Short),
		w.WriteInt32("int", a.Int),
		w.WriteInt64("long", a.Long),
		w.WriteFloat32("float", a.Float),
		w.WriteFloat64("double", a.Double),
		w.WriteDate("date", a.Date),
		w.WriteString("str", a.Str),
		w.WriteObject("obj", a.Obj),
		w.WriteBoolArray("bools", a.Bools),
		w.WriteCharArray("chars", a.Chars),
		w.WriteByteArray("bytes", a.Bytes),
		w.WriteInt16Array("shorts", a.Shorts),
		w.WriteInt32Array("ints", a.Ints),
		w.WriteInt64Array("longs", a.Longs),
		w.WriteFloat32Array("floats", a.Floats),
		w.WriteFloat64Array("doubles", a.Doubles),
		w.WriteStringArray("strs", a.Strs),
		w.WriteObjectArray("objs", a.Objs),
		w.WriteByteArrays("blobs", a.Blobs),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *allTypes) FromPdx(r Reader) (err error) {
	read := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	read(func() (e error) { a.Bool, e = r.ReadBool("bool"); return })
	read(func() (e error) { a.Byte, e = r.ReadInt8("byte"); return })
	read(func() (e error) { a.Char, e = r.ReadChar("char"); return })
	read(func() (e error) { a.Short, e = r.ReadInt16("short"); return })
	read(func() (e error) { a.Int, e = r.ReadInt32("int"); return })
	read(func() (e error) { a.Long, e = r.ReadInt64("long"); return })
	read(func() (e error) { a.Float, e = r.ReadFloat32("float"); return })
	read(func() (e error) { a.Double, e = r.ReadFloat64("double"); return })
	read(func() (e error) { a.Date, e = r.ReadDate("date"); return })
	read(func() (e error) { a.Str, e = r.ReadString("str"); return })
	read(func() (e error) { a.Obj, e = r.ReadObject("obj"); return })
	read(func() (e error) { a.Bools, e = r.ReadBoolArray("bools"); return })
	read(func() (e error) { a.Chars, e = r.ReadCharArray("chars"); return })
	read(func() (e error) { a.Bytes, e = r.ReadByteArray("bytes"); return })
	read(func() (e error) { a.Shorts, e = r.ReadInt16Array("shorts"); return })
	read(func() (e error) { a.Ints, e = r.ReadInt32Array("ints"); return })
	read(func() (e error) { a.Longs, e = r.ReadInt64Array("longs"); return })
	read(func() (e error) { a.Floats, e = r.ReadFloat32Array("floats"); return })
	read(func() (e error) { a.Doubles, e = r.ReadFloat64Array("doubles"); return })
	read(func() (e error) { a.Strs, e = r.ReadStringArray("strs"); return })
	read(func() (e error) { a.Objs, e = r.ReadObjectArray("objs"); return })
	read(func() (e error) { a.Blobs, e = r.ReadByteArrays("blobs"); return })
	return err
}

func TestAllFieldTypesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	s.RegisterType("AllTypes", func() Serializable { return &allTypes{} })
	s.RegisterType("Point", func() Serializable { return &pointV2{} })

	in := &allTypes{
		Bool: true, Byte: -5, Char: 'é', Short: -300, Int: 1 << 20, Long: -1 << 40,
		Float: 1.5, Double: -2.25,
		Date:    time.UnixMilli(1700000000123).UTC(),
		Str:     "héllo wörld",
		Obj:     &pointV2{X: 1, Y: 2, Z: 3},
		Bools:   []bool{true, false, true},
		Chars:   []uint16{'a', 0x263A},
		Bytes:   []byte{0, 1, 255},
		Shorts:  []int16{-1, 2},
		Ints:    []int32{},
		Longs:   []int64{1, -1},
		Floats:  []float32{0.5},
		Doubles: []float64{3.125, -0},
		Strs:    []string{"", "a", "日本"},
		Objs:    []any{int32(1), "two", nil, []byte{3}, int64(4), true, []any{float64(5)}},
		Blobs:   [][]byte{{1}, nil, {}},
	}
	data, err := s.Serialize(ctx, in)
	require.NoError(t, err)
	out, err := s.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestMissingFieldsWrittenAsDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	s.RegisterType("AllTypes", func() Serializable { return &allTypes{} })

	_, err := s.Serialize(ctx, &allTypes{Str: "known shape"})
	require.NoError(t, err)
	data, err := s.Serialize(ctx, &allTypes{partial: true, Int: 42})
	require.NoError(t, err)

	out, err := s.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, &allTypes{Int: 42}, out)
}

func TestReadSerializedReturnsInstance(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.ReadSerialized = true
	s := newTestSerializer(t, nil, WithOptions(opts))
	s.RegisterType("Point", func() Serializable { return &pointV1{} })

	data, err := s.Serialize(ctx, &pointV1{X: 3, Y: 4})
	require.NoError(t, err)
	v, err := s.Deserialize(ctx, data)
	require.NoError(t, err)
	inst, ok := v.(*Instance)
	require.True(t, ok)
	require.Equal(t, data, inst.Bytes())

	obj, err := inst.ToObject(ctx)
	require.NoError(t, err)
	p := obj.(*pointV1)
	assert.Equal(t, int32(3), p.X)
	assert.Equal(t, int32(4), p.Y)

	again, err := s.Serialize(ctx, inst)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestTopLevelValues(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	for _, v := range []any{
		nil, true, int8(-1), uint16(7), int16(300), int32(-70000), int64(1 << 50),
		float32(2.5), float64(-0.125), "text", []byte{1, 2}, []any{"a", int32(2), nil},
		time.UnixMilli(86400000).UTC(),
	} {
		data, err := s.Serialize(ctx, v)
		require.NoError(t, err)
		out, err := s.Deserialize(ctx, data)
		require.NoError(t, err)
		require.Equal(t, v, out)
	}

	_, err := s.Serialize(ctx, make(chan int))
	require.ErrorIs(t, err, ErrUnsupportedObject)
}

func TestEnums(t *testing.T) {
	ctx := context.Background()
	auth := authority.NewMemory(authority.WithDistributedSystemID(2))
	a := newTestSerializer(t, auth)
	b := newTestSerializer(t, auth)

	red := Enum{ClassName: "Color", Name: "RED", Ordinal: 0}
	data, err := a.Serialize(ctx, red)
	require.NoError(t, err)
	require.Equal(t, []byte{common.DSPdxEnum, 2, 1}, data)

	v, err := b.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, red, v)

	green := Enum{ClassName: "Color", Name: "GREEN", Ordinal: 1}
	data, err = a.Serialize(ctx, []any{red, green})
	require.NoError(t, err)
	v, err = b.Deserialize(ctx, data)
	require.NoError(t, err)
	require.Equal(t, []any{red, green}, v)
}

func TestCloseClearsRegistry(t *testing.T) {
	ctx := context.Background()
	s := newTestSerializer(t, nil)
	data, err := s.Serialize(ctx, &pointV1{X: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, ok := s.Registry().LocalType("Point")
	require.False(t, ok)

	v, err := s.Deserialize(ctx, data)
	require.NoError(t, err, "types are fetched again from the authority")
	require.IsType(t, &Instance{}, v)
}

func FuzzDeserialize(f *testing.F) {
	s := newTestSerializer(f, nil)
	seed, err := s.Serialize(context.Background(), &allTypes{Str: "seed", Objs: []any{int32(1)}})
	require.NoError(f, err)
	f.Add(seed)
	f.Add([]byte{common.DSObjectArray, 0xFE, 0xFF})
	f.Add([]byte{common.DSPdx, 0, 0, 0, 1, 0x7F, 0, 0, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = s.Deserialize(context.Background(), data)
	})
}
