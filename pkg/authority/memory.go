package authority

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/frame"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

const (
	recType byte = 't'
	recEnum byte = 'e'
)

// Memory is an in-process authority. Descriptors are kept in their binary
// form and decoded on every fetch.
type Memory struct {
	mu       sync.Mutex
	dsid     int8
	nextType int32
	nextEnum int32
	types    map[int32][]byte
	shapes   map[uint64][]int32
	enums    map[int32]pdxtype.EnumDescriptor
	enumIDs  map[string]int32
	log      logging.Logger
}

type MemoryOption func(*Memory)

// WithDistributedSystemID sets the high byte of allocated enum ids.
func WithDistributedSystemID(id int8) MemoryOption {
	return func(m *Memory) { m.dsid = id }
}

// WithFirstTypeID sets the first type id handed out.
func WithFirstTypeID(id int32) MemoryOption {
	return func(m *Memory) { m.nextType = id }
}

func WithLogger(l logging.Logger) MemoryOption {
	return func(m *Memory) { m.log = l }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		nextType: 1,
		nextEnum: 1,
		types:    make(map[int32][]byte),
		shapes:   make(map[uint64][]int32),
		enums:    make(map[int32]pdxtype.EnumDescriptor),
		enumIDs:  make(map[string]int32),
		log:      logging.Nop{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) RequestTypeID(ctx context.Context, t *pdxtype.TypeDescriptor) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fp := t.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.shapes[fp] {
		known, err := pdxtype.UnmarshalDescriptor(m.types[id])
		if err != nil {
			return 0, err
		}
		if known.Equal(t) {
			return id, nil
		}
	}

	id := m.nextType
	c := t.Clone()
	if err := c.SetTypeID(id); err != nil {
		return 0, err
	}
	b, err := c.MarshalBinary()
	if err != nil {
		return 0, err
	}
	m.nextType++
	m.types[id] = b
	m.shapes[fp] = append(m.shapes[fp], id)
	m.log.DebugCtx(ctx, "type id allocated", "class", t.ClassName, "id", id)
	return id, nil
}

func (m *Memory) FetchType(ctx context.Context, id int32) (*pdxtype.TypeDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	b, ok := m.types[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrNotFound, id)
	}
	return pdxtype.UnmarshalDescriptor(b)
}

func (m *Memory) RequestEnumValue(ctx context.Context, e pdxtype.EnumDescriptor) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.enumIDs[e.Key()]; ok {
		return id, nil
	}
	id := pdxtype.EnumID(m.dsid, m.nextEnum)
	m.nextEnum++
	m.enums[id] = e
	m.enumIDs[e.Key()] = id
	m.log.DebugCtx(ctx, "enum id allocated", "enum", e.Key(), "id", id)
	return id, nil
}

func (m *Memory) FetchEnum(ctx context.Context, id int32) (pdxtype.EnumDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return pdxtype.EnumDescriptor{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enums[id]
	if !ok {
		return e, fmt.Errorf("%w: enum %d", ErrNotFound, id)
	}
	return e, nil
}

// Save writes every allocated type and enum to w as one compressed frame.
func (m *Memory) Save(w io.Writer) error {
	m.mu.Lock()
	records := make([][]byte, 0, len(m.types)+len(m.enums))
	for _, b := range m.types {
		records = append(records, append([]byte{recType}, b...))
	}
	for id, e := range m.enums {
		out := codec.NewOutput(16 + len(e.ClassName) + len(e.Name))
		out.WriteUint8(recEnum)
		out.WriteInt32(id)
		out.WriteString(e.ClassName)
		out.WriteString(e.Name)
		out.WriteInt32(e.Ordinal)
		records = append(records, out.Bytes())
	}
	m.mu.Unlock()

	data, err := frame.Pack(frame.KindRegistry, records, true)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Load replaces the contents of m with a frame written by Save. Id counters
// continue after the highest loaded ids.
func (m *Memory) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	kind, records, err := frame.Unpack(data)
	if err != nil {
		return err
	}
	if kind != frame.KindRegistry {
		return fmt.Errorf("authority: unexpected frame kind %d", kind)
	}

	types := make(map[int32][]byte)
	shapes := make(map[uint64][]int32)
	enums := make(map[int32]pdxtype.EnumDescriptor)
	enumIDs := make(map[string]int32)
	nextType, nextEnum := int32(1), int32(1)
	for _, rec := range records {
		if len(rec) == 0 {
			return fmt.Errorf("authority: empty record")
		}
		switch rec[0] {
		case recType:
			b := append([]byte(nil), rec[1:]...)
			t, err := pdxtype.UnmarshalDescriptor(b)
			if err != nil {
				return err
			}
			id := t.TypeID()
			types[id] = b
			fp := t.Fingerprint()
			shapes[fp] = append(shapes[fp], id)
			if id >= nextType {
				nextType = id + 1
			}
		case recEnum:
			in := codec.NewInput(rec[1:])
			id, err := in.ReadInt32()
			if err != nil {
				return err
			}
			var e pdxtype.EnumDescriptor
			if e.ClassName, err = in.ReadString(); err != nil {
				return err
			}
			if e.Name, err = in.ReadString(); err != nil {
				return err
			}
			if e.Ordinal, err = in.ReadInt32(); err != nil {
				return err
			}
			enums[id] = e
			enumIDs[e.Key()] = id
			if seq := id & 0xFFFFFF; seq >= nextEnum {
				nextEnum = seq + 1
			}
		default:
			return fmt.Errorf("authority: unknown record tag %q", rec[0])
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.types, m.shapes, m.enums, m.enumIDs = types, shapes, enums, enumIDs
	if nextType > m.nextType {
		m.nextType = nextType
	}
	if nextEnum > m.nextEnum {
		m.nextEnum = nextEnum
	}
	m.log.Info("authority loaded", "types", len(types), "enums", len(enums))
	return nil
}
