// Package pdx implements the PDX portable data exchange format: a
// self-describing, schema-evolving binary encoding where each object
// carries a type id resolved through a shared type authority.
package pdx

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/internal/metrics"
	"github.com/rawbytedev/pdx/pkg/authority"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
	"github.com/rawbytedev/pdx/pkg/registry"
)

// Serializable is implemented by types that write and read themselves as
// PDX objects.
type Serializable interface {
	PdxClassName() string
	ToPdx(w Writer) error
	FromPdx(r Reader) error
}

// Serializer encodes and decodes PDX objects. It is safe for concurrent
// use.
type Serializer struct {
	opts      Options
	reg       *registry.Registry
	log       logging.Logger
	metrics   metrics.Recorder
	factories *xsync.MapOf[string, func() Serializable]

	planMu sync.RWMutex
	plans  map[reflect.Type]*structPlan
}

// NewSerializer returns a serializer backed by auth. A nil auth gets a
// private in-memory authority.
func NewSerializer(auth authority.Authority, opts ...Option) (*Serializer, error) {
	c := &config{opts: DefaultOptions()}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = logging.NewDefaultLogger(logging.ParseLevel(c.opts.LogLevel))
	}
	if c.recorder == nil {
		if c.promReg != nil {
			p, err := metrics.NewPrometheus(c.opts.MetricsNamespace, c.promReg)
			if err != nil {
				return nil, fmt.Errorf("pdx: metrics: %w", err)
			}
			c.recorder = p
		} else {
			c.recorder = metrics.Noop{}
		}
	}
	if auth == nil {
		auth = authority.NewMemory(
			authority.WithDistributedSystemID(c.opts.DistributedSystemID),
			authority.WithLogger(c.logger),
		)
	}
	s := &Serializer{
		opts:    c.opts,
		log:     c.logger,
		metrics: c.recorder,
		reg: registry.New(auth,
			registry.WithLogger(c.logger),
			registry.WithMetrics(c.recorder),
			registry.WithPreservedTTL(c.opts.PreservedDataTTL),
		),
		factories: xsync.NewMapOf[string, func() Serializable](),
		plans:     make(map[reflect.Type]*structPlan),
	}
	return s, nil
}

// Registry exposes the type registry, mainly for snapshots and inspection.
func (s *Serializer) Registry() *registry.Registry { return s.reg }

func (s *Serializer) Options() Options { return s.opts }

// RegisterType associates className with a constructor used when objects
// of that class are deserialized.
func (s *Serializer) RegisterType(className string, factory func() Serializable) {
	s.factories.Store(className, factory)
}

func (s *Serializer) factory(className string) func() Serializable {
	f, _ := s.factories.Load(className)
	return f
}

// Serialize encodes v. v may be a Serializable, a registered struct, an
// *Instance, an Enum, nil, or one of the primitive and slice types listed
// for Object fields.
func (s *Serializer) Serialize(ctx context.Context, v any) ([]byte, error) {
	out := codec.NewOutput(128)
	if err := s.writeObject(ctx, out, v); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Deserialize decodes one object from data.
func (s *Serializer) Deserialize(ctx context.Context, data []byte) (any, error) {
	in := codec.NewInput(data)
	return s.readObject(ctx, &in, s.opts.ReadSerialized)
}

// Close drops every cached type, enum and preserved entry.
func (s *Serializer) Close() error {
	s.reg.Clear()
	return nil
}

func (s *Serializer) writePdx(ctx context.Context, out *codec.Output, obj Serializable) error {
	class := obj.PdxClassName()
	w := s.newWriter(ctx)
	if local, ok := s.reg.LocalType(class); ok {
		target, pd := local, (*registry.PreservedData)(nil)
		if !s.opts.IgnoreUnreadFields {
			if h := handleOf(obj); h != nil {
				if id, ok := h.lookup(); ok {
					if d, ok := s.reg.PreservedData(id); ok {
						if m, ok := s.reg.Lookup(d.MergedTypeID); ok {
							target, pd = m, d
						}
					}
				}
			}
		}
		w.useType(target, pd)
	} else {
		w.collect(class)
	}
	if err := obj.ToPdx(w); err != nil {
		return fmt.Errorf("pdx: write %s: %w", class, err)
	}
	payload, varStarts, err := w.finish()
	if err != nil {
		return fmt.Errorf("pdx: write %s: %w", class, err)
	}
	td := w.td
	if w.collecting {
		if _, err := s.reg.TypeID(ctx, td); err != nil {
			return err
		}
		td = s.reg.RegisterLocal(td)
		s.log.DebugCtx(ctx, "local type discovered", "class", class, "type_id", td.TypeID(), "fields", td.NumFields())
	}
	appendEnvelope(out, td.TypeID(), payload, varStarts)
	s.metrics.RecordSerialize(class)
	return nil
}

// readPdx decodes the object whose marker has just been consumed.
func (s *Serializer) readPdx(ctx context.Context, in *codec.Input, marker byte, serialized bool) (any, error) {
	start := in.Pos() - 1
	id, blob, err := readHeader(in, marker)
	if err != nil {
		return nil, err
	}
	remote, err := s.reg.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %w", ErrUnknownTypeID, id, err)
	}
	factory := s.factory(remote.ClassName)
	if serialized || factory == nil {
		inst, err := s.newInstance(remote, in.Buffer()[start:in.Pos()], len(blob))
		if err != nil {
			return nil, err
		}
		s.metrics.RecordDeserialize(remote.ClassName, "instance")
		return inst, nil
	}
	obj := factory()
	if err := s.readInto(ctx, obj, remote, blob); err != nil {
		return nil, err
	}
	return unwrapObject(obj), nil
}

// readInto fills obj from blob written with the remote type.
func (s *Serializer) readInto(ctx context.Context, obj Serializable, remote *pdxtype.TypeDescriptor, blob []byte) error {
	class := remote.ClassName
	layout, err := pdxtype.NewLayout(remote, blob)
	if err != nil {
		return fmt.Errorf("pdx: read %s: %w", class, err)
	}
	r := s.newReader(ctx, layout)
	path := "known"
	if !remote.IsLocal() {
		if local, ok := s.reg.LocalType(class); ok {
			path = "merging"
			r.local = local
			if r.merged, err = s.mergedFor(ctx, local, remote); err != nil {
				return err
			}
		} else {
			path = "discovering"
			r.collect = pdxtype.New(class)
		}
	}
	if err := obj.FromPdx(r); err != nil {
		return fmt.Errorf("pdx: read %s: %w", class, err)
	}
	if r.collect != nil {
		if r.local, r.merged, err = s.discovered(ctx, r.collect, remote); err != nil {
			return err
		}
	}
	if !s.opts.IgnoreUnreadFields {
		pd, err := r.captureUnread()
		if err != nil {
			return fmt.Errorf("pdx: read %s: %w", class, err)
		}
		if pd != nil {
			if r.unread != nil {
				r.unread.data = pd
			}
			if h := handleOf(obj); h != nil {
				s.reg.SetPreservedData(h.ID(), pd)
				h.track(s.reg)
			}
			s.log.DebugCtx(ctx, "unread fields captured", "class", class, "fields", pd.Len(), "merged_id", pd.MergedTypeID)
		}
	}
	s.metrics.RecordDeserialize(class, path)
	return nil
}

// discovered registers the descriptor collected while reading a class for
// the first time and returns it with the merged type, which is nil when the
// collected and remote types match.
func (s *Serializer) discovered(ctx context.Context, collected, remote *pdxtype.TypeDescriptor) (*pdxtype.TypeDescriptor, *pdxtype.TypeDescriptor, error) {
	if collected.Equal(remote) {
		return s.reg.RegisterLocal(remote), nil, nil
	}
	if _, err := s.reg.TypeID(ctx, collected); err != nil {
		return nil, nil, err
	}
	local := s.reg.RegisterLocal(collected)
	s.log.DebugCtx(ctx, "local type discovered on read", "class", local.ClassName, "type_id", local.TypeID())
	merged, err := s.mergedFor(ctx, local, remote)
	if err != nil {
		return nil, nil, err
	}
	return local, merged, nil
}

// mergedFor returns the union of local and remote, registering it when it
// is a new shape.
func (s *Serializer) mergedFor(ctx context.Context, local, remote *pdxtype.TypeDescriptor) (*pdxtype.TypeDescriptor, error) {
	if m, ok := s.reg.MergedType(remote.TypeID()); ok {
		return m, nil
	}
	m, created := pdxtype.Merge(local, remote)
	if created {
		if _, err := s.reg.TypeID(ctx, m); err != nil {
			return nil, err
		}
		m = s.reg.Register(m)
		from := make([]int32, 0, 2)
		for _, v := range m.OtherVersions() {
			from = append(from, v.TypeID())
		}
		s.log.InfoCtx(ctx, "merged type created", "class", m.ClassName,
			"merged_from", from, "merged_id", m.TypeID())
	}
	s.reg.SetMerged(remote.TypeID(), m)
	s.metrics.RecordMerge(m.ClassName, created)
	return m, nil
}

func handleOf(obj Serializable) *Handle {
	if so, ok := obj.(*structObject); ok {
		return so.handle()
	}
	if h, ok := obj.(identifiable); ok {
		return h.pdxHandle()
	}
	return nil
}

func unwrapObject(obj Serializable) any {
	if so, ok := obj.(*structObject); ok {
		return so.value()
	}
	return obj
}
