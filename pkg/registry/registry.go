// Package registry caches type descriptors, merged types, enum ids and the
// unread data preserved for round-tripping newer versions of a class.
//
// Lookups never block. Authority round trips are serialized per missing key:
// a type id, a type shape, an enum id or an enum constant. Concurrent callers
// for the same key wait for that round trip; other keys proceed.
package registry

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/internal/metrics"
	"github.com/rawbytedev/pdx/pkg/authority"
	"github.com/rawbytedev/pdx/pkg/frame"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// DefaultPreservedTTL is how long unread data is kept after its last update.
const DefaultPreservedTTL = 20 * time.Second

type enumTable struct {
	byID  map[int32]pdxtype.EnumDescriptor
	byKey map[string]int32
}

// Registry is owned by a serializer; it is safe for concurrent use.
type Registry struct {
	auth    authority.Authority
	log     logging.Logger
	metrics metrics.Recorder

	types        *xsync.MapOf[int32, *pdxtype.TypeDescriptor]
	localByClass *xsync.MapOf[string, *pdxtype.TypeDescriptor]
	merged       *xsync.MapOf[int32, *pdxtype.TypeDescriptor]
	shapes       *xsync.MapOf[uint64, *pdxtype.TypeDescriptor]
	fetchLocks   *xsync.MapOf[int32, *sync.Mutex]
	shapeLocks   *xsync.MapOf[uint64, *sync.Mutex]

	enumMu       sync.Mutex
	enums        atomic.Pointer[enumTable]
	enumKeyLocks *xsync.MapOf[string, *sync.Mutex]
	enumIDLocks  *xsync.MapOf[int32, *sync.Mutex]

	preserved *preservedTable
}

type Option func(*Registry)

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithPreservedTTL sets the expiry of preserved data. Zero disables expiry.
func WithPreservedTTL(d time.Duration) Option {
	return func(r *Registry) { r.preserved.ttl = d }
}

func New(auth authority.Authority, opts ...Option) *Registry {
	r := &Registry{
		auth:         auth,
		log:          logging.Nop{},
		metrics:      metrics.Noop{},
		types:        xsync.NewMapOf[int32, *pdxtype.TypeDescriptor](),
		localByClass: xsync.NewMapOf[string, *pdxtype.TypeDescriptor](),
		merged:       xsync.NewMapOf[int32, *pdxtype.TypeDescriptor](),
		shapes:       xsync.NewMapOf[uint64, *pdxtype.TypeDescriptor](),
		fetchLocks:   xsync.NewMapOf[int32, *sync.Mutex](),
		shapeLocks:   xsync.NewMapOf[uint64, *sync.Mutex](),
		enumKeyLocks: xsync.NewMapOf[string, *sync.Mutex](),
		enumIDLocks:  xsync.NewMapOf[int32, *sync.Mutex](),
		preserved:    newPreservedTable(DefaultPreservedTTL),
	}
	r.enums.Store(&enumTable{byID: map[int32]pdxtype.EnumDescriptor{}, byKey: map[string]int32{}})
	for _, o := range opts {
		o(r)
	}
	r.preserved.onChange = r.metrics.SetPreservedEntries
	return r
}

// Authority returns the authority backing r.
func (r *Registry) Authority() authority.Authority { return r.auth }

// Lookup returns the cached descriptor for id without contacting the
// authority.
func (r *Registry) Lookup(id int32) (*pdxtype.TypeDescriptor, bool) {
	return r.types.Load(id)
}

// Resolve returns the descriptor for id, fetching it from the authority on a
// miss.
func (r *Registry) Resolve(ctx context.Context, id int32) (*pdxtype.TypeDescriptor, error) {
	if t, ok := r.types.Load(id); ok {
		return t, nil
	}
	unlock := lockKey(r.fetchLocks, id)
	defer unlock()
	if t, ok := r.types.Load(id); ok {
		r.metrics.RecordTypeFetch("shared")
		return t, nil
	}

	t, err := r.auth.FetchType(ctx, id)
	if err != nil {
		r.metrics.RecordTypeFetch("error")
		r.log.WarnCtx(ctx, "type fetch failed", "id", id, "err", err)
		return nil, fmt.Errorf("registry: resolve type %d: %w", id, err)
	}
	if t.TypeID() != id {
		r.metrics.RecordTypeFetch("error")
		return nil, fmt.Errorf("registry: authority returned type %d for %d", t.TypeID(), id)
	}
	r.metrics.RecordTypeFetch("fetched")
	r.log.DebugCtx(ctx, "type fetched", "id", id, "class", t.ClassName)
	return r.Register(t), nil
}

// lockKey locks the mutex for key, creating it on first use. The returned
// func unlocks it and drops the entry if it still holds this mutex. Callers
// recheck the cache after locking, since a waiter on a dropped mutex can run
// alongside a newer holder.
func lockKey[K comparable](locks *xsync.MapOf[K, *sync.Mutex], key K) func() {
	mu, _ := locks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return func() {
		locks.Compute(key, func(cur *sync.Mutex, loaded bool) (*sync.Mutex, bool) {
			return cur, !loaded || cur == mu
		})
		mu.Unlock()
	}
}

// Register caches t under its type id and returns the cached descriptor,
// which is an earlier one when the id was already known.
func (r *Registry) Register(t *pdxtype.TypeDescriptor) *pdxtype.TypeDescriptor {
	t.Initialize()
	actual, _ := r.types.LoadOrStore(t.TypeID(), t)
	r.shapes.LoadOrStore(actual.Fingerprint(), actual)
	return actual
}

// RegisterLocal records t as the shape the local process writes for its
// class. When a descriptor with the same id is already cached, that one is
// marked local instead and returned.
func (r *Registry) RegisterLocal(t *pdxtype.TypeDescriptor) *pdxtype.TypeDescriptor {
	actual := r.Register(t)
	actual.SetLocal(true)
	r.localByClass.Store(actual.ClassName, actual)
	return actual
}

// LocalType returns the local shape of className if it has been discovered.
func (r *Registry) LocalType(className string) (*pdxtype.TypeDescriptor, bool) {
	return r.localByClass.Load(className)
}

// MergedType returns the merged descriptor cached for a remote type id.
func (r *Registry) MergedType(remoteID int32) (*pdxtype.TypeDescriptor, bool) {
	return r.merged.Load(remoteID)
}

func (r *Registry) SetMerged(remoteID int32, merged *pdxtype.TypeDescriptor) {
	r.merged.Store(remoteID, merged)
}

// TypeID returns the id of t, asking the authority when no registered
// descriptor has the same shape. The id is assigned to t.
func (r *Registry) TypeID(ctx context.Context, t *pdxtype.TypeDescriptor) (int32, error) {
	if id := t.TypeID(); id != 0 {
		return id, nil
	}
	fp := t.Fingerprint()
	if id, ok := r.knownShape(fp, t); ok {
		return id, t.SetTypeID(id)
	}
	unlock := lockKey(r.shapeLocks, fp)
	defer unlock()
	if id, ok := r.knownShape(fp, t); ok {
		return id, t.SetTypeID(id)
	}
	id, err := r.auth.RequestTypeID(ctx, t)
	r.metrics.RecordTypeIDRequest(t.ClassName)
	if err != nil {
		return 0, fmt.Errorf("registry: request type id for %s: %w", t.ClassName, err)
	}
	if err := t.SetTypeID(id); err != nil {
		return 0, err
	}
	r.shapes.LoadOrStore(fp, t)
	r.log.DebugCtx(ctx, "type id assigned", "class", t.ClassName, "id", id)
	return id, nil
}

func (r *Registry) knownShape(fp uint64, t *pdxtype.TypeDescriptor) (int32, bool) {
	if known, ok := r.shapes.Load(fp); ok && known.Equal(t) {
		return known.TypeID(), true
	}
	return 0, false
}

// EnumValue returns the id of e, allocating it through the authority once.
func (r *Registry) EnumValue(ctx context.Context, e pdxtype.EnumDescriptor) (int32, error) {
	if id, ok := r.enums.Load().byKey[e.Key()]; ok {
		return id, nil
	}
	unlock := lockKey(r.enumKeyLocks, e.Key())
	defer unlock()
	if id, ok := r.enums.Load().byKey[e.Key()]; ok {
		return id, nil
	}
	id, err := r.auth.RequestEnumValue(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("registry: request enum id for %s: %w", e.Key(), err)
	}
	r.storeEnum(id, e)
	return id, nil
}

// Enum returns the constant with the given id, fetching it once on a miss.
func (r *Registry) Enum(ctx context.Context, id int32) (pdxtype.EnumDescriptor, error) {
	if e, ok := r.enums.Load().byID[id]; ok {
		return e, nil
	}
	unlock := lockKey(r.enumIDLocks, id)
	defer unlock()
	if e, ok := r.enums.Load().byID[id]; ok {
		return e, nil
	}
	e, err := r.auth.FetchEnum(ctx, id)
	if err != nil {
		return e, fmt.Errorf("registry: resolve enum %d: %w", id, err)
	}
	r.storeEnum(id, e)
	return e, nil
}

// storeEnum publishes a copy of the table with id added.
func (r *Registry) storeEnum(id int32, e pdxtype.EnumDescriptor) {
	r.enumMu.Lock()
	defer r.enumMu.Unlock()
	old := r.enums.Load()
	next := &enumTable{
		byID:  make(map[int32]pdxtype.EnumDescriptor, len(old.byID)+1),
		byKey: make(map[string]int32, len(old.byKey)+1),
	}
	for k, v := range old.byID {
		next.byID[k] = v
	}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}
	next.byID[id] = e
	next.byKey[e.Key()] = id
	r.enums.Store(next)
}

// Clear drops every cached type, merge, enum and preserved entry.
func (r *Registry) Clear() {
	r.types.Clear()
	r.localByClass.Clear()
	r.merged.Clear()
	r.shapes.Clear()
	r.enumMu.Lock()
	r.enums.Store(&enumTable{byID: map[int32]pdxtype.EnumDescriptor{}, byKey: map[string]int32{}})
	r.enumMu.Unlock()
	r.preserved.clear()
	r.log.Info("registry cleared")
}

// Snapshot writes every cached descriptor to w as one frame. Local and merge
// state is not part of the snapshot.
func (r *Registry) Snapshot(w io.Writer) error {
	var records [][]byte
	var err error
	r.types.Range(func(_ int32, t *pdxtype.TypeDescriptor) bool {
		var b []byte
		if b, err = t.MarshalBinary(); err != nil {
			return false
		}
		records = append(records, b)
		return true
	})
	if err != nil {
		return err
	}
	data, err := frame.Pack(frame.KindTypes, records, true)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Restore registers every descriptor from a frame written by Snapshot.
func (r *Registry) Restore(rd io.Reader) (int, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return 0, err
	}
	kind, records, err := frame.Unpack(data)
	if err != nil {
		return 0, err
	}
	if kind != frame.KindTypes {
		return 0, fmt.Errorf("registry: unexpected frame kind %d", kind)
	}
	for _, rec := range records {
		t, err := pdxtype.UnmarshalDescriptor(rec)
		if err != nil {
			return 0, err
		}
		r.Register(t)
	}
	r.log.Info("registry restored", "types", len(records))
	return len(records), nil
}
