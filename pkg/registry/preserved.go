package registry

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// PreservedData is the raw bytes of the fields a newer writer sent that the
// local class does not declare. Bytes are indexed by the field's sequence id
// in the merged type.
type PreservedData struct {
	ClassName    string
	MergedTypeID int32
	RemoteTypeID int32

	fields [][]byte
}

func NewPreservedData(className string, mergedID, remoteID int32, numFields int) *PreservedData {
	return &PreservedData{
		ClassName:    className,
		MergedTypeID: mergedID,
		RemoteTypeID: remoteID,
		fields:       make([][]byte, numFields),
	}
}

// Set stores a copy of b for the merged field seq.
func (p *PreservedData) Set(seq int, b []byte) {
	if seq < 0 || seq >= len(p.fields) {
		return
	}
	p.fields[seq] = append(make([]byte, 0, len(b)), b...)
}

// Field returns the preserved bytes of the merged field seq.
func (p *PreservedData) Field(seq int) ([]byte, bool) {
	if seq < 0 || seq >= len(p.fields) || p.fields[seq] == nil {
		return nil, false
	}
	return p.fields[seq], true
}

// Len returns the number of preserved fields.
func (p *PreservedData) Len() int {
	n := 0
	for _, f := range p.fields {
		if f != nil {
			n++
		}
	}
	return n
}

type preservedEntry struct {
	data    *PreservedData
	expires int64 // unix nanos, zero for never
}

type preservedTable struct {
	entries   *xsync.MapOf[uuid.UUID, preservedEntry]
	ttl       time.Duration
	lastSweep atomic.Int64
	onChange  func(int)
	now       func() time.Time
}

func newPreservedTable(ttl time.Duration) *preservedTable {
	return &preservedTable{
		entries:  xsync.NewMapOf[uuid.UUID, preservedEntry](),
		ttl:      ttl,
		onChange: func(int) {},
		now:      time.Now,
	}
}

func (p *preservedTable) expiry(now time.Time) int64 {
	if p.ttl <= 0 {
		return 0
	}
	return now.Add(p.ttl).UnixNano()
}

func (p *preservedTable) get(id uuid.UUID) (*PreservedData, bool) {
	e, ok := p.entries.Load(id)
	if !ok {
		return nil, false
	}
	if e.expires != 0 && p.now().UnixNano() >= e.expires {
		p.entries.Delete(id)
		p.onChange(p.entries.Size())
		return nil, false
	}
	return e.data, true
}

func (p *preservedTable) set(id uuid.UUID, d *PreservedData) {
	now := p.now()
	p.entries.Store(id, preservedEntry{data: d, expires: p.expiry(now)})
	p.maybeSweep(now)
	p.onChange(p.entries.Size())
}

func (p *preservedTable) release(id uuid.UUID) bool {
	_, ok := p.entries.LoadAndDelete(id)
	if ok {
		p.onChange(p.entries.Size())
	}
	return ok
}

func (p *preservedTable) maybeSweep(now time.Time) {
	if p.ttl <= 0 {
		return
	}
	last := p.lastSweep.Load()
	if now.UnixNano()-last < int64(p.ttl) || !p.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	p.sweep(now)
}

func (p *preservedTable) sweep(now time.Time) int {
	cutoff := now.UnixNano()
	removed := 0
	p.entries.Range(func(id uuid.UUID, e preservedEntry) bool {
		if e.expires != 0 && cutoff >= e.expires {
			p.entries.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		p.onChange(p.entries.Size())
	}
	return removed
}

func (p *preservedTable) clear() {
	p.entries.Clear()
	p.onChange(0)
}

// PreservedData returns the unread data kept for the object with identity
// id, if it has not expired.
func (r *Registry) PreservedData(id uuid.UUID) (*PreservedData, bool) {
	return r.preserved.get(id)
}

// SetPreservedData keeps d for the object with identity id and restarts its
// expiry.
func (r *Registry) SetPreservedData(id uuid.UUID, d *PreservedData) {
	r.preserved.set(id, d)
	r.metrics.RecordPreserved(d.ClassName)
}

// ReleasePreservedData drops the data kept for id. It reports whether an
// entry existed.
func (r *Registry) ReleasePreservedData(id uuid.UUID) bool {
	return r.preserved.release(id)
}

// PreservedEntries returns the number of live preserved entries.
func (r *Registry) PreservedEntries() int { return r.preserved.entries.Size() }

// SweepPreserved removes every expired entry and returns how many were
// removed.
func (r *Registry) SweepPreserved() int {
	return r.preserved.sweep(r.preserved.now())
}
