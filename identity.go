package pdx

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rawbytedev/pdx/pkg/registry"
)

// Handle gives an object a stable identity so fields written by a newer
// version of its class survive a read-modify-write cycle. Embed it:
//
//	type Point struct {
//		pdx.Handle
//		X, Y int32
//	}
//
// Preserved data is released when the object becomes unreachable, when
// ReleaseUnreadFields is called, or when its TTL expires. A Handle must not
// be copied after first use.
type Handle struct {
	state atomic.Pointer[handleState]
}

type handleState struct {
	id      uuid.UUID
	mu      sync.Mutex
	tracked []*registry.Registry
}

type identifiable interface {
	pdxHandle() *Handle
}

func (h *Handle) pdxHandle() *Handle { return h }

func (h *Handle) init() *handleState {
	if st := h.state.Load(); st != nil {
		return st
	}
	h.state.CompareAndSwap(nil, &handleState{id: uuid.New()})
	return h.state.Load()
}

// ID returns the identity token, creating it on first use.
func (h *Handle) ID() uuid.UUID { return h.init().id }

// lookup returns the token without creating one.
func (h *Handle) lookup() (uuid.UUID, bool) {
	st := h.state.Load()
	if st == nil {
		return uuid.Nil, false
	}
	return st.id, true
}

// track releases the object's entry in r once the handle is collected.
func (h *Handle) track(r *registry.Registry) {
	st := h.init()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, t := range st.tracked {
		if t == r {
			return
		}
	}
	st.tracked = append(st.tracked, r)
	runtime.AddCleanup(st, func(id uuid.UUID) { r.ReleasePreservedData(id) }, st.id)
}

// ReleaseUnreadFields drops the unread fields kept for this object.
func (h *Handle) ReleaseUnreadFields() {
	st := h.state.Load()
	if st == nil {
		return
	}
	st.mu.Lock()
	tracked := append([]*registry.Registry(nil), st.tracked...)
	st.mu.Unlock()
	for _, r := range tracked {
		r.ReleasePreservedData(st.id)
	}
}
