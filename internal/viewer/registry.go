// Package viewer is the continuous-scroll engine: page slots, visibility,
// the serialized render queue and the scroll/page synchronizer, composed by Viewer.
package viewer

import (
	"fmt"
	"image"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
)

type slot struct {
	state       domain.RenderState
	geometry    domain.Geometry
	viewport    domain.Viewport
	surface     document.Surface
	placeholder string
	err         error
}

// Registry owns one slot per page. Render state is written only by the
// Scheduler; everything else reads snapshots.
type Registry struct {
	pageGap    float64
	newSurface func() document.Surface

	mu            sync.RWMutex
	slots         []*slot
	laidOut       bool
	contentHeight float64
}

// NewRegistry creates an empty registry. newSurface is called lazily the
// first time a page is drawn.
func NewRegistry(pageGap float64, newSurface func() document.Surface) *Registry {
	if newSurface == nil {
		newSurface = func() document.Surface { return document.NewMemorySurface() }
	}
	return &Registry{pageGap: pageGap, newSurface: newSurface}
}

// Allocate replaces all slots with pageCount Unrendered slots without geometry.
// Surfaces of the previous slots are released.
func (r *Registry) Allocate(pageCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked()
	r.slots = make([]*slot, pageCount)
	for i := range r.slots {
		r.slots[i] = &slot{}
	}
	r.laidOut = false
	r.contentHeight = 0
}

// Layout stacks the slots vertically from their viewports, separated by the page gap.
func (r *Registry) Layout(viewports []domain.Viewport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(viewports) != len(r.slots) {
		return fmt.Errorf("layout: %d viewports for %d slots", len(viewports), len(r.slots))
	}

	top := 0.0
	for i, vp := range viewports {
		s := r.slots[i]
		s.viewport = vp
		s.geometry = domain.Geometry{Top: top, Height: vp.Height}
		top += vp.Height
		if i < len(viewports)-1 {
			top += r.pageGap
		}
	}
	r.laidOut = len(viewports) > 0
	r.contentHeight = top
	return nil
}

// InvalidateAll resets every slot to Unrendered and releases its surface.
// Placeholders survive so the page can show one while it is redrawn.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.surface != nil {
			s.surface.Release()
			s.surface = nil
		}
		s.state = domain.RenderUnrendered
		s.err = nil
	}
}

// Release tears the registry down, releasing every surface.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked()
	r.slots = nil
	r.laidOut = false
	r.contentHeight = 0
}

func (r *Registry) releaseLocked() {
	for _, s := range r.slots {
		if s.surface != nil {
			s.surface.Release()
			s.surface = nil
		}
	}
}

// Len returns the number of slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// ContentHeight is the total height of the laid-out slots.
func (r *Registry) ContentHeight() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contentHeight
}

// Geometries returns each slot's extent indexed by page-1, or nil before layout.
func (r *Registry) Geometries() []domain.Geometry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.laidOut {
		return nil
	}
	out := make([]domain.Geometry, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.geometry
	}
	return out
}

// Slot returns a snapshot of page n.
func (r *Registry) Slot(n int) (domain.PageSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slotLocked(n)
	if !ok {
		return domain.PageSlot{}, false
	}
	return snapshot(n, s), true
}

// Snapshot returns every slot in page order.
func (r *Registry) Snapshot() []domain.PageSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PageSlot, len(r.slots))
	for i, s := range r.slots {
		out[i] = snapshot(i+1, s)
	}
	return out
}

// Image returns the pixels presented for page n, or nil if it is not drawn.
func (r *Registry) Image(n int) *image.RGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slotLocked(n)
	if !ok || s.state != domain.RenderRendered || s.surface == nil {
		return nil
	}
	return s.surface.Image()
}

// Counts tallies slots per render state.
func (r *Registry) Counts() map[domain.RenderState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.RenderState]int)
	for _, s := range r.slots {
		counts[s.state]++
	}
	return counts
}

func snapshot(n int, s *slot) domain.PageSlot {
	ps := domain.PageSlot{
		PageNumber:  n,
		State:       s.state,
		Geometry:    s.geometry,
		Width:       s.viewport.Width,
		Placeholder: s.placeholder,
	}
	if s.err != nil {
		ps.Error = s.err.Error()
	}
	return ps
}

func (r *Registry) slotLocked(n int) (*slot, bool) {
	if n < 1 || n > len(r.slots) {
		return nil, false
	}
	return r.slots[n-1], true
}

// state returns page n's render state; ok is false for pages outside the registry.
func (r *Registry) state(n int) (domain.RenderState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slotLocked(n)
	if !ok {
		return 0, false
	}
	return s.state, true
}

func (r *Registry) setState(n int, state domain.RenderState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slotLocked(n); ok {
		s.state = state
		s.err = err
	}
}

func (r *Registry) setPlaceholder(n int, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slotLocked(n); ok {
		s.placeholder = hash
	}
}

// acquireSurface returns page n's surface, creating it on first use.
func (r *Registry) acquireSurface(n int) (document.Surface, domain.Viewport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slotLocked(n)
	if !ok {
		return nil, domain.Viewport{}, false
	}
	if s.surface == nil {
		s.surface = r.newSurface()
	}
	return s.surface, s.viewport, true
}
