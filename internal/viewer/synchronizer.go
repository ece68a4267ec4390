package viewer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/domain"
)

// Ownership says who decides the current page.
type Ownership int

const (
	// OwnershipIdle lets scroll settling infer the current page.
	OwnershipIdle Ownership = iota
	// OwnershipProgrammatic holds the page chosen by GoToPage until the
	// programmatic scroll settles or times out.
	OwnershipProgrammatic
)

func (o Ownership) String() string {
	if o == OwnershipProgrammatic {
		return "programmatic"
	}
	return "idle"
}

// Scroller moves the scroll container. ScrollTo may return before the
// movement finishes; the resulting scroll events arrive through OnScroll.
type Scroller interface {
	ScrollTo(top float64)
}

// ScrollerFunc adapts a function to Scroller.
type ScrollerFunc func(top float64)

// ScrollTo implements Scroller.
func (f ScrollerFunc) ScrollTo(top float64) { f(top) }

// pager is the slice of Scheduler and Registry the synchronizer needs.
type pager interface {
	EnqueuePriority(n int) bool
}

// SyncOptions configures a Synchronizer.
type SyncOptions struct {
	Clock       clock.Clock
	SettleDelay time.Duration
	// Timeout bounds how long a programmatic request holds ownership.
	Timeout  time.Duration
	Scroller Scroller
	Logger   *slog.Logger
	// OnPageChange runs with no locks held, once per change of current page.
	OnPageChange func(page int)
}

// Synchronizer keeps the current page consistent with free scrolling and
// with programmatic navigation. It is the only writer of the current page.
type Synchronizer struct {
	opts      SyncOptions
	scheduler pager
	registry  *Registry

	mu         sync.Mutex
	ownership  Ownership
	current    int
	pageCount  int
	scroll     domain.ScrollState
	settle     clock.Timer
	settleGen  uint64
	timeout    clock.Timer
	requestGen uint64
	scrolled   bool
}

// NewSynchronizer creates a synchronizer in the Idle state.
func NewSynchronizer(opts SyncOptions, scheduler pager, registry *Registry) *Synchronizer {
	if opts.OnPageChange == nil {
		opts.OnPageChange = func(int) {}
	}
	if opts.Scroller == nil {
		opts.Scroller = ScrollerFunc(func(float64) {})
	}
	return &Synchronizer{opts: opts, scheduler: scheduler, registry: registry}
}

// Reset drops pending timers, returns to Idle and sets the page count and
// current page without notifying.
func (s *Synchronizer) Reset(pageCount, current int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimersLocked()
	s.ownership = OwnershipIdle
	s.pageCount = pageCount
	s.current = clampPage(current, pageCount)
	s.scrolled = false
}

// Current returns the current page, 0 for an empty document.
func (s *Synchronizer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Ownership returns the current ownership state.
func (s *Synchronizer) Ownership() Ownership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownership
}

// GoToPage clamps n, makes it current, prioritizes its render if it is not
// drawn and scrolls its slot to the top of the viewport. Scroll settling
// does not infer a page until the programmatic scroll finishes.
func (s *Synchronizer) GoToPage(n int) int {
	s.mu.Lock()
	if s.pageCount == 0 {
		s.mu.Unlock()
		return 0
	}
	n = clampPage(n, s.pageCount)

	if state, ok := s.registry.state(n); ok && state != domain.RenderRendered {
		s.scheduler.EnqueuePriority(n)
	}

	changed := s.current != n
	s.current = n
	s.ownership = OwnershipProgrammatic
	s.scrolled = false

	// A pending settle from earlier free scrolling must not override the request.
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	s.settleGen++

	if s.timeout != nil {
		s.timeout.Stop()
	}
	s.requestGen++
	gen := s.requestGen
	s.timeout = s.opts.Clock.AfterFunc(s.opts.Timeout, func() { s.onTimeout(gen) })

	target := s.scrollTargetLocked(n)
	s.mu.Unlock()

	if changed {
		s.opts.OnPageChange(n)
	}
	s.opts.Scroller.ScrollTo(target)
	return n
}

// OnScroll records a scroll event and restarts the settle timer.
func (s *Synchronizer) OnScroll(state domain.ScrollState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scroll = state
	if s.ownership == OwnershipProgrammatic {
		s.scrolled = true
	}

	if s.settle != nil {
		s.settle.Stop()
	}
	s.settleGen++
	gen := s.settleGen
	s.settle = s.opts.Clock.AfterFunc(s.opts.SettleDelay, func() { s.onSettle(gen) })
}

// SetScrollState records the container position without treating it as a
// scroll event. Used after layout changes the viewer applied itself.
func (s *Synchronizer) SetScrollState(state domain.ScrollState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = state
}

// Stop cancels all timers.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
}

func (s *Synchronizer) onSettle(gen uint64) {
	s.mu.Lock()
	if gen != s.settleGen {
		s.mu.Unlock()
		return
	}
	s.settle = nil

	if s.ownership == OwnershipProgrammatic {
		if s.scrolled {
			s.releaseLocked()
		}
		s.mu.Unlock()
		return
	}

	geometries := s.registry.Geometries()
	inferred := NearestCenter(s.scroll, geometries, VisiblePages(s.scroll, geometries))
	if inferred == 0 || inferred == s.current {
		s.mu.Unlock()
		return
	}
	s.current = inferred
	s.mu.Unlock()

	s.opts.OnPageChange(inferred)
}

func (s *Synchronizer) onTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.requestGen || s.ownership != OwnershipProgrammatic {
		return
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Debug("programmatic scroll timed out", "page", s.current)
	}
	s.releaseLocked()
}

func (s *Synchronizer) releaseLocked() {
	s.ownership = OwnershipIdle
	s.scrolled = false
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	s.requestGen++
}

func (s *Synchronizer) stopTimersLocked() {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	s.settleGen++
	s.requestGen++
}

// scrollTargetLocked is the scrollTop that puts page n at the viewport top,
// limited to the scrollable range.
func (s *Synchronizer) scrollTargetLocked(n int) float64 {
	geometries := s.registry.Geometries()
	if n < 1 || n > len(geometries) {
		return 0
	}
	target := geometries[n-1].Top
	if s.scroll.ViewportHeight > 0 {
		target = min(target, max(s.registry.ContentHeight()-s.scroll.ViewportHeight, 0))
	}
	return target
}

func clampPage(n, pageCount int) int {
	if pageCount <= 0 {
		return 0
	}
	return min(max(n, 1), pageCount)
}
