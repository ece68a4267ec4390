package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
)

// Transform is the scale and rotation pages are drawn with.
type Transform struct {
	Scale    float64
	Rotation domain.Rotation
}

// RenderEvent reports a slot reaching a terminal render state.
type RenderEvent struct {
	Page        int
	State       domain.RenderState
	Placeholder string
	Err         error
}

// OrderFunc returns the pages to enqueue after a reset: visible pages first, then the rest.
type OrderFunc func() (visible, rest []int)

type inflight struct {
	page int
	gen  uint64
	task document.RenderTask
}

// Scheduler serializes page drawing: one worker, one draw in flight, visible
// pages first. It is the only writer of slot render state.
type Scheduler struct {
	registry *Registry
	logger   *slog.Logger
	onEvent  func(RenderEvent)

	mu        sync.Mutex
	doc       document.Document
	transform Transform
	queue     []int
	current   *inflight
	busy      bool
	gen       uint64
	stopped   bool

	// preparing is the page whose lookup is running, 0 when none.
	preparing     int
	prepCancelled bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewScheduler starts a scheduler drawing into registry. onEvent may be nil;
// it runs on the worker goroutine with no locks held.
func NewScheduler(registry *Registry, logger *slog.Logger, onEvent func(RenderEvent)) *Scheduler {
	if onEvent == nil {
		onEvent = func(RenderEvent) {}
	}
	s := &Scheduler{
		registry: registry,
		logger:   logger,
		onEvent:  onEvent,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Load switches to doc. It behaves like Reset with the new document.
func (s *Scheduler) Load(doc document.Document, t Transform, viewports []domain.Viewport, order OrderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = doc
	return s.resetLocked(t, viewports, order)
}

// Reset cancels every task, clears the queue, invalidates all slots, lays
// them out for t and enqueues pages in the order returned by order. No
// enqueue can interleave with it.
func (s *Scheduler) Reset(t Transform, viewports []domain.Viewport, order OrderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(t, viewports, order)
}

func (s *Scheduler) resetLocked(t Transform, viewports []domain.Viewport, order OrderFunc) error {
	s.gen++
	if s.current != nil {
		s.current.task.Cancel()
	}
	s.queue = s.queue[:0]
	s.transform = t

	s.registry.InvalidateAll()
	if err := s.registry.Layout(viewports); err != nil {
		return err
	}

	if order != nil {
		visible, rest := order()
		s.enqueueVisibleFirstLocked(visible, rest)
	}
	return nil
}

// Detach cancels all work and forgets the document. Slots keep their state.
func (s *Scheduler) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.current != nil {
		s.current.task.Cancel()
	}
	s.queue = s.queue[:0]
	s.doc = nil
}

// Enqueue appends page n. It is a no-op if the page is already queued,
// drawing or drawn.
func (s *Scheduler) Enqueue(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(n, false)
}

// EnqueueVisibleFirst enqueues visible pages, then the remaining pages of all.
func (s *Scheduler) EnqueueVisibleFirst(visible, all []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueVisibleFirstLocked(visible, all)
}

func (s *Scheduler) enqueueVisibleFirstLocked(visible, all []int) {
	for _, n := range visible {
		s.enqueueLocked(n, false)
	}
	for _, n := range all {
		s.enqueueLocked(n, false)
	}
}

// EnqueuePriority puts page n at the head of the queue, moving it if already queued.
func (s *Scheduler) EnqueuePriority(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueuePriorityLocked(n)
}

func (s *Scheduler) enqueuePriorityLocked(n int) bool {
	state, ok := s.registry.state(n)
	if !ok {
		return false
	}
	if state == domain.RenderQueued {
		s.removeLocked(n)
		s.queue = slices.Insert(s.queue, 0, n)
		return true
	}
	return s.enqueueLocked(n, true)
}

// Prioritize moves the visible pages to the head of the queue in order.
// Cancelled and never-drawn visible pages are enqueued; failed pages wait
// for RetryPage.
func (s *Scheduler) Prioritize(visible []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Walk backwards so the first visible page ends up at the head.
	for i := len(visible) - 1; i >= 0; i-- {
		n := visible[i]
		state, ok := s.registry.state(n)
		if !ok || state == domain.RenderFailed {
			continue
		}
		s.enqueuePriorityLocked(n)
	}
}

// CancelPage stops drawing page n. A queued page leaves the queue; a page
// being drawn has its task cancelled. Either way the slot ends Cancelled.
func (s *Scheduler) CancelPage(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.page == n {
		s.current.task.Cancel()
		return true
	}
	if s.preparing == n {
		s.prepCancelled = true
		return true
	}
	if state, ok := s.registry.state(n); ok && state == domain.RenderQueued {
		s.removeLocked(n)
		s.registry.setState(n, domain.RenderCancelled, nil)
		return true
	}
	return false
}

// RetryPage re-enqueues a failed page at the head of the queue.
func (s *Scheduler) RetryPage(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.registry.state(n); !ok || state != domain.RenderFailed {
		return false
	}
	return s.enqueuePriorityLocked(n)
}

// Queue returns a copy of the pending queue, head first.
func (s *Scheduler) Queue() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

// Idle reports whether nothing is queued or drawing.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && !s.busy
}

// Stop cancels all work and waits for the worker to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	s.gen++
	if s.current != nil {
		s.current.task.Cancel()
	}
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

func (s *Scheduler) enqueueLocked(n int, front bool) bool {
	if s.stopped {
		return false
	}
	state, ok := s.registry.state(n)
	if !ok || state.Pending() {
		return false
	}
	s.registry.setState(n, domain.RenderQueued, nil)
	if front {
		s.queue = slices.Insert(s.queue, 0, n)
	} else {
		s.queue = append(s.queue, n)
	}
	s.signal()
	return true
}

func (s *Scheduler) removeLocked(n int) {
	if i := slices.Index(s.queue, n); i >= 0 {
		s.queue = slices.Delete(s.queue, i, i+1)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for s.step() {
		}
	}
}

// step draws the next queued page. It reports whether it did any work.
// The page lookup runs without the lock so a slow document does not block
// enqueues or resets; a reset or cancel during the lookup is detected after.
func (s *Scheduler) step() bool {
	s.mu.Lock()
	if s.stopped || s.doc == nil {
		s.mu.Unlock()
		return false
	}

	n, ok := s.popLocked()
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.busy = true
	defer s.finishStep()

	doc, gen := s.doc, s.gen
	s.registry.setState(n, domain.RenderRendering, nil)
	s.preparing, s.prepCancelled = n, false
	s.mu.Unlock()

	page, err := doc.Page(context.Background(), n)

	s.mu.Lock()
	cancelled := s.prepCancelled
	s.preparing, s.prepCancelled = 0, false
	if gen != s.gen {
		s.mu.Unlock()
		return true
	}

	var surface document.Surface
	var vp domain.Viewport
	if err == nil && !cancelled {
		if surface, vp, ok = s.registry.acquireSurface(n); !ok {
			err = fmt.Errorf("page %d has no slot", n)
		}
	}
	switch {
	case cancelled:
		s.registry.setState(n, domain.RenderCancelled, nil)
		s.mu.Unlock()
		s.logger.Debug("render cancelled", "page", n)
		s.onEvent(RenderEvent{Page: n, State: domain.RenderCancelled})
		return true
	case err != nil:
		s.registry.setState(n, domain.RenderFailed, err)
		s.mu.Unlock()
		s.logger.Warn("page lookup failed", "page", n, "error", err)
		s.onEvent(RenderEvent{Page: n, State: domain.RenderFailed, Err: err})
		return true
	}

	cur := &inflight{page: n, gen: gen, task: page.Render(surface, vp, s.transform.Rotation)}
	s.current = cur
	s.mu.Unlock()

	err = cur.task.Wait()

	var placeholder string
	if err == nil {
		if hash, phErr := document.Placeholder(surface.Image()); phErr == nil {
			placeholder = hash
		}
	}

	s.mu.Lock()
	s.current = nil
	if cur.gen != s.gen {
		// A reset invalidated this slot while it was drawing.
		s.mu.Unlock()
		return true
	}

	event := RenderEvent{Page: n, Placeholder: placeholder}
	switch {
	case err == nil:
		event.State = domain.RenderRendered
		s.registry.setState(n, domain.RenderRendered, nil)
		if placeholder != "" {
			s.registry.setPlaceholder(n, placeholder)
		}
	case errors.Is(err, document.ErrRenderCancelled):
		event.State = domain.RenderCancelled
		s.registry.setState(n, domain.RenderCancelled, nil)
	default:
		event.State = domain.RenderFailed
		event.Err = err
		s.registry.setState(n, domain.RenderFailed, err)
	}
	s.mu.Unlock()

	switch event.State {
	case domain.RenderCancelled:
		s.logger.Debug("render cancelled", "page", n)
	case domain.RenderFailed:
		s.logger.Warn("render failed", "page", n, "error", err)
	}
	s.onEvent(event)
	return true
}

func (s *Scheduler) finishStep() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// popLocked takes the head of the queue, skipping entries no longer Queued.
func (s *Scheduler) popLocked() (int, bool) {
	for len(s.queue) > 0 {
		n := s.queue[0]
		s.queue = s.queue[1:]
		if state, ok := s.registry.state(n); ok && state == domain.RenderQueued {
			return n, true
		}
	}
	return 0, false
}
