package viewer

import (
	"sync"
	"time"

	"github.com/listenupapp/listenup-reader/internal/clock"
)

// frameInterval is the tick of an animated scroll.
const frameInterval = 16 * time.Millisecond

// AnimatedScroller plays a smooth scroll against a clock, reporting every
// frame position to onFrame. It stands in for a browser scroll container
// when the viewer runs headless.
type AnimatedScroller struct {
	clock    clock.Clock
	duration time.Duration
	position func() float64
	onFrame  func(top float64)

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	stopped bool
}

// NewAnimatedScroller creates a scroller. position returns the current
// scrollTop an animation starts from.
func NewAnimatedScroller(c clock.Clock, duration time.Duration, position func() float64, onFrame func(top float64)) *AnimatedScroller {
	return &AnimatedScroller{clock: c, duration: duration, position: position, onFrame: onFrame}
}

// ScrollTo implements Scroller. A new call replaces the running animation.
func (a *AnimatedScroller) ScrollTo(top float64) {
	from := a.position()
	frames := max(int(a.duration/frameInterval), 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	a.scheduleLocked(a.gen, from, top, 1, frames)
}

// Animating reports whether a scroll is still playing.
func (a *AnimatedScroller) Animating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Stop cancels the running animation and ignores later ScrollTo calls.
func (a *AnimatedScroller) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

func (a *AnimatedScroller) scheduleLocked(gen uint64, from, to float64, frame, frames int) {
	a.timer = a.clock.AfterFunc(frameInterval, func() {
		a.mu.Lock()
		if gen != a.gen {
			a.mu.Unlock()
			return
		}
		last := frame >= frames
		if last {
			a.timer = nil
		} else {
			a.scheduleLocked(gen, from, to, frame+1, frames)
		}
		a.mu.Unlock()

		t := easeInOut(float64(frame) / float64(frames))
		a.onFrame(from + (to-from)*t)
	})
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - 2*(1-t)*(1-t)
}
