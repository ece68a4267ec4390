package viewer

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/id"
	"github.com/listenupapp/listenup-reader/internal/progress"
)

// Status is the document lifecycle of a Viewer.
type Status int

// Viewer statuses.
const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "idle"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Hooks receive viewer notifications. Every hook runs with no viewer lock
// held and may be nil.
type Hooks struct {
	OnStatus         func(status Status, err error)
	OnPageChange     func(page int)
	OnScrollProgress func(progress.Snapshot)
	OnRender         func(RenderEvent)
	// OnLayout reports the scroll position the viewer chose after a load,
	// zoom or rotation changed the layout.
	OnLayout func(state domain.ScrollState)
}

// Options configures a Viewer.
type Options struct {
	Source     document.Source
	Clock      clock.Clock
	Config     config.ReaderConfig
	Logger     *slog.Logger
	Hooks      Hooks
	NewSurface func() document.Surface
	// Rotation is the initial page rotation. Scale starts at Config.DefaultScale.
	Rotation domain.Rotation
	// Scroller moves the host scroll container. When nil the viewer animates
	// its own scroll position and feeds the frames back through OnScroll.
	Scroller Scroller
}

// State is a point-in-time view of a Viewer.
type State struct {
	Status      Status                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Document    *domain.DocumentHandle `json:"document,omitempty"`
	CurrentPage int                    `json:"currentPage"`
	Ownership   string                 `json:"ownership"`
	Scroll      domain.ScrollState     `json:"scroll"`
	Progress    progress.Snapshot      `json:"progress"`
	Renders     map[string]int         `json:"renders"`
}

// Viewer composes the registry, scheduler and synchronizer into one
// continuous-scroll reader for a single document at a time.
type Viewer struct {
	opts      Options
	logger    *slog.Logger
	registry  *Registry
	scheduler *Scheduler
	sync      *Synchronizer
	animated  *AnimatedScroller

	mu        sync.Mutex
	status    Status
	loadErr   error
	loadSeq   uint64
	url       string
	doc       document.Document
	handle    *domain.DocumentHandle
	transform Transform
	scroll    domain.ScrollState
	viewportH float64
}

// New creates an idle viewer.
func New(opts Options) *Viewer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	v := &Viewer{
		opts:      opts,
		logger:    opts.Logger,
		transform: Transform{Scale: opts.Config.DefaultScale, Rotation: opts.Rotation},
		viewportH: opts.Config.DefaultViewportHeight,
	}
	v.registry = NewRegistry(opts.Config.PageGap, opts.NewSurface)
	v.scheduler = NewScheduler(v.registry, opts.Logger, func(e RenderEvent) {
		if opts.Hooks.OnRender != nil {
			opts.Hooks.OnRender(e)
		}
	})

	scroller := opts.Scroller
	if scroller == nil {
		v.animated = NewAnimatedScroller(opts.Clock, opts.Config.SmoothScrollDuration,
			func() float64 { return v.scrollTop() },
			func(top float64) { _, _ = v.OnScroll(domain.ScrollState{ScrollTop: top}) })
		scroller = v.animated
	}

	v.sync = NewSynchronizer(SyncOptions{
		Clock:        opts.Clock,
		SettleDelay:  opts.Config.ScrollSettleDelay,
		Timeout:      opts.Config.ProgrammaticScrollTimeout,
		Scroller:     scroller,
		Logger:       opts.Logger,
		OnPageChange: v.pageChanged,
	}, v.scheduler, v.registry)
	return v
}

// Load opens url, lays out one slot per page and starts drawing from
// startPage, which is also made current. A load started later wins over
// one still in flight.
func (v *Viewer) Load(ctx context.Context, url string, startPage int) error {
	v.mu.Lock()
	if v.status == StatusClosed {
		v.mu.Unlock()
		return domainerrors.Conflictf("viewer is closed")
	}
	v.loadSeq++
	seq := v.loadSeq
	prev := v.doc
	t := v.transform
	v.doc, v.handle, v.loadErr = nil, nil, nil
	v.url = url
	v.status = StatusLoading
	v.mu.Unlock()

	v.notifyStatus(StatusLoading, nil)
	v.scheduler.Detach()
	v.sync.Reset(0, 0)
	if prev != nil {
		_ = prev.Close()
	}

	doc, err := v.opts.Source.Open(ctx, url)
	var viewports []domain.Viewport
	if err == nil {
		viewports, err = pageViewports(ctx, doc, t)
	}

	v.mu.Lock()
	if seq != v.loadSeq || v.status == StatusClosed {
		v.mu.Unlock()
		if doc != nil {
			_ = doc.Close()
		}
		return domainerrors.Conflictf("load of %s superseded", url)
	}
	if err != nil {
		if doc != nil {
			_ = doc.Close()
		}
		if !domainerrors.Is(err, domainerrors.ErrDocumentLoad) {
			err = domainerrors.DocumentLoad(err, url)
		}
		v.status = StatusFailed
		v.loadErr = err
		v.registry.Release()
		v.mu.Unlock()

		v.logger.Error("document load failed", "url", url, "error", err)
		v.notifyStatus(StatusFailed, err)
		return err
	}

	handle, err := domain.NewDocumentHandle(id.MustGenerate(id.PrefixDocument), url, doc.PageCount(), t.Scale, t.Rotation)
	if err != nil {
		v.mu.Unlock()
		_ = doc.Close()
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid document")
	}

	count := doc.PageCount()
	start := clampPage(startPage, count)
	v.registry.Allocate(count)

	var initial domain.ScrollState
	order := func() ([]int, []int) {
		initial = v.scrollStateAt(start, 0)
		return v.renderOrder(initial, count)
	}
	if err := v.scheduler.Load(doc, t, viewports, order); err != nil {
		v.mu.Unlock()
		_ = doc.Close()
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "layout failed")
	}

	v.doc = doc
	v.handle = handle
	v.scroll = initial
	v.status = StatusReady
	v.mu.Unlock()

	v.sync.Reset(count, start)
	v.sync.SetScrollState(initial)

	v.logger.Info("document loaded", "url", url, "pages", count, "start_page", start)
	v.notifyStatus(StatusReady, nil)
	v.notifyLayout(initial)
	if start > 0 {
		v.pageChanged(start)
	}
	return nil
}

// Reload opens the current document again, keeping the current page. A
// non-empty url replaces the document and starts at page 1.
func (v *Viewer) Reload(ctx context.Context, url string) error {
	v.mu.Lock()
	current := v.url
	v.mu.Unlock()

	if url != "" && url != current {
		return v.Load(ctx, url, 1)
	}
	if current == "" {
		return domainerrors.NotReadyf("no document loaded")
	}
	return v.Load(ctx, current, max(v.sync.Current(), 1))
}

// Retry reloads a document that failed to load, resetting registry and scheduler.
func (v *Viewer) Retry(ctx context.Context) error {
	v.mu.Lock()
	status, url := v.status, v.url
	v.mu.Unlock()

	if status != StatusFailed {
		return domainerrors.Conflictf("retry needs a failed document, viewer is %s", status)
	}
	return v.Load(ctx, url, 1)
}

// SetScale redraws every page at scale, clamped to the configured range.
// The reading position within the current page is kept.
func (v *Viewer) SetScale(ctx context.Context, scale float64) error {
	scale = min(max(scale, v.opts.Config.MinScale), v.opts.Config.MaxScale)
	return v.relayout(ctx, func(t *Transform) { t.Scale = scale })
}

// ZoomIn raises the scale by one zoom step.
func (v *Viewer) ZoomIn(ctx context.Context) error {
	return v.SetScale(ctx, v.currentTransform().Scale+v.opts.Config.ZoomStep)
}

// ZoomOut lowers the scale by one zoom step.
func (v *Viewer) ZoomOut(ctx context.Context) error {
	return v.SetScale(ctx, v.currentTransform().Scale-v.opts.Config.ZoomStep)
}

// SetRotation redraws every page rotated by r.
func (v *Viewer) SetRotation(ctx context.Context, r domain.Rotation) error {
	if !r.Valid() {
		return domainerrors.Validationf("rotation %d: must be one of 0, 90, 180, 270", r)
	}
	return v.relayout(ctx, func(t *Transform) { t.Rotation = r })
}

// Rotate turns every page another 90 degrees clockwise.
func (v *Viewer) Rotate(ctx context.Context) error {
	return v.SetRotation(ctx, v.currentTransform().Rotation.Next())
}

func (v *Viewer) relayout(ctx context.Context, apply func(*Transform)) error {
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return err
	}

	t := v.transform
	apply(&t)
	if t == v.transform {
		v.mu.Unlock()
		return nil
	}

	viewports, err := pageViewports(ctx, v.doc, t)
	if err != nil {
		v.mu.Unlock()
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "page layout failed")
	}

	page := v.sync.Current()
	offset := v.pageOffsetLocked(page)
	count := v.handle.PageCount

	var next domain.ScrollState
	order := func() ([]int, []int) {
		next = v.scrollStateAt(page, offset)
		return v.renderOrder(next, count)
	}
	if err := v.scheduler.Reset(t, viewports, order); err != nil {
		v.mu.Unlock()
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "page layout failed")
	}
	v.transform = t
	v.handle.Scale = t.Scale
	v.handle.Rotation = t.Rotation
	v.scroll = next
	v.mu.Unlock()

	v.sync.SetScrollState(next)
	v.logger.Debug("layout changed", "scale", t.Scale, "rotation", int(t.Rotation), "page", page)
	v.notifyLayout(next)
	return nil
}

// OnScroll handles a scroll event from the container: it reprioritizes the
// visible pages, feeds the synchronizer and reports the progress snapshot.
// A zero viewport height keeps the last known height.
func (v *Viewer) OnScroll(state domain.ScrollState) (progress.Snapshot, error) {
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return progress.Snapshot{}, err
	}
	if state.ViewportHeight > 0 {
		v.viewportH = state.ViewportHeight
	}
	state.ViewportHeight = v.viewportH
	state.ContentHeight = v.registry.ContentHeight()
	state.ScrollTop = min(max(state.ScrollTop, 0), state.MaxScrollTop())
	v.scroll = state
	count := v.handle.PageCount
	v.mu.Unlock()

	geometries := v.registry.Geometries()
	visible := VisiblePages(state, geometries)
	v.scheduler.Prioritize(visible)
	v.scheduler.EnqueueVisibleFirst(nil, Window(visible, count, v.opts.Config.RenderWindow))
	v.sync.OnScroll(state)

	snap := progress.Calculate(v.sync.Current(), count, state, geometries)
	if v.opts.Hooks.OnScrollProgress != nil {
		v.opts.Hooks.OnScrollProgress(snap)
	}
	return snap, nil
}

// GoToPage navigates to page n, clamped to the document. It returns the page
// navigated to.
func (v *Viewer) GoToPage(n int) (int, error) {
	v.mu.Lock()
	err := v.readyLocked()
	v.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return v.sync.GoToPage(n), nil
}

// NextPage navigates one page forward.
func (v *Viewer) NextPage() (int, error) {
	return v.GoToPage(v.sync.Current() + 1)
}

// PrevPage navigates one page back.
func (v *Viewer) PrevPage() (int, error) {
	return v.GoToPage(v.sync.Current() - 1)
}

// FirstPage navigates to page 1.
func (v *Viewer) FirstPage() (int, error) {
	return v.GoToPage(1)
}

// LastPage navigates to the final page.
func (v *Viewer) LastPage() (int, error) {
	return v.GoToPage(v.registry.Len())
}

// CancelPage stops drawing page n.
func (v *Viewer) CancelPage(n int) error {
	if err := v.checkPage(n); err != nil {
		return err
	}
	if !v.scheduler.CancelPage(n) {
		return domainerrors.Conflictf("page %d is not queued or drawing", n)
	}
	return nil
}

// RetryPage re-queues a page whose draw failed.
func (v *Viewer) RetryPage(n int) error {
	if err := v.checkPage(n); err != nil {
		return err
	}
	if !v.scheduler.RetryPage(n) {
		return domainerrors.Conflictf("page %d has not failed", n)
	}
	return nil
}

// Progress computes the snapshot for the current page and scroll position.
func (v *Viewer) Progress() progress.Snapshot {
	v.mu.Lock()
	state := v.scroll
	count := 0
	if v.handle != nil {
		count = v.handle.PageCount
	}
	v.mu.Unlock()

	return progress.Calculate(v.sync.Current(), count, state, v.registry.Geometries())
}

// CurrentPage returns the synchronized current page.
func (v *Viewer) CurrentPage() int {
	return v.sync.Current()
}

// Slots returns every page slot in order.
func (v *Viewer) Slots() []domain.PageSlot {
	return v.registry.Snapshot()
}

// PageImage returns the drawn pixels of page n.
func (v *Viewer) PageImage(n int) (*image.RGBA, error) {
	if err := v.checkPage(n); err != nil {
		return nil, err
	}
	img := v.registry.Image(n)
	if img == nil {
		return nil, domainerrors.NotReadyf("page %d is not rendered", n)
	}
	return img, nil
}

// State returns a snapshot of the viewer.
func (v *Viewer) State() State {
	v.mu.Lock()
	st := State{Status: v.status, Scroll: v.scroll}
	if v.loadErr != nil {
		st.Error = v.loadErr.Error()
	}
	if v.handle != nil {
		h := *v.handle
		st.Document = &h
	}
	v.mu.Unlock()

	st.CurrentPage = v.sync.Current()
	st.Ownership = v.sync.Ownership().String()
	st.Progress = v.Progress()
	st.Renders = make(map[string]int)
	for state, n := range v.registry.Counts() {
		st.Renders[state.String()] = n
	}
	return st
}

// Idle reports whether the render queue is drained.
func (v *Viewer) Idle() bool {
	return v.scheduler.Idle()
}

// Close stops all timers and drawing, releases every surface and closes the document.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.status == StatusClosed {
		v.mu.Unlock()
		return nil
	}
	v.status = StatusClosed
	v.loadSeq++
	doc := v.doc
	v.doc = nil
	v.mu.Unlock()

	v.sync.Stop()
	if v.animated != nil {
		v.animated.Stop()
	}
	v.scheduler.Stop()
	v.registry.Release()

	var err error
	if doc != nil {
		err = doc.Close()
	}
	v.notifyStatus(StatusClosed, nil)
	return err
}

func (v *Viewer) pageChanged(page int) {
	if v.opts.Hooks.OnPageChange != nil {
		v.opts.Hooks.OnPageChange(page)
	}
}

func (v *Viewer) notifyStatus(status Status, err error) {
	if v.opts.Hooks.OnStatus != nil {
		v.opts.Hooks.OnStatus(status, err)
	}
}

func (v *Viewer) notifyLayout(state domain.ScrollState) {
	if v.opts.Hooks.OnLayout != nil {
		v.opts.Hooks.OnLayout(state)
	}
}

func (v *Viewer) readyLocked() error {
	switch v.status {
	case StatusReady:
		return nil
	case StatusFailed:
		return domainerrors.NotReadyf("document failed to load: %v", v.loadErr)
	default:
		return domainerrors.NotReadyf("viewer is %s", v.status)
	}
}

func (v *Viewer) checkPage(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.readyLocked(); err != nil {
		return err
	}
	if n < 1 || n > v.handle.PageCount {
		return document.PageRangeError(n, v.handle.PageCount)
	}
	return nil
}

func (v *Viewer) currentTransform() Transform {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transform
}

func (v *Viewer) scrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scroll.ScrollTop
}

// pageOffsetLocked is how far into page n the viewport top sits, as a share
// of the page height.
func (v *Viewer) pageOffsetLocked(n int) float64 {
	geometries := v.registry.Geometries()
	if n < 1 || n > len(geometries) || geometries[n-1].Height <= 0 {
		return 0
	}
	g := geometries[n-1]
	return min(max((v.scroll.ScrollTop-g.Top)/g.Height, 0), 1)
}

// scrollStateAt places the viewport top offset of the way into page n.
func (v *Viewer) scrollStateAt(n int, offset float64) domain.ScrollState {
	state := domain.ScrollState{
		ViewportHeight: v.viewportH,
		ContentHeight:  v.registry.ContentHeight(),
	}
	geometries := v.registry.Geometries()
	if n >= 1 && n <= len(geometries) {
		g := geometries[n-1]
		state.ScrollTop = g.Top + offset*g.Height
	}
	state.ScrollTop = min(max(state.ScrollTop, 0), state.MaxScrollTop())
	return state
}

// renderOrder returns the visible pages at state and the background pages after them.
func (v *Viewer) renderOrder(state domain.ScrollState, count int) ([]int, []int) {
	visible := VisiblePages(state, v.registry.Geometries())
	return visible, Window(visible, count, v.opts.Config.RenderWindow)
}

func pageViewports(ctx context.Context, doc document.Document, t Transform) ([]domain.Viewport, error) {
	viewports := make([]domain.Viewport, doc.PageCount())
	for i := range viewports {
		page, err := doc.Page(ctx, i+1)
		if err != nil {
			return nil, err
		}
		viewports[i] = page.Viewport(t.Scale, t.Rotation)
	}
	return viewports, nil
}
