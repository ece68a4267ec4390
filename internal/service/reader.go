// Package service hosts open readers and connects each one to progress
// persistence and the event stream.
package service

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/id"
	"github.com/listenupapp/listenup-reader/internal/progress"
	"github.com/listenupapp/listenup-reader/internal/ratelimit"
	"github.com/listenupapp/listenup-reader/internal/sse"
	"github.com/listenupapp/listenup-reader/internal/store"
	"github.com/listenupapp/listenup-reader/internal/validation"
	"github.com/listenupapp/listenup-reader/internal/viewer"
)

// EventEmitter publishes reader events.
type EventEmitter interface {
	Emit(event sse.Event)
}

// FileWatcher follows local document files.
type FileWatcher interface {
	Watch(path string) error
	Unwatch(path string) error
}

// invalidator is implemented by sources that cache opened documents.
type invalidator interface {
	Invalidate(url string)
}

// Navigation directions for Navigate.
const (
	NavNext  = "next"
	NavPrev  = "prev"
	NavFirst = "first"
	NavLast  = "last"
)

// OpenRequest opens a document for one user and book.
type OpenRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	BookID string `json:"bookId" validate:"required,max=128"`
	URL    string `json:"url" validate:"required,documenturl"`
	// StartPage 0 resumes from stored progress, or page 1 without any.
	StartPage      int     `json:"startPage" validate:"gte=0"`
	ViewportHeight float64 `json:"viewportHeight" validate:"gte=0"`
	Scale          float64 `json:"scale" validate:"gte=0"`
	Rotation       int     `json:"rotation" validate:"rotation"`
	// HostScroll makes the host own the scroll container: programmatic
	// scroll targets are sent as reader.scroll_to events instead of being
	// animated server side.
	HostScroll bool `json:"hostScroll"`
}

// ReaderView is the externally visible state of one reader.
type ReaderView struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	BookID   string    `json:"bookId"`
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"openedAt"`
	viewer.State
}

// Reader is one open document bound to a (user, book).
type Reader struct {
	ID       string
	UserID   string
	BookID   string
	URL      string
	OpenedAt time.Time

	viewer    *viewer.Viewer
	committer *progress.Committer
	// localPath is the resolved file behind URL, empty for remote documents.
	localPath string
	// watched is guarded by ReaderService.mu.
	watched string
	// opened gates commits so the initial jump to the start page is not
	// recorded as reading.
	opened atomic.Bool
}

// ReaderService manages open readers.
type ReaderService struct {
	cfg       config.ReaderConfig
	source    document.Source
	store     store.Store
	events    EventEmitter
	clock     clock.Clock
	logger    *slog.Logger
	validator *validation.Validator
	limiter   *ratelimit.KeyedRateLimiter
	watcher   FileWatcher
	access    document.Access

	mu      sync.RWMutex
	readers map[string]*Reader
	closed  bool
}

// NewReaderService creates a reader service.
func NewReaderService(cfg config.ReaderConfig, source document.Source, st store.Store, events EventEmitter, clk clock.Clock, logger *slog.Logger) *ReaderService {
	if clk == nil {
		clk = clock.New()
	}
	return &ReaderService{
		cfg:       cfg,
		source:    source,
		store:     st,
		events:    events,
		clock:     clk,
		logger:    logger,
		validator: validation.New(),
		limiter:   ratelimit.PerSecond(cfg.ScrollEventsPerSecond),
		readers:   make(map[string]*Reader),
	}
}

// SetFileWatcher enables reloading readers whose local file changes.
// This is set after construction because the watcher is optional.
func (s *ReaderService) SetFileWatcher(w FileWatcher) {
	s.watcher = w
}

// SetDocumentAccess sets which documents readers may open. The zero value
// refuses local files and private hosts.
func (s *ReaderService) SetDocumentAccess(a document.Access) {
	s.access = a
}

// Open creates a reader and loads its document. A document that fails to
// load still yields a reader in the failed state so the host can retry.
func (s *ReaderService) Open(ctx context.Context, req OpenRequest) (*ReaderView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	localPath, err := s.access.Check(req.URL)
	if err != nil {
		return nil, domainerrors.ValidationWithDetails("document not allowed",
			map[string]string{"url": err.Error()})
	}

	s.mu.RLock()
	closed, count := s.closed, len(s.readers)
	s.mu.RUnlock()
	if closed {
		return nil, domainerrors.Conflictf("reader service is shutting down")
	}
	if count >= s.cfg.MaxReaders {
		return nil, domainerrors.Conflictf("reader limit of %d reached", s.cfg.MaxReaders)
	}

	start := req.StartPage
	if start == 0 {
		start = s.resumePage(ctx, req.UserID, req.BookID)
	}

	r := &Reader{
		ID:        id.MustGenerate(id.PrefixReader),
		UserID:    req.UserID,
		BookID:    req.BookID,
		URL:       req.URL,
		OpenedAt:  s.clock.Now(),
		localPath: localPath,
	}
	log := s.logger.With("reader_id", r.ID, "user_id", r.UserID, "book_id", r.BookID)

	r.committer = progress.NewCommitter(progress.CommitterOptions{
		UserID:    r.UserID,
		BookID:    r.BookID,
		Store:     s.store,
		Clock:     s.clock,
		Debounce:  s.cfg.CommitDebounce,
		Logger:    log,
		StartPage: start,
		OnSaved: func(rec *domain.ProgressRecord) {
			s.emit(r, sse.NewProgressSavedEvent(r.ID, rec))
		},
	})

	cfg := s.cfg
	if req.ViewportHeight > 0 {
		cfg.DefaultViewportHeight = req.ViewportHeight
	}
	if req.Scale > 0 {
		cfg.DefaultScale = min(max(req.Scale, cfg.MinScale), cfg.MaxScale)
	}

	var scroller viewer.Scroller
	if req.HostScroll {
		scroller = viewer.ScrollerFunc(func(top float64) {
			s.emit(r, sse.NewScrollToEvent(r.ID, top))
		})
	}

	r.viewer = viewer.New(viewer.Options{
		Source:   s.source,
		Clock:    s.clock,
		Config:   cfg,
		Logger:   log,
		Hooks:    s.hooks(r),
		Rotation: domain.Rotation(req.Rotation),
		Scroller: scroller,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = r.viewer.Close()
		return nil, domainerrors.Conflictf("reader service is shutting down")
	}
	s.readers[r.ID] = r
	s.mu.Unlock()

	err = r.viewer.Load(ctx, req.URL, start)
	if err != nil && !domainerrors.Is(err, domainerrors.ErrDocumentLoad) {
		s.remove(r.ID)
		_ = r.viewer.Close()
		return nil, err
	}

	r.opened.Store(true)
	s.watch(r)
	log.Info("reader opened", "url", req.URL, "start_page", start, "status", r.viewer.State().Status.String())
	return r.view(), nil
}

// resumePage returns the stored page for (user, book), or 1.
func (s *ReaderService) resumePage(ctx context.Context, userID, bookID string) int {
	rec, err := s.store.GetProgress(ctx, userID, bookID)
	if err != nil {
		if !errors.Is(err, store.ErrProgressNotFound) {
			s.logger.Warn("failed to load reading progress",
				"user_id", userID, "book_id", bookID, "error", err)
		}
		return 1
	}
	return max(rec.CurrentPage, 1)
}

func (s *ReaderService) hooks(r *Reader) viewer.Hooks {
	return viewer.Hooks{
		OnStatus: func(status viewer.Status, err error) {
			s.emit(r, sse.NewStatusEvent(r.ID, status.String(), err))
			if status == viewer.StatusFailed && err != nil {
				s.emit(r, sse.NewLoadFailedEvent(r.ID, err))
			}
		},
		OnPageChange: func(page int) {
			snap := r.viewer.Progress()
			s.emit(r, sse.NewPageChangedEvent(r.ID, page, snap.TotalPages))
			s.commit(r, snap)
		},
		OnScrollProgress: func(snap progress.Snapshot) {
			s.emit(r, sse.NewScrollProgressEvent(r.ID, snap))
			s.commit(r, snap)
		},
		OnRender: func(e viewer.RenderEvent) {
			s.emit(r, sse.NewPageRenderEvent(r.ID, e.Page, e.State, e.Placeholder, e.Err))
		},
		OnLayout: func(state domain.ScrollState) {
			s.emit(r, sse.NewLayoutEvent(r.ID, state))
		},
	}
}

// commit hands the position to the debounced committer.
func (s *ReaderService) commit(r *Reader, snap progress.Snapshot) {
	if !r.opened.Load() || snap.TotalPages == 0 || snap.CurrentPage == 0 {
		return
	}
	r.committer.Commit(progress.Commit{
		CurrentPage:    snap.CurrentPage,
		TotalPages:     snap.TotalPages,
		Percentage:     snap.Percentage,
		ElapsedSeconds: s.clock.Now().Sub(r.OpenedAt).Seconds(),
	})
}

func (s *ReaderService) emit(r *Reader, event sse.Event) {
	if s.events == nil {
		return
	}
	event.UserID = r.UserID
	s.events.Emit(event)
}

// watch follows r's resolved local file, if any.
func (s *ReaderService) watch(r *Reader) {
	if s.watcher == nil || r.localPath == "" {
		return
	}
	if err := s.watcher.Watch(r.localPath); err != nil {
		s.logger.Warn("failed to watch document file", "path", r.localPath, "error", err)
		return
	}
	s.mu.Lock()
	r.watched = r.localPath
	s.mu.Unlock()
}

// Get returns the reader owned by userID.
func (s *ReaderService) Get(readerID, userID string) (*Reader, error) {
	s.mu.RLock()
	r, ok := s.readers[readerID]
	s.mu.RUnlock()

	if !ok || r.UserID != userID {
		return nil, domainerrors.NotFoundf("reader %s not found", readerID)
	}
	return r, nil
}

// State returns the current view of a reader.
func (s *ReaderService) State(readerID, userID string) (*ReaderView, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return nil, err
	}
	return r.view(), nil
}

// List returns every reader owned by userID, oldest first.
func (s *ReaderService) List(userID string) []*ReaderView {
	s.mu.RLock()
	readers := slices.Collect(maps.Values(s.readers))
	s.mu.RUnlock()

	views := make([]*ReaderView, 0, len(readers))
	for _, r := range readers {
		if r.UserID == userID {
			views = append(views, r.view())
		}
	}
	slices.SortFunc(views, func(a, b *ReaderView) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return views
}

// Slots returns the page slots of a reader.
func (s *ReaderService) Slots(readerID, userID string) ([]domain.PageSlot, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return nil, err
	}
	return r.viewer.Slots(), nil
}

// Scroll feeds one scroll event to a reader. Events beyond the configured
// per-reader rate are rejected; the host's next event carries the position.
func (s *ReaderService) Scroll(readerID, userID string, state domain.ScrollState) (progress.Snapshot, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	if !s.limiter.Allow(r.ID) {
		return progress.Snapshot{}, domainerrors.ErrRateLimited
	}
	return r.viewer.OnScroll(state)
}

// GoTo navigates a reader to page n and returns the page navigated to.
func (s *ReaderService) GoTo(readerID, userID string, n int) (int, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return 0, err
	}
	return r.viewer.GoToPage(n)
}

// Navigate moves a reader one step in direction.
func (s *ReaderService) Navigate(readerID, userID, direction string) (int, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return 0, err
	}
	switch direction {
	case NavNext:
		return r.viewer.NextPage()
	case NavPrev:
		return r.viewer.PrevPage()
	case NavFirst:
		return r.viewer.FirstPage()
	case NavLast:
		return r.viewer.LastPage()
	}
	return 0, domainerrors.Validationf("unknown direction %q", direction)
}

// SetScale redraws a reader at scale.
func (s *ReaderService) SetScale(ctx context.Context, readerID, userID string, scale float64) (*ReaderView, error) {
	return s.relayout(readerID, userID, func(v *viewer.Viewer) error { return v.SetScale(ctx, scale) })
}

// Zoom steps a reader's scale in or out.
func (s *ReaderService) Zoom(ctx context.Context, readerID, userID string, in bool) (*ReaderView, error) {
	return s.relayout(readerID, userID, func(v *viewer.Viewer) error {
		if in {
			return v.ZoomIn(ctx)
		}
		return v.ZoomOut(ctx)
	})
}

// SetRotation redraws a reader rotated by degrees.
func (s *ReaderService) SetRotation(ctx context.Context, readerID, userID string, degrees int) (*ReaderView, error) {
	if err := s.validator.Var("rotation", degrees, "rotation"); err != nil {
		return nil, err
	}
	return s.relayout(readerID, userID, func(v *viewer.Viewer) error {
		return v.SetRotation(ctx, domain.Rotation(degrees))
	})
}

// Rotate turns a reader's pages another quarter turn.
func (s *ReaderService) Rotate(ctx context.Context, readerID, userID string) (*ReaderView, error) {
	return s.relayout(readerID, userID, func(v *viewer.Viewer) error { return v.Rotate(ctx) })
}

func (s *ReaderService) relayout(readerID, userID string, fn func(*viewer.Viewer) error) (*ReaderView, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(r.viewer); err != nil {
		return nil, err
	}
	return r.view(), nil
}

// Retry reloads a reader whose document failed to load.
func (s *ReaderService) Retry(ctx context.Context, readerID, userID string) (*ReaderView, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return nil, err
	}
	if err := r.viewer.Retry(ctx); err != nil && !domainerrors.Is(err, domainerrors.ErrDocumentLoad) {
		return nil, err
	}
	return r.view(), nil
}

// RetryPage re-queues a page whose draw failed.
func (s *ReaderService) RetryPage(readerID, userID string, n int) error {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return err
	}
	return r.viewer.RetryPage(n)
}

// CancelPage stops drawing page n.
func (s *ReaderService) CancelPage(readerID, userID string, n int) error {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return err
	}
	return r.viewer.CancelPage(n)
}

// PageImage returns the drawn pixels of page n.
func (s *ReaderService) PageImage(readerID, userID string, n int) (image.Image, error) {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return nil, err
	}
	img, err := r.viewer.PageImage(n)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Close flushes a reader's pending progress and releases it.
func (s *ReaderService) Close(ctx context.Context, readerID, userID string) error {
	r, err := s.Get(readerID, userID)
	if err != nil {
		return err
	}
	if !s.remove(r.ID) {
		// Closed concurrently.
		return nil
	}
	return s.closeReader(ctx, r)
}

func (s *ReaderService) remove(readerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readers[readerID]; !ok {
		return false
	}
	delete(s.readers, readerID)
	return true
}

func (s *ReaderService) closeReader(ctx context.Context, r *Reader) error {
	err := r.viewer.Close()
	r.committer.Close(ctx)
	s.limiter.Forget(r.ID)

	s.mu.RLock()
	watched := r.watched
	s.mu.RUnlock()
	if watched != "" && s.watcher != nil {
		if uerr := s.watcher.Unwatch(watched); uerr != nil {
			s.logger.Warn("failed to unwatch document file", "path", watched, "error", uerr)
		}
	}

	s.logger.Info("reader closed", "reader_id", r.ID, "user_id", r.UserID, "book_id", r.BookID)
	return err
}

// CloseAll closes every reader concurrently and rejects new ones.
func (s *ReaderService) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	readers := slices.Collect(maps.Values(s.readers))
	clear(s.readers)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, r := range readers {
		g.Go(func() error {
			return s.closeReader(gctx, r)
		})
	}
	return g.Wait()
}

// Count returns the number of open readers.
func (s *ReaderService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readers)
}

// GetProgress returns the stored progress for (user, book).
func (s *ReaderService) GetProgress(ctx context.Context, userID, bookID string) (*domain.ProgressRecord, error) {
	return s.store.GetProgress(ctx, userID, bookID)
}

// ListSessions returns reading sessions for (user, book), most recent first.
func (s *ReaderService) ListSessions(ctx context.Context, userID, bookID string, params store.PaginationParams) (*store.PaginatedResult[*domain.ReadingSession], error) {
	return s.store.ListSessions(ctx, userID, bookID, params)
}

// ReloadPath reloads every reader showing the local file at path. The
// source cache for the document is dropped first so the new bytes are read.
func (s *ReaderService) ReloadPath(ctx context.Context, path string) int {
	s.mu.RLock()
	var matches []*Reader
	for _, r := range s.readers {
		if r.watched == path {
			matches = append(matches, r)
		}
	}
	s.mu.RUnlock()

	if inv, ok := s.source.(invalidator); ok {
		for _, r := range matches {
			inv.Invalidate(r.URL)
		}
	}

	reloaded := 0
	for _, r := range matches {
		if err := r.viewer.Reload(ctx, ""); err != nil {
			s.logger.Warn("reload after file change failed", "reader_id", r.ID, "path", path, "error", err)
			continue
		}
		reloaded++
	}
	if len(matches) > 0 {
		s.logger.Info("document file changed", "path", path, "readers", len(matches), "reloaded", reloaded)
	}
	return reloaded
}

func (r *Reader) view() *ReaderView {
	return &ReaderView{
		ID:       r.ID,
		UserID:   r.UserID,
		BookID:   r.BookID,
		URL:      r.URL,
		OpenedAt: r.OpenedAt,
		State:    r.viewer.State(),
	}
}
