package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/sse"
	"github.com/listenupapp/listenup-reader/internal/store"
	"github.com/listenupapp/listenup-reader/internal/store/sqlite"
	"github.com/listenupapp/listenup-reader/internal/viewer"
)

const (
	testUser = "user-1"
	testBook = "book-1"
	bookURL  = "https://books.example.com/book-1.pdf"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *eventRecorder) Emit(e sse.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t sse.EventType) []sse.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sse.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched map[string]int
}

func (w *fakeWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path]++
	return nil
}

func (w *fakeWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path]--
	return nil
}

func (w *fakeWatcher) count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path]
}

type readerFixture struct {
	svc    *ReaderService
	source *document.MemorySource
	store  *sqlite.Store
	clock  *clock.Fake
	events *eventRecorder
}

func setupReaderService(t *testing.T, configure ...func(*config.ReaderConfig)) *readerFixture {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "reader.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultReaderConfig()
	for _, fn := range configure {
		fn(&cfg)
	}

	f := &readerFixture{
		source: document.NewMemorySource(),
		store:  st,
		clock:  clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		events: &eventRecorder{},
	}
	f.source.Add(bookURL, document.MemoryContent{Pages: document.UniformPages(50, 60, 80)})
	f.svc = NewReaderService(cfg, f.source, st, f.events, f.clock, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = f.svc.CloseAll(context.Background()) })
	return f
}

func (f *readerFixture) open(t *testing.T, req OpenRequest) *ReaderView {
	t.Helper()
	if req.UserID == "" {
		req.UserID = testUser
	}
	if req.BookID == "" {
		req.BookID = testBook
	}
	if req.URL == "" {
		req.URL = bookURL
	}
	view, err := f.svc.Open(context.Background(), req)
	require.NoError(t, err)
	return view
}

func TestReaderService_OpenStartsAtFirstPage(t *testing.T) {
	f := setupReaderService(t)

	view := f.open(t, OpenRequest{})
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, viewer.StatusReady, view.Status)
	assert.Equal(t, 1, view.CurrentPage)
	require.NotNil(t, view.Document)
	assert.Equal(t, 50, view.Document.PageCount)

	statuses := f.events.ofType(sse.EventStatus)
	require.Len(t, statuses, 2)
	assert.Equal(t, testUser, statuses[0].UserID)
	assert.Equal(t, view.ID, statuses[1].ReaderID)

	// Opening does not count as reading.
	f.clock.Advance(5 * time.Second)
	_, err := f.store.GetProgress(context.Background(), testUser, testBook)
	assert.ErrorIs(t, err, store.ErrProgressNotFound)
}

func TestReaderService_OpenResumesStoredProgress(t *testing.T) {
	f := setupReaderService(t)
	_, err := f.store.UpsertProgress(context.Background(), &domain.ProgressRecord{
		UserID: testUser, BookID: testBook,
		CurrentPage: 30, TotalPages: 50, ProgressPercentage: 58,
		LastReadAt: f.clock.Now(),
	})
	require.NoError(t, err)

	view := f.open(t, OpenRequest{})
	assert.Equal(t, 30, view.CurrentPage)
	assert.Equal(t, 2610.0, view.Scroll.ScrollTop)

	// An explicit start page wins over stored progress.
	view = f.open(t, OpenRequest{StartPage: 5})
	assert.Equal(t, 5, view.CurrentPage)
}

func TestReaderService_OpenValidates(t *testing.T) {
	f := setupReaderService(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, OpenRequest{BookID: testBook, URL: bookURL})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = f.svc.Open(ctx, OpenRequest{UserID: testUser, BookID: testBook, URL: "ftp://nope"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = f.svc.Open(ctx, OpenRequest{UserID: testUser, BookID: testBook, URL: bookURL, Rotation: 45})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestReaderService_OpenRejectsDisallowedDocuments(t *testing.T) {
	f := setupReaderService(t)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "secret.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("%PDF"), 0o600))
	f.source.Add(outside, document.MemoryContent{Pages: document.UniformPages(1, 60, 80)})

	tests := []struct {
		name   string
		access document.Access
		url    string
	}{
		{"local without root", document.Access{}, outside},
		{"file url without root", document.Access{}, "file://" + outside},
		{"outside root", document.Access{LocalRoot: t.TempDir()}, outside},
		{"loopback host", document.Access{}, "http://127.0.0.1:8080/book.pdf"},
		{"metadata host", document.Access{}, "http://169.254.169.254/latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.svc.SetDocumentAccess(tt.access)
			_, err := f.svc.Open(ctx, OpenRequest{UserID: testUser, BookID: testBook, URL: tt.url})
			assert.ErrorIs(t, err, domainerrors.ErrValidation)
		})
	}
	assert.Zero(t, f.svc.Count())
	assert.Zero(t, f.source.Opens(outside))
}

func TestReaderService_OpenAppliesInitialRotation(t *testing.T) {
	f := setupReaderService(t)
	view := f.open(t, OpenRequest{Rotation: 90})

	assert.Equal(t, domain.Rotate90, view.Document.Rotation)
	assert.Len(t, f.events.ofType(sse.EventLayout), 1)

	r, err := f.svc.Get(view.ID, testUser)
	require.NoError(t, err)
	require.Eventually(t, r.viewer.Idle, 5*time.Second, 5*time.Millisecond)

	img, err := f.svc.PageImage(view.ID, testUser, 1)
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestReaderService_ReaderLimit(t *testing.T) {
	f := setupReaderService(t, func(c *config.ReaderConfig) { c.MaxReaders = 1 })

	f.open(t, OpenRequest{})
	_, err := f.svc.Open(context.Background(), OpenRequest{UserID: testUser, BookID: testBook, URL: bookURL})
	assert.ErrorIs(t, err, domainerrors.ErrConflict)
}

func TestReaderService_ReadersAreScopedToTheirUser(t *testing.T) {
	f := setupReaderService(t)
	view := f.open(t, OpenRequest{})

	_, err := f.svc.State(view.ID, "someone-else")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	assert.Empty(t, f.svc.List("someone-else"))
	assert.Len(t, f.svc.List(testUser), 1)
}

func TestReaderService_ScrollCommitsAfterQuietPeriod(t *testing.T) {
	f := setupReaderService(t)
	ctx := context.Background()
	view := f.open(t, OpenRequest{})

	snap, err := f.svc.Scroll(view.ID, testUser, domain.ScrollState{ScrollTop: 900, ViewportHeight: 900})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentPage, "the page changes only once scrolling settles")

	// Settle: the page whose center is nearest the viewport center becomes current.
	f.clock.Advance(150 * time.Millisecond)
	state, err := f.svc.State(view.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, 16, state.CurrentPage)

	_, err = f.store.GetProgress(ctx, testUser, testBook)
	require.ErrorIs(t, err, store.ErrProgressNotFound, "nothing is written inside the debounce window")

	f.clock.Advance(1500 * time.Millisecond)
	rec, err := f.store.GetProgress(ctx, testUser, testBook)
	require.NoError(t, err)
	assert.Equal(t, 16, rec.CurrentPage)
	assert.Equal(t, 50, rec.TotalPages)
	assert.InDelta(t, 30.0, rec.ProgressPercentage, 1e-9)
	assert.False(t, rec.IsCompleted)

	sessions, err := f.svc.ListSessions(ctx, testUser, testBook, store.DefaultPaginationParams())
	require.NoError(t, err)
	require.Len(t, sessions.Items, 1)
	assert.Equal(t, 1, sessions.Items[0].PageStart)
	assert.Equal(t, 16, sessions.Items[0].PageEnd)
	assert.Equal(t, 1, sessions.Items[0].DurationMinutes)

	assert.Len(t, f.events.ofType(sse.EventProgressSaved), 1)
	assert.NotEmpty(t, f.events.ofType(sse.EventScrollProgress))
	pages := f.events.ofType(sse.EventPageChanged)
	require.Len(t, pages, 2)
	assert.Equal(t, sse.PageChangedEventData{Page: 16, TotalPages: 50}, pages[1].Data)
}

func TestReaderService_ScrollIsRateLimited(t *testing.T) {
	f := setupReaderService(t, func(c *config.ReaderConfig) { c.ScrollEventsPerSecond = 1 })
	view := f.open(t, OpenRequest{})

	_, err := f.svc.Scroll(view.ID, testUser, domain.ScrollState{ScrollTop: 10})
	require.NoError(t, err)
	_, err = f.svc.Scroll(view.ID, testUser, domain.ScrollState{ScrollTop: 20})
	assert.ErrorIs(t, err, domainerrors.ErrRateLimited)
}

func TestReaderService_CloseFlushesPendingProgress(t *testing.T) {
	f := setupReaderService(t)
	ctx := context.Background()
	view := f.open(t, OpenRequest{})

	page, err := f.svc.Navigate(view.ID, testUser, NavLast)
	require.NoError(t, err)
	assert.Equal(t, 50, page)

	require.NoError(t, f.svc.Close(ctx, view.ID, testUser))
	assert.Equal(t, 0, f.svc.Count())

	rec, err := f.store.GetProgress(ctx, testUser, testBook)
	require.NoError(t, err)
	assert.Equal(t, 50, rec.CurrentPage)
	assert.True(t, rec.IsCompleted)
	require.NotNil(t, rec.CompletedAt)

	_, err = f.svc.State(view.ID, testUser)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestReaderService_HostScrollEmitsTargets(t *testing.T) {
	f := setupReaderService(t)
	view := f.open(t, OpenRequest{HostScroll: true})

	page, err := f.svc.GoTo(view.ID, testUser, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, page)

	targets := f.events.ofType(sse.EventScrollTo)
	require.Len(t, targets, 1)
	assert.Equal(t, sse.ScrollToEventData{ScrollTop: 1710}, targets[0].Data)

	_, err = f.svc.Navigate(view.ID, testUser, "sideways")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestReaderService_FailedLoadCanBeRetried(t *testing.T) {
	f := setupReaderService(t)
	f.source.Add(bookURL, document.MemoryContent{OpenErr: errors.New("503 unavailable")})

	view := f.open(t, OpenRequest{})
	assert.Equal(t, viewer.StatusFailed, view.Status)
	assert.Contains(t, view.Error, "503 unavailable")
	assert.Len(t, f.events.ofType(sse.EventLoadFailed), 1)

	f.source.Add(bookURL, document.MemoryContent{Pages: document.UniformPages(3, 60, 80)})
	view, err := f.svc.Retry(context.Background(), view.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, viewer.StatusReady, view.Status)
}

func TestReaderService_ZoomAndRotate(t *testing.T) {
	f := setupReaderService(t)
	ctx := context.Background()
	view := f.open(t, OpenRequest{})

	view, err := f.svc.Zoom(ctx, view.ID, testUser, true)
	require.NoError(t, err)
	assert.Equal(t, 1.25, view.Document.Scale)

	view, err = f.svc.SetRotation(ctx, view.ID, testUser, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.Rotate90, view.Document.Rotation)

	_, err = f.svc.SetRotation(ctx, view.ID, testUser, 30)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	view, err = f.svc.Rotate(ctx, view.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.Rotate180, view.Document.Rotation)
	assert.NotEmpty(t, f.events.ofType(sse.EventLayout))
}

func TestReaderService_ReloadPathReopensWatchedDocuments(t *testing.T) {
	f := setupReaderService(t)
	w := &fakeWatcher{watched: make(map[string]int)}
	f.svc.SetFileWatcher(w)

	root := t.TempDir()
	f.svc.SetDocumentAccess(document.Access{LocalRoot: root})
	localURL := filepath.Join(root, "book-1.pdf")
	require.NoError(t, os.WriteFile(localURL, []byte("%PDF"), 0o600))
	resolved, err := filepath.EvalSymlinks(localURL)
	require.NoError(t, err)
	f.source.Add(localURL, document.MemoryContent{Pages: document.UniformPages(4, 60, 80)})

	view := f.open(t, OpenRequest{URL: localURL})
	f.open(t, OpenRequest{}) // remote documents are not watched
	assert.Equal(t, 1, w.count(resolved))

	assert.Equal(t, 1, f.svc.ReloadPath(context.Background(), resolved))
	assert.Equal(t, 2, f.source.Opens(localURL))
	assert.Equal(t, 0, f.svc.ReloadPath(context.Background(), filepath.Join(root, "other.pdf")))

	require.NoError(t, f.svc.Close(context.Background(), view.ID, testUser))
	assert.Equal(t, 0, w.count(resolved))
}

func TestReaderService_CloseAllRejectsNewReaders(t *testing.T) {
	f := setupReaderService(t)
	for range 3 {
		f.open(t, OpenRequest{})
	}

	require.NoError(t, f.svc.CloseAll(context.Background()))
	assert.Equal(t, 0, f.svc.Count())

	_, err := f.svc.Open(context.Background(), OpenRequest{UserID: testUser, BookID: testBook, URL: bookURL})
	assert.ErrorIs(t, err, domainerrors.ErrConflict)
}
