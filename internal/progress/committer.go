package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/id"
)

// writeTimeout bounds one debounced write.
const writeTimeout = 10 * time.Second

// Store is the persistence the committer writes through.
type Store interface {
	// UpsertProgress writes rec keyed by (user, book) and returns the stored record.
	UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) (*domain.ProgressRecord, error)
	InsertSession(ctx context.Context, session *domain.ReadingSession) error
}

// Commit is one position update from the viewer.
type Commit struct {
	CurrentPage int
	TotalPages  int
	Percentage  float64
	// ElapsedSeconds is the cumulative reading time since the reader opened.
	ElapsedSeconds float64
}

// CommitterOptions configures a Committer.
type CommitterOptions struct {
	UserID   string
	BookID   string
	Store    Store
	Clock    clock.Clock
	Debounce time.Duration
	Logger   *slog.Logger
	// StartPage is the page the first session starts on.
	StartPage int
	// OnSaved runs after a successful progress write.
	OnSaved func(*domain.ProgressRecord)
}

// Committer coalesces commits and writes the latest one once the stream has
// been quiet for the debounce window. Every write upserts the progress record
// and appends one reading session covering the time since the previous write.
// Failures are logged and left for the next commit to supersede.
type Committer struct {
	opts      CommitterOptions
	debouncer *clock.Debouncer

	mu             sync.Mutex
	pending        *Commit
	sessionPage    int
	flushedElapsed float64

	writeMu sync.Mutex
}

// NewCommitter creates a committer for one (user, book).
func NewCommitter(opts CommitterOptions) *Committer {
	if opts.OnSaved == nil {
		opts.OnSaved = func(*domain.ProgressRecord) {}
	}
	c := &Committer{opts: opts, sessionPage: opts.StartPage}
	c.debouncer = clock.NewDebouncer(opts.Clock, opts.Debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		c.write(ctx)
	})
	return c
}

// Commit records the latest position and restarts the quiet window.
func (c *Committer) Commit(commit Commit) {
	c.mu.Lock()
	c.pending = &commit
	if c.sessionPage == 0 {
		c.sessionPage = commit.CurrentPage
	}
	c.mu.Unlock()

	c.debouncer.Trigger()
}

// Pending reports whether a commit is waiting to be written.
func (c *Committer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Flush writes the pending commit now, if any.
func (c *Committer) Flush(ctx context.Context) {
	c.debouncer.Cancel()
	c.write(ctx)
}

// Close flushes the pending commit and ignores later ones.
func (c *Committer) Close(ctx context.Context) {
	c.debouncer.Stop()
	c.write(ctx)
}

func (c *Committer) write(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	commit := c.pending
	c.pending = nil
	startPage := c.sessionPage
	elapsed := 0.0
	if commit != nil {
		elapsed = commit.ElapsedSeconds - c.flushedElapsed
	}
	c.mu.Unlock()

	if commit == nil {
		return
	}

	log := c.opts.Logger.With("user_id", c.opts.UserID, "book_id", c.opts.BookID, "page", commit.CurrentPage)
	now := c.opts.Clock.Now()

	rec := &domain.ProgressRecord{
		UserID:             c.opts.UserID,
		BookID:             c.opts.BookID,
		CurrentPage:        commit.CurrentPage,
		TotalPages:         commit.TotalPages,
		ProgressPercentage: commit.Percentage,
		IsCompleted:        IsCompleted(commit.CurrentPage, commit.TotalPages),
		LastReadAt:         now,
	}
	if rec.IsCompleted {
		rec.CompletedAt = &now
	}

	saved, err := c.opts.Store.UpsertProgress(ctx, rec)
	if err != nil {
		log.Warn("progress commit failed", "error", err)
		return
	}

	session := domain.NewReadingSession(id.MustGenerate(id.PrefixSession),
		c.opts.UserID, c.opts.BookID, startPage, commit.CurrentPage, now, elapsed)
	if err := c.opts.Store.InsertSession(ctx, session); err != nil {
		log.Warn("reading session insert failed", "error", err)
	} else {
		c.mu.Lock()
		c.flushedElapsed = commit.ElapsedSeconds
		c.sessionPage = commit.CurrentPage
		c.mu.Unlock()
	}

	log.Debug("progress committed", "percentage", saved.ProgressPercentage, "completed", saved.IsCompleted)
	c.opts.OnSaved(saved)
}
