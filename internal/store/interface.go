// Package store defines the persistence interface for reading progress.
//
// Two backends implement it: sqlite (the default, a relational file) and kv
// (an embedded Badger key-value store).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// Store defines the interface for all persistence operations.
type Store interface {
	// Lifecycle
	Close() error
	Ping(ctx context.Context) error

	// Reading progress, one record per (user, book).
	GetProgress(ctx context.Context, userID, bookID string) (*domain.ProgressRecord, error)
	// UpsertProgress inserts rec or merges it into the stored record and
	// returns the result. Completion never reverts.
	UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) (*domain.ProgressRecord, error)
	DeleteProgress(ctx context.Context, userID, bookID string) error

	// Reading sessions, appended per commit.
	InsertSession(ctx context.Context, session *domain.ReadingSession) error
	// ListSessions returns sessions for (user, book), most recent first.
	ListSessions(ctx context.Context, userID, bookID string, params PaginationParams) (*PaginatedResult[*domain.ReadingSession], error)
}

// ValidateProgress checks a record before it is written.
func ValidateProgress(rec *domain.ProgressRecord) error {
	switch {
	case rec == nil:
		return ErrInvalidInput.WithMessage("progress record is required")
	case rec.UserID == "" || rec.BookID == "":
		return ErrInvalidInput.WithMessage("user id and book id are required")
	case rec.TotalPages < 0 || rec.CurrentPage < 0:
		return ErrInvalidInput.WithMessage("page numbers cannot be negative")
	case rec.ProgressPercentage < 0 || rec.ProgressPercentage > 100:
		return ErrInvalidInput.WithMessage("progress percentage must be within [0, 100]")
	}
	return nil
}

// PrepareSession validates a session and fills in a missing id and
// timestamps.
func PrepareSession(session *domain.ReadingSession, now time.Time) error {
	if session == nil || session.UserID == "" || session.BookID == "" {
		return ErrInvalidInput.WithMessage("session user id and book id are required")
	}
	if session.DurationMinutes < 1 {
		return ErrInvalidInput.WithMessage("session duration must be at least one minute")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.EndTime.IsZero() {
		session.EndTime = now
	}
	if session.StartTime.IsZero() {
		session.StartTime = session.EndTime.Add(-time.Duration(session.DurationMinutes) * time.Minute)
	}
	return nil
}
