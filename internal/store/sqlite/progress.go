package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// progressColumns is the ordered list of columns selected in progress queries.
// Must match the scan order in scanProgress.
const progressColumns = `user_id, book_id, current_page, total_pages,
	progress_percentage, is_completed, completed_at, last_read_at`

func scanProgress(scanner interface{ Scan(dest ...any) error }) (*domain.ProgressRecord, error) {
	var (
		rec         domain.ProgressRecord
		isCompleted int
		completedAt sql.NullString
		lastReadAt  string
	)

	err := scanner.Scan(
		&rec.UserID,
		&rec.BookID,
		&rec.CurrentPage,
		&rec.TotalPages,
		&rec.ProgressPercentage,
		&isCompleted,
		&completedAt,
		&lastReadAt,
	)
	if err != nil {
		return nil, err
	}

	rec.IsCompleted = isCompleted != 0
	if rec.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if rec.LastReadAt, err = parseTime(lastReadAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetProgress returns the progress record for (user, book).
// Returns store.ErrProgressNotFound if none has been committed.
func (s *Store) GetProgress(ctx context.Context, userID, bookID string) (*domain.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM reading_progress WHERE user_id = ? AND book_id = ?`,
		userID, bookID,
	)
	rec, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProgressNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertProgress writes rec in one statement. Position fields take the new
// values; is_completed only rises and the first completed_at is kept.
func (s *Store) UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) (*domain.ProgressRecord, error) {
	if err := store.ValidateProgress(rec); err != nil {
		return nil, err
	}

	completedAt := rec.CompletedAt
	if rec.IsCompleted && completedAt == nil {
		completedAt = &rec.LastReadAt
	}
	if !rec.IsCompleted {
		completedAt = nil
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reading_progress (
			user_id, book_id, current_page, total_pages,
			progress_percentage, is_completed, completed_at, last_read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, book_id) DO UPDATE SET
			current_page = excluded.current_page,
			total_pages = excluded.total_pages,
			progress_percentage = excluded.progress_percentage,
			last_read_at = excluded.last_read_at,
			completed_at = CASE
				WHEN reading_progress.is_completed = 1 THEN reading_progress.completed_at
				ELSE excluded.completed_at
			END,
			is_completed = MAX(reading_progress.is_completed, excluded.is_completed)
		RETURNING `+progressColumns,
		rec.UserID,
		rec.BookID,
		rec.CurrentPage,
		rec.TotalPages,
		rec.ProgressPercentage,
		boolToInt(rec.IsCompleted),
		nullTimeString(completedAt),
		formatTime(rec.LastReadAt),
	)
	return scanProgress(row)
}

// DeleteProgress removes the record for (user, book). It is idempotent.
func (s *Store) DeleteProgress(ctx context.Context, userID, bookID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reading_progress WHERE user_id = ? AND book_id = ?`, userID, bookID)
	return err
}
