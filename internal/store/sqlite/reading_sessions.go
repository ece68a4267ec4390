package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// readingSessionColumns is the ordered list of columns selected in reading session queries.
// Must match the scan order in scanReadingSession.
const readingSessionColumns = `id, user_id, book_id, page_start, page_end,
	start_time, end_time, duration_minutes`

func scanReadingSession(scanner interface{ Scan(dest ...any) error }) (*domain.ReadingSession, error) {
	var (
		rs        domain.ReadingSession
		startTime string
		endTime   string
	)

	err := scanner.Scan(
		&rs.ID,
		&rs.UserID,
		&rs.BookID,
		&rs.PageStart,
		&rs.PageEnd,
		&startTime,
		&endTime,
		&rs.DurationMinutes,
	)
	if err != nil {
		return nil, err
	}

	if rs.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if rs.EndTime, err = parseTime(endTime); err != nil {
		return nil, err
	}
	return &rs, nil
}

// InsertSession appends a reading session. A missing id is generated.
// Returns store.ErrAlreadyExists if the session ID already exists.
func (s *Store) InsertSession(ctx context.Context, session *domain.ReadingSession) error {
	if err := store.PrepareSession(session, time.Now()); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reading_sessions (
			id, user_id, book_id, page_start, page_end,
			start_time, end_time, duration_minutes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.BookID,
		session.PageStart,
		session.PageEnd,
		formatTime(session.StartTime),
		formatTime(session.EndTime),
		session.DurationMinutes,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// ListSessions returns sessions for (user, book) ordered by end_time
// descending (most recent first). The cursor is the last row's end_time and id.
func (s *Store) ListSessions(ctx context.Context, userID, bookID string, params store.PaginationParams) (*store.PaginatedResult[*domain.ReadingSession], error) {
	params.Validate()

	cursor, err := store.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + readingSessionColumns + ` FROM reading_sessions
		WHERE user_id = ? AND book_id = ?`
	args := []any{userID, bookID}
	if cursor != "" {
		endTime, id, ok := strings.Cut(cursor, "|")
		if !ok {
			return nil, store.ErrInvalidInput.WithMessage("invalid cursor")
		}
		query += ` AND (end_time, id) < (?, ?)`
		args = append(args, endTime, id)
	}
	query += ` ORDER BY end_time DESC, id DESC LIMIT ?`
	args = append(args, params.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &store.PaginatedResult[*domain.ReadingSession]{Items: []*domain.ReadingSession{}}
	for rows.Next() {
		rs, err := scanReadingSession(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result.Items) > params.Limit {
		result.Items = result.Items[:params.Limit]
		last := result.Items[len(result.Items)-1]
		result.HasMore = true
		result.NextCursor = store.EncodeCursor(formatTime(last.EndTime) + "|" + last.ID)
	}
	return result, nil
}
