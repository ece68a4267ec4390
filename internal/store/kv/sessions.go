package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

func sessionBookKey(userID, bookID string) string {
	return userID + ":" + bookID + ":"
}

// sessionSortKey pads the end time so index keys sort chronologically.
func sessionSortKey(rs *domain.ReadingSession) string {
	return fmt.Sprintf("%s%020d:%s", sessionBookKey(rs.UserID, rs.BookID), rs.EndTime.UnixNano(), rs.ID)
}

// InsertSession appends a reading session.
func (s *Store) InsertSession(ctx context.Context, session *domain.ReadingSession) error {
	if err := store.PrepareSession(session, time.Now()); err != nil {
		return err
	}
	return s.sessions.Create(ctx, session.ID, session)
}

// ListSessions returns sessions for (user, book), most recent first.
func (s *Store) ListSessions(ctx context.Context, userID, bookID string, params store.PaginationParams) (*store.PaginatedResult[*domain.ReadingSession], error) {
	params.Validate()

	after, err := store.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	items, next, err := s.sessions.ListByIndex(ctx, sessionsByBook, sessionBookKey(userID, bookID), after, params.Limit)
	if err != nil {
		return nil, err
	}

	return &store.PaginatedResult[*domain.ReadingSession]{
		Items:      items,
		NextCursor: store.EncodeCursor(next),
		HasMore:    next != "",
	}, nil
}
