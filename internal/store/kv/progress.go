package kv

import (
	"context"
	"errors"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// GetProgress returns the progress record for (user, book).
func (s *Store) GetProgress(ctx context.Context, userID, bookID string) (*domain.ProgressRecord, error) {
	rec, err := s.progress.Get(ctx, domain.ProgressID(userID, bookID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrProgressNotFound
	}
	return rec, err
}

// UpsertProgress merges rec into the stored record inside one transaction.
func (s *Store) UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) (*domain.ProgressRecord, error) {
	if err := store.ValidateProgress(rec); err != nil {
		return nil, err
	}

	return s.progress.Upsert(ctx, domain.ProgressID(rec.UserID, rec.BookID), func(current *domain.ProgressRecord) (*domain.ProgressRecord, error) {
		next := &domain.ProgressRecord{UserID: rec.UserID, BookID: rec.BookID}
		if current != nil {
			*next = *current
		}
		next.Merge(rec)
		return next, nil
	})
}

// DeleteProgress removes the record for (user, book). It is idempotent.
func (s *Store) DeleteProgress(ctx context.Context, userID, bookID string) error {
	return s.progress.Delete(ctx, domain.ProgressID(userID, bookID))
}
