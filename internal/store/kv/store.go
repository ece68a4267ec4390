// Package kv is the Badger-backed progress store.
package kv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

const (
	progressPrefix = "progress:"
	sessionPrefix  = "session:"

	// sessionsByBook orders sessions per (user, book) by end time.
	sessionsByBook = "book"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	progress *Entity[domain.ProgressRecord]
	sessions *Entity[domain.ReadingSession]
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a Badger database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	s.progress = NewEntity[domain.ProgressRecord](s, progressPrefix)
	s.sessions = NewEntity[domain.ReadingSession](s, sessionPrefix).
		WithIndex(sessionsByBook, func(rs *domain.ReadingSession) []string {
			return []string{sessionSortKey(rs)}
		})

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}
	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("badger db is closed")
	}
	return nil
}
