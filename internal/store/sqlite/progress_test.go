package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

func TestGetProgress_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProgress(context.Background(), "user-1", "book-1")
	if !errors.Is(err, store.ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrProgressNotFound to match ErrNotFound")
	}
}

func TestUpsertProgress_InsertThenOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 3, TotalPages: 10, ProgressPercentage: 25,
		LastReadAt: now,
	}
	got, err := s.UpsertProgress(ctx, first)
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if got.CurrentPage != 3 || got.ProgressPercentage != 25 || got.IsCompleted {
		t.Errorf("unexpected record after insert: %+v", got)
	}

	second := &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 2, TotalPages: 10, ProgressPercentage: 15,
		LastReadAt: now.Add(time.Minute),
	}
	if _, err := s.UpsertProgress(ctx, second); err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}

	stored, err := s.GetProgress(ctx, "user-1", "book-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	// Latest write wins even when the reader moved backwards.
	if stored.CurrentPage != 2 || stored.ProgressPercentage != 15 {
		t.Errorf("expected page 2 at 15%%, got page %d at %v", stored.CurrentPage, stored.ProgressPercentage)
	}
	if !stored.LastReadAt.Equal(now.Add(time.Minute)) {
		t.Errorf("LastReadAt: got %v", stored.LastReadAt)
	}
}

func TestUpsertProgress_CompletionNeverReverts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 10, TotalPages: 10, ProgressPercentage: 100,
		IsCompleted: true, CompletedAt: &done, LastReadAt: done,
	})
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}

	later := done.Add(time.Hour)
	got, err := s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 1, TotalPages: 10, ProgressPercentage: 0,
		LastReadAt: later,
	})
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}

	if !got.IsCompleted {
		t.Error("IsCompleted reverted to false")
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt: got %v, want %v", got.CompletedAt, done)
	}
	if got.CurrentPage != 1 {
		t.Errorf("CurrentPage: got %d, want 1", got.CurrentPage)
	}

	// A second completion keeps the first timestamp.
	again := later.Add(time.Hour)
	got, err = s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 10, TotalPages: 10, ProgressPercentage: 100,
		IsCompleted: true, CompletedAt: &again, LastReadAt: again,
	})
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt overwritten: got %v, want %v", got.CompletedAt, done)
	}
}

func TestUpsertProgress_CompletedWithoutTimestamp(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := s.UpsertProgress(context.Background(), &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 4, TotalPages: 4, ProgressPercentage: 100,
		IsCompleted: true, LastReadAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt: got %v, want %v", got.CompletedAt, now)
	}
}

func TestUpsertProgress_Invalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertProgress(context.Background(), &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1", ProgressPercentage: 140,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1", CurrentPage: 1, TotalPages: 2,
		ProgressPercentage: 10, LastReadAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}

	if err := s.DeleteProgress(ctx, "user-1", "book-1"); err != nil {
		t.Fatalf("DeleteProgress: %v", err)
	}
	if _, err := s.GetProgress(ctx, "user-1", "book-1"); !errors.Is(err, store.ErrProgressNotFound) {
		t.Errorf("expected ErrProgressNotFound after delete, got %v", err)
	}

	// Deleting again is not an error.
	if err := s.DeleteProgress(ctx, "user-1", "book-1"); err != nil {
		t.Errorf("second DeleteProgress: %v", err)
	}
}
