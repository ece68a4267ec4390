package kv_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
	"github.com/listenupapp/listenup-reader/internal/store/kv"
)

func setupTestStore(t *testing.T) *kv.Store {
	t.Helper()

	s, err := kv.New(filepath.Join(t.TempDir(), "badger"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestProgress_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetProgress(context.Background(), "user-1", "book-1")
	require.ErrorIs(t, err, store.ErrProgressNotFound)
}

func TestProgress_UpsertMerges(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	saved, err := s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 10, TotalPages: 10, ProgressPercentage: 100,
		IsCompleted: true, LastReadAt: done,
	})
	require.NoError(t, err)
	require.True(t, saved.IsCompleted)
	require.NotNil(t, saved.CompletedAt)
	assert.True(t, saved.CompletedAt.Equal(done))

	saved, err = s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1",
		CurrentPage: 2, TotalPages: 10, ProgressPercentage: 12.5,
		LastReadAt: done.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.CurrentPage)
	assert.InDelta(t, 12.5, saved.ProgressPercentage, 1e-9)
	assert.True(t, saved.IsCompleted, "completion must not revert")
	assert.True(t, saved.CompletedAt.Equal(done))

	got, err := s.GetProgress(ctx, "user-1", "book-1")
	require.NoError(t, err)
	assert.Equal(t, saved.CurrentPage, got.CurrentPage)
	assert.True(t, got.LastReadAt.Equal(done.Add(time.Hour)))
}

func TestProgress_Invalid(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.UpsertProgress(context.Background(), &domain.ProgressRecord{UserID: "user-1"})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestProgress_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertProgress(ctx, &domain.ProgressRecord{
		UserID: "user-1", BookID: "book-1", CurrentPage: 1, TotalPages: 3, LastReadAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProgress(ctx, "user-1", "book-1"))
	_, err = s.GetProgress(ctx, "user-1", "book-1")
	require.ErrorIs(t, err, store.ErrProgressNotFound)

	require.NoError(t, s.DeleteProgress(ctx, "user-1", "book-1"))
}

func TestSessions_DuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rs := domain.NewReadingSession("rs-1", "user-1", "book-1", 1, 2, time.Now(), 60)
	require.NoError(t, s.InsertSession(ctx, rs))
	require.ErrorIs(t, s.InsertSession(ctx, rs), store.ErrAlreadyExists)
}

func TestSessions_ListMostRecentFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; listing sorts by end time.
	for _, i := range []int{2, 0, 4, 1, 3} {
		rs := domain.NewReadingSession(fmt.Sprintf("rs-%d", i), "user-1", "book-1", i+1, i+2, base.Add(time.Duration(i)*time.Minute), 90)
		require.NoError(t, s.InsertSession(ctx, rs))
	}
	require.NoError(t, s.InsertSession(ctx, domain.NewReadingSession("rs-x", "user-1", "book-2", 1, 1, base.Add(time.Hour), 60)))
	require.NoError(t, s.InsertSession(ctx, domain.NewReadingSession("rs-y", "user-2", "book-1", 1, 1, base.Add(time.Hour), 60)))

	var ids []string
	params := store.PaginationParams{Limit: 2}
	pages := 0
	for {
		page, err := s.ListSessions(ctx, "user-1", "book-1", params)
		require.NoError(t, err)
		pages++
		for _, rs := range page.Items {
			ids = append(ids, rs.ID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		params.Cursor = page.NextCursor
	}

	assert.Equal(t, []string{"rs-4", "rs-3", "rs-2", "rs-1", "rs-0"}, ids)
	assert.Equal(t, 3, pages)
}

func TestSessions_ListExactPage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 2 {
		rs := domain.NewReadingSession(fmt.Sprintf("rs-%d", i), "user-1", "book-1", 1, 2, base.Add(time.Duration(i)*time.Minute), 60)
		require.NoError(t, s.InsertSession(ctx, rs))
	}

	page, err := s.ListSessions(ctx, "user-1", "book-1", store.PaginationParams{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)
}

func TestSessions_ListEmpty(t *testing.T) {
	s := setupTestStore(t)

	page, err := s.ListSessions(context.Background(), "user-1", "book-1", store.DefaultPaginationParams())
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}
