package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotation(t *testing.T) {
	for _, degrees := range []int{0, 90, 180, 270} {
		r, err := ParseRotation(degrees)
		require.NoError(t, err)
		assert.True(t, r.Valid())
	}

	_, err := ParseRotation(45)
	assert.Error(t, err)

	assert.Equal(t, Rotate90, Rotate0.Next())
	assert.Equal(t, Rotate0, Rotate270.Next())
	assert.True(t, Rotate90.Swaps())
	assert.False(t, Rotate180.Swaps())
}

func TestNewDocumentHandle_Validates(t *testing.T) {
	_, err := NewDocumentHandle("doc-1", "/a.pdf", 10, 1, Rotate0)
	require.NoError(t, err)

	_, err = NewDocumentHandle("doc-1", "/a.pdf", -1, 1, Rotate0)
	assert.ErrorContains(t, err, "page count")

	_, err = NewDocumentHandle("doc-1", "/a.pdf", 10, 0, Rotate0)
	assert.ErrorContains(t, err, "scale")

	_, err = NewDocumentHandle("doc-1", "/a.pdf", 10, 1, Rotation(30))
	assert.ErrorContains(t, err, "rotation")
}

func TestDocumentHandle_ClampPage(t *testing.T) {
	h := &DocumentHandle{PageCount: 5, Scale: 1}

	assert.Equal(t, 1, h.ClampPage(-3))
	assert.Equal(t, 1, h.ClampPage(0))
	assert.Equal(t, 3, h.ClampPage(3))
	assert.Equal(t, 5, h.ClampPage(99))

	empty := &DocumentHandle{Scale: 1}
	assert.Equal(t, 0, empty.ClampPage(4))
}

func TestViewport_PixelSize(t *testing.T) {
	w, h := Viewport{Width: 612.2, Height: 791.9}.PixelSize()
	assert.Equal(t, 613, w)
	assert.Equal(t, 792, h)

	w, h = Viewport{}.PixelSize()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestRenderState(t *testing.T) {
	assert.True(t, RenderQueued.Pending())
	assert.True(t, RenderRendering.Pending())
	assert.True(t, RenderRendered.Pending())
	assert.False(t, RenderUnrendered.Pending())
	assert.False(t, RenderCancelled.Pending())
	assert.False(t, RenderFailed.Pending())

	data, err := json.Marshal(PageSlot{PageNumber: 2, State: RenderFailed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"failed"`)
	assert.Equal(t, "unknown", RenderState(42).String())
}

func TestScrollState(t *testing.T) {
	s := ScrollState{ScrollTop: 100, ViewportHeight: 800, ContentHeight: 5000}

	assert.Equal(t, 900.0, s.ViewportBottom())
	assert.Equal(t, 500.0, s.ViewportCenter())
	assert.Equal(t, 4200.0, s.MaxScrollTop())
	assert.Equal(t, 0.0, ScrollState{ViewportHeight: 800, ContentHeight: 200}.MaxScrollTop())
}

func TestProgressRecord_MergeCompletionIsMonotonic(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	stored := &ProgressRecord{UserID: "u", BookID: "b", CurrentPage: 9, TotalPages: 10, LastReadAt: t1}

	stored.Merge(&ProgressRecord{CurrentPage: 10, TotalPages: 10, ProgressPercentage: 95, IsCompleted: true, LastReadAt: t2})
	require.True(t, stored.IsCompleted)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, t2, *stored.CompletedAt)

	// Re-reading from the start keeps the completion and its first timestamp.
	stored.Merge(&ProgressRecord{CurrentPage: 1, TotalPages: 10, ProgressPercentage: 0, LastReadAt: t3})
	assert.True(t, stored.IsCompleted)
	assert.Equal(t, t2, *stored.CompletedAt)
	assert.Equal(t, 1, stored.CurrentPage)
	assert.Equal(t, 0.0, stored.ProgressPercentage)
	assert.Equal(t, t3, stored.LastReadAt)
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		elapsed float64
		want    int
	}{
		{0, 1},
		{-5, 1},
		{10, 1},
		{89, 1},
		{90, 2},
		{149, 2},
		{3600, 60},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DurationMinutes(tt.elapsed), "elapsed=%v", tt.elapsed)
	}
}

func TestNewReadingSession(t *testing.T) {
	end := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)

	s := NewReadingSession("rsess-1", "u", "b", 3, 7, end, 300)

	assert.Equal(t, end.Add(-5*time.Minute), s.StartTime)
	assert.Equal(t, end, s.EndTime)
	assert.Equal(t, 5, s.DurationMinutes)
	assert.Equal(t, 3, s.PageStart)
	assert.Equal(t, 7, s.PageEnd)
}
