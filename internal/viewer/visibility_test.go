package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// stack lays out n pages of height h with no gap.
func stack(n int, h float64) []domain.Geometry {
	geoms := make([]domain.Geometry, n)
	for i := range geoms {
		geoms[i] = domain.Geometry{Top: float64(i) * h, Height: h}
	}
	return geoms
}

func TestVisiblePages(t *testing.T) {
	geoms := stack(10, 100)

	tests := []struct {
		name  string
		state domain.ScrollState
		want  []int
	}{
		{"top of document", domain.ScrollState{ScrollTop: 0, ViewportHeight: 250}, []int{1, 2, 3}},
		{"middle", domain.ScrollState{ScrollTop: 420, ViewportHeight: 150}, []int{5, 6}},
		{"page ending at scroll top is hidden", domain.ScrollState{ScrollTop: 300, ViewportHeight: 50}, []int{4}},
		{"page starting at viewport bottom is visible", domain.ScrollState{ScrollTop: 250, ViewportHeight: 50}, []int{3, 4}},
		{"end of document", domain.ScrollState{ScrollTop: 950, ViewportHeight: 300}, []int{10}},
		{"past the end", domain.ScrollState{ScrollTop: 2000, ViewportHeight: 300}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisiblePages(tt.state, geoms))
		})
	}
}

func TestVisiblePages_NoGeometry(t *testing.T) {
	assert.Empty(t, VisiblePages(domain.ScrollState{ViewportHeight: 500}, nil))
}

func TestVisiblePages_SkipsEmptySlots(t *testing.T) {
	geoms := []domain.Geometry{{Top: 0, Height: 100}, {Top: 100, Height: 0}, {Top: 100, Height: 100}}
	assert.Equal(t, []int{1, 3}, VisiblePages(domain.ScrollState{ScrollTop: 50, ViewportHeight: 100}, geoms))
}

func TestNearestCenter(t *testing.T) {
	geoms := stack(10, 100)

	state := domain.ScrollState{ScrollTop: 130, ViewportHeight: 100}
	assert.Equal(t, 2, NearestCenter(state, geoms, VisiblePages(state, geoms)))

	// Viewport center 400 sits exactly between pages 4 and 5.
	tie := domain.ScrollState{ScrollTop: 250, ViewportHeight: 300}
	assert.Equal(t, 4, NearestCenter(tie, geoms, VisiblePages(tie, geoms)))

	assert.Equal(t, 0, NearestCenter(state, geoms, nil))
}

func TestWindow(t *testing.T) {
	assert.Equal(t, []int{1, 2, 5, 6}, Window([]int{3, 4}, 6, 0))
	assert.Equal(t, []int{5, 2, 6, 1}, Window([]int{3, 4}, 6, 2))
	assert.Equal(t, []int{2, 3}, Window([]int{1}, 10, 2))
	assert.Equal(t, []int{1, 2, 3}, Window(nil, 3, 2))
	assert.Nil(t, Window(nil, 0, 0))
}
