// Package progress turns the scroll position into a continuous completion
// percentage and persists it.
package progress

import (
	"math"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// Snapshot is the reading position derived from one scroll state.
type Snapshot struct {
	CurrentPage  int     `json:"currentPage"`
	TotalPages   int     `json:"totalPages"`
	PageFraction float64 `json:"pageFraction"`
	Percentage   float64 `json:"percentage"`
	IsCompleted  bool    `json:"isCompleted"`
}

// Compute returns ((current-1)/total + fraction/total) * 100, clamped to [0, 100].
func Compute(current, total int, fraction float64) float64 {
	if total <= 0 {
		return 0
	}
	t := float64(total)
	pct := ((float64(current)-1)/t + clamp01(fraction)/t) * 100
	return min(max(pct, 0), 100)
}

// IsCompleted reports whether the reader has reached the last page.
func IsCompleted(current, total int) bool {
	return total > 0 && current >= total
}

// ScrollFraction is scrollTop / max(contentHeight - viewportHeight, 1), clamped to [0, 1].
func ScrollFraction(scrollTop, contentHeight, viewportHeight float64) float64 {
	return clamp01(scrollTop / max(contentHeight-viewportHeight, 1))
}

// PageFraction applies ScrollFraction to one page's own extent: how far the
// viewport top has travelled through page g.
func PageFraction(state domain.ScrollState, g domain.Geometry) float64 {
	return ScrollFraction(state.ScrollTop-g.Top, g.Height, state.ViewportHeight)
}

// Calculate builds the snapshot for current page of total at state.
// geometries is indexed by page-1; without geometry the fraction is 0.
func Calculate(current, total int, state domain.ScrollState, geometries []domain.Geometry) Snapshot {
	snap := Snapshot{CurrentPage: current, TotalPages: total}
	if current >= 1 && current <= len(geometries) {
		snap.PageFraction = PageFraction(state, geometries[current-1])
	}
	snap.Percentage = Compute(current, total, snap.PageFraction)
	snap.IsCompleted = IsCompleted(current, total)
	return snap
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
