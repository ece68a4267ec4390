package viewer

import (
	"math"
	"sort"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// VisiblePages returns, in ascending order, the pages whose extent
// [top, top+height) intersects [scrollTop, scrollTop+viewportHeight].
// geometries is indexed by page-1 and sorted by top; nil yields no pages.
func VisiblePages(state domain.ScrollState, geometries []domain.Geometry) []int {
	if len(geometries) == 0 || state.ViewportHeight < 0 {
		return []int{}
	}

	top, bottom := state.ScrollTop, state.ViewportBottom()
	first := sort.Search(len(geometries), func(i int) bool {
		return geometries[i].Bottom() > top
	})

	visible := []int{}
	for i := first; i < len(geometries); i++ {
		g := geometries[i]
		if g.Top > bottom {
			break
		}
		if g.Height > 0 && g.Bottom() > top {
			visible = append(visible, i+1)
		}
	}
	return visible
}

// NearestCenter picks the visible page whose center is closest to the
// viewport center. Ties go to the lower page. Returns 0 if visible is empty.
func NearestCenter(state domain.ScrollState, geometries []domain.Geometry, visible []int) int {
	center := state.ViewportCenter()
	best, bestDist := 0, math.Inf(1)
	for _, n := range visible {
		if n < 1 || n > len(geometries) {
			continue
		}
		if d := math.Abs(geometries[n-1].Center() - center); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// Window expands visible by radius pages on each side, clamped to [1, pageCount],
// and returns the pages that are not visible, nearest first. radius 0 returns
// every other page in order.
func Window(visible []int, pageCount, radius int) []int {
	if pageCount == 0 {
		return nil
	}
	seen := make(map[int]bool, len(visible))
	for _, n := range visible {
		seen[n] = true
	}

	rest := []int{}
	if radius <= 0 || len(visible) == 0 {
		for n := 1; n <= pageCount; n++ {
			if !seen[n] {
				rest = append(rest, n)
			}
		}
		return rest
	}

	lo, hi := visible[0], visible[len(visible)-1]
	for d := 1; d <= radius; d++ {
		if n := hi + d; n <= pageCount && !seen[n] {
			rest = append(rest, n)
		}
		if n := lo - d; n >= 1 && !seen[n] {
			rest = append(rest, n)
		}
	}
	return rest
}
