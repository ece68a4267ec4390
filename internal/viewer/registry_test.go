package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
)

func uniformViewports(n int, width, height float64) []domain.Viewport {
	vps := make([]domain.Viewport, n)
	for i := range vps {
		vps[i] = domain.Viewport{Width: width, Height: height}
	}
	return vps
}

func TestRegistry_AllocateAndLayout(t *testing.T) {
	r := NewRegistry(10, nil)
	r.Allocate(3)

	assert.Equal(t, 3, r.Len())
	assert.Nil(t, r.Geometries(), "no geometry before layout")

	require.NoError(t, r.Layout([]domain.Viewport{
		{Width: 50, Height: 100},
		{Width: 50, Height: 200},
		{Width: 50, Height: 100},
	}))

	assert.Equal(t, []domain.Geometry{
		{Top: 0, Height: 100},
		{Top: 110, Height: 200},
		{Top: 320, Height: 100},
	}, r.Geometries())
	assert.Equal(t, 420.0, r.ContentHeight())

	slot, ok := r.Slot(2)
	require.True(t, ok)
	assert.Equal(t, 2, slot.PageNumber)
	assert.Equal(t, domain.RenderUnrendered, slot.State)
	assert.Equal(t, 50.0, slot.Width)

	_, ok = r.Slot(4)
	assert.False(t, ok)
}

func TestRegistry_LayoutRejectsMismatch(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Allocate(2)
	assert.Error(t, r.Layout(uniformViewports(3, 10, 10)))
}

func TestRegistry_InvalidateAllReleasesSurfaces(t *testing.T) {
	var surfaces []*document.MemorySurface
	r := NewRegistry(0, func() document.Surface {
		s := document.NewMemorySurface()
		surfaces = append(surfaces, s)
		return s
	})
	r.Allocate(2)
	require.NoError(t, r.Layout(uniformViewports(2, 10, 10)))

	_, vp, ok := r.acquireSurface(1)
	require.True(t, ok)
	assert.Equal(t, domain.Viewport{Width: 10, Height: 10}, vp)
	r.setState(1, domain.RenderRendered, nil)
	r.setPlaceholder(1, "LEHV6nWB2yk8")

	// A second acquire reuses the surface.
	_, _, _ = r.acquireSurface(1)
	require.Len(t, surfaces, 1)

	r.InvalidateAll()

	assert.True(t, surfaces[0].Released())
	slot, _ := r.Slot(1)
	assert.Equal(t, domain.RenderUnrendered, slot.State)
	assert.Equal(t, "LEHV6nWB2yk8", slot.Placeholder)
	assert.NotNil(t, r.Geometries(), "geometry survives invalidation")
}

func TestRegistry_ReleaseTearsDown(t *testing.T) {
	surface := document.NewMemorySurface()
	r := NewRegistry(0, func() document.Surface { return surface })
	r.Allocate(1)
	require.NoError(t, r.Layout(uniformViewports(1, 10, 10)))
	_, _, _ = r.acquireSurface(1)

	r.Release()

	assert.True(t, surface.Released())
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Geometries())
	assert.Zero(t, r.ContentHeight())
}

func TestRegistry_AllocateReleasesPreviousSurfaces(t *testing.T) {
	surface := document.NewMemorySurface()
	r := NewRegistry(0, func() document.Surface { return surface })
	r.Allocate(1)
	require.NoError(t, r.Layout(uniformViewports(1, 10, 10)))
	_, _, _ = r.acquireSurface(1)

	r.Allocate(4)

	assert.True(t, surface.Released())
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 4, r.Counts()[domain.RenderUnrendered])
}

func TestRegistry_ImageOnlyWhenRendered(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Allocate(1)
	require.NoError(t, r.Layout(uniformViewports(1, 10, 10)))
	assert.Nil(t, r.Image(1))
	assert.Nil(t, r.Image(2))
}
