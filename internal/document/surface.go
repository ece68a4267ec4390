package document

import (
	"errors"
	"image"
	"sync"
)

// ErrSurfaceReleased is returned when presenting to a released surface.
var ErrSurfaceReleased = errors.New("surface released")

// Surface is the drawable target of one page slot. It owns its pixels until Release.
type Surface interface {
	// Present replaces the visible pixels with img.
	Present(img *image.RGBA) error
	// Image returns the last presented pixels, or nil.
	Image() *image.RGBA
	// Clear drops the presented pixels and keeps the surface usable.
	Clear()
	// Release frees the pixels. The surface cannot be presented to afterwards.
	Release()
	Released() bool
}

// MemorySurface is a Surface backed by an in-memory RGBA image.
type MemorySurface struct {
	mu       sync.RWMutex
	img      *image.RGBA
	released bool
}

// NewMemorySurface returns an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

// Present implements Surface.
func (s *MemorySurface) Present(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrSurfaceReleased
	}
	s.img = img
	return nil
}

// Image implements Surface.
func (s *MemorySurface) Image() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img
}

// Clear implements Surface.
func (s *MemorySurface) Clear() {
	s.mu.Lock()
	s.img = nil
	s.mu.Unlock()
}

// Release implements Surface.
func (s *MemorySurface) Release() {
	s.mu.Lock()
	s.img = nil
	s.released = true
	s.mu.Unlock()
}

// Released implements Surface.
func (s *MemorySurface) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}
