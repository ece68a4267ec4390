package domain

import (
	"fmt"
	"math"
)

// Rotation is a clockwise page rotation in degrees.
type Rotation int

// Supported rotations.
const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation validates degrees as a Rotation.
func ParseRotation(degrees int) (Rotation, error) {
	r := Rotation(degrees)
	if !r.Valid() {
		return 0, fmt.Errorf("rotation %d: must be one of 0, 90, 180, 270", degrees)
	}
	return r, nil
}

// Valid reports whether r is a quarter turn.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Next returns r turned another 90 degrees clockwise.
func (r Rotation) Next() Rotation {
	return (r + 90) % 360
}

// Swaps reports whether r exchanges page width and height.
func (r Rotation) Swaps() bool {
	return r == Rotate90 || r == Rotate270
}

// Viewport is the pixel size of a page at a given scale and rotation.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PixelSize rounds the viewport up to whole pixels, at least 1x1.
func (v Viewport) PixelSize() (int, int) {
	w := int(math.Ceil(v.Width))
	h := int(math.Ceil(v.Height))
	return max(w, 1), max(h, 1)
}

// DocumentHandle identifies an opened document and the transform pages are drawn with.
// A new URL replaces the handle; scale and rotation change in place.
type DocumentHandle struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	PageCount int      `json:"pageCount"`
	Scale     float64  `json:"scale"`
	Rotation  Rotation `json:"rotation"`
}

// NewDocumentHandle validates and builds a handle.
func NewDocumentHandle(id, url string, pageCount int, scale float64, rotation Rotation) (*DocumentHandle, error) {
	h := &DocumentHandle{ID: id, URL: url, PageCount: pageCount, Scale: scale, Rotation: rotation}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks pageCount >= 0, scale > 0 and a quarter-turn rotation.
func (h *DocumentHandle) Validate() error {
	if h.PageCount < 0 {
		return fmt.Errorf("page count %d cannot be negative", h.PageCount)
	}
	if h.Scale <= 0 || math.IsNaN(h.Scale) || math.IsInf(h.Scale, 0) {
		return fmt.Errorf("scale %g must be positive", h.Scale)
	}
	if !h.Rotation.Valid() {
		return fmt.Errorf("rotation %d: must be one of 0, 90, 180, 270", h.Rotation)
	}
	return nil
}

// ClampPage clamps n into [1, PageCount]. An empty document yields 0.
func (h *DocumentHandle) ClampPage(n int) int {
	if h.PageCount == 0 {
		return 0
	}
	return min(max(n, 1), h.PageCount)
}
