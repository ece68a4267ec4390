package domain

// RenderState is the lifecycle of one page slot's drawing.
type RenderState int

// Render states.
const (
	RenderUnrendered RenderState = iota
	RenderQueued
	RenderRendering
	RenderRendered
	RenderCancelled
	RenderFailed
)

var renderStateNames = [...]string{
	RenderUnrendered: "unrendered",
	RenderQueued:     "queued",
	RenderRendering:  "rendering",
	RenderRendered:   "rendered",
	RenderCancelled:  "cancelled",
	RenderFailed:     "failed",
}

func (s RenderState) String() string {
	if s < 0 || int(s) >= len(renderStateNames) {
		return "unknown"
	}
	return renderStateNames[s]
}

// MarshalText encodes the state by name.
func (s RenderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Pending reports whether a slot in this state is already queued, drawing or drawn,
// making a further enqueue a no-op.
func (s RenderState) Pending() bool {
	return s == RenderQueued || s == RenderRendering || s == RenderRendered
}

// Geometry is a slot's vertical extent within the scroll content.
type Geometry struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Bottom is the exclusive lower edge.
func (g Geometry) Bottom() float64 {
	return g.Top + g.Height
}

// Center is the vertical midpoint.
func (g Geometry) Center() float64 {
	return g.Top + g.Height/2
}

// PageSlot is a read-only view of one page position in the scroll sequence.
type PageSlot struct {
	PageNumber  int         `json:"pageNumber"`
	State       RenderState `json:"state"`
	Geometry    Geometry    `json:"geometry"`
	Width       float64     `json:"width"`
	Placeholder string      `json:"placeholder,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ScrollState is the scroll container's position. All values are in content pixels.
type ScrollState struct {
	ScrollTop      float64 `json:"scrollTop"`
	ViewportHeight float64 `json:"viewportHeight"`
	ContentHeight  float64 `json:"contentHeight"`
}

// ViewportBottom is the lower edge of the visible range.
func (s ScrollState) ViewportBottom() float64 {
	return s.ScrollTop + s.ViewportHeight
}

// ViewportCenter is the midpoint of the visible range.
func (s ScrollState) ViewportCenter() float64 {
	return s.ScrollTop + s.ViewportHeight/2
}

// MaxScrollTop is the furthest the container can scroll.
func (s ScrollState) MaxScrollTop() float64 {
	return max(s.ContentHeight-s.ViewportHeight, 0)
}
