package document

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
)

// MemoryPage describes one synthetic page, sized in points at scale 1.
type MemoryPage struct {
	Width  float64
	Height float64
	// Image is drawn onto the page when set.
	Image image.Image
	// Err makes every render of this page fail.
	Err error
}

// MemoryContent is a synthetic document.
type MemoryContent struct {
	Pages []MemoryPage
	// OpenErr makes Open fail.
	OpenErr error
}

// UniformPages builds count pages of identical size.
func UniformPages(count int, width, height float64) []MemoryPage {
	pages := make([]MemoryPage, count)
	for i := range pages {
		pages[i] = MemoryPage{Width: width, Height: height}
	}
	return pages
}

// MemorySource serves synthetic documents registered by URL. Renders can be
// gated so tests control exactly when each draw completes.
type MemorySource struct {
	mu     sync.Mutex
	docs   map[string]MemoryContent
	gated  bool
	gates  chan struct{}
	starts chan int
	log    []int
	opens  map[string]int
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		docs:   make(map[string]MemoryContent),
		gates:  make(chan struct{}, 1024),
		starts: make(chan int, 1024),
		opens:  make(map[string]int),
	}
}

// Add registers content under url, replacing any previous document.
func (s *MemorySource) Add(url string, content MemoryContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = content
}

// Gate makes every subsequent render block until Release is called for it.
func (s *MemorySource) Gate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gated = true
}

// Release lets n gated renders finish.
func (s *MemorySource) Release(n int) {
	for range n {
		s.gates <- struct{}{}
	}
}

// Started returns a channel receiving each page number as its draw begins.
func (s *MemorySource) Started() <-chan int {
	return s.starts
}

// RenderLog returns the page numbers in the order their draws began.
func (s *MemorySource) RenderLog() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.log...)
}

// Opens reports how many times url was opened.
func (s *MemorySource) Opens(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[url]
}

// Open implements Source.
func (s *MemorySource) Open(ctx context.Context, url string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens[url]++
	content, ok := s.docs[url]
	if !ok {
		return nil, domainerrors.DocumentLoad(errors.New("no document registered"), url)
	}
	if content.OpenErr != nil {
		return nil, domainerrors.DocumentLoad(content.OpenErr, url)
	}
	return &memoryDocument{source: s, pages: append([]MemoryPage(nil), content.Pages...)}, nil
}

type memoryDocument struct {
	source *MemorySource
	pages  []MemoryPage
}

func (d *memoryDocument) PageCount() int {
	return len(d.pages)
}

func (d *memoryDocument) Page(_ context.Context, n int) (Page, error) {
	if n < 1 || n > len(d.pages) {
		return nil, PageRangeError(n, len(d.pages))
	}
	return &memoryPage{doc: d, number: n, content: d.pages[n-1]}, nil
}

func (d *memoryDocument) Close() error {
	return nil
}

type memoryPage struct {
	doc     *memoryDocument
	number  int
	content MemoryPage
}

func (p *memoryPage) Number() int {
	return p.number
}

func (p *memoryPage) Viewport(scale float64, rotation domain.Rotation) domain.Viewport {
	return scaledViewport(p.content.Width, p.content.Height, scale, rotation)
}

func (p *memoryPage) Render(surface Surface, vp domain.Viewport, rotation domain.Rotation) RenderTask {
	src := p.doc.source
	return startTask(surface, func(ctx context.Context) (*image.RGBA, error) {
		src.mu.Lock()
		src.log = append(src.log, p.number)
		gated := src.gated
		src.mu.Unlock()

		select {
		case src.starts <- p.number:
		default:
		}

		if gated {
			select {
			case <-src.gates:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if p.content.Err != nil {
			return nil, p.content.Err
		}
		return Rasterize(ctx, p.content.Image, vp, rotation)
	})
}

// scaledViewport applies scale and rotation to a page size in points.
func scaledViewport(width, height, scale float64, rotation domain.Rotation) domain.Viewport {
	vp := domain.Viewport{Width: width * scale, Height: height * scale}
	if rotation.Swaps() {
		vp.Width, vp.Height = vp.Height, vp.Width
	}
	return vp
}
