package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // page images
	_ "image/png"  // page images
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	_ "golang.org/x/image/tiff" // page images

	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
)

// PDFOptions configures a PDFSource.
type PDFOptions struct {
	FetchTimeout time.Duration
	MaxBytes     int64
	// CacheTTL bounds how long parsed documents and decoded page images stay in memory.
	CacheTTL time.Duration
	// DPI converts PDF points to pixels at scale 1.
	DPI    float64
	Access Access
}

// PDFSource opens PDF documents with pdfcpu.
//
// Parsed documents are cached by URL, and decoded page images by URL and
// page, so re-opening a reader or redrawing after a zoom does not refetch.
// A page draws its largest embedded image (the scan, for scanned books) over
// white paper; pages without a decodable image draw as blank paper of the
// correct size.
type PDFSource struct {
	fetcher *fetcher
	conf    *model.Configuration
	dpi     float64
	logger  *slog.Logger

	files  *cache.Cache
	images *cache.Cache
}

// NewPDFSource creates a PDF source.
func NewPDFSource(opts PDFOptions, logger *slog.Logger) *PDFSource {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.Cmd = model.EXTRACTIMAGES

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 72
	}

	return &PDFSource{
		fetcher: newFetcher(opts.FetchTimeout, opts.MaxBytes, opts.Access),
		conf:    conf,
		dpi:     dpi,
		logger:  logger,
		files:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		images:  cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Open implements Source.
func (s *PDFSource) Open(ctx context.Context, url string) (Document, error) {
	if cached, ok := s.files.Get(url); ok {
		return &pdfDocument{source: s, file: cached.(*pdfFile)}, nil
	}

	file, err := s.load(ctx, url)
	if err != nil {
		return nil, domainerrors.DocumentLoad(err, url)
	}
	s.files.SetDefault(url, file)

	s.logger.Info("document opened", "url", url, "pages", len(file.dims))
	return &pdfDocument{source: s, file: file}, nil
}

// Invalidate drops every cached entry for url. Used when a local file changes.
func (s *PDFSource) Invalidate(url string) {
	s.files.Delete(url)
	prefix := url + "#"
	for key := range s.images.Items() {
		if strings.HasPrefix(key, prefix) {
			s.images.Delete(key)
		}
	}
}

// Flush drops all cached documents and images.
func (s *PDFSource) Flush() {
	s.files.Flush()
	s.images.Flush()
}

func (s *PDFSource) load(ctx context.Context, url string) (*pdfFile, error) {
	data, err := s.fetcher.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	// Optimizing builds the image object table that page image extraction reads.
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), s.conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	dims, err := pdfCtx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("page dimensions: %w", err)
	}
	if len(dims) != pdfCtx.PageCount {
		return nil, fmt.Errorf("page dimensions: got %d boxes for %d pages", len(dims), pdfCtx.PageCount)
	}

	return &pdfFile{url: url, ctx: pdfCtx, dims: dims}, nil
}

// pdfFile is a parsed PDF shared by every reader that opens the same URL.
type pdfFile struct {
	url  string
	dims []types.Dim

	// pdfcpu contexts are not safe for concurrent use.
	mu  sync.Mutex
	ctx *model.Context
}

// pageImage decodes the largest image drawn on page n, or returns nil.
func (f *pdfFile) pageImage(n int) (image.Image, error) {
	f.mu.Lock()
	images, err := pdfcpu.ExtractPageImages(f.ctx, n, false)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	var best *model.Image
	for _, img := range images {
		if img.Thumb || img.IsImgMask {
			continue
		}
		if best == nil || img.Width*img.Height > best.Width*best.Height {
			candidate := img
			best = &candidate
		}
	}
	if best == nil {
		return nil, nil
	}

	decoded, _, err := image.Decode(best)
	if err != nil {
		return nil, fmt.Errorf("decode %s image %s: %w", best.FileType, best.Name, err)
	}
	return decoded, nil
}

type pdfDocument struct {
	source *PDFSource
	file   *pdfFile
}

func (d *pdfDocument) PageCount() int {
	return len(d.file.dims)
}

func (d *pdfDocument) Page(_ context.Context, n int) (Page, error) {
	if n < 1 || n > len(d.file.dims) {
		return nil, PageRangeError(n, len(d.file.dims))
	}
	return &pdfPage{doc: d, number: n, dim: d.file.dims[n-1]}, nil
}

// Close is a no-op; the parsed file stays cached until its TTL expires.
func (d *pdfDocument) Close() error {
	return nil
}

type pdfPage struct {
	doc    *pdfDocument
	number int
	dim    types.Dim
}

func (p *pdfPage) Number() int {
	return p.number
}

func (p *pdfPage) Viewport(scale float64, rotation domain.Rotation) domain.Viewport {
	k := p.doc.source.dpi / 72
	return scaledViewport(p.dim.Width*k, p.dim.Height*k, scale, rotation)
}

func (p *pdfPage) Render(surface Surface, vp domain.Viewport, rotation domain.Rotation) RenderTask {
	return startTask(surface, func(ctx context.Context) (*image.RGBA, error) {
		src, err := p.baseImage()
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Rasterize(ctx, src, vp, rotation)
	})
}

// baseImage returns the page's decoded image, cached per URL and page.
func (p *pdfPage) baseImage() (image.Image, error) {
	source := p.doc.source
	key := p.doc.file.url + "#" + strconv.Itoa(p.number)

	if cached, ok := source.images.Get(key); ok {
		img, _ := cached.(image.Image)
		return img, nil
	}

	img, err := p.doc.file.pageImage(p.number)
	if err != nil {
		return nil, err
	}
	// Blank pages cache nil so they are not re-extracted.
	source.images.SetDefault(key, img)
	return img, nil
}
