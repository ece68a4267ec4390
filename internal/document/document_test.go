package document

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
)

func openMemory(t *testing.T, src *MemorySource, url string) Document {
	t.Helper()
	doc, err := src.Open(context.Background(), url)
	require.NoError(t, err)
	return doc
}

func TestMemorySource_OpenAndViewport(t *testing.T) {
	src := NewMemorySource()
	src.Add("mem://book", MemoryContent{Pages: UniformPages(3, 600, 800)})

	doc := openMemory(t, src, "mem://book")
	assert.Equal(t, 3, doc.PageCount())

	page, err := doc.Page(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Number())
	assert.Equal(t, domain.Viewport{Width: 900, Height: 1200}, page.Viewport(1.5, domain.Rotate0))
	assert.Equal(t, domain.Viewport{Width: 800, Height: 600}, page.Viewport(1, domain.Rotate90))

	_, err = doc.Page(context.Background(), 4)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestMemorySource_OpenFailures(t *testing.T) {
	src := NewMemorySource()
	src.Add("mem://broken", MemoryContent{OpenErr: errors.New("corrupt xref")})

	_, err := src.Open(context.Background(), "mem://broken")
	assert.ErrorIs(t, err, domainerrors.ErrDocumentLoad)

	_, err = src.Open(context.Background(), "mem://missing")
	assert.ErrorIs(t, err, domainerrors.ErrDocumentLoad)
	assert.Equal(t, 1, src.Opens("mem://missing"))
}

func TestRenderTask_PresentsOnSuccess(t *testing.T) {
	src := NewMemorySource()
	src.Add("mem://book", MemoryContent{Pages: UniformPages(1, 100, 200)})
	page, err := openMemory(t, src, "mem://book").Page(context.Background(), 1)
	require.NoError(t, err)

	surface := NewMemorySurface()
	task := page.Render(surface, page.Viewport(1, domain.Rotate0), domain.Rotate0)

	require.NoError(t, task.Wait())
	img := surface.Image()
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 100, 200), img.Bounds())
	assert.Equal(t, []int{1}, src.RenderLog())
}

func TestRenderTask_CancelNeverPresents(t *testing.T) {
	src := NewMemorySource()
	src.Add("mem://book", MemoryContent{Pages: UniformPages(1, 100, 200)})
	src.Gate()
	page, err := openMemory(t, src, "mem://book").Page(context.Background(), 1)
	require.NoError(t, err)

	surface := NewMemorySurface()
	task := page.Render(surface, page.Viewport(1, domain.Rotate0), domain.Rotate0)
	<-src.Started()

	task.Cancel()
	src.Release(1)

	assert.ErrorIs(t, task.Wait(), ErrRenderCancelled)
	assert.Nil(t, surface.Image())
}

func TestRenderTask_DrawError(t *testing.T) {
	boom := errors.New("bad content stream")
	src := NewMemorySource()
	src.Add("mem://book", MemoryContent{Pages: []MemoryPage{{Width: 10, Height: 10, Err: boom}}})
	page, err := openMemory(t, src, "mem://book").Page(context.Background(), 1)
	require.NoError(t, err)

	task := page.Render(NewMemorySurface(), domain.Viewport{Width: 10, Height: 10}, domain.Rotate0)
	assert.ErrorIs(t, task.Wait(), boom)
}

func TestRenderTask_ReleasedSurface(t *testing.T) {
	src := NewMemorySource()
	src.Add("mem://book", MemoryContent{Pages: UniformPages(1, 10, 10)})
	page, err := openMemory(t, src, "mem://book").Page(context.Background(), 1)
	require.NoError(t, err)

	surface := NewMemorySurface()
	surface.Release()

	task := page.Render(surface, domain.Viewport{Width: 10, Height: 10}, domain.Rotate0)
	assert.ErrorIs(t, task.Wait(), ErrSurfaceReleased)
	assert.True(t, surface.Released())
}

func TestMemorySurface(t *testing.T) {
	s := NewMemorySurface()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	require.NoError(t, s.Present(img))
	assert.Same(t, img, s.Image())

	s.Clear()
	assert.Nil(t, s.Image())
	assert.False(t, s.Released())

	s.Release()
	assert.ErrorIs(t, s.Present(img), ErrSurfaceReleased)
}

// quadrants returns a 2x2 image: red, green over blue, white.
func quadrants() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	fill := func(x0, y0 int, c color.RGBA) {
		for y := y0; y < y0+10; y++ {
			for x := x0; x < x0+10; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}
	fill(0, 0, color.RGBA{R: 255, A: 255})
	fill(10, 0, color.RGBA{G: 255, A: 255})
	fill(0, 10, color.RGBA{B: 255, A: 255})
	fill(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

func TestRasterize_Rotation(t *testing.T) {
	src := quadrants()
	red := color.RGBA{R: 255, A: 255}

	tests := []struct {
		rotation domain.Rotation
		// where the red top-left quadrant lands in a 40x40 output
		probe image.Point
	}{
		{domain.Rotate0, image.Pt(5, 5)},
		{domain.Rotate90, image.Pt(35, 5)},
		{domain.Rotate180, image.Pt(35, 35)},
		{domain.Rotate270, image.Pt(5, 35)},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(int(tt.rotation)), func(t *testing.T) {
			dst, err := Rasterize(context.Background(), src, domain.Viewport{Width: 40, Height: 40}, tt.rotation)
			require.NoError(t, err)
			assert.Equal(t, red, dst.RGBAAt(tt.probe.X, tt.probe.Y))
		})
	}
}

func TestRasterize_ScalesToViewport(t *testing.T) {
	dst, err := Rasterize(context.Background(), quadrants(), domain.Viewport{Width: 60.4, Height: 30}, domain.Rotate0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 61, 30), dst.Bounds())
}

func TestRasterize_BlankPage(t *testing.T) {
	dst, err := Rasterize(context.Background(), nil, domain.Viewport{Width: 10, Height: 10}, domain.Rotate0)
	require.NoError(t, err)
	assert.Equal(t, paperColor, dst.RGBAAt(5, 5))
	assert.Equal(t, frameColor, dst.RGBAAt(0, 0))
}

func TestRasterize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Rasterize(ctx, quadrants(), domain.Viewport{Width: 40, Height: 40}, domain.Rotate0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlaceholder(t *testing.T) {
	hash, err := Placeholder(image.NewRGBA(image.Rect(0, 0, 600, 800)))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	_, err = Placeholder(nil)
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	path, ok := LocalPath("file:///srv/books/a.pdf")
	assert.True(t, ok)
	assert.Equal(t, "/srv/books/a.pdf", path)

	path, ok = LocalPath("/srv/books/../books/b.pdf")
	assert.True(t, ok)
	assert.Equal(t, "/srv/books/b.pdf", path)

	_, ok = LocalPath("https://example.com/a.pdf")
	assert.False(t, ok)
}

func newTestPDFSource(root string, maxBytes int64) *PDFSource {
	return NewPDFSource(PDFOptions{
		FetchTimeout: time.Second,
		MaxBytes:     maxBytes,
		CacheTTL:     time.Minute,
		Access:       Access{LocalRoot: root},
	}, slog.New(slog.DiscardHandler))
}

// writeScanPDF writes a PDF whose pages are full-page images of a solid colour.
func writeScanPDF(t *testing.T, path string, pages int, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 200, 300))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	readers := make([]io.Reader, pages)
	for i := range readers {
		readers[i] = bytes.NewReader(encoded.Bytes())
	}
	var out bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &out, readers, nil, nil))
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))
}

func TestPDFSource_RendersScannedPages(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "scan.pdf")
	writeScanPDF(t, path, 2, color.RGBA{R: 200, A: 255})

	doc, err := newTestPDFSource(root, 1<<20).Open(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount())

	page, err := doc.Page(context.Background(), 1)
	require.NoError(t, err)
	vp := page.Viewport(1, domain.Rotate0)
	assert.Equal(t, domain.Viewport{Width: 200, Height: 300}, vp)

	surface := NewMemorySurface()
	require.NoError(t, page.Render(surface, vp, domain.Rotate0).Wait())

	img := surface.Image()
	require.NotNil(t, img)
	center := img.RGBAAt(img.Bounds().Dx()/2, img.Bounds().Dy()/2)
	assert.InDelta(t, 200, int(center.R), 2)
	assert.InDelta(t, 0, int(center.G), 2)
	assert.InDelta(t, 0, int(center.B), 2)
}

func TestPDFSource_RejectsNonPDF(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a pdf"), 0o600))

	_, err := newTestPDFSource(root, 1<<20).Open(context.Background(), path)
	assert.ErrorIs(t, err, domainerrors.ErrDocumentLoad)
	assert.Contains(t, err.Error(), "read pdf")
}

func TestPDFSource_EnforcesSizeLimit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.pdf")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o600))

	_, err := newTestPDFSource(root, 1024).Open(context.Background(), "file://"+path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")
}

func TestPDFSource_LocalDocumentsNeedRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.pdf")
	writeScanPDF(t, path, 1, color.RGBA{B: 255, A: 255})

	_, err := newTestPDFSource("", 1<<20).Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrLocalDisabled)

	_, err = newTestPDFSource(t.TempDir(), 1<<20).Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestPDFSource_RefusesPrivateHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a pdf"))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestPDFSource("", 1<<20).Open(context.Background(), srv.URL+"/book.pdf")
	assert.ErrorIs(t, err, ErrPrivateHost)

	open := NewPDFSource(PDFOptions{
		FetchTimeout: time.Second,
		MaxBytes:     1 << 20,
		CacheTTL:     time.Minute,
		Access:       Access{AllowPrivateHosts: true},
	}, slog.New(slog.DiscardHandler))
	_, err = open.Open(context.Background(), srv.URL+"/book.pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPrivateHost)
	assert.Contains(t, err.Error(), "read pdf")
}

func TestAccess_ResolveLocal(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "shelf", "a.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o750))
	require.NoError(t, os.WriteFile(inside, []byte("%PDF"), 0o600))

	outside := filepath.Join(t.TempDir(), "secret.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("%PDF"), 0o600))
	link := filepath.Join(root, "link.pdf")
	require.NoError(t, os.Symlink(outside, link))

	access := Access{LocalRoot: root}

	resolved, err := access.ResolveLocal(filepath.Join(root, "shelf", "..", "shelf", "a.pdf"))
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(inside)
	require.NoError(t, err)
	assert.Equal(t, want, resolved)

	_, err = access.ResolveLocal(filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "secret.pdf"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = access.ResolveLocal(outside)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = access.ResolveLocal(link)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = access.ResolveLocal(filepath.Join(root, "missing.pdf"))
	assert.Error(t, err)
}

func TestAccess_Check(t *testing.T) {
	access := Access{}

	tests := []struct {
		url  string
		want error
	}{
		{"https://books.example.com/a.pdf", nil},
		{"http://localhost:8080/a.pdf", ErrPrivateHost},
		{"http://127.0.0.1/a.pdf", ErrPrivateHost},
		{"http://10.0.0.7/a.pdf", ErrPrivateHost},
		{"http://[::1]/a.pdf", ErrPrivateHost},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateHost},
		{"file:///etc/passwd", ErrLocalDisabled},
		{"/etc/passwd", ErrLocalDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := access.Check(tt.url)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Access{AllowPrivateHosts: true}.Check("http://127.0.0.1/a.pdf")
	assert.NoError(t, err)
}

func TestAccess_DialControl(t *testing.T) {
	assert.ErrorIs(t, Access{}.dialControl("tcp", "127.0.0.1:80", nil), ErrPrivateHost)
	assert.ErrorIs(t, Access{}.dialControl("tcp", "[fd00::1]:443", nil), ErrPrivateHost)
	assert.NoError(t, Access{}.dialControl("tcp", "93.184.216.34:443", nil))
	assert.NoError(t, Access{AllowPrivateHosts: true}.dialControl("tcp", "127.0.0.1:80", nil))
}
