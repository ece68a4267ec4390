// Package document opens paginated documents and draws their pages onto surfaces.
//
// A Source turns a URL into a Document; a Document hands out Pages; a Page
// reports its viewport for a scale and rotation and draws itself through a
// cancellable RenderTask. Implementations: PDFSource for real files and
// MemorySource for tests and local development.
package document

import (
	"context"

	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
)

// ErrRenderCancelled is returned by RenderTask.Wait after Cancel.
var ErrRenderCancelled = domainerrors.ErrRenderCancelled

// Source opens documents by URL.
type Source interface {
	Open(ctx context.Context, url string) (Document, error)
}

// Document is an opened, paginated document.
type Document interface {
	PageCount() int
	// Page returns page n, 1-based.
	Page(ctx context.Context, n int) (Page, error)
	Close() error
}

// Page is one page of a Document.
type Page interface {
	Number() int
	Viewport(scale float64, rotation domain.Rotation) domain.Viewport
	// Render starts drawing the page at vp into surface.
	Render(surface Surface, vp domain.Viewport, rotation domain.Rotation) RenderTask
}

// RenderTask is a single in-flight draw.
type RenderTask interface {
	// Wait blocks until the draw finishes. It returns ErrRenderCancelled if
	// the task was cancelled before the result reached the surface.
	Wait() error
	// Cancel stops the draw. Once Cancel returns the surface is never written
	// by this task.
	Cancel()
}

// PageRangeError reports a page number outside the document.
func PageRangeError(n, count int) error {
	return domainerrors.Validationf("page %d out of range [1, %d]", n, count)
}
