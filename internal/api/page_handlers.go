package api

import (
	"bytes"
	"context"
	"image/png"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-reader/internal/domain"
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
)

func (s *Server) registerPageRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listSlots",
		Method:      http.MethodGet,
		Path:        "/api/v1/readers/{id}/pages",
		Summary:     "List page slots",
		Description: "Returns the geometry and render state of every page slot in order",
		Tags:        []string{"Pages"},
	}, s.handleListSlots)

	huma.Register(s.api, huma.Operation{
		OperationID: "getPageImage",
		Method:      http.MethodGet,
		Path:        "/api/v1/readers/{id}/pages/{page}/image",
		Summary:     "Get page image",
		Description: "Returns a drawn page as PNG",
		Tags:        []string{"Pages"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Page pixels",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, s.handleGetPageImage)

	huma.Register(s.api, huma.Operation{
		OperationID:   "retryPage",
		Method:        http.MethodPost,
		Path:          "/api/v1/readers/{id}/pages/{page}/retry",
		Summary:       "Retry page",
		Description:   "Queues a page whose draw failed again",
		Tags:          []string{"Pages"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleRetryPage)

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancelPage",
		Method:        http.MethodPost,
		Path:          "/api/v1/readers/{id}/pages/{page}/cancel",
		Summary:       "Cancel page",
		Description:   "Stops drawing a queued or in-flight page",
		Tags:          []string{"Pages"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleCancelPage)
}

// === DTOs ===

// PageInput identifies one page of a reader.
type PageInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Page   int    `path:"page" minimum:"1" doc:"1-based page number"`
}

// SlotsResponse lists page slots.
type SlotsResponse struct {
	Slots []domain.PageSlot `json:"slots" doc:"Page slots in page order"`
}

// SlotsOutput wraps the slots response for Huma.
type SlotsOutput struct {
	Body SlotsResponse
}

// PageImageOutput is a PNG page.
type PageImageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// === Handlers ===

func (s *Server) handleListSlots(_ context.Context, input *ReaderInput) (*SlotsOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	slots, err := s.readers.Slots(input.ID, userID)
	if err != nil {
		return nil, err
	}
	return &SlotsOutput{Body: SlotsResponse{Slots: slots}}, nil
}

func (s *Server) handleGetPageImage(_ context.Context, input *PageInput) (*PageImageOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	img, err := s.readers.PageImage(input.ID, userID, input.Page)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "encoding page %d", input.Page)
	}
	return &PageImageOutput{
		ContentType: "image/png",
		// Pages are redrawn on zoom and rotate under the same URL.
		CacheControl: "no-store",
		Body:         buf.Bytes(),
	}, nil
}

func (s *Server) handleRetryPage(_ context.Context, input *PageInput) (*struct{}, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return nil, s.readers.RetryPage(input.ID, userID, input.Page)
}

func (s *Server) handleCancelPage(_ context.Context, input *PageInput) (*struct{}, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return nil, s.readers.CancelPage(input.ID, userID, input.Page)
}
