package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/progress"
	"github.com/listenupapp/listenup-reader/internal/service"
)

func (s *Server) registerReaderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "openReader",
		Method:        http.MethodPost,
		Path:          "/api/v1/readers",
		Summary:       "Open reader",
		Description:   "Opens a document for a book and starts drawing its pages. Without a start page the reader resumes from stored progress.",
		Tags:          []string{"Readers"},
		DefaultStatus: http.StatusCreated,
	}, s.handleOpenReader)

	huma.Register(s.api, huma.Operation{
		OperationID: "listReaders",
		Method:      http.MethodGet,
		Path:        "/api/v1/readers",
		Summary:     "List readers",
		Description: "Returns the caller's open readers, oldest first",
		Tags:        []string{"Readers"},
	}, s.handleListReaders)

	huma.Register(s.api, huma.Operation{
		OperationID: "getReader",
		Method:      http.MethodGet,
		Path:        "/api/v1/readers/{id}",
		Summary:     "Get reader",
		Description: "Returns the status, current page, scroll position and progress of a reader",
		Tags:        []string{"Readers"},
	}, s.handleGetReader)

	huma.Register(s.api, huma.Operation{
		OperationID:   "closeReader",
		Method:        http.MethodDelete,
		Path:          "/api/v1/readers/{id}",
		Summary:       "Close reader",
		Description:   "Writes pending progress and releases the reader",
		Tags:          []string{"Readers"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleCloseReader)

	huma.Register(s.api, huma.Operation{
		OperationID: "scrollReader",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/scroll",
		Summary:     "Report scroll",
		Description: "Feeds one scroll event from the host container and returns the progress snapshot",
		Tags:        []string{"Readers"},
	}, s.handleScroll)

	huma.Register(s.api, huma.Operation{
		OperationID: "goToPage",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/goto",
		Summary:     "Go to page",
		Description: "Makes a page current and scrolls it into view. Out of range pages are clamped.",
		Tags:        []string{"Readers"},
	}, s.handleGoTo)

	huma.Register(s.api, huma.Operation{
		OperationID: "navigateReader",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/navigate",
		Summary:     "Navigate",
		Description: "Moves to the next, previous, first or last page",
		Tags:        []string{"Readers"},
	}, s.handleNavigate)

	huma.Register(s.api, huma.Operation{
		OperationID: "setScale",
		Method:      http.MethodPut,
		Path:        "/api/v1/readers/{id}/scale",
		Summary:     "Set scale",
		Description: "Redraws every page at a scale clamped to the configured range",
		Tags:        []string{"Readers"},
	}, s.handleSetScale)

	huma.Register(s.api, huma.Operation{
		OperationID: "zoomReader",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/zoom",
		Summary:     "Zoom",
		Description: "Steps the scale in or out",
		Tags:        []string{"Readers"},
	}, s.handleZoom)

	huma.Register(s.api, huma.Operation{
		OperationID: "setRotation",
		Method:      http.MethodPut,
		Path:        "/api/v1/readers/{id}/rotation",
		Summary:     "Set rotation",
		Description: "Redraws every page rotated by 0, 90, 180 or 270 degrees",
		Tags:        []string{"Readers"},
	}, s.handleSetRotation)

	huma.Register(s.api, huma.Operation{
		OperationID: "rotateReader",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/rotate",
		Summary:     "Rotate",
		Description: "Turns every page another quarter turn clockwise",
		Tags:        []string{"Readers"},
	}, s.handleRotate)

	huma.Register(s.api, huma.Operation{
		OperationID: "retryReader",
		Method:      http.MethodPost,
		Path:        "/api/v1/readers/{id}/retry",
		Summary:     "Retry load",
		Description: "Reloads a document that failed to load",
		Tags:        []string{"Readers"},
	}, s.handleRetry)
}

// === DTOs ===

// ReaderInput identifies one reader of the caller.
type ReaderInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
}

// OpenReaderRequest is the request body for opening a reader.
type OpenReaderRequest struct {
	BookID         string  `json:"bookId" minLength:"1" maxLength:"128" doc:"Book the document belongs to"`
	URL            string  `json:"url" minLength:"1" doc:"http(s) or file URL, or an absolute path"`
	StartPage      int     `json:"startPage,omitempty" minimum:"0" doc:"Page to open at; 0 resumes from stored progress"`
	ViewportHeight float64 `json:"viewportHeight,omitempty" minimum:"0" doc:"Host viewport height in CSS pixels"`
	Scale          float64 `json:"scale,omitempty" minimum:"0" doc:"Initial scale"`
	Rotation       int     `json:"rotation,omitempty" enum:"0,90,180,270" doc:"Initial rotation in degrees"`
	HostScroll     bool    `json:"hostScroll,omitempty" doc:"Send scroll targets as reader.scroll_to events instead of animating server side"`
}

// OpenReaderInput wraps the open reader request for Huma.
type OpenReaderInput struct {
	UserID string `header:"X-User-ID"`
	Body   OpenReaderRequest
}

// ReaderOutput wraps a reader view for Huma.
type ReaderOutput struct {
	Body *service.ReaderView
}

// ListReadersInput contains parameters for listing readers.
type ListReadersInput struct {
	UserID string `header:"X-User-ID"`
}

// ListReadersResponse contains the caller's readers.
type ListReadersResponse struct {
	Readers []*service.ReaderView `json:"readers" doc:"Open readers"`
}

// ListReadersOutput wraps the list readers response for Huma.
type ListReadersOutput struct {
	Body ListReadersResponse
}

// ScrollRequest is one scroll event from the host container.
type ScrollRequest struct {
	ScrollTop      float64 `json:"scrollTop" doc:"Container scrollTop in pixels"`
	ViewportHeight float64 `json:"viewportHeight,omitempty" minimum:"0" doc:"Container height; 0 keeps the last known height"`
}

// ScrollInput wraps one scroll event for Huma.
type ScrollInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   ScrollRequest
}

// ScrollOutput wraps the progress snapshot for Huma.
type ScrollOutput struct {
	Body progress.Snapshot
}

// GoToRequest is the request body for page navigation.
type GoToRequest struct {
	Page int `json:"page" doc:"1-based page number"`
}

// GoToInput wraps the go to request for Huma.
type GoToInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   GoToRequest
}

// PageResponse reports the page navigated to.
type PageResponse struct {
	Page int `json:"page" doc:"Current page after navigation"`
}

// PageOutput wraps the page response for Huma.
type PageOutput struct {
	Body PageResponse
}

// NavigateRequest is the request body for stepwise navigation.
type NavigateRequest struct {
	Direction string `json:"direction" enum:"next,prev,first,last" doc:"Navigation direction"`
}

// NavigateInput wraps the navigate request for Huma.
type NavigateInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   NavigateRequest
}

// ScaleRequest is the request body for setting the scale.
type ScaleRequest struct {
	Scale float64 `json:"scale" exclusiveMinimum:"0" doc:"Page scale, 1 is 100%"`
}

// ScaleInput wraps the scale request for Huma.
type ScaleInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   ScaleRequest
}

// ZoomRequest is the request body for zoom steps.
type ZoomRequest struct {
	Direction string `json:"direction" enum:"in,out" doc:"Zoom direction"`
}

// ZoomInput wraps the zoom request for Huma.
type ZoomInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   ZoomRequest
}

// RotationRequest is the request body for setting the rotation.
type RotationRequest struct {
	Rotation int `json:"rotation" doc:"Degrees clockwise: 0, 90, 180 or 270"`
}

// RotationInput wraps the rotation request for Huma.
type RotationInput struct {
	UserID string `header:"X-User-ID"`
	ID     string `path:"id" doc:"Reader ID"`
	Body   RotationRequest
}

// === Handlers ===

func (s *Server) handleOpenReader(ctx context.Context, input *OpenReaderInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}

	view, err := s.readers.Open(ctx, service.OpenRequest{
		UserID:         userID,
		BookID:         input.Body.BookID,
		URL:            input.Body.URL,
		StartPage:      input.Body.StartPage,
		ViewportHeight: input.Body.ViewportHeight,
		Scale:          input.Body.Scale,
		Rotation:       input.Body.Rotation,
		HostScroll:     input.Body.HostScroll,
	})
	if err != nil {
		return nil, err
	}
	return &ReaderOutput{Body: view}, nil
}

func (s *Server) handleListReaders(_ context.Context, input *ListReadersInput) (*ListReadersOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return &ListReadersOutput{Body: ListReadersResponse{Readers: s.readers.List(userID)}}, nil
}

func (s *Server) handleGetReader(_ context.Context, input *ReaderInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	view, err := s.readers.State(input.ID, userID)
	if err != nil {
		return nil, err
	}
	return &ReaderOutput{Body: view}, nil
}

func (s *Server) handleCloseReader(ctx context.Context, input *ReaderInput) (*struct{}, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.readers.Close(ctx, input.ID, userID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleScroll(_ context.Context, input *ScrollInput) (*ScrollOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	snap, err := s.readers.Scroll(input.ID, userID, domain.ScrollState{
		ScrollTop:      input.Body.ScrollTop,
		ViewportHeight: input.Body.ViewportHeight,
	})
	if err != nil {
		return nil, err
	}
	return &ScrollOutput{Body: snap}, nil
}

func (s *Server) handleGoTo(_ context.Context, input *GoToInput) (*PageOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	page, err := s.readers.GoTo(input.ID, userID, input.Body.Page)
	if err != nil {
		return nil, err
	}
	return &PageOutput{Body: PageResponse{Page: page}}, nil
}

func (s *Server) handleNavigate(_ context.Context, input *NavigateInput) (*PageOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	page, err := s.readers.Navigate(input.ID, userID, input.Body.Direction)
	if err != nil {
		return nil, err
	}
	return &PageOutput{Body: PageResponse{Page: page}}, nil
}

func (s *Server) handleSetScale(ctx context.Context, input *ScaleInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return readerOutput(s.readers.SetScale(ctx, input.ID, userID, input.Body.Scale))
}

func (s *Server) handleZoom(ctx context.Context, input *ZoomInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return readerOutput(s.readers.Zoom(ctx, input.ID, userID, input.Body.Direction == "in"))
}

func (s *Server) handleSetRotation(ctx context.Context, input *RotationInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return readerOutput(s.readers.SetRotation(ctx, input.ID, userID, input.Body.Rotation))
}

func (s *Server) handleRotate(ctx context.Context, input *ReaderInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return readerOutput(s.readers.Rotate(ctx, input.ID, userID))
}

func (s *Server) handleRetry(ctx context.Context, input *ReaderInput) (*ReaderOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	return readerOutput(s.readers.Retry(ctx, input.ID, userID))
}

func readerOutput(view *service.ReaderView, err error) (*ReaderOutput, error) {
	if err != nil {
		return nil, err
	}
	return &ReaderOutput{Body: view}, nil
}
