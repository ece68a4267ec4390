package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

func (s *Server) registerProgressRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getProgress",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress/{bookId}",
		Summary:     "Get reading progress",
		Description: "Returns the caller's stored reading position for a book",
		Tags:        []string{"Progress"},
	}, s.handleGetProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "listReadingSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress/{bookId}/sessions",
		Summary:     "List reading sessions",
		Description: "Returns the caller's reading sessions for a book, most recent first",
		Tags:        []string{"Progress"},
	}, s.handleListSessions)
}

// === DTOs ===

// ProgressInput identifies one book of the caller.
type ProgressInput struct {
	UserID string `header:"X-User-ID"`
	BookID string `path:"bookId" doc:"Book ID"`
}

// ProgressOutput wraps a progress record for Huma.
type ProgressOutput struct {
	Body *domain.ProgressRecord
}

// ListSessionsInput contains parameters for listing reading sessions.
type ListSessionsInput struct {
	UserID string `header:"X-User-ID"`
	BookID string `path:"bookId" doc:"Book ID"`
	Cursor string `query:"cursor" doc:"Cursor from a previous page"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" doc:"Items per page (default 100)"`
}

// ListSessionsOutput wraps a page of sessions for Huma.
type ListSessionsOutput struct {
	Body *store.PaginatedResult[*domain.ReadingSession]
}

// === Handlers ===

func (s *Server) handleGetProgress(ctx context.Context, input *ProgressInput) (*ProgressOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	rec, err := s.readers.GetProgress(ctx, userID, input.BookID)
	if err != nil {
		return nil, err
	}
	return &ProgressOutput{Body: rec}, nil
}

func (s *Server) handleListSessions(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	userID, err := requireUser(input.UserID)
	if err != nil {
		return nil, err
	}
	page, err := s.readers.ListSessions(ctx, userID, input.BookID, store.PaginationParams{
		Limit:  input.Limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, err
	}
	return &ListSessionsOutput{Body: page}, nil
}
