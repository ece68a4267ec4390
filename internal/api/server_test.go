package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/progress"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/sse"
	"github.com/listenupapp/listenup-reader/internal/store"
	"github.com/listenupapp/listenup-reader/internal/store/sqlite"
)

const (
	testBookURL = "https://books.example.com/atlas.pdf"
	userHeader  = sse.UserHeader + ": user-1"
)

type testEnvelope[T any] struct {
	Version int       `json:"v"`
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *APIError `json:"error"`
}

type testServer struct {
	*Server
	api     humatest.TestAPI
	readers *service.ReaderService
	store   *sqlite.Store
	clock   *clock.Fake
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "reader.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	source := document.NewMemorySource()
	source.Add(testBookURL, document.MemoryContent{Pages: document.UniformPages(12, 60, 80)})

	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sseManager := sse.NewManager(logger)
	readers := service.NewReaderService(config.DefaultReaderConfig(), source, st, sseManager, clk, logger)
	t.Cleanup(func() { _ = readers.CloseAll(context.Background()) })

	s := NewServer(readers, st, sseManager, sse.NewHandler(sseManager, logger), nil, logger)

	return &testServer{
		Server:  s,
		api:     humatest.Wrap(t, s.API()),
		readers: readers,
		store:   st,
		clock:   clk,
	}
}

func decode[T any](t *testing.T, body *bytes.Buffer) testEnvelope[T] {
	t.Helper()
	var envelope testEnvelope[T]
	require.NoError(t, json.Unmarshal(body.Bytes(), &envelope), body.String())
	return envelope
}

func (ts *testServer) openReader(t *testing.T) service.ReaderView {
	t.Helper()
	resp := ts.api.Post("/api/v1/readers", userHeader, map[string]any{
		"bookId": "book-1",
		"url":    testBookURL,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return decode[service.ReaderView](t, resp.Body).Data
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	envelope := decode[HealthResponse](t, resp.Body)
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.True(t, envelope.Success)
	assert.Equal(t, "healthy", envelope.Data.Status)
	assert.Equal(t, "healthy", envelope.Data.Components["store"].Status)
	assert.Equal(t, "no connected clients", envelope.Data.Components["sse"].Message)
}

func TestHealthCheck_StoreDown(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.store.Close())

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, resp.Body).Data.Status)
}

func TestReaders_RequireUserHeader(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/readers")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	envelope := decode[any](t, resp.Body)
	assert.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "UNAUTHORIZED", envelope.Error.Code)
}

func TestOpenReader(t *testing.T) {
	ts := setupTestServer(t)

	view := ts.openReader(t)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "user-1", view.UserID)
	assert.Equal(t, 1, view.CurrentPage)
	require.NotNil(t, view.Document)
	assert.Equal(t, 12, view.Document.PageCount)

	resp := ts.api.Get("/api/v1/readers/"+view.ID, userHeader)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, view.ID, decode[service.ReaderView](t, resp.Body).Data.ID)

	resp = ts.api.Get("/api/v1/readers", userHeader)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[ListReadersResponse](t, resp.Body).Data.Readers, 1)
}

func TestOpenReader_InvalidURL(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Post("/api/v1/readers", userHeader, map[string]any{
		"bookId": "book-1",
		"url":    "gopher://nowhere",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
	assert.Equal(t, "VALIDATION", decode[any](t, resp.Body).Error.Code)
}

func TestGetReader_OtherUser(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)

	resp := ts.api.Get("/api/v1/readers/"+view.ID, sse.UserHeader+": user-2")
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", decode[any](t, resp.Body).Error.Code)
}

func TestNavigation(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)
	base := "/api/v1/readers/" + view.ID

	resp := ts.api.Post(base+"/goto", userHeader, map[string]any{"page": 7})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 7, decode[PageResponse](t, resp.Body).Data.Page)

	resp = ts.api.Post(base+"/navigate", userHeader, map[string]any{"direction": "next"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 8, decode[PageResponse](t, resp.Body).Data.Page)

	resp = ts.api.Post(base+"/goto", userHeader, map[string]any{"page": 99})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 12, decode[PageResponse](t, resp.Body).Data.Page)

	resp = ts.api.Post(base+"/navigate", userHeader, map[string]any{"direction": "sideways"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestScroll(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)

	resp := ts.api.Post("/api/v1/readers/"+view.ID+"/scroll", userHeader, map[string]any{
		"scrollTop":      0,
		"viewportHeight": 400,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	snap := decode[progress.Snapshot](t, resp.Body).Data
	assert.Equal(t, 1, snap.CurrentPage)
	assert.Equal(t, 12, snap.TotalPages)
	assert.InDelta(t, 0.0, snap.Percentage, 1e-9)
}

func TestScaleAndRotation(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)
	base := "/api/v1/readers/" + view.ID

	resp := ts.api.Put(base+"/scale", userHeader, map[string]any{"scale": 2})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 2.0, decode[service.ReaderView](t, resp.Body).Data.Document.Scale)

	resp = ts.api.Post(base+"/zoom", userHeader, map[string]any{"direction": "out"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1.75, decode[service.ReaderView](t, resp.Body).Data.Document.Scale)

	resp = ts.api.Put(base+"/rotation", userHeader, map[string]any{"rotation": 270})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, domain.Rotate270, decode[service.ReaderView](t, resp.Body).Data.Document.Rotation)

	resp = ts.api.Post(base+"/rotate", userHeader)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, domain.Rotate0, decode[service.ReaderView](t, resp.Body).Data.Document.Rotation)

	resp = ts.api.Put(base+"/rotation", userHeader, map[string]any{"rotation": 45})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPages(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)
	base := "/api/v1/readers/" + view.ID

	require.Eventually(t, func() bool {
		_, err := ts.readers.PageImage(view.ID, "user-1", 1)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	resp := ts.api.Get(base+"/pages", userHeader)
	require.Equal(t, http.StatusOK, resp.Code)
	slots := decode[SlotsResponse](t, resp.Body).Data.Slots
	require.Len(t, slots, 12)
	assert.Equal(t, 1, slots[0].PageNumber)
	assert.Equal(t, 90.0, slots[1].Geometry.Top)

	resp = ts.api.Get(base+"/pages/1/image", userHeader)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("\x89PNG")))

	resp = ts.api.Get(base+"/pages/13/image", userHeader)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Post(base+"/pages/1/retry", userHeader)
	assert.Equal(t, http.StatusConflict, resp.Code, "a drawn page cannot be retried")
}

func TestCloseReader_WritesProgress(t *testing.T) {
	ts := setupTestServer(t)
	view := ts.openReader(t)

	resp := ts.api.Get("/api/v1/progress/book-1", userHeader)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Post("/api/v1/readers/"+view.ID+"/goto", userHeader, map[string]any{"page": 6})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Delete("/api/v1/readers/"+view.ID, userHeader)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/readers/"+view.ID, userHeader)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Get("/api/v1/progress/book-1", userHeader)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	rec := decode[domain.ProgressRecord](t, resp.Body).Data
	assert.Equal(t, 6, rec.CurrentPage)
	assert.Equal(t, 12, rec.TotalPages)

	resp = ts.api.Get("/api/v1/progress/book-1/sessions?limit=10", userHeader)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	sessions := decode[store.PaginatedResult[domain.ReadingSession]](t, resp.Body).Data
	require.Len(t, sessions.Items, 1)
	assert.Equal(t, 6, sessions.Items[0].PageEnd)
	assert.False(t, sessions.HasMore)
}

func TestListSessions_BadCursor(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/progress/book-1/sessions?cursor=%25%25", userHeader)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
	assert.Equal(t, "VALIDATION", decode[any](t, resp.Body).Error.Code)
}

func TestEnvelopeTransformer(t *testing.T) {
	out, err := EnvelopeTransformer(nil, "200", map[string]string{"id": "rdr-1"})
	require.NoError(t, err)
	assert.Equal(t, Envelope{Version: 1, Success: true, Data: map[string]string{"id": "rdr-1"}}, out)

	apiErr := &APIError{status: http.StatusConflict, Code: "CONFLICT", Message: "busy"}
	out, err = EnvelopeTransformer(nil, "409", apiErr)
	require.NoError(t, err)
	assert.Equal(t, Envelope{Version: 1, Error: apiErr}, out)
}
