// Package sse implements Server-Sent Events for pushing reader notifications to the host UI.
package sse

import (
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/progress"
)

// The reader is driven by request/response calls; SSE carries the
// notifications the host cannot poll for cheaply (page changes, scroll
// progress, programmatic scroll targets and per-page render results).

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventStatus represents a document lifecycle change (loading, ready, failed, closed).
	EventStatus EventType = "reader.status"
	// EventLoadFailed represents a document that could not be opened.
	EventLoadFailed EventType = "reader.load_failed"

	// EventPageChanged represents a new current page.
	EventPageChanged EventType = "reader.page_changed"
	// EventScrollProgress represents a recomputed progress percentage.
	EventScrollProgress EventType = "reader.scroll_progress"
	// EventScrollTo asks the host to move its scroll container.
	EventScrollTo EventType = "reader.scroll_to"
	// EventLayout reports the scroll position chosen after a layout change.
	EventLayout EventType = "reader.layout"

	// EventPageRendered represents a page drawn to its surface.
	EventPageRendered EventType = "page.rendered"
	// EventPageFailed represents a page whose draw failed.
	EventPageFailed EventType = "page.failed"

	// EventProgressSaved represents a committed progress record.
	EventProgressSaved EventType = "progress.saved"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
// The Data field contains the event payload as a JSON object for direct deserialization.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"` // Event-specific data as JSON object
	Type      EventType `json:"type"`
	ReaderID  string    `json:"readerId,omitempty"`

	// Filtering fields. Empty string means "broadcast to all".
	UserID string `json:"-"` // Filter to specific user (not sent to client)
}

// StatusEventData is the data payload for status events.
type StatusEventData struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PageChangedEventData is the data payload for page change events.
type PageChangedEventData struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

// ScrollToEventData is the data payload for scroll target events.
type ScrollToEventData struct {
	ScrollTop float64 `json:"scrollTop"`
}

// PageRenderEventData is the data payload for page render results.
type PageRenderEventData struct {
	Page        int    `json:"page"`
	State       string `json:"state"`
	Placeholder string `json:"placeholder,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

func newEvent(t EventType, readerID string, data any) Event {
	return Event{
		Type:      t,
		ReaderID:  readerID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewStatusEvent creates a reader.status event.
func NewStatusEvent(readerID, status string, err error) Event {
	data := StatusEventData{Status: status}
	if err != nil {
		data.Error = err.Error()
	}
	return newEvent(EventStatus, readerID, data)
}

// NewLoadFailedEvent creates a reader.load_failed event.
func NewLoadFailedEvent(readerID string, err error) Event {
	return newEvent(EventLoadFailed, readerID, StatusEventData{Status: "failed", Error: err.Error()})
}

// NewPageChangedEvent creates a reader.page_changed event.
func NewPageChangedEvent(readerID string, page, totalPages int) Event {
	return newEvent(EventPageChanged, readerID, PageChangedEventData{Page: page, TotalPages: totalPages})
}

// NewScrollProgressEvent creates a reader.scroll_progress event.
func NewScrollProgressEvent(readerID string, snap progress.Snapshot) Event {
	return newEvent(EventScrollProgress, readerID, snap)
}

// NewScrollToEvent creates a reader.scroll_to event.
func NewScrollToEvent(readerID string, top float64) Event {
	return newEvent(EventScrollTo, readerID, ScrollToEventData{ScrollTop: top})
}

// NewLayoutEvent creates a reader.layout event.
func NewLayoutEvent(readerID string, state domain.ScrollState) Event {
	return newEvent(EventLayout, readerID, state)
}

// NewPageRenderEvent creates a page.rendered or page.failed event.
func NewPageRenderEvent(readerID string, page int, state domain.RenderState, placeholder string, err error) Event {
	data := PageRenderEventData{Page: page, State: state.String(), Placeholder: placeholder}
	t := EventPageRendered
	if err != nil {
		data.Error = err.Error()
		t = EventPageFailed
	}
	return newEvent(t, readerID, data)
}

// NewProgressSavedEvent creates a progress.saved event.
func NewProgressSavedEvent(readerID string, rec *domain.ProgressRecord) Event {
	return newEvent(EventProgressSaved, readerID, rec)
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{
		Type: EventHeartbeat,
		Data: HeartbeatEventData{
			ServerTime: time.Now(),
		},
		Timestamp: time.Now(),
	}
}
