package domain

import (
	"math"
	"time"
)

// ProgressRecord is the durable reading position for one (user, book).
type ProgressRecord struct {
	UserID             string     `json:"userId"`
	BookID             string     `json:"bookId"`
	CurrentPage        int        `json:"currentPage"`
	TotalPages         int        `json:"totalPages"`
	ProgressPercentage float64    `json:"progressPercentage"` // 0 - 100
	IsCompleted        bool       `json:"isCompleted"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	LastReadAt         time.Time  `json:"lastReadAt"`
}

// ProgressID generates composite key: "userID:bookID".
func ProgressID(userID, bookID string) string {
	return userID + ":" + bookID
}

// Merge applies an incoming commit on top of the stored record.
// Position and percentage take the latest write; completion never reverts
// and the first completion time is kept.
func (p *ProgressRecord) Merge(next *ProgressRecord) {
	p.CurrentPage = next.CurrentPage
	p.TotalPages = next.TotalPages
	p.ProgressPercentage = next.ProgressPercentage
	p.LastReadAt = next.LastReadAt

	if next.IsCompleted && !p.IsCompleted {
		p.IsCompleted = true
		completedAt := next.LastReadAt
		if next.CompletedAt != nil {
			completedAt = *next.CompletedAt
		}
		p.CompletedAt = &completedAt
	}
}

// ReadingSession is one committed stretch of reading, appended per commit.
type ReadingSession struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	BookID          string    `json:"bookId"`
	PageStart       int       `json:"pageStart"`
	PageEnd         int       `json:"pageEnd"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationMinutes int       `json:"durationMinutes"`
}

// DurationMinutes converts elapsed reading seconds to whole minutes, never below 1.
func DurationMinutes(elapsedSeconds float64) int {
	if elapsedSeconds <= 0 || math.IsNaN(elapsedSeconds) {
		return 1
	}
	return max(1, int(math.Round(elapsedSeconds/60)))
}

// NewReadingSession builds a session ending at end that covers elapsedSeconds of reading.
func NewReadingSession(id, userID, bookID string, pageStart, pageEnd int, end time.Time, elapsedSeconds float64) *ReadingSession {
	elapsed := time.Duration(max(elapsedSeconds, 0) * float64(time.Second))
	return &ReadingSession{
		ID:              id,
		UserID:          userID,
		BookID:          bookID,
		PageStart:       pageStart,
		PageEnd:         pageEnd,
		StartTime:       end.Add(-elapsed),
		EndTime:         end,
		DurationMinutes: DurationMinutes(elapsedSeconds),
	}
}
