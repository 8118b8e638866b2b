package sandbox

import (
	"time"

	"github.com/google/uuid"
)

// Submission is one received snippet together with where it came from.
// It is immutable once created and is never persisted.
type Submission struct {
	ID         uuid.UUID
	Text       string
	Sender     string
	ReceivedAt time.Time
}

// NewSubmission stamps text and sender with a fresh id and the receive time.
func NewSubmission(text, sender string, receivedAt time.Time) Submission {
	return Submission{
		ID:         uuid.New(),
		Text:       text,
		Sender:     sender,
		ReceivedAt: receivedAt,
	}
}
