package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is a queued request to be auto-paired with a similarly rated
// opponent. At most one ticket exists per user.
type Ticket struct {
	UserID          uuid.UUID `json:"userId"`
	Username        string    `json:"username"`
	Handle          string    `json:"handle"`
	Rating          int       `json:"rating"` // the user's current score
	PreferredRating int       `json:"preferredRating"`
	Duration        int       `json:"duration"` // minutes
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}
