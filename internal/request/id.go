package request

import "github.com/google/uuid"

// NewID returns a fresh request/subscription id, unique per process.
func NewID() string {
	return uuid.NewString()
}
