package podcast

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a callback presents a token that is
	// missing, mismatched, expired or already consumed.
	ErrInvalidToken = errors.New("invalid or expired callback token")
	// ErrEpisodeNotFound is returned when no episode exists at an index.
	ErrEpisodeNotFound = errors.New("episode not found")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
