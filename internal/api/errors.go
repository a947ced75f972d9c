package api

import (
	"context"
	"errors"
	"net/http"

	"podfeed/internal/cursor"
	"podfeed/internal/podcast"
	"podfeed/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	ErrorCodeValidation   = "validation_error"
	ErrorCodeNotFound     = "not_found"
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeForbidden    = "forbidden"
	ErrorCodeInvalidToken = "invalid_token"
	ErrorCodeConflict     = "conflict"
	ErrorCodeUpstream     = "upstream_error"
	ErrorCodeUnavailable  = "unavailable"
	ErrorCodeInternal     = "internal_error"
)

type ErrorDetails struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSONError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func JSONErrorWithDetails(c *gin.Context, status int, code, message string, details any) {
	if details == nil {
		JSONError(c, status, code, message)
		return
	}
	switch v := details.(type) {
	case []ErrorDetails:
		if len(v) == 0 {
			JSONError(c, status, code, message)
			return
		}
	}
	c.JSON(status, gin.H{
		"error": ErrorResponse{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func AbortJSONError(c *gin.Context, status int, code, message string) {
	JSONError(c, status, code, message)
	c.Abort()
}

func AbortJSONErrorWithDetails(c *gin.Context, status int, code, message string, details any) {
	JSONErrorWithDetails(c, status, code, message, details)
	c.Abort()
}

// AbortError maps a domain error onto the error envelope. Unknown errors
// are reported as internal without leaking their text; the error is kept on
// the context for the access log.
func AbortError(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *podcast.ValidationError
	switch {
	case errors.As(err, &verr):
		AbortJSONErrorWithDetails(c, http.StatusBadRequest, ErrorCodeValidation, verr.Error(),
			[]ErrorDetails{{Field: verr.Field, Message: verr.Message}})
	case errors.Is(err, cursor.ErrInvalid):
		AbortJSONError(c, http.StatusBadRequest, ErrorCodeValidation, "invalid continuation token")
	case errors.Is(err, podcast.ErrInvalidToken):
		AbortJSONError(c, http.StatusUnauthorized, ErrorCodeInvalidToken, "invalid or expired token")
	case errors.Is(err, store.ErrNotFound):
		AbortJSONError(c, http.StatusNotFound, ErrorCodeNotFound, "not found")
	case errors.Is(err, podcast.ErrEpisodeNotFound):
		AbortJSONError(c, http.StatusNotFound, ErrorCodeNotFound, "episode not found")
	case errors.Is(err, store.ErrAlreadyExists):
		AbortJSONError(c, http.StatusConflict, ErrorCodeConflict, "already exists")
	case errors.Is(err, context.DeadlineExceeded):
		AbortJSONError(c, http.StatusGatewayTimeout, ErrorCodeUpstream, "request timed out")
	default:
		AbortJSONError(c, http.StatusInternalServerError, ErrorCodeInternal, "internal error")
	}
}
