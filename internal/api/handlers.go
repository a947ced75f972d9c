package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type FeedService interface {
	Build(ctx context.Context, podcastID string) ([]byte, error)
}

type Handlers struct {
	svc   FeedService
	cache *Cache
}

func NewHandlers(svc FeedService, cache *Cache) *Handlers {
	return &Handlers{
		svc:   svc,
		cache: cache,
	}
}

func (h *Handlers) RSS(c *gin.Context) {
	podcastID := c.Param("id")
	if _, err := uuid.Parse(podcastID); err != nil {
		AbortJSONError(c, http.StatusBadRequest, ErrorCodeValidation, "invalid podcast id")
		return
	}

	if b, ok := h.cache.Get(podcastID); ok {
		c.Data(http.StatusOK, "application/rss+xml", b)
		return
	}

	b, err := h.svc.Build(c.Request.Context(), podcastID)
	if err != nil {
		AbortError(c, err)
		return
	}

	h.cache.Set(podcastID, b)
	c.Data(http.StatusOK, "application/rss+xml", b)
}
