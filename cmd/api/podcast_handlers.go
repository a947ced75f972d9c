package main

import (
	"net/http"
	"strconv"

	"podfeed/internal/api"
	"podfeed/internal/podcast"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type podcastRequest struct {
	PodcastID string `json:"podcastId"`
}

func (app *app) getPodcast(c *gin.Context) {
	podcastID := c.Query("id")
	if _, err := uuid.Parse(podcastID); err != nil {
		api.AbortJSONError(c, http.StatusBadRequest, api.ErrorCodeValidation, "id must be a uuid")
		return
	}

	view, err := app.library.Podcast(c.Request.Context(), podcastID)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (app *app) followPodcast(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	var req podcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	if err := app.library.Follow(c.Request.Context(), accountID, req.PodcastID); err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (app *app) unfollowPodcast(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	var req podcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	if err := app.library.Unfollow(c.Request.Context(), accountID, req.PodcastID); err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (app *app) listFollowed(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	page, err := app.library.Followed(c.Request.Context(), accountID, c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) listEpisodes(c *gin.Context) {
	q := podcast.EpisodeQuery{
		PodcastID: c.Query("podcastId"),
		Token:     c.Query("next"),
	}
	var err error
	if q.BiggestIndex, err = optionalIndex(c, "biggestIndex"); err != nil {
		api.AbortError(c, err)
		return
	}
	if q.SmallestIndex, err = optionalIndex(c, "smallestIndex"); err != nil {
		api.AbortError(c, err)
		return
	}

	page, err := app.library.Episodes(c.Request.Context(), q)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) getEpisode(c *gin.Context) {
	episode, err := app.library.Episode(c.Request.Context(), c.Query("episodeId"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, episode)
}

func optionalIndex(c *gin.Context, name string) (*int64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, &podcast.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return &n, nil
}
