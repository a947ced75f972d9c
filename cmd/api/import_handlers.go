package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"podfeed/internal/api"
	"podfeed/internal/catalog"
	"podfeed/internal/jobs"
	"podfeed/internal/podcast"

	"github.com/gin-gonic/gin"
)

type importRequest struct {
	PodcastSourceIDs []json.RawMessage `json:"podcastSourceIds"`
}

func (app *app) startImport(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}
	app.runImport(c, accountID)
}

// startRawImport imports podcasts without following them for anyone.
func (app *app) startRawImport(c *gin.Context) {
	app.runImport(c, "")
}

func (app *app) runImport(c *gin.Context, accountID string) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}
	ids, err := catalog.ParseSourceIDs(req.PodcastSourceIDs)
	if err != nil {
		api.AbortError(c, &podcast.ValidationError{Field: "podcastSourceIds", Message: err.Error()})
		return
	}

	result, err := app.importer.StartImport(c.Request.Context(), accountID, ids)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (app *app) ingestPodcast(c *gin.Context) {
	var p podcast.ImportedPodcast
	if err := c.ShouldBindJSON(&p); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}
	if id := c.GetHeader(jobs.HeaderPodcastID); id != "" && id != p.PodcastID {
		api.AbortError(c, &podcast.ValidationError{Field: "podcastId", Message: "header and body disagree"})
		return
	}

	view, err := app.importer.IngestPodcast(c.Request.Context(), c.GetHeader(jobs.HeaderTaskToken), p)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (app *app) ingestEpisodes(c *gin.Context) {
	batch := podcast.EpisodeBatch{
		PodcastID: c.GetHeader(jobs.HeaderPodcastID),
		Token:     c.GetHeader(jobs.HeaderTaskToken),
	}
	if update := c.GetHeader(jobs.HeaderUpdateToken); update != "" {
		batch.Token = update
		batch.IsUpdate = true
	}
	if raw := c.GetHeader(jobs.HeaderIsLast); raw != "" {
		last, err := strconv.ParseBool(raw)
		if err != nil {
			api.AbortError(c, &podcast.ValidationError{Field: jobs.HeaderIsLast, Message: "must be true or false"})
			return
		}
		batch.IsFinal = last
	}
	if err := c.ShouldBindJSON(&batch.Episodes); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	added, err := app.importer.IngestEpisodes(c.Request.Context(), batch)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (app *app) beginUpdate(c *gin.Context) {
	ticket, err := app.importer.BeginUpdate(c.Request.Context(), c.GetHeader(jobs.HeaderPodcastID))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}
