package main

import (
	"net/http"

	"podfeed/internal/api"
	"podfeed/internal/podcast"

	"github.com/gin-gonic/gin"
)

type createClipRequest struct {
	EpisodeID string            `json:"episodeId"`
	ClipData  podcast.ClipInput `json:"clipData"`
}

type changeClipRequest struct {
	ClipID          string             `json:"clipId"`
	ChangedClipData podcast.ClipChange `json:"changedClipData"`
}

func (app *app) createClip(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	var req createClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	clip, err := app.clips.Create(c.Request.Context(), accountID, req.EpisodeID, req.ClipData)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, clip)
}

func (app *app) changeClip(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	var req changeClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.AbortJSONErrorWithDetails(c, http.StatusBadRequest, api.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	clip, err := app.clips.Change(c.Request.Context(), accountID, req.ClipID, req.ChangedClipData)
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, clip)
}

func (app *app) listAccountClips(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	page, err := app.clips.ByAccount(c.Request.Context(), accountID, c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) listEpisodeClips(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	page, err := app.clips.ByEpisode(c.Request.Context(), accountID, c.Query("episodeId"), c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
