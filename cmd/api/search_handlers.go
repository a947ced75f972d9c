package main

import (
	"net/http"

	"podfeed/internal/api"

	"github.com/gin-gonic/gin"
)

func (app *app) searchPodcasts(c *gin.Context) {
	if !app.searchEnabled(c) {
		return
	}
	page, err := app.search.Podcasts(c.Request.Context(), c.Query("term"), c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) searchEpisodes(c *gin.Context) {
	if !app.searchEnabled(c) {
		return
	}
	page, err := app.search.Episodes(c.Request.Context(), c.Query("term"), c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) searchSuggestions(c *gin.Context) {
	if !app.searchEnabled(c) {
		return
	}
	suggestions, err := app.search.Suggestions(c.Request.Context(), c.Query("term"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

func (app *app) searchEnabled(c *gin.Context) bool {
	if app.search == nil {
		api.AbortJSONError(c, http.StatusServiceUnavailable, api.ErrorCodeUnavailable, "search is not configured")
		return false
	}
	return true
}
