package main

import (
	"net/http"

	"podfeed/internal/api"

	"github.com/gin-gonic/gin"
)

func (app *app) followedFeed(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	page, err := app.feed.GetPage(c.Request.Context(), accountID, c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *app) topFeed(c *gin.Context) {
	page, err := app.topList.Page(c.Query("next"))
	if err != nil {
		api.AbortError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
