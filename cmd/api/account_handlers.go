package main

import (
	"net/http"
	"time"

	"podfeed/internal/api"

	"github.com/gin-gonic/gin"
)

func (app *app) getCurrentAccount(c *gin.Context) {
	accountID, ok := api.GetAccountID(c)
	if !ok {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "missing account context")
		return
	}

	follows, err := app.store.CountFollows(c.Request.Context(), accountID)
	if err != nil {
		api.AbortJSONError(c, http.StatusInternalServerError, api.ErrorCodeInternal, "failed to count follows")
		return
	}

	resp := gin.H{
		"id":           accountID,
		"follow_count": follows,
	}
	// gateway accounts live upstream and have no local record
	account, err := app.store.GetAccountByID(c.Request.Context(), accountID)
	if err == nil {
		resp["email"] = account.Email
		resp["created_at"] = account.CreatedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
