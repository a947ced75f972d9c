package main

import (
	"context"
	"net/http"
	"time"

	"podfeed/internal/api"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

func (app *app) routes() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), api.AccessLog(app.logger.WithPrefix("http")), corsMiddleware())

	timeout := app.config.Server.HandlerTimeout
	auth := app.authMiddleware()
	jobSecret := api.RequireImportSecret(app.config.Auth.ImportSecret)

	health := g.Group("/health")
	{
		health.GET("", app.health)
	}

	account := g.Group("/account", auth...)
	{
		account.GET("/me", withTimeout(timeout, app.getCurrentAccount))
	}

	pod := g.Group("/podcast")
	{
		pod.GET("", withTimeout(timeout, app.getPodcast))
		pod.GET("/episodes", withTimeout(timeout, app.listEpisodes))
		pod.GET("/episode", withTimeout(timeout, app.getEpisode))
		pod.GET("/top/episode/feed", withTimeout(timeout, app.topFeed))
		pod.GET("/:id/rss", withTimeout(timeout, app.handlers.RSS))

		user := pod.Group("", auth...)
		user.POST("/follow", withTimeout(timeout, app.followPodcast))
		user.POST("/unfollow", withTimeout(timeout, app.unfollowPodcast))
		user.GET("/followed", withTimeout(timeout, app.listFollowed))
		user.GET("/followed/episode/feed", withTimeout(timeout, app.followedFeed))
		user.POST("/import", withTimeout(timeout, app.startImport))

		// job runner callbacks
		pod.POST("/import/raw", jobSecret, withTimeout(timeout, app.startRawImport))
		pod.POST("/import/update", jobSecret, withTimeout(timeout, app.beginUpdate))
		pod.POST("/import/podcast", withTimeout(timeout, app.ingestPodcast))
		pod.POST("/import/episodes", withTimeout(timeout, app.ingestEpisodes))
	}

	clip := g.Group("/clip", auth...)
	{
		clip.PUT("", withTimeout(timeout, app.createClip))
		clip.POST("/change", withTimeout(timeout, app.changeClip))
		clip.GET("/user", withTimeout(timeout, app.listAccountClips))
		clip.GET("/episode", withTimeout(timeout, app.listEpisodeClips))
	}

	s := g.Group("/search")
	{
		s.GET("/podcasts", withTimeout(timeout, app.searchPodcasts))
		s.GET("/episodes", withTimeout(timeout, app.searchEpisodes))
		s.GET("/suggestions", withTimeout(timeout, app.searchSuggestions))
	}

	return g
}

// authMiddleware picks clerk sessions when configured and the gateway
// account header otherwise.
func (app *app) authMiddleware() []gin.HandlerFunc {
	if app.config.Auth.ClerkSecretKey != "" {
		return []gin.HandlerFunc{api.ClerkSession(), api.RequireAuth(app.store, app.logger.WithPrefix("auth"))}
	}
	return []gin.HandlerFunc{api.RequireGatewayAccount()}
}

// health reports unavailable while redis is unreachable; the feed, import
// locks and episode buffers all live there.
func (app *app) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := app.cache.Ping(ctx); err != nil {
		app.logger.Warn("health check failed", "err", err)
		api.JSONError(c, http.StatusServiceUnavailable, api.ErrorCodeUnavailable, "cache unreachable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func withTimeout(d time.Duration, fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		fn(c)
	}
}
