// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/cairnhealth/cairn/services/orchestrator/handlers"
	"github.com/cairnhealth/cairn/services/orchestrator/middleware"
	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the cross-cutting settings routes need.
type Options struct {
	APIToken  string
	RateRPS   float64
	RateBurst int
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, store *session.Store, runner *session.Runner, opts Options) {

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.BearerAuth(opts.APIToken))
	if opts.RateRPS > 0 {
		v1.Use(middleware.RateLimit(opts.RateRPS, opts.RateBurst))
	}
	{
		turnHandler := handlers.NewTurnHandler(store, runner)
		v1.POST("/turns/stream", turnHandler.StreamTurn)
		v1.GET("/turns/ws", handlers.HandleTurnWebSocket(store, runner))

		// Session administration routes
		sessionHandler := handlers.NewSessionHandler(store)
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", sessionHandler.ListSessions)
			sessions.GET("/:id/history", sessionHandler.GetHistory)
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
		}
	}
}
