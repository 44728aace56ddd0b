// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exponentia-ai/comet/services/orchestrator/handlers"
	storage "github.com/exponentia-ai/comet/services/storage/badger"
)

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, store *storage.SessionStore, pipeline handlers.ChatRunner) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", handlers.HandleChatStream(pipeline))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.POST("", handlers.CreateSession(store))
			sessions.GET("/:sessionId", handlers.GetSession(store))
			sessions.PATCH("/:sessionId", handlers.RenameSession(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
