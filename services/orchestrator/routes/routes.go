// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/insightx/services/orchestrator/handlers"
	"github.com/AleutianAI/insightx/services/persistence"
	"github.com/AleutianAI/insightx/services/pipeline"
	"github.com/AleutianAI/insightx/services/session"
	"github.com/AleutianAI/insightx/services/warehouse"
)

func SetupRoutes(router *gin.Engine, p *pipeline.Pipeline, tracker *session.Tracker,
	store *persistence.Store, wh *warehouse.Warehouse) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/chat", handlers.HandleChat(p, tracker, store))
		api.GET("/dashboard", handlers.HandleDashboard(wh))

		sessions := api.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(tracker, store))
			sessions.GET("", handlers.ListSessions(tracker, store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(tracker, store))
			sessions.PATCH("/:sessionId", handlers.RenameSession(tracker, store))
			sessions.GET("/:sessionId/messages", handlers.GetSessionMessages(store))
		}
	}
}
