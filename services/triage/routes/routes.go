// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verdantops/supportpilot/services/triage/handlers"
	"github.com/verdantops/supportpilot/services/triage/kb"
	"github.com/verdantops/supportpilot/services/triage/monitoring"
	"github.com/verdantops/supportpilot/services/triage/pipeline"
)

// SetupRoutes registers the triage service HTTP surface.
func SetupRoutes(router *gin.Engine, orch *pipeline.Orchestrator, retriever kb.Retriever, monitor *monitoring.Monitor) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/mode", handlers.GetMode(orch))

		tickets := v1.Group("/tickets")
		{
			tickets.POST("/process", handlers.ProcessTicket(orch))
		}

		conversations := v1.Group("/conversations")
		{
			conversations.GET("/stats", handlers.ConversationStats(orch.Conversations()))
			conversations.GET("/:conversationId", handlers.GetConversation(orch.Conversations()))
			conversations.POST("/:conversationId/followup", handlers.ProcessFollowUp(orch))
			conversations.POST("/:conversationId/resolve", handlers.ResolveConversation(orch.Conversations()))
		}

		v1.POST("/kb/search", handlers.SearchKB(retriever))
		v1.GET("/history/stats", handlers.HistoryStats(orch.History()))

		mon := v1.Group("/monitoring")
		{
			mon.POST("/start", handlers.StartMonitoring(monitor))
			mon.POST("/stop", handlers.StopMonitoring(monitor))
			mon.POST("/clear", handlers.ClearMonitoring(monitor))
			mon.GET("/events", handlers.GetMonitoringEvents(monitor))
			mon.GET("/issues", handlers.GetMonitoringIssues(monitor))
		}
	}
}
