// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/verdantops/supportpilot/services/triage/kb"
)

// KBSearchRequest is the body of a direct knowledge base query.
type KBSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// SearchKB queries the knowledge base retriever directly, bypassing the
// pipeline. Useful for agents composing their own replies.
func SearchKB(retriever kb.Retriever) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req KBSearchRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query must not be empty"})
			return
		}
		if req.K <= 0 {
			req.K = kb.DefaultSearchK
		}

		hits, err := retriever.Search(c.Request.Context(), req.Query, req.K)
		if err != nil {
			slog.Error("KB search failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Knowledge base unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": req.Query, "results": hits})
	}
}

// HistoryStats reports the auto-reply history store size and thresholds.
func HistoryStats(history *kb.TicketHistory) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, history.Stats())
	}
}
