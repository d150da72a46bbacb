// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
	"github.com/verdantops/supportpilot/services/triage/kb"
	"github.com/verdantops/supportpilot/services/triage/pipeline"
)

// ProcessTicket runs a submitted ticket through the full pipeline.
//
// # Description
//
//	Malformed JSON is a 400. A ticket that fails validation is a 422 with the
//	structured validation error. Guardrail-blocked tickets are a 200 carrying
//	the blocked result; the block is data, not a transport failure.
func ProcessTicket(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ticket datatypes.SupportTicket
		if err := c.BindJSON(&ticket); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		result, err := orch.Process(c.Request.Context(), &ticket)
		if err != nil {
			slog.Warn("Ticket rejected", "ticket_id", ticket.TicketID, "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// FollowUpRequest is the body of a conversation follow-up message.
type FollowUpRequest struct {
	Body string `json:"body"`
}

// ProcessFollowUp continues an existing conversation with a new customer
// message.
func ProcessFollowUp(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")

		var req FollowUpRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		result, err := orch.ProcessFollowUp(c.Request.Context(), conversationID, req.Body)
		if err != nil {
			switch {
			case errors.Is(err, kb.ErrConversationNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case strings.Contains(err.Error(), "resolved"):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
