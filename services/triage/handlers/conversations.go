// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdantops/supportpilot/services/triage/kb"
)

// GetConversation returns the full conversation record including the
// transcript, merged fields, and current triage.
func GetConversation(store *kb.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := store.Get(c.Param("conversationId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

// ResolveConversation moves a conversation to its terminal state. Resolved
// conversations reject further follow-ups.
func ResolveConversation(store *kb.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := store.Resolve(c.Param("conversationId"))
		if err != nil {
			if errors.Is(err, kb.ErrConversationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conv.Info())
	}
}

// ConversationStats summarizes the conversation store by status.
func ConversationStats(store *kb.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, store.Stats())
	}
}
