// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin handlers for the triage service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdantops/supportpilot/services/triage/pipeline"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetMode reports whether the pipeline runs against a live reasoner or the
// deterministic mock backend.
func GetMode(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": orch.Mode()})
	}
}
