// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/verdantops/supportpilot/services/triage/monitoring"
)

// StartMonitoring begins synthetic event generation and analysis.
func StartMonitoring(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := m.Start()
		c.JSON(http.StatusOK, gin.H{"running": true, "started": started})
	}
}

// StopMonitoring halts event generation and analysis.
func StopMonitoring(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		stopped := m.Stop()
		c.JSON(http.StatusOK, gin.H{"running": false, "stopped": stopped})
	}
}

// ClearMonitoring drops buffered events, issues, and alerts.
func ClearMonitoring(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.Clear()
		c.JSON(http.StatusOK, gin.H{"cleared": true, "running": m.Running()})
	}
}

// GetMonitoringEvents returns recent events, newest first. The optional
// limit query parameter caps the count.
func GetMonitoringEvents(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		events := m.Events(limit)
		c.JSON(http.StatusOK, gin.H{
			"running": m.Running(),
			"count":   len(events),
			"events":  events,
		})
	}
}

// GetMonitoringIssues returns generated issues and alerts, newest first.
func GetMonitoringIssues(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"issues": m.Issues(),
			"alerts": m.Alerts(),
		})
	}
}
