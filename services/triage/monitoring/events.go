// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitoring simulates a production telemetry feed, flags anomalous
// events against thresholds, and turns sustained anomalies into issues,
// alerts, and synthesized support tickets.
package monitoring

import "time"

// EventType partitions the telemetry feed by source layer.
type EventType string

const (
	EventAPI            EventType = "api"
	EventDatabase       EventType = "database"
	EventFrontend       EventType = "frontend"
	EventInfrastructure EventType = "infrastructure"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// LogEvent is a single telemetry event.
type LogEvent struct {
	EventID     string             `json:"event_id"`
	Timestamp   time.Time          `json:"timestamp"`
	EventType   EventType          `json:"event_type"`
	ServiceName string             `json:"service_name"`
	Region      string             `json:"region"`
	CustomerID  string             `json:"customer_id,omitempty"`
	Severity    string             `json:"severity"`
	Message     string             `json:"message"`
	Metrics     map[string]float64 `json:"metrics"`
	Flagged     bool               `json:"flagged"`
	Critical    bool               `json:"critical"`
}

// Issue is a generated incident record derived from flagged events.
type Issue struct {
	IssueID          string    `json:"issue_id"`
	CreatedAt        time.Time `json:"created_at"`
	Title            string    `json:"title"`
	Status           string    `json:"status"`
	Severity         string    `json:"severity"`
	AffectedServices []string  `json:"affected_services"`
	AffectedRegions  []string  `json:"affected_regions"`
	Description      string    `json:"description"`
	Workaround       string    `json:"workaround,omitempty"`
	RelatedEvents    []string  `json:"related_events"`
}

// Alert types.
const (
	AlertEngineering = "engineering"
	AlertCustomer    = "customer"
)

// Alert is a generated notification for an issue.
type Alert struct {
	AlertID         string    `json:"alert_id"`
	CreatedAt       time.Time `json:"created_at"`
	AlertType       string    `json:"alert_type"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	AffectedService string    `json:"affected_service"`
	RelatedIssueID  string    `json:"related_issue_id,omitempty"`
	RelatedTicketID string    `json:"related_ticket_id,omitempty"`
}
