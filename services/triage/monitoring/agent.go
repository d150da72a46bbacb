// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

const agentSystemPrompt = "You are an SRE analyzing monitoring data. Respond with valid JSON only. Be concise."

const agentPromptTemplate = `Analyze this monitoring event and generate all required outputs in a single response.

EVENT:
- Type: %s
- Service: %s
- Region: %s
- Message: %s
- Metrics: %s
- Critical: %t

RECENT EVENTS (same service):
%s

Generate a JSON response with ALL of the following:
{
    "severity": "critical|high|medium|low",
    "root_cause": "Brief root cause hypothesis (1 sentence)",
    "customer_impact": "Impact on customers (1 sentence)",
    "recommended_action": "What to do (1 sentence)",
    "issue_description": "Technical description (2-3 sentences)",
    "workaround": "Workaround if any, or null",
    "eng_alert_subject": "Engineering alert subject line",
    "eng_alert_body": "Engineering alert body (2-3 sentences with metrics)",
    "customer_alert_subject": "Customer notification subject",
    "customer_alert_body": "Customer-friendly notification (2-3 sentences, no technical jargon)"
}`

// TicketProcessor is the slice of the pipeline the agent needs to feed
// synthesized tickets back into triage.
type TicketProcessor interface {
	Process(ctx context.Context, ticket *datatypes.SupportTicket) (*datatypes.PipelineResult, error)
}

// Agent analyzes flagged monitoring events with one consolidated reasoner
// call per event, producing an issue record, an engineering alert, and for
// critical events a customer alert plus a synthesized support ticket routed
// through the regular pipeline.
type Agent struct {
	client    llm.LLMClient
	processor TicketProcessor

	mu        sync.Mutex
	processed map[string]struct{}
	issues    []Issue
	alerts    []Alert
}

// NewAgent builds an idle agent. processor may be nil; critical events then
// produce alerts without a synthesized ticket.
func NewAgent(client llm.LLMClient, processor TicketProcessor) *Agent {
	return &Agent{
		client:    client,
		processor: processor,
		processed: make(map[string]struct{}),
	}
}

// Run consumes flagged events until the done channel closes. One failed
// analysis never stops the loop.
func (a *Agent) Run(done <-chan struct{}, flagged <-chan LogEvent, recent func() []LogEvent) {
	for {
		select {
		case <-done:
			return
		case event := <-flagged:
			var recentEvents []LogEvent
			if recent != nil {
				recentEvents = recent()
			}
			a.AnalyzeEvent(event, recentEvents)
		}
	}
}

// AnalyzeEvent handles one flagged event. Repeat event ids are skipped.
func (a *Agent) AnalyzeEvent(event LogEvent, recentEvents []LogEvent) (*Issue, []Alert) {
	a.mu.Lock()
	if _, seen := a.processed[event.EventID]; seen {
		a.mu.Unlock()
		return nil, nil
	}
	a.processed[event.EventID] = struct{}{}
	a.mu.Unlock()

	contextEvents := relatedFlagged(event, recentEvents)
	analysis := a.analyze(event, contextEvents)

	issue := buildIssue(event, analysis, contextEvents)
	alerts := buildAlerts(event, issue, analysis)

	if event.Critical && a.processor != nil {
		if ticketID := a.synthesizeTicket(event, issue, analysis); ticketID != "" {
			for i := range alerts {
				alerts[i].RelatedTicketID = ticketID
			}
		}
	}

	a.mu.Lock()
	a.issues = append(a.issues, issue)
	a.alerts = append(a.alerts, alerts...)
	a.mu.Unlock()

	slog.Info("Flagged event analyzed",
		"event_id", event.EventID,
		"service", event.ServiceName,
		"severity", issue.Severity,
		"alerts", len(alerts))
	return &issue, alerts
}

// Issues returns the accumulated issues, newest first.
func (a *Agent) Issues() []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Issue, len(a.issues))
	for i, issue := range a.issues {
		out[len(a.issues)-1-i] = issue
	}
	return out
}

// Alerts returns the accumulated alerts, newest first.
func (a *Agent) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, len(a.alerts))
	for i, alert := range a.alerts {
		out[len(a.alerts)-1-i] = alert
	}
	return out
}

// Clear drops accumulated issues, alerts, and the dedup set.
func (a *Agent) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.issues = nil
	a.alerts = nil
	a.processed = make(map[string]struct{})
}

// analyze runs the consolidated reasoner call, falling back to a
// deterministic analysis in mock mode or on any failure.
func (a *Agent) analyze(event LogEvent, contextEvents []LogEvent) map[string]any {
	if a.client.Mode() == llm.ModeMock {
		return fallbackAnalysis(event)
	}

	var contextLines []string
	for _, e := range contextEvents {
		metrics, _ := json.Marshal(e.Metrics)
		contextLines = append(contextLines, fmt.Sprintf("- %s: %s (metrics: %s)", e.ServiceName, e.Message, metrics))
	}
	contextStr := "None"
	if len(contextLines) > 0 {
		contextStr = strings.Join(contextLines, "\n")
	}
	metrics, _ := json.Marshal(event.Metrics)
	prompt := fmt.Sprintf(agentPromptTemplate,
		event.EventType, event.ServiceName, event.Region, event.Message,
		metrics, event.Critical, contextStr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := a.client.CompleteJSON(ctx, agentSystemPrompt, prompt)
	if err != nil {
		slog.Warn("Monitoring analysis call failed, using deterministic fallback",
			"event_id", event.EventID, "error", err)
		return fallbackAnalysis(event)
	}
	return result
}

// synthesizeTicket feeds a critical event into the support pipeline so it
// gets the same triage, routing, and SLA treatment as a customer report.
func (a *Agent) synthesizeTicket(event LogEvent, issue Issue, analysis map[string]any) string {
	ticket := &datatypes.SupportTicket{
		TicketID:      "MON-" + event.EventID[:8],
		CreatedAt:     time.Now(),
		CustomerName:  "Platform Monitoring",
		CustomerEmail: "monitoring@verdantops.io",
		AccountTier:   string(datatypes.TierEnterprise),
		Product:       event.ServiceName,
		Subject:       fmt.Sprintf("Service degradation detected: %s in %s", event.ServiceName, event.Region),
		Body: fmt.Sprintf(
			"Automated monitoring flagged a critical anomaly.\n\nService: %s\nRegion: %s\nEvent: %s\n\n%s\n\nImpact: %s",
			event.ServiceName, event.Region, event.Message,
			issue.Description, str(analysis, "customer_impact", "Customer impact under assessment.")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := a.processor.Process(ctx, ticket); err != nil {
		slog.Warn("Synthesized ticket rejected by pipeline", "ticket_id", ticket.TicketID, "error", err)
		return ""
	}
	slog.Info("Synthesized ticket from critical event",
		"ticket_id", ticket.TicketID, "event_id", event.EventID)
	return ticket.TicketID
}

// =============================================================================
// Deterministic Analysis
// =============================================================================

// fallbackAnalysis derives the analysis fields directly from the event so
// the agent keeps functioning without a reasoner.
func fallbackAnalysis(event LogEvent) map[string]any {
	severity := "high"
	if event.Critical {
		severity = "critical"
	}

	var rootCause, action string
	switch event.EventType {
	case EventAPI:
		rootCause = fmt.Sprintf("Elevated request latency on %s suggests saturation or a slow downstream dependency.", event.ServiceName)
		action = "Check recent deploys and downstream dependency health, then scale the service if saturated."
	case EventDatabase:
		rootCause = fmt.Sprintf("Slow queries on %s suggest lock contention or a missing index.", event.ServiceName)
		action = "Inspect the slow query log and active locks on the affected instance."
	case EventFrontend:
		rootCause = fmt.Sprintf("Degraded page loads on %s suggest an asset regression or a slow API call path.", event.ServiceName)
		action = "Compare bundle sizes and API timings against the last release."
	default:
		rootCause = fmt.Sprintf("Resource exhaustion on %s.", event.ServiceName)
		action = "Rebalance workloads or add capacity to the affected node pool."
	}

	return map[string]any{
		"severity":               severity,
		"root_cause":             rootCause,
		"customer_impact":        fmt.Sprintf("Customers using %s in %s may see slow responses or errors.", event.ServiceName, event.Region),
		"recommended_action":     action,
		"issue_description":      fmt.Sprintf("%s %s exceeded its threshold in %s. %s", event.ServiceName, event.EventType, event.Region, rootCause),
		"workaround":             nil,
		"eng_alert_subject":      fmt.Sprintf("[ALERT] %s threshold exceeded on %s (%s)", event.EventType, event.ServiceName, event.Region),
		"eng_alert_body":         fmt.Sprintf("%s flagged in %s: %s. %s", event.ServiceName, event.Region, event.Message, action),
		"customer_alert_subject": fmt.Sprintf("Service Update: %s", event.ServiceName),
		"customer_alert_body":    "We are investigating degraded performance on one of our services. We will post updates as we learn more.",
	}
}

func relatedFlagged(event LogEvent, recent []LogEvent) []LogEvent {
	var out []LogEvent
	for _, e := range recent {
		if e.ServiceName == event.ServiceName && e.Flagged && e.EventID != event.EventID {
			out = append(out, e)
			if len(out) == 5 {
				break
			}
		}
	}
	return out
}

func buildIssue(event LogEvent, analysis map[string]any, contextEvents []LogEvent) Issue {
	regionSet := map[string]struct{}{event.Region: {}}
	related := []string{event.EventID}
	for _, e := range contextEvents {
		regionSet[e.Region] = struct{}{}
		related = append(related, e.EventID)
	}
	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}

	severity := str(analysis, "severity", "medium")
	return Issue{
		IssueID:          fmt.Sprintf("ISS-%d-%s", time.Now().Unix(), event.ServiceName),
		CreatedAt:        time.Now(),
		Title:            fmt.Sprintf("%s %s issue in %s (%s)", capitalize(severity), event.EventType, event.ServiceName, event.Region),
		Status:           "investigating",
		Severity:         severity,
		AffectedServices: []string{event.ServiceName},
		AffectedRegions:  regions,
		Description:      str(analysis, "issue_description", str(analysis, "root_cause", "Issue detected")),
		Workaround:       str(analysis, "workaround", ""),
		RelatedEvents:    related,
	}
}

func buildAlerts(event LogEvent, issue Issue, analysis map[string]any) []Alert {
	now := time.Now()
	alerts := []Alert{{
		AlertID:         fmt.Sprintf("ALR-%d-eng", now.Unix()),
		CreatedAt:       now,
		AlertType:       AlertEngineering,
		Subject:         str(analysis, "eng_alert_subject", "[ALERT] "+issue.Title),
		Body:            str(analysis, "eng_alert_body", "Issue detected in "+event.ServiceName),
		AffectedService: event.ServiceName,
		RelatedIssueID:  issue.IssueID,
	}}

	if event.Critical {
		alerts = append(alerts, Alert{
			AlertID:         fmt.Sprintf("ALR-%d-cust", now.Unix()),
			CreatedAt:       now,
			AlertType:       AlertCustomer,
			Subject:         str(analysis, "customer_alert_subject", "Service Update: "+event.ServiceName),
			Body:            str(analysis, "customer_alert_body", "We are investigating an issue and will provide updates."),
			AffectedService: event.ServiceName,
			RelatedIssueID:  issue.IssueID,
		})
	}
	return alerts
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func str(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" && !strings.EqualFold(v, "null") {
		return v
	}
	return fallback
}
