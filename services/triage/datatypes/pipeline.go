// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"
)

// =============================================================================
// Triage
// =============================================================================

// TriageResult is the classification output for a single pipeline run.
// Produced once per run and never mutated.
type TriageResult struct {
	Urgency    Urgency   `json:"urgency"`
	Category   Category  `json:"category"`
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
}

// ExtractedFields holds the normalized fields pulled out of the ticket text.
// All value fields are optional; empty string means "not supplied yet".
// MissingFields lists the field names still needed from the customer.
type ExtractedFields struct {
	Environment       string   `json:"environment,omitempty"`
	Region            string   `json:"region,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	ReproductionSteps string   `json:"reproduction_steps,omitempty"`
	Impact            string   `json:"impact,omitempty"`
	RequestedAction   string   `json:"requested_action,omitempty"`
	OrderID           string   `json:"order_id,omitempty"`
	MissingFields     []string `json:"missing_fields"`
}

// Merge folds a follow-up extraction into the receiver. New non-empty values
// fill fields that are still empty; a previously filled field is never
// overwritten, and an empty incoming value never erases anything. The
// missing-field list is recomputed from the merged values and can only
// shrink.
func (e *ExtractedFields) Merge(update *ExtractedFields) {
	if update == nil {
		return
	}
	fill := func(dst *string, src string) {
		if *dst == "" && strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	fill(&e.Environment, update.Environment)
	fill(&e.Region, update.Region)
	fill(&e.ErrorMessage, update.ErrorMessage)
	fill(&e.ReproductionSteps, update.ReproductionSteps)
	fill(&e.Impact, update.Impact)
	fill(&e.RequestedAction, update.RequestedAction)
	fill(&e.OrderID, update.OrderID)
	e.RecomputeMissing()
}

// RecomputeMissing rebuilds MissingFields by intersecting the currently
// declared missing names with the fields that are still empty. Fields never
// re-enter the list once filled.
func (e *ExtractedFields) RecomputeMissing() {
	values := map[string]string{
		"environment":        e.Environment,
		"region":             e.Region,
		"error_message":      e.ErrorMessage,
		"reproduction_steps": e.ReproductionSteps,
		"impact":             e.Impact,
		"requested_action":   e.RequestedAction,
		"order_id":           e.OrderID,
	}
	still := make([]string, 0, len(e.MissingFields))
	for _, name := range e.MissingFields {
		if v, ok := values[name]; ok && strings.TrimSpace(v) == "" {
			still = append(still, name)
		}
	}
	e.MissingFields = still
}

// =============================================================================
// Knowledge Base
// =============================================================================

// KBHit is a retrieved knowledge base passage. Read-only snapshot from the
// retriever, ordered by descending relevance.
type KBHit struct {
	DocName        string  `json:"doc_name"`
	Section        string  `json:"section"`
	Passage        string  `json:"passage"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Citation formats the hit as the citation token used inside reply drafts.
func (h *KBHit) Citation() string {
	return fmt.Sprintf("[KB:%s#%s]", h.DocName, h.Section)
}

// =============================================================================
// Auto Reply
// =============================================================================

// AutoReplyResult records whether a prior resolved ticket's answer was
// reused, and if so which one.
type AutoReplyResult struct {
	IsAutoReply         bool    `json:"is_auto_reply"`
	SimilarityScore     float64 `json:"similarity_score"`
	MatchedTicketID     string  `json:"matched_ticket_id,omitempty"`
	TimeSinceMatchHours float64 `json:"time_since_match_hours,omitempty"`
}

// =============================================================================
// Routing
// =============================================================================

// BestEffortSLAHours is the sentinel SLA for the free tier. It is the
// maximum representable commitment, meaning "no numeric SLA".
const BestEffortSLAHours = 8760 // one year

// RoutingDecision is the deterministic routing outcome for a ticket. It is a
// pure function of (category, tier, urgency); no hidden state.
type RoutingDecision struct {
	Team       Team   `json:"team"`
	SLAHours   int    `json:"sla_hours"`
	Escalation bool   `json:"escalation"`
	Reasoning  string `json:"reasoning"`
}

// =============================================================================
// Reply
// =============================================================================

// ReplyDraft is the drafted customer reply plus agent-facing notes.
// SuggestedDraft is populated only when the output guardrail demoted the
// generated text to a generic acknowledgment; it holds the original draft
// for human review.
type ReplyDraft struct {
	CustomerReply  string   `json:"customer_reply"`
	InternalNotes  string   `json:"internal_notes"`
	Citations      []string `json:"citations"`
	SuggestedDraft string   `json:"suggested_draft,omitempty"`
}

// =============================================================================
// Guardrails
// =============================================================================

// RiskLevel grades the severity of input guardrail findings.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GuardrailStatus is the result of a guardrail check. Blocked and RiskLevel
// are populated by the input check only; FixesApplied by the output check
// only.
type GuardrailStatus struct {
	Passed       bool      `json:"passed"`
	Blocked      bool      `json:"blocked,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level,omitempty"`
	IssuesFound  []string  `json:"issues_found"`
	FixesApplied []string  `json:"fixes_applied"`
}

// =============================================================================
// Pipeline Result
// =============================================================================

// Processing modes reported on every result.
const (
	ModeMock = "mock"
	ModeReal = "real"
)

// PipelineResult is the aggregate output of one pipeline run. It is the sole
// artifact returned to callers and is never mutated after construction; a
// follow-up produces a new PipelineResult linked to the same conversation.
type PipelineResult struct {
	TicketID          string           `json:"ticket_id"`
	Triage            TriageResult     `json:"triage"`
	ExtractedFields   ExtractedFields  `json:"extracted_fields"`
	Routing           RoutingDecision  `json:"routing"`
	KBHits            []KBHit          `json:"kb_hits"`
	AutoReply         AutoReplyResult  `json:"auto_reply"`
	Reply             ReplyDraft       `json:"reply"`
	InputGuardrail    GuardrailStatus  `json:"input_guardrail"`
	OutputGuardrail   GuardrailStatus  `json:"output_guardrail"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	FollowUpRequested bool             `json:"follow_up_requested"`
	PendingFields     []string         `json:"pending_fields"`
	ProcessingMode    string           `json:"processing_mode"`
}
