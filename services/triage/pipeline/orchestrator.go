// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
	"github.com/verdantops/supportpilot/services/triage/kb"
	"github.com/verdantops/supportpilot/services/triage/observability"
)

// Orchestrator defaults.
const (
	// DefaultReasonerTimeout bounds each generative call. On timeout the
	// stage falls back deterministically rather than blocking or retrying.
	DefaultReasonerTimeout = 8 * time.Second

	// DefaultLowConfidenceThreshold gates automatic release of drafts
	// that failed the output guardrail.
	DefaultLowConfidenceThreshold = 0.6
)

// refusalReply is the fixed template returned for guardrail-blocked tickets.
const refusalReply = `Thank you for contacting us.

We were unable to process your request at this time. If you believe this is an error, please resubmit your ticket with additional details about your issue.

For urgent matters, please contact our support team directly.

Best regards,
Support Team`

// genericAcknowledgment replaces a low-confidence draft that failed the
// output guardrail. The generated text is kept as a suggested draft for
// human review instead of being sent.
const genericAcknowledgment = `Hi,

Thank you for reaching out. We've received your request and a member of our support team is reviewing it now. We'll follow up with a full response shortly.

Best regards,
Support Team`

// Config tunes the orchestrator. Zero values pick up defaults.
type Config struct {
	ReasonerTimeout        time.Duration
	LowConfidenceThreshold float64
}

func (c *Config) applyDefaults() {
	if c.ReasonerTimeout <= 0 {
		c.ReasonerTimeout = DefaultReasonerTimeout
	}
	if c.LowConfidenceThreshold <= 0 {
		c.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
}

// Orchestrator sequences the pipeline stages and enforces the fallback
// contract: a submitted ticket always yields a structured result or a
// validation rejection, never a bare failure.
type Orchestrator struct {
	client        llm.LLMClient
	retriever     kb.Retriever
	history       *kb.TicketHistory
	conversations *kb.ConversationStore
	cfg           Config
}

// NewOrchestrator wires the pipeline. All collaborators are required.
func NewOrchestrator(
	client llm.LLMClient,
	retriever kb.Retriever,
	history *kb.TicketHistory,
	conversations *kb.ConversationStore,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		client:        client,
		retriever:     retriever,
		history:       history,
		conversations: conversations,
		cfg:           cfg,
	}
}

// Mode reports whether the reasoner runs live or mocked.
func (o *Orchestrator) Mode() string {
	return o.client.Mode()
}

// Conversations exposes the conversation store for the HTTP surface.
func (o *Orchestrator) Conversations() *kb.ConversationStore {
	return o.conversations
}

// History exposes the resolved-ticket history for the HTTP surface.
func (o *Orchestrator) History() *kb.TicketHistory {
	return o.history
}

// Process runs a ticket through the full pipeline.
//
// # Description
//
//	Stage order: input guardrail, triage and extraction, auto-reply match,
//	retrieval, routing, reply drafting, output guardrail, conversation
//	bookkeeping. Every stage is allowed to fail independently and falls
//	back per its own contract; only an invalid ticket returns an error.
//
// # Outputs
//
//   - *datatypes.PipelineResult: Always non-nil when error is nil.
//   - error: Non-nil only for tickets failing input validation.
func (o *Orchestrator) Process(ctx context.Context, ticket *datatypes.SupportTicket) (*datatypes.PipelineResult, error) {
	start := time.Now()
	if err := ticket.Validate(); err != nil {
		o.countTicket(o.client.Mode(), observability.OutcomeInvalid)
		return nil, err
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.Process")
	span.SetAttributes(
		attribute.String("ticket.id", ticket.TicketID),
		attribute.String("ticket.tier", ticket.AccountTier),
	)
	defer span.End()

	mode := o.client.Mode()

	// Stage 1: input guardrail. A block short-circuits everything.
	inputStatus := CheckInputGuardrails(ticket)
	if !inputStatus.Passed {
		o.countGuardrail("input", "flagged")
	}
	if inputStatus.Blocked {
		slog.Warn("Ticket blocked by input guardrail",
			"ticket_id", ticket.TicketID,
			"risk_level", inputStatus.RiskLevel,
			"issues", inputStatus.IssuesFound)
		o.countGuardrail("input", "blocked")
		o.countTicket(mode, observability.OutcomeBlocked)
		o.observeDuration(mode, start)
		return o.blockedResult(ticket, inputStatus, mode), nil
	}

	// Stage 2: triage and extraction, deterministic fallback inside.
	triage, extracted, fellBack := o.runTriage(ctx, ticket, "")
	if fellBack && mode == llm.ModeReal {
		o.countFallback("triage")
	}

	// Routing is pure and cheap, so it is computed on every path.
	routing := ComputeRouting(triage, ticket.Tier())

	// Stage 3: auto-reply against resolved tickets of the same category.
	match, bestSimilarity, err := o.history.FindSimilar(ctx, ticket, triage.Category)
	if err != nil {
		slog.Warn("Auto-reply lookup failed, continuing without reuse",
			"ticket_id", ticket.TicketID, "error", err)
		match, bestSimilarity = nil, 0
	}
	if match != nil {
		result := o.autoReplyResult(ctx, ticket, triage, extracted, routing, match, inputStatus, mode)
		o.countTicket(mode, observability.OutcomeAutoReply)
		o.observeDuration(mode, start)
		// Auto-replied tickets stay out of the reuse pool so the
		// disclaimer never compounds across matches.
		return result, nil
	}

	// Stage 4: retrieval, routing already done, then drafting.
	kbHits := o.searchKB(ctx, ticket.Subject, ticket.Body, triage.Category)
	reply, draftFellBack := o.runDraft(ctx, ticket, triage, extracted, routing, kbHits)
	if draftFellBack && mode == llm.ModeReal {
		o.countFallback("reply")
	}
	noteInputCaution(&reply, inputStatus)

	// Stage 5: output guardrail with low-confidence demotion.
	outputStatus := o.checkOutput(&reply, kbHits, triage.Confidence)

	// Stage 6: conversation bookkeeping and the follow-up invariant.
	result := &datatypes.PipelineResult{
		TicketID:        ticket.TicketID,
		Triage:          triage,
		ExtractedFields: extracted,
		Routing:         routing,
		KBHits:          kbHits,
		AutoReply:       datatypes.AutoReplyResult{SimilarityScore: round2(bestSimilarity)},
		Reply:           reply,
		InputGuardrail:  inputStatus,
		OutputGuardrail: outputStatus,
		PendingFields:   append([]string(nil), extracted.MissingFields...),
		ProcessingMode:  mode,
	}

	if len(extracted.MissingFields) > 0 {
		conv := o.conversations.Create(ticket, triage, extracted, routing)
		if _, err := o.conversations.AddReply(conv.ConversationID, reply.CustomerReply, false); err != nil {
			slog.Warn("Failed to append reply to conversation", "conversation_id", conv.ConversationID, "error", err)
		}
		result.ConversationID = conv.ConversationID
		result.FollowUpRequested = true
		o.setActiveConversations()
	}

	o.countTicket(mode, observability.OutcomeProcessed)
	o.observeDuration(mode, start)
	o.recordHistory(ctx, ticket, result)
	return result, nil
}

// ProcessFollowUp re-enters the pipeline through the conversation store: it
// synthesizes a follow-up ticket from the new message, gives triage the
// accumulated transcript so already-supplied information is never
// re-requested, and merges the fresh extraction into the thread.
func (o *Orchestrator) ProcessFollowUp(ctx context.Context, conversationID, body string) (*datatypes.PipelineResult, error) {
	start := time.Now()
	conv, err := o.conversations.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("invalid follow-up: empty message body")
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.ProcessFollowUp")
	span.SetAttributes(attribute.String("conversation.id", conversationID))
	defer span.End()

	mode := o.client.Mode()
	ticket := &datatypes.SupportTicket{
		TicketID:       fmt.Sprintf("%s-f%d", conv.OriginalTicketID, len(conv.Messages)),
		CreatedAt:      time.Now(),
		CustomerName:   conv.CustomerName,
		CustomerEmail:  conv.CustomerEmail,
		AccountTier:    string(conv.AccountTier),
		Product:        conv.Product,
		Subject:        "Re: " + conv.Subject,
		Body:           body,
		ConversationID: conversationID,
		IsFollowup:     true,
	}

	inputStatus := CheckInputGuardrails(ticket)
	if inputStatus.Blocked {
		o.countGuardrail("input", "blocked")
		o.countTicket(mode, observability.OutcomeBlocked)
		return o.blockedResult(ticket, inputStatus, mode), nil
	}

	triage, extracted, fellBack := o.runTriage(ctx, ticket, conv.TranscriptContext())
	if fellBack && mode == llm.ModeReal {
		o.countFallback("triage")
	}

	conv, err = o.conversations.AddCustomerMessage(conversationID, ticket, extracted)
	if err != nil {
		return nil, err
	}

	routing := ComputeRouting(triage, conv.AccountTier)
	if err := o.conversations.UpdateTriage(conversationID, triage, routing); err != nil {
		slog.Warn("Failed to update conversation triage", "conversation_id", conversationID, "error", err)
	}

	// Draft against the merged picture, not just this message, so the
	// reply only asks for what is still missing.
	merged := conv.MergedFields
	merged.MissingFields = append([]string(nil), conv.PendingFields...)

	kbHits := o.searchKB(ctx, conv.Subject, body, triage.Category)
	reply, draftFellBack := o.runDraft(ctx, ticket, triage, merged, routing, kbHits)
	if draftFellBack && mode == llm.ModeReal {
		o.countFallback("reply")
	}
	noteInputCaution(&reply, inputStatus)
	outputStatus := o.checkOutput(&reply, kbHits, triage.Confidence)

	if _, err := o.conversations.AddReply(conversationID, reply.CustomerReply, false); err != nil {
		slog.Warn("Failed to append reply to conversation", "conversation_id", conversationID, "error", err)
	}

	result := &datatypes.PipelineResult{
		TicketID:          ticket.TicketID,
		Triage:            triage,
		ExtractedFields:   merged,
		Routing:           routing,
		KBHits:            kbHits,
		Reply:             reply,
		InputGuardrail:    inputStatus,
		OutputGuardrail:   outputStatus,
		ConversationID:    conversationID,
		FollowUpRequested: len(conv.PendingFields) > 0,
		PendingFields:     append([]string(nil), conv.PendingFields...),
		ProcessingMode:    mode,
	}

	o.countTicket(mode, observability.OutcomeProcessed)
	o.observeDuration(mode, start)
	o.setActiveConversations()
	return result, nil
}

// =============================================================================
// Stage Helpers
// =============================================================================

// runTriage wraps the triage stage with the per-call reasoner timeout.
func (o *Orchestrator) runTriage(ctx context.Context, ticket *datatypes.SupportTicket, transcript string) (datatypes.TriageResult, datatypes.ExtractedFields, bool) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ReasonerTimeout)
	defer cancel()
	return TriageAndExtract(callCtx, o.client, ticket, transcript)
}

// runDraft wraps the drafting stage with the per-call reasoner timeout.
func (o *Orchestrator) runDraft(
	ctx context.Context,
	ticket *datatypes.SupportTicket,
	triage datatypes.TriageResult,
	extracted datatypes.ExtractedFields,
	routing datatypes.RoutingDecision,
	kbHits []datatypes.KBHit,
) (datatypes.ReplyDraft, bool) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ReasonerTimeout)
	defer cancel()
	return DraftReply(callCtx, o.client, ticket, triage, extracted, routing, kbHits)
}

func (o *Orchestrator) searchKB(ctx context.Context, subject, body string, category datatypes.Category) []datatypes.KBHit {
	query := kb.ContextQuery(subject, body, category)
	hits, err := o.retriever.Search(ctx, query, kb.DefaultSearchK)
	if err != nil {
		// Retrieval failure degrades to an uncited draft.
		slog.Warn("KB retrieval failed, drafting without grounding", "error", err)
		return []datatypes.KBHit{}
	}
	return hits
}

// checkOutput runs the output guardrail and applies the low-confidence
// demotion: a failing draft below the confidence threshold is replaced by a
// generic acknowledgment and kept as suggested_draft for human review.
func (o *Orchestrator) checkOutput(reply *datatypes.ReplyDraft, kbHits []datatypes.KBHit, confidence float64) datatypes.GuardrailStatus {
	status := CheckOutputGuardrails(reply, kbHits)
	if len(status.FixesApplied) > 0 {
		o.countGuardrail("output", "fixed")
	}
	if !status.Passed {
		o.countGuardrail("output", "flagged")
		if confidence < o.cfg.LowConfidenceThreshold {
			reply.SuggestedDraft = reply.CustomerReply
			reply.CustomerReply = genericAcknowledgment
			reply.Citations = []string{}
			status.FixesApplied = append(status.FixesApplied,
				"Low-confidence draft withheld; generic acknowledgment sent and draft retained for review")
		}
	}
	return status
}

// autoReplyResult synthesizes the reuse path: the matched reply is replayed
// with a freshness disclaimer and still passes through the output guardrail.
func (o *Orchestrator) autoReplyResult(
	ctx context.Context,
	ticket *datatypes.SupportTicket,
	triage datatypes.TriageResult,
	extracted datatypes.ExtractedFields,
	routing datatypes.RoutingDecision,
	match *kb.HistoryMatch,
	inputStatus datatypes.GuardrailStatus,
	mode string,
) *datatypes.PipelineResult {
	hoursSince := time.Since(match.ProcessedAt).Hours()

	reply := match.Reply
	reply.CustomerReply = fmt.Sprintf(
		"%s\n\n(Note: this answer is based on a very similar request we resolved recently. If it does not match your situation, reply and an agent will take a fresh look.)",
		match.Reply.CustomerReply)
	reply.InternalNotes = fmt.Sprintf("[AUTO-REPLY] Based on similar ticket %s (similarity: %.0f%%)\n\n%s",
		match.TicketID, match.Similarity*100, match.Reply.InternalNotes)
	noteInputCaution(&reply, inputStatus)

	kbHits := o.searchKB(ctx, ticket.Subject, ticket.Body, triage.Category)
	outputStatus := o.checkOutput(&reply, kbHits, triage.Confidence)

	slog.Info("Auto-reply served",
		"ticket_id", ticket.TicketID,
		"matched_ticket_id", match.TicketID,
		"similarity", match.Similarity)

	return &datatypes.PipelineResult{
		TicketID:        ticket.TicketID,
		Triage:          triage,
		ExtractedFields: extracted,
		Routing:         routing,
		KBHits:          kbHits,
		AutoReply: datatypes.AutoReplyResult{
			IsAutoReply:         true,
			SimilarityScore:     round2(match.Similarity),
			MatchedTicketID:     match.TicketID,
			TimeSinceMatchHours: round2(hoursSince),
		},
		Reply:           reply,
		InputGuardrail:  inputStatus,
		OutputGuardrail: outputStatus,
		PendingFields:   []string{},
		ProcessingMode:  mode,
	}
}

// noteInputCaution prepends the flagged input findings to the draft's
// internal notes. Lower-risk findings do not block processing, but the agent
// handling the ticket must see them before the triage summary.
func noteInputCaution(reply *datatypes.ReplyDraft, inputStatus datatypes.GuardrailStatus) {
	if inputStatus.Passed || inputStatus.Blocked {
		return
	}
	reply.InternalNotes = fmt.Sprintf(
		"[INPUT GUARDRAIL] Risk level: %s. Handle with caution.\n- %s\n\n%s",
		inputStatus.RiskLevel,
		strings.Join(inputStatus.IssuesFound, "\n- "),
		reply.InternalNotes)
}

// blockedResult builds the terminal result for a guardrail-blocked ticket.
// Routing sends it to engineering for security review with escalation set.
func (o *Orchestrator) blockedResult(ticket *datatypes.SupportTicket, inputStatus datatypes.GuardrailStatus, mode string) *datatypes.PipelineResult {
	return &datatypes.PipelineResult{
		TicketID: ticket.TicketID,
		Triage: datatypes.TriageResult{
			Urgency:    datatypes.UrgencyP3,
			Category:   datatypes.CategoryOther,
			Sentiment:  datatypes.SentimentNegative,
			Confidence: 0,
			Rationale:  "Ticket blocked by input guardrails - not processed",
		},
		ExtractedFields: datatypes.ExtractedFields{MissingFields: []string{}},
		Routing: datatypes.RoutingDecision{
			Team:       datatypes.TeamEngineering,
			SLAHours:   24,
			Escalation: true,
			Reasoning:  "Blocked by input guardrails - routed to engineering security review",
		},
		KBHits: []datatypes.KBHit{},
		Reply: datatypes.ReplyDraft{
			CustomerReply: refusalReply,
			InternalNotes: fmt.Sprintf(
				"[BLOCKED BY INPUT GUARDRAILS]\n\nRisk Level: %s\nIssues Detected: %s\n\nACTION REQUIRED: Review this ticket manually before any response.",
				inputStatus.RiskLevel, strings.Join(inputStatus.IssuesFound, ", ")),
			Citations: []string{},
		},
		InputGuardrail:  inputStatus,
		OutputGuardrail: datatypes.GuardrailStatus{Passed: true, IssuesFound: []string{}, FixesApplied: []string{}},
		PendingFields:   []string{},
		ProcessingMode:  mode,
	}
}

// recordHistory stores the processed ticket for future auto-reply matching.
// Blocked tickets never reach here.
func (o *Orchestrator) recordHistory(ctx context.Context, ticket *datatypes.SupportTicket, result *datatypes.PipelineResult) {
	if err := o.history.Add(ctx, ticket, result); err != nil {
		slog.Warn("Failed to record ticket history", "ticket_id", ticket.TicketID, "error", err)
	}
}

// =============================================================================
// Metrics Helpers
// =============================================================================

func (o *Orchestrator) countTicket(mode, outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.TicketsTotal.WithLabelValues(mode, outcome).Inc()
	}
}

func (o *Orchestrator) countFallback(stage string) {
	if m := observability.DefaultMetrics; m != nil {
		m.ReasonerFallbacksTotal.WithLabelValues(stage).Inc()
	}
}

func (o *Orchestrator) countGuardrail(check, disposition string) {
	if m := observability.DefaultMetrics; m != nil {
		m.GuardrailIssuesTotal.WithLabelValues(check, disposition).Inc()
	}
}

func (o *Orchestrator) observeDuration(mode string, start time.Time) {
	if m := observability.DefaultMetrics; m != nil {
		m.PipelineDurationSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) setActiveConversations() {
	if m := observability.DefaultMetrics; m != nil {
		m.ActiveConversations.Set(float64(o.conversations.ActiveCount()))
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
