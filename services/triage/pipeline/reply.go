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

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// MaxGroundingPassages bounds how many KB passages feed the drafter.
const MaxGroundingPassages = 5

const replySystemPrompt = `You are an expert customer support agent drafting replies to support tickets.

Your replies must:
1. Be professional, empathetic, and helpful
2. Acknowledge the customer's issue
3. Reference knowledge base articles using [KB:doc_name#section] format
4. Only make claims supported by the provided KB passages
5. Ask for missing critical information politely
6. Provide clear next steps
7. Never fabricate policies, pricing, or commitments

You must also provide internal notes for the support agent handling this ticket.`

const replyUserPromptTemplate = `Draft a reply for this support ticket.

TICKET:
- ID: %s
- Customer: %s
- Account Tier: %s
- Subject: %s
- Body: %s

TRIAGE:
- Urgency: %s
- Category: %s
- Sentiment: %s

ROUTING:
- Team: %s
- SLA: %s
- Escalation: %s

EXTRACTED FIELDS:
%s

MISSING INFORMATION:
%s

RELEVANT KB PASSAGES:
%s

Generate a JSON response with:
{
    "customer_reply": "The full customer-facing reply text. Include [KB:doc#section] citations where appropriate.",
    "internal_notes": "Notes for the support agent: why routed this way, what to do next, any concerns.",
    "citations": ["KB:doc1#section1", "KB:doc2#section2"]
}

Remember:
- Use the customer's first name
- Match tone to sentiment (more empathetic for negative)
- If information is missing, ask for it explicitly rather than guessing
- Only cite KB passages that are actually relevant`

// DraftReply produces the customer reply and internal notes. Grounding
// passages beyond MaxGroundingPassages are ignored. The stage never fails:
// mock mode and reasoner errors produce the deterministic template reply.
// The second return value reports whether the deterministic path was used.
func DraftReply(
	ctx context.Context,
	client llm.LLMClient,
	ticket *datatypes.SupportTicket,
	triage datatypes.TriageResult,
	extracted datatypes.ExtractedFields,
	routing datatypes.RoutingDecision,
	kbHits []datatypes.KBHit,
) (datatypes.ReplyDraft, bool) {
	if len(kbHits) > MaxGroundingPassages {
		kbHits = kbHits[:MaxGroundingPassages]
	}
	if client.Mode() == llm.ModeMock {
		return templateReply(ticket, triage, extracted, routing, kbHits), true
	}

	prompt := fmt.Sprintf(replyUserPromptTemplate,
		ticket.TicketID, ticket.CustomerName, ticket.AccountTier,
		ticket.Subject, ticket.Body,
		triage.Urgency, triage.Category, triage.Sentiment,
		routing.Team, SLADescription(routing.SLAHours), yesNo(routing.Escalation),
		formatExtractedFields(extracted),
		formatMissingFields(extracted.MissingFields),
		formatKBPassages(kbHits))

	response, err := client.CompleteJSON(ctx, replySystemPrompt, prompt)
	if err != nil {
		slog.Warn("Reasoner reply drafting failed, using template fallback",
			"ticket_id", ticket.TicketID, "error", err)
		return templateReply(ticket, triage, extracted, routing, kbHits), true
	}
	return parseReplyResponse(response, kbHits), false
}

func parseReplyResponse(response map[string]any, kbHits []datatypes.KBHit) datatypes.ReplyDraft {
	reply := datatypes.ReplyDraft{
		CustomerReply: jsonString(response, "customer_reply"),
		InternalNotes: jsonString(response, "internal_notes"),
		Citations:     []string{},
	}
	for _, c := range jsonStringSlice(response, "citations") {
		if !strings.HasPrefix(c, "[") {
			c = "[" + c + "]"
		}
		reply.Citations = append(reply.Citations, c)
	}
	if len(reply.Citations) == 0 && len(kbHits) > 0 {
		for i := range kbHits {
			if i == 3 {
				break
			}
			reply.Citations = append(reply.Citations, kbHits[i].Citation())
		}
	}
	return reply
}

// =============================================================================
// Deterministic Template Drafter
// =============================================================================

// templateReply builds the mock-mode and fallback reply. Output depends
// only on its inputs, so identical tickets draft identically.
func templateReply(
	ticket *datatypes.SupportTicket,
	triage datatypes.TriageResult,
	extracted datatypes.ExtractedFields,
	routing datatypes.RoutingDecision,
	kbHits []datatypes.KBHit,
) datatypes.ReplyDraft {
	var b strings.Builder
	citations := []string{}

	fmt.Fprintf(&b, "Hi %s,\n\n", firstName(ticket.CustomerName))

	switch triage.Sentiment {
	case datatypes.SentimentNegative:
		b.WriteString("I'm sorry about the trouble this is causing, and thank you for flagging it. ")
	default:
		b.WriteString("Thanks for reaching out. ")
	}

	switch triage.Category {
	case datatypes.CategoryOutage:
		b.WriteString("We are treating this as a service availability incident and our engineering team is investigating now.")
	case datatypes.CategorySecurity:
		b.WriteString("We take security reports seriously; this has been escalated to our security rotation for review.")
	case datatypes.CategoryBilling:
		b.WriteString("I've passed this to our billing team to review the charges on your account.")
	case datatypes.CategoryBug:
		b.WriteString("This looks like a defect on our side and has been routed to engineering.")
	case datatypes.CategoryFeatureRequest:
		b.WriteString("Thanks for the suggestion; I've logged it with our product team.")
	default:
		b.WriteString("I've routed your request to the right team for a closer look.")
	}
	b.WriteString("\n")

	if len(kbHits) > 0 {
		b.WriteString("\nWhile we work on this, the following may help:\n")
		for i, hit := range kbHits {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s %s\n", summarizePassage(hit.Passage), hit.Citation())
			citations = append(citations, hit.Citation())
		}
	}

	if len(extracted.MissingFields) > 0 {
		b.WriteString("\nTo move quickly, could you share the following:\n")
		for _, field := range extracted.MissingFields {
			fmt.Fprintf(&b, "- %s\n", humanizeFieldName(field))
		}
	}

	if routing.SLAHours == datatypes.BestEffortSLAHours {
		b.WriteString("\nWe handle requests on your plan on a best-effort basis and will follow up as soon as we can.")
	} else {
		fmt.Fprintf(&b, "\nYou can expect a first response from our %s team within %s.",
			routing.Team, SLADescription(routing.SLAHours))
	}
	b.WriteString("\n\nBest regards,\nSupport Team")

	notes := buildInternalNotes(triage, extracted, routing)

	return datatypes.ReplyDraft{
		CustomerReply: b.String(),
		InternalNotes: notes,
		Citations:     citations,
	}
}

func buildInternalNotes(triage datatypes.TriageResult, extracted datatypes.ExtractedFields, routing datatypes.RoutingDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triage: %s / %s / %s (confidence %.2f)\n",
		triage.Urgency, triage.Category, triage.Sentiment, triage.Confidence)
	fmt.Fprintf(&b, "Routing: %s\n", routing.Reasoning)
	if routing.Escalation {
		b.WriteString("ESCALATED: follow the escalation runbook before first response.\n")
	}
	if fields := formatExtractedFields(extracted); fields != "No specific fields extracted" {
		fmt.Fprintf(&b, "Extracted:\n%s\n", fields)
	}
	if len(extracted.MissingFields) > 0 {
		fmt.Fprintf(&b, "Waiting on customer for: %s\n", strings.Join(extracted.MissingFields, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatExtractedFields(e datatypes.ExtractedFields) string {
	var fields []string
	add := func(label, v string) {
		if v != "" {
			fields = append(fields, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	add("Environment", e.Environment)
	add("Region", e.Region)
	add("Error", e.ErrorMessage)
	add("Reproduction steps", e.ReproductionSteps)
	add("Impact", e.Impact)
	add("Requested action", e.RequestedAction)
	add("Order/Invoice ID", e.OrderID)
	if len(fields) == 0 {
		return "No specific fields extracted"
	}
	return strings.Join(fields, "\n")
}

func formatMissingFields(missing []string) string {
	if len(missing) == 0 {
		return "None identified"
	}
	return strings.Join(missing, ", ")
}

func formatKBPassages(kbHits []datatypes.KBHit) string {
	if len(kbHits) == 0 {
		return "No relevant KB passages found."
	}
	var parts []string
	for i := range kbHits {
		hit := &kbHits[i]
		passage := hit.Passage
		if len(passage) > 300 {
			passage = passage[:300] + "..."
		}
		parts = append(parts, fmt.Sprintf("%d. %s\n   %q", i+1, hit.Citation(), passage))
	}
	return strings.Join(parts, "\n\n")
}

func summarizePassage(passage string) string {
	if idx := strings.IndexAny(passage, ".!?"); idx > 0 {
		return passage[:idx+1]
	}
	if len(passage) > 140 {
		return passage[:140] + "..."
	}
	return passage
}

func humanizeFieldName(field string) string {
	switch field {
	case "environment":
		return "the environment where this happens (production, staging, or development)"
	case "region":
		return "the region you are operating in"
	case "error_message":
		return "the exact error message you see"
	case "reproduction_steps":
		return "the steps to reproduce the issue"
	case "impact":
		return "how this is affecting your team"
	case "requested_action":
		return "what outcome you are looking for"
	case "order_id":
		return "the order or invoice number"
	default:
		return strings.ReplaceAll(field, "_", " ")
	}
}

func firstName(full string) string {
	if idx := strings.IndexByte(full, ' '); idx > 0 {
		return full[:idx]
	}
	return full
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
