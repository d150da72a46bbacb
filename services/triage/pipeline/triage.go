// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the ticket processing stages and the
// orchestrator that sequences them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

const triageSystemPrompt = `You are an expert support ticket triage system. Your job is to:
1. Classify the urgency, category, and sentiment of support tickets
2. Extract structured fields from the ticket text
3. Identify missing information that should be requested

You must respond with valid JSON only. Be conservative - only extract information that is explicitly stated.
Never fabricate details. If information is not present, leave the field null.`

const triageUserPromptTemplate = `Analyze this support ticket and provide classification and extraction.
%s
TICKET:
- ID: %s
- Customer: %s
- Account Tier: %s
- Product: %s
- Subject: %s
- Body: %s

Respond with JSON in this exact format:
{
    "triage": {
        "urgency": "P0|P1|P2|P3",
        "category": "outage|bug|billing|security|feature_request|other",
        "sentiment": "negative|neutral|positive",
        "confidence": 0.0-1.0,
        "rationale": "Brief explanation grounded in ticket text"
    },
    "extracted_fields": {
        "environment": "production|staging|development|null",
        "region": "region string or null",
        "error_message": "error text or null",
        "reproduction_steps": "steps or null",
        "impact": "impact description or null",
        "requested_action": "what customer wants or null",
        "order_id": "order/invoice ID or null",
        "missing_fields": ["list", "of", "missing", "critical", "fields"]
    }
}

Classification guidelines:
- P0: Production down, security breach, data loss - requires immediate action
- P1: Major feature broken, significant impact - requires same-day response
- P2: Important issue with workaround - requires response within 24h
- P3: Minor issue, question, or feature request - standard response time

For missing_fields, only include fields that are:
1. Critical for resolving the issue
2. Not already provided in the ticket
3. Reasonable to ask the customer for
Never list a field the conversation context already supplies.`

// errMalformedTriage marks a reasoner response missing the required enum
// values. The caller re-prompts once, then falls back.
var errMalformedTriage = errors.New("malformed triage response")

// TriageAndExtract classifies the ticket and extracts structured fields in
// a single reasoning call. transcript carries accumulated conversation
// context for follow-ups and may be empty.
//
// This stage never fails the pipeline: in mock mode, on reasoner error, or
// after a malformed response survives one re-prompt, it returns the
// deterministic keyword classification. The second return value reports
// whether the deterministic path was used.
func TriageAndExtract(ctx context.Context, client llm.LLMClient, ticket *datatypes.SupportTicket, transcript string) (datatypes.TriageResult, datatypes.ExtractedFields, bool) {
	if client.Mode() == llm.ModeMock {
		triage, extracted := keywordTriage(ticket)
		return triage, extracted, true
	}

	contextBlock := ""
	if transcript != "" {
		contextBlock = fmt.Sprintf("\nCONVERSATION CONTEXT (information here is already supplied, never re-request it):\n%s\n", transcript)
	}
	prompt := fmt.Sprintf(triageUserPromptTemplate,
		contextBlock, ticket.TicketID, ticket.CustomerName, ticket.AccountTier,
		ticket.Product, ticket.Subject, ticket.Body)

	for attempt := 0; attempt < 2; attempt++ {
		response, err := client.CompleteJSON(ctx, triageSystemPrompt, prompt)
		if err != nil {
			slog.Warn("Reasoner triage call failed, using deterministic fallback",
				"ticket_id", ticket.TicketID, "error", err)
			break
		}
		triage, extracted, err := parseTriageResponse(response)
		if err == nil {
			return triage, extracted, false
		}
		slog.Warn("Malformed triage response",
			"ticket_id", ticket.TicketID, "attempt", attempt, "error", err)
	}

	triage, extracted := keywordTriage(ticket)
	return triage, extracted, true
}

func parseTriageResponse(response map[string]any) (datatypes.TriageResult, datatypes.ExtractedFields, error) {
	var triage datatypes.TriageResult
	var extracted datatypes.ExtractedFields

	triageData, ok := response["triage"].(map[string]any)
	if !ok {
		return triage, extracted, fmt.Errorf("%w: missing triage object", errMalformedTriage)
	}

	urgency, err := datatypes.ParseUrgency(strings.ToUpper(jsonString(triageData, "urgency")))
	if err != nil {
		return triage, extracted, fmt.Errorf("%w: %v", errMalformedTriage, err)
	}
	category, err := datatypes.ParseCategory(strings.ToLower(jsonString(triageData, "category")))
	if err != nil {
		return triage, extracted, fmt.Errorf("%w: %v", errMalformedTriage, err)
	}

	// Sentiment and confidence tolerate sloppy output.
	sentiment, err := datatypes.ParseSentiment(strings.ToLower(jsonString(triageData, "sentiment")))
	if err != nil {
		sentiment = datatypes.SentimentNeutral
	}
	confidence := 0.7
	if c, ok := triageData["confidence"].(float64); ok && c >= 0 && c <= 1 {
		confidence = c
	}
	rationale := jsonString(triageData, "rationale")
	if rationale == "" {
		rationale = "Classification based on ticket content."
	}

	triage = datatypes.TriageResult{
		Urgency:    urgency,
		Category:   category,
		Sentiment:  sentiment,
		Confidence: confidence,
		Rationale:  rationale,
	}

	if fieldsData, ok := response["extracted_fields"].(map[string]any); ok {
		extracted = datatypes.ExtractedFields{
			Environment:       jsonString(fieldsData, "environment"),
			Region:            jsonString(fieldsData, "region"),
			ErrorMessage:      jsonString(fieldsData, "error_message"),
			ReproductionSteps: jsonString(fieldsData, "reproduction_steps"),
			Impact:            jsonString(fieldsData, "impact"),
			RequestedAction:   jsonString(fieldsData, "requested_action"),
			OrderID:           jsonString(fieldsData, "order_id"),
			MissingFields:     jsonStringSlice(fieldsData, "missing_fields"),
		}
	}
	if extracted.MissingFields == nil {
		extracted.MissingFields = []string{}
	}
	return triage, extracted, nil
}

// jsonString pulls a string field, treating the literal "null" as absent.
func jsonString(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func jsonStringSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Deterministic Keyword Classifier
// =============================================================================

var (
	outageKeywords   = []string{"down", "outage", "500", "unavailable", "cannot access", "can't access", "not responding"}
	securityKeywords = []string{"security", "breach", "vulnerability", "hacked", "unauthorized", "phishing", "exploit"}
	billingKeywords  = []string{"charged", "charge", "invoice", "billing", "refund", "payment", "subscription"}
	bugKeywords      = []string{"error", "bug", "broken", "crash", "fails", "failing", "exception", "timeout"}
	featureKeywords  = []string{"feature request", "would be great", "please add", "enhancement", "feature"}

	negativeKeywords = []string{"unacceptable", "angry", "frustrated", "furious", "terrible", "worst", "twice", "urgent", "immediately"}
	positiveKeywords = []string{"thanks", "thank you", "great", "love", "appreciate"}

	environmentRe = regexp.MustCompile(`(?i)\b(production|prod|staging|development|dev environment)\b`)
	regionRe      = regexp.MustCompile(`(?i)\b([a-z]{2}-(?:east|west|north|south|central|northeast|southeast|northwest|southwest)-\d)\b`)
	orderIDRe     = regexp.MustCompile(`(?i)\b(?:(?:order|invoice)\s*#?\s*|INV-|ORD-)([A-Z0-9-]{3,})\b`)
	errorLineRe   = regexp.MustCompile(`(?i)([^.\n]*\b(?:error|exception|failed|timeout|5\d\d)\b[^.\n]*)`)
)

// keywordTriage is the deterministic classifier used in mock mode and as
// the reasoner fallback. Identical input always yields identical output.
func keywordTriage(ticket *datatypes.SupportTicket) (datatypes.TriageResult, datatypes.ExtractedFields) {
	text := strings.ToLower(ticket.Text())

	var (
		category  datatypes.Category
		urgency   datatypes.Urgency
		rationale string
	)
	switch {
	case containsAny(text, outageKeywords):
		category, urgency = datatypes.CategoryOutage, datatypes.UrgencyP0
		rationale = "Outage keywords detected; treated as a production-down incident."
	case containsAny(text, securityKeywords):
		category, urgency = datatypes.CategorySecurity, datatypes.UrgencyP1
		rationale = "Security keywords detected; requires security review."
	case containsAny(text, billingKeywords):
		category, urgency = datatypes.CategoryBilling, datatypes.UrgencyP2
		rationale = "Billing keywords detected; payment or invoice issue."
	case containsAny(text, featureKeywords):
		category, urgency = datatypes.CategoryFeatureRequest, datatypes.UrgencyP3
		rationale = "Feature request language detected."
	case containsAny(text, bugKeywords):
		category, urgency = datatypes.CategoryBug, datatypes.UrgencyP2
		rationale = "Error keywords detected; functional defect suspected."
	default:
		category, urgency = datatypes.CategoryOther, datatypes.UrgencyP3
		rationale = "No classification keywords matched; default handling."
	}

	sentiment := datatypes.SentimentNeutral
	if containsAny(text, negativeKeywords) || category == datatypes.CategoryOutage {
		sentiment = datatypes.SentimentNegative
	} else if containsAny(text, positiveKeywords) {
		sentiment = datatypes.SentimentPositive
	}

	extracted := keywordExtract(ticket, category)

	return datatypes.TriageResult{
		Urgency:    urgency,
		Category:   category,
		Sentiment:  sentiment,
		Confidence: 0.85,
		Rationale:  rationale,
	}, extracted
}

func keywordExtract(ticket *datatypes.SupportTicket, category datatypes.Category) datatypes.ExtractedFields {
	text := ticket.Text()
	extracted := datatypes.ExtractedFields{MissingFields: []string{}}

	if m := environmentRe.FindString(text); m != "" {
		env := strings.ToLower(m)
		switch {
		case strings.HasPrefix(env, "prod"):
			extracted.Environment = "production"
		case strings.HasPrefix(env, "staging"):
			extracted.Environment = "staging"
		default:
			extracted.Environment = "development"
		}
	}
	if m := regionRe.FindString(text); m != "" {
		extracted.Region = strings.ToLower(m)
	}
	if m := errorLineRe.FindString(text); m != "" {
		extracted.ErrorMessage = strings.TrimSpace(m)
	}
	if m := orderIDRe.FindStringSubmatch(text); len(m) > 1 {
		extracted.OrderID = m[1]
	}
	if strings.Contains(strings.ToLower(text), "all users") ||
		strings.Contains(strings.ToLower(text), "everyone") {
		extracted.Impact = "All users affected"
	}
	switch category {
	case datatypes.CategoryBilling:
		extracted.RequestedAction = "Review charge and refund if duplicated"
	case datatypes.CategoryOutage:
		extracted.RequestedAction = "Restore service"
	}

	// Missing-field demands depend on category: technical issues need the
	// environment and region, billing needs the order reference.
	switch category {
	case datatypes.CategoryBug, datatypes.CategoryOutage:
		if extracted.Environment == "" {
			extracted.MissingFields = append(extracted.MissingFields, "environment")
		}
		if extracted.Region == "" {
			extracted.MissingFields = append(extracted.MissingFields, "region")
		}
	case datatypes.CategoryBilling:
		if extracted.OrderID == "" {
			extracted.MissingFields = append(extracted.MissingFields, "order_id")
		}
	}
	return extracted
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
