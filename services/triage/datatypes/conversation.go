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
	"time"
)

// =============================================================================
// Conversation State Machine
// =============================================================================

// ConversationStatus is the lifecycle state of a multi-turn thread.
//
// awaiting_customer: pending fields outstanding, waiting on the user.
// awaiting_agent: all fields present, awaiting human or auto dispatch.
// resolved: terminal.
type ConversationStatus string

const (
	StatusAwaitingCustomer ConversationStatus = "awaiting_customer"
	StatusAwaitingAgent    ConversationStatus = "awaiting_agent"
	StatusResolved         ConversationStatus = "resolved"
)

// Sender types for conversation messages.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// ConversationMessage is one entry in a conversation transcript. The
// extraction snapshot, when present, records what was parsed out of a
// customer message at the time it arrived.
type ConversationMessage struct {
	MessageID       string           `json:"message_id"`
	Timestamp       time.Time        `json:"timestamp"`
	SenderType      string           `json:"sender_type"`
	SenderID        string           `json:"sender_id"`
	Content         string           `json:"content"`
	ExtractedFields *ExtractedFields `json:"extracted_fields,omitempty"`
	IsAutoReply     bool             `json:"is_auto_reply"`
}

// Conversation is a linked thread of follow-up messages for a ticket whose
// extraction reported missing fields. Conversations are created by the
// pipeline, mutated only through the conversation store, and never deleted
// within the pipeline's lifetime.
type Conversation struct {
	ConversationID   string                `json:"conversation_id"`
	OriginalTicketID string                `json:"original_ticket_id"`
	CustomerName     string                `json:"customer_name"`
	CustomerEmail    string                `json:"customer_email"`
	AccountTier      AccountTier           `json:"account_tier"`
	Product          string                `json:"product"`
	Subject          string                `json:"subject"`
	Messages         []ConversationMessage `json:"messages"`
	Status           ConversationStatus    `json:"status"`
	PendingFields    []string              `json:"pending_fields"`
	MergedFields     ExtractedFields       `json:"merged_fields"`
	CurrentTriage    TriageResult          `json:"current_triage"`
	CurrentRouting   RoutingDecision       `json:"current_routing"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	ResolvedAt       *time.Time            `json:"resolved_at,omitempty"`
}

// TranscriptContext renders the accumulated thread as reasoner context so a
// follow-up triage call sees everything the customer already supplied.
func (c *Conversation) TranscriptContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation ID: %s\n", c.ConversationID)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", c.CustomerName, c.CustomerEmail)
	fmt.Fprintf(&b, "Account Tier: %s\n", c.AccountTier)
	fmt.Fprintf(&b, "Product: %s\n", c.Product)
	fmt.Fprintf(&b, "Subject: %s\n", c.Subject)
	fmt.Fprintf(&b, "Status: %s\n\n", c.Status)
	b.WriteString("--- Message History ---")

	for _, msg := range c.Messages {
		fmt.Fprintf(&b, "\n\n[%s] (%s)\n", strings.ToUpper(msg.SenderType),
			msg.Timestamp.Format("2006-01-02 15:04"))
		b.WriteString(msg.Content)
		if msg.ExtractedFields != nil {
			if snapshot := summarizeExtraction(msg.ExtractedFields); snapshot != "" {
				fmt.Fprintf(&b, "\n[Extracted: %s]", snapshot)
			}
		}
	}

	if len(c.PendingFields) > 0 {
		fmt.Fprintf(&b, "\n\n--- Still Needed: %s ---", strings.Join(c.PendingFields, ", "))
	}
	return b.String()
}

func summarizeExtraction(e *ExtractedFields) string {
	var parts []string
	if e.Environment != "" {
		parts = append(parts, "environment="+e.Environment)
	}
	if e.Region != "" {
		parts = append(parts, "region="+e.Region)
	}
	if e.ErrorMessage != "" {
		msg := e.ErrorMessage
		if len(msg) > 50 {
			msg = msg[:50] + "..."
		}
		parts = append(parts, "error="+msg)
	}
	if e.OrderID != "" {
		parts = append(parts, "order_id="+e.OrderID)
	}
	return strings.Join(parts, ", ")
}

// ConversationInfo is a lightweight summary returned by the HTTP surface.
type ConversationInfo struct {
	ConversationID string             `json:"conversation_id"`
	MessageCount   int                `json:"message_count"`
	IsFollowup     bool               `json:"is_followup"`
	PendingFields  []string           `json:"pending_fields"`
	Status         ConversationStatus `json:"status"`
}

// Info builds the summary view of the conversation.
func (c *Conversation) Info() ConversationInfo {
	return ConversationInfo{
		ConversationID: c.ConversationID,
		MessageCount:   len(c.Messages),
		IsFollowup:     len(c.Messages) > 1,
		PendingFields:  c.PendingFields,
		Status:         c.Status,
	}
}
