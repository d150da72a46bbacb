// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Security Limits
// =============================================================================

const (
	// MaxSubjectLength bounds the ticket subject.
	MaxSubjectLength = 500

	// MaxBodyLength bounds the ticket body. Large enough for pasted logs,
	// small enough to keep reasoner prompts bounded.
	MaxBodyLength = 32768

	// MaxAttachments bounds the attachment list on a single ticket.
	MaxAttachments = 20
)

var ticketValidate *validator.Validate

func init() {
	ticketValidate = validator.New()
	if err := ticketValidate.RegisterValidation("notblank", validateNotBlank); err != nil {
		panic(fmt.Sprintf("failed to register notblank validator: %v", err))
	}
	if err := ticketValidate.RegisterValidation("accounttier", validateAccountTier); err != nil {
		panic(fmt.Sprintf("failed to register accounttier validator: %v", err))
	}
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateAccountTier rejects tiers outside the closed set.
func validateAccountTier(fl validator.FieldLevel) bool {
	_, err := ParseAccountTier(fl.Field().String())
	return err == nil
}

// =============================================================================
// SupportTicket
// =============================================================================

// SupportTicket is an inbound customer request. It is the entry point of the
// whole pipeline; everything downstream assumes a ticket that passed
// Validate(). Tickets are never mutated after submission.
//
// ConversationID and IsFollowup are set on follow-up messages that continue
// an existing conversation rather than opening a new one.
type SupportTicket struct {
	TicketID       string    `json:"ticket_id" validate:"required,notblank,max=128"`
	CreatedAt      time.Time `json:"created_at"`
	CustomerName   string    `json:"customer_name" validate:"required,notblank,max=256"`
	CustomerEmail  string    `json:"customer_email" validate:"required,email,max=320"`
	AccountTier    string    `json:"account_tier" validate:"required,accounttier"`
	Product        string    `json:"product" validate:"required,notblank,max=256"`
	Subject        string    `json:"subject" validate:"required,notblank,max=500"`
	Body           string    `json:"body" validate:"required,notblank,max=32768"`
	Attachments    []string  `json:"attachments,omitempty" validate:"omitempty,max=20,dive,max=1024"`
	ConversationID string    `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
	IsFollowup     bool      `json:"is_followup,omitempty"`
}

// Validate checks the ticket against the inbound contract.
//
// # Description
//
//	Runs the struct validators and returns a single wrapped error naming the
//	first offending field. A ticket that fails here is rejected before any
//	pipeline stage runs; this is the structured validation rejection, distinct
//	from a guardrail block.
//
// # Outputs
//
//   - error: Non-nil when any field violates its constraints.
func (t *SupportTicket) Validate() error {
	if err := ticketValidate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid ticket: field %q failed %q constraint", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid ticket: %w", err)
	}
	return nil
}

// Tier returns the parsed account tier. Call only after Validate().
func (t *SupportTicket) Tier() AccountTier {
	tier, err := ParseAccountTier(t.AccountTier)
	if err != nil {
		return TierFree
	}
	return tier
}

// Text returns the subject and body joined for classification and embedding.
func (t *SupportTicket) Text() string {
	return t.Subject + "\n" + t.Body
}
