// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// ErrConversationNotFound is returned for lookups of unknown conversation
// ids.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore owns all multi-turn conversation state. Every mutation
// goes through the store under the exclusive lock, which gives the
// single-writer-per-conversation discipline; readers get defensive copies.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*datatypes.Conversation
	clock         func() time.Time
}

// NewConversationStore builds an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*datatypes.Conversation),
		clock:         time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *ConversationStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Create opens a conversation for a ticket whose extraction reported missing
// fields. The initial state is awaiting_customer when fields are pending,
// awaiting_agent otherwise.
func (s *ConversationStore) Create(
	ticket *datatypes.SupportTicket,
	triage datatypes.TriageResult,
	extracted datatypes.ExtractedFields,
	routing datatypes.RoutingDecision,
) *datatypes.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID := "conv-" + ticket.TicketID
	if _, exists := s.conversations[conversationID]; exists {
		conversationID = fmt.Sprintf("conv-%s-%s", ticket.TicketID, uuid.NewString()[:8])
	}

	status := datatypes.StatusAwaitingAgent
	if len(extracted.MissingFields) > 0 {
		status = datatypes.StatusAwaitingCustomer
	}

	now := s.clock()
	snapshot := extracted
	conv := &datatypes.Conversation{
		ConversationID:   conversationID,
		OriginalTicketID: ticket.TicketID,
		CustomerName:     ticket.CustomerName,
		CustomerEmail:    ticket.CustomerEmail,
		AccountTier:      ticket.Tier(),
		Product:          ticket.Product,
		Subject:          ticket.Subject,
		Status:           status,
		PendingFields:    append([]string(nil), extracted.MissingFields...),
		MergedFields:     extracted,
		CurrentTriage:    triage,
		CurrentRouting:   routing,
		CreatedAt:        now,
		UpdatedAt:        now,
		Messages: []datatypes.ConversationMessage{{
			MessageID:       ticket.TicketID,
			Timestamp:       ticket.CreatedAt,
			SenderType:      datatypes.SenderCustomer,
			SenderID:        ticket.CustomerEmail,
			Content:         fmt.Sprintf("Subject: %s\n\n%s", ticket.Subject, ticket.Body),
			ExtractedFields: &snapshot,
		}},
	}

	s.conversations[conversationID] = conv
	slog.Info("Conversation created",
		"conversation_id", conversationID,
		"status", status,
		"pending_fields", conv.PendingFields)
	return cloneConversation(conv)
}

// Get returns a copy of the conversation.
func (s *ConversationStore) Get(conversationID string) (*datatypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return cloneConversation(conv), nil
}

// AddCustomerMessage records a follow-up, merges its extraction into the
// accumulated fields, and advances the state machine. Pending fields can
// only shrink here: the merge never lets an empty incoming value erase a
// filled one.
func (s *ConversationStore) AddCustomerMessage(
	conversationID string,
	ticket *datatypes.SupportTicket,
	extracted datatypes.ExtractedFields,
) (*datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	if conv.Status == datatypes.StatusResolved {
		return nil, fmt.Errorf("conversation %s is resolved", conversationID)
	}

	snapshot := extracted
	conv.Messages = append(conv.Messages, datatypes.ConversationMessage{
		MessageID:       ticket.TicketID,
		Timestamp:       ticket.CreatedAt,
		SenderType:      datatypes.SenderCustomer,
		SenderID:        ticket.CustomerEmail,
		Content:         ticket.Body,
		ExtractedFields: &snapshot,
	})
	conv.UpdatedAt = s.clock()

	conv.MergedFields.Merge(&extracted)
	conv.PendingFields = intersectPending(conv.PendingFields, &conv.MergedFields)

	if len(conv.PendingFields) == 0 {
		conv.Status = datatypes.StatusAwaitingAgent
	} else {
		conv.Status = datatypes.StatusAwaitingCustomer
	}

	slog.Info("Follow-up merged into conversation",
		"conversation_id", conversationID,
		"status", conv.Status,
		"pending_fields", conv.PendingFields)
	return cloneConversation(conv), nil
}

// AddReply appends an agent or system reply to the transcript.
func (s *ConversationStore) AddReply(conversationID, content string, isAutoReply bool) (*datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	sender := datatypes.SenderAgent
	if isAutoReply {
		sender = datatypes.SenderSystem
	}
	now := s.clock()
	conv.Messages = append(conv.Messages, datatypes.ConversationMessage{
		MessageID:   "reply-" + uuid.NewString(),
		Timestamp:   now,
		SenderType:  sender,
		SenderID:    "system",
		Content:     content,
		IsAutoReply: isAutoReply,
	})
	conv.UpdatedAt = now
	return cloneConversation(conv), nil
}

// UpdateTriage refreshes the current triage and routing after a follow-up
// run.
func (s *ConversationStore) UpdateTriage(conversationID string, triage datatypes.TriageResult, routing datatypes.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	conv.CurrentTriage = triage
	conv.CurrentRouting = routing
	conv.UpdatedAt = s.clock()
	return nil
}

// Resolve moves the conversation to its terminal state.
func (s *ConversationStore) Resolve(conversationID string) (*datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	now := s.clock()
	conv.Status = datatypes.StatusResolved
	conv.ResolvedAt = &now
	conv.UpdatedAt = now
	return cloneConversation(conv), nil
}

// ActiveCount returns the number of unresolved conversations.
func (s *ConversationStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, conv := range s.conversations {
		if conv.Status != datatypes.StatusResolved {
			n++
		}
	}
	return n
}

// Stats summarizes the store by status.
func (s *ConversationStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, conv := range s.conversations {
		byStatus[string(conv.Status)]++
	}
	return map[string]any{
		"total_conversations": len(s.conversations),
		"by_status":           byStatus,
		"awaiting_customer":   byStatus[string(datatypes.StatusAwaitingCustomer)],
		"active":              len(s.conversations) - byStatus[string(datatypes.StatusResolved)],
	}
}

// intersectPending keeps only the pending names whose merged value is still
// empty. Names never re-enter the list, so the result is monotonically
// non-growing.
func intersectPending(pending []string, merged *datatypes.ExtractedFields) []string {
	scoped := datatypes.ExtractedFields{MissingFields: append([]string(nil), pending...)}
	scoped.Environment = merged.Environment
	scoped.Region = merged.Region
	scoped.ErrorMessage = merged.ErrorMessage
	scoped.ReproductionSteps = merged.ReproductionSteps
	scoped.Impact = merged.Impact
	scoped.RequestedAction = merged.RequestedAction
	scoped.OrderID = merged.OrderID
	scoped.RecomputeMissing()
	return scoped.MissingFields
}

func cloneConversation(conv *datatypes.Conversation) *datatypes.Conversation {
	cp := *conv
	cp.Messages = append([]datatypes.ConversationMessage(nil), conv.Messages...)
	cp.PendingFields = append([]string(nil), conv.PendingFields...)
	cp.MergedFields.MissingFields = append([]string(nil), conv.MergedFields.MissingFields...)
	if conv.ResolvedAt != nil {
		t := *conv.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
