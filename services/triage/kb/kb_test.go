// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

func historyTicket(id, subject, body string) *datatypes.SupportTicket {
	return &datatypes.SupportTicket{
		TicketID:      id,
		CreatedAt:     time.Now(),
		CustomerName:  "Dana Smith",
		CustomerEmail: "dana@example.com",
		AccountTier:   "professional",
		Product:       "CloudSync",
		Subject:       subject,
		Body:          body,
	}
}

func resolvedResult(category datatypes.Category, reply string) *datatypes.PipelineResult {
	return &datatypes.PipelineResult{
		Triage: datatypes.TriageResult{Category: category},
		Reply:  datatypes.ReplyDraft{CustomerReply: reply},
	}
}

func TestFindSimilarTriggersOnNearIdenticalTicket(t *testing.T) {
	h := NewTicketHistory(llm.NewHashEmbedder(512), 0, 0)
	ctx := context.Background()

	prior := historyTicket("TICK-1", "Production down, 500 errors in us-east-1",
		"Dashboard returning 500 errors for all users since 09:00 UTC.")
	if err := h.Add(ctx, prior, resolvedResult(datatypes.CategoryOutage, "We are on it.")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	fresh := historyTicket("TICK-2", "Production down, 500 errors in us-east-1",
		"Dashboard returning 500 errors for all users since 09:05 UTC.")
	match, best, err := h.FindSimilar(ctx, fresh, datatypes.CategoryOutage)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match, best similarity was %v", best)
	}
	if match.TicketID != "TICK-1" || match.Similarity < DefaultSimilarityThreshold {
		t.Errorf("unexpected match %+v", match)
	}
}

func TestFindSimilarRejectsCategoryMismatch(t *testing.T) {
	h := NewTicketHistory(llm.NewHashEmbedder(512), 0, 0)
	ctx := context.Background()

	prior := historyTicket("TICK-1", "Charged twice this month", "I was charged twice for my subscription.")
	if err := h.Add(ctx, prior, resolvedResult(datatypes.CategoryBilling, "Refund issued.")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	dup := historyTicket("TICK-2", "Charged twice this month", "I was charged twice for my subscription.")
	match, _, err := h.FindSimilar(ctx, dup, datatypes.CategoryBug)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if match != nil {
		t.Errorf("category mismatch must suppress reuse, got %+v", match)
	}
}

func TestFindSimilarRejectsStaleMatch(t *testing.T) {
	h := NewTicketHistory(llm.NewHashEmbedder(512), 0, 0)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return base })
	prior := historyTicket("TICK-1", "Sync stuck at 99 percent", "The sync job never completes.")
	if err := h.Add(ctx, prior, resolvedResult(datatypes.CategoryBug, "Re-auth and retry.")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Jump past the freshness window.
	h.SetClock(func() time.Time { return base.Add(DefaultFreshnessWindow + time.Hour) })
	dup := historyTicket("TICK-2", "Sync stuck at 99 percent", "The sync job never completes.")
	match, best, err := h.FindSimilar(ctx, dup, datatypes.CategoryBug)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if match != nil {
		t.Errorf("stale match must be suppressed even at similarity %v", best)
	}
	if best < DefaultSimilarityThreshold {
		t.Errorf("best similarity should still be reported, got %v", best)
	}
}

func TestFindSimilarSkipsSameTicketID(t *testing.T) {
	h := NewTicketHistory(llm.NewHashEmbedder(512), 0, 0)
	ctx := context.Background()

	tk := historyTicket("TICK-1", "Login broken", "Cannot log in since the update.")
	if err := h.Add(ctx, tk, resolvedResult(datatypes.CategoryBug, "Fixed.")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	match, _, err := h.FindSimilar(ctx, tk, datatypes.CategoryBug)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if match != nil {
		t.Error("a ticket must not auto-reply against itself")
	}
}

func TestFindSimilarTieBreaksByRecency(t *testing.T) {
	h := NewTicketHistory(llm.NewHashEmbedder(512), 0, 0)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Identical text gives identical similarity; the newer entry must win.
	h.SetClock(func() time.Time { return base })
	older := historyTicket("TICK-old", "Payment failed with code 402", "Card declined on renewal.")
	if err := h.Add(ctx, older, resolvedResult(datatypes.CategoryBilling, "older reply")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	h.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	newer := historyTicket("TICK-new", "Payment failed with code 402", "Card declined on renewal.")
	if err := h.Add(ctx, newer, resolvedResult(datatypes.CategoryBilling, "newer reply")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	h.SetClock(func() time.Time { return base.Add(3 * time.Hour) })
	probe := historyTicket("TICK-3", "Payment failed with code 402", "Card declined on renewal.")
	match, _, err := h.FindSimilar(ctx, probe, datatypes.CategoryBilling)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if match == nil || match.TicketID != "TICK-new" {
		t.Errorf("tie should break toward the most recent match, got %+v", match)
	}
}

func TestStaticRetrieverDeterministicAndRelevant(t *testing.T) {
	r := NewStaticRetriever()
	ctx := context.Background()

	first, err := r.Search(ctx, "production outage 500 errors region", 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected hits for an outage query")
	}
	if first[0].DocName != "incident_response" {
		t.Errorf("outage query should rank incident docs first, got %s#%s", first[0].DocName, first[0].Section)
	}

	second, _ := r.Search(ctx, "production outage 500 errors region", 3)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("retrieval must be deterministic, diverged at %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i].RelevanceScore > first[i-1].RelevanceScore {
			t.Error("hits must be ordered by descending relevance")
		}
	}
}

func TestContextQueryExpandsCategory(t *testing.T) {
	q := ContextQuery("Charged twice", "I was charged twice this month", datatypes.CategoryBilling)
	for _, want := range []string{"charged twice", "refund"} {
		if !strings.Contains(strings.ToLower(q), want) {
			t.Errorf("query missing %q: %s", want, q)
		}
	}
}

func TestConversationLifecycle(t *testing.T) {
	store := NewConversationStore()
	ticket := historyTicket("TICK-9", "Sync fails", "Sync fails with a timeout.")

	extracted := datatypes.ExtractedFields{
		ErrorMessage:  "timeout after 30s",
		MissingFields: []string{"environment", "region"},
	}
	conv := store.Create(ticket, datatypes.TriageResult{Category: datatypes.CategoryBug},
		extracted, datatypes.RoutingDecision{Team: datatypes.TeamEngineering})

	if conv.Status != datatypes.StatusAwaitingCustomer {
		t.Fatalf("expected awaiting_customer, got %s", conv.Status)
	}
	if len(conv.PendingFields) != 2 {
		t.Fatalf("expected two pending fields, got %v", conv.PendingFields)
	}

	// First follow-up supplies one field.
	followUp := historyTicket("TICK-9-f1", "Re: Sync fails", "It happens in production.")
	conv, err := store.AddCustomerMessage(conv.ConversationID, followUp,
		datatypes.ExtractedFields{Environment: "production"})
	if err != nil {
		t.Fatalf("follow-up failed: %v", err)
	}
	if conv.Status != datatypes.StatusAwaitingCustomer {
		t.Errorf("still missing region, expected awaiting_customer, got %s", conv.Status)
	}
	if len(conv.PendingFields) != 1 || conv.PendingFields[0] != "region" {
		t.Errorf("unexpected pending fields %v", conv.PendingFields)
	}

	// Second follow-up completes the set.
	followUp2 := historyTicket("TICK-9-f2", "Re: Sync fails", "Region is eu-west-1.")
	conv, err = store.AddCustomerMessage(conv.ConversationID, followUp2,
		datatypes.ExtractedFields{Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("second follow-up failed: %v", err)
	}
	if conv.Status != datatypes.StatusAwaitingAgent {
		t.Errorf("all fields present, expected awaiting_agent, got %s", conv.Status)
	}
	if len(conv.PendingFields) != 0 {
		t.Errorf("pending fields should be empty, got %v", conv.PendingFields)
	}

	conv, err = store.Resolve(conv.ConversationID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if conv.Status != datatypes.StatusResolved || conv.ResolvedAt == nil {
		t.Errorf("expected resolved state, got %+v", conv.Status)
	}

	// Resolved conversations reject further follow-ups.
	if _, err := store.AddCustomerMessage(conv.ConversationID, followUp2, datatypes.ExtractedFields{}); err == nil {
		t.Error("resolved conversation must reject follow-ups")
	}
}

func TestConversationMergeNeverOverwrites(t *testing.T) {
	store := NewConversationStore()
	ticket := historyTicket("TICK-10", "Bug report", "Something broke.")
	conv := store.Create(ticket, datatypes.TriageResult{}, datatypes.ExtractedFields{
		Environment:   "production",
		MissingFields: []string{"region"},
	}, datatypes.RoutingDecision{})

	follow := historyTicket("TICK-10-f1", "Re: Bug report", "Actually it was staging, region us-west-2.")
	conv, err := store.AddCustomerMessage(conv.ConversationID, follow, datatypes.ExtractedFields{
		Environment: "staging",
		Region:      "us-west-2",
	})
	if err != nil {
		t.Fatalf("follow-up failed: %v", err)
	}
	if conv.MergedFields.Environment != "production" {
		t.Errorf("merge overwrote a filled field: %q", conv.MergedFields.Environment)
	}
	if conv.MergedFields.Region != "us-west-2" {
		t.Errorf("merge failed to fill empty field: %q", conv.MergedFields.Region)
	}
}

func TestConversationNotFound(t *testing.T) {
	store := NewConversationStore()
	if _, err := store.Get("conv-missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}
