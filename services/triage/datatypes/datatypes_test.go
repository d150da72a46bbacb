// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
	"time"
)

func validTicket() *SupportTicket {
	return &SupportTicket{
		TicketID:      "TICK-1001",
		CreatedAt:     time.Now(),
		CustomerName:  "Dana Smith",
		CustomerEmail: "dana@example.com",
		AccountTier:   "enterprise",
		Product:       "CloudSync",
		Subject:       "Production down, 500 errors in us-east-1",
		Body:          "Our dashboard is returning 500 errors since 09:00 UTC.",
	}
}

func TestSupportTicketValidateAccepts(t *testing.T) {
	if err := validTicket().Validate(); err != nil {
		t.Fatalf("expected valid ticket, got %v", err)
	}
}

func TestSupportTicketValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SupportTicket)
	}{
		{"missing ticket id", func(tk *SupportTicket) { tk.TicketID = "" }},
		{"blank subject", func(tk *SupportTicket) { tk.Subject = "   " }},
		{"missing body", func(tk *SupportTicket) { tk.Body = "" }},
		{"bad email", func(tk *SupportTicket) { tk.CustomerEmail = "not-an-email" }},
		{"unknown tier", func(tk *SupportTicket) { tk.AccountTier = "platinum" }},
		{"oversized subject", func(tk *SupportTicket) { tk.Subject = strings.Repeat("x", MaxSubjectLength+1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := validTicket()
			tc.mutate(tk)
			if err := tk.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestParseHelpersRejectUnknown(t *testing.T) {
	if _, err := ParseUrgency("P4"); err == nil {
		t.Error("P4 should not parse")
	}
	if _, err := ParseCategory("onboarding"); err == nil {
		t.Error("onboarding is not in the category set")
	}
	if _, err := ParseSentiment("angry"); err == nil {
		t.Error("angry should not parse")
	}
	if _, err := ParseAccountTier("gold"); err == nil {
		t.Error("gold should not parse")
	}
	if u, err := ParseUrgency("P0"); err != nil || u != UrgencyP0 {
		t.Errorf("P0 should parse, got %v %v", u, err)
	}
}

func TestUrgencyRankOrdering(t *testing.T) {
	if !(UrgencyP0.Rank() < UrgencyP1.Rank() && UrgencyP1.Rank() < UrgencyP2.Rank() && UrgencyP2.Rank() < UrgencyP3.Rank()) {
		t.Error("urgency ranks must be strictly increasing from P0 to P3")
	}
}

func TestTierRankOrdering(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			t.Errorf("tier %s must outrank %s", tiers[i], tiers[i-1])
		}
	}
}

func TestKBHitCitationFormat(t *testing.T) {
	hit := KBHit{DocName: "refund_policy", Section: "eligibility", Passage: "..."}
	if got := hit.Citation(); got != "[KB:refund_policy#eligibility]" {
		t.Errorf("unexpected citation %q", got)
	}
}

func TestExtractedFieldsMergeFillsOnlyEmpty(t *testing.T) {
	base := &ExtractedFields{
		Environment:   "production",
		MissingFields: []string{"region", "error_message"},
	}
	base.Merge(&ExtractedFields{
		Environment: "staging", // must not overwrite
		Region:      "us-east-1",
	})

	if base.Environment != "production" {
		t.Errorf("filled field was overwritten: %q", base.Environment)
	}
	if base.Region != "us-east-1" {
		t.Errorf("empty field was not filled: %q", base.Region)
	}
	if len(base.MissingFields) != 1 || base.MissingFields[0] != "error_message" {
		t.Errorf("missing fields not recomputed, got %v", base.MissingFields)
	}
}

func TestExtractedFieldsMergeIgnoresBlank(t *testing.T) {
	base := &ExtractedFields{Region: "eu-west-2", MissingFields: []string{"environment"}}
	base.Merge(&ExtractedFields{Region: "   "})
	if base.Region != "eu-west-2" {
		t.Errorf("blank update erased a filled field: %q", base.Region)
	}
}

func TestPendingFieldsNeverGrow(t *testing.T) {
	base := &ExtractedFields{MissingFields: []string{"environment", "region"}}
	updates := []*ExtractedFields{
		{},
		{Region: "ap-south-1"},
		{},
		{Environment: "production"},
		{},
	}
	prev := len(base.MissingFields)
	for i, u := range updates {
		base.Merge(u)
		if len(base.MissingFields) > prev {
			t.Fatalf("missing fields grew at step %d: %v", i, base.MissingFields)
		}
		prev = len(base.MissingFields)
	}
	if len(base.MissingFields) != 0 {
		t.Errorf("all fields supplied but still missing %v", base.MissingFields)
	}
}

func TestConversationTranscriptContext(t *testing.T) {
	conv := &Conversation{
		ConversationID: "conv-TICK-1",
		CustomerName:   "Dana Smith",
		CustomerEmail:  "dana@example.com",
		AccountTier:    TierStarter,
		Product:        "CloudSync",
		Subject:        "Sync fails",
		Status:         StatusAwaitingCustomer,
		PendingFields:  []string{"environment", "region"},
		Messages: []ConversationMessage{
			{
				MessageID:  "TICK-1",
				Timestamp:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
				SenderType: SenderCustomer,
				SenderID:   "dana@example.com",
				Content:    "Sync keeps failing with a timeout.",
				ExtractedFields: &ExtractedFields{
					ErrorMessage: "timeout after 30s",
				},
			},
		},
	}

	ctx := conv.TranscriptContext()
	for _, want := range []string{
		"conv-TICK-1",
		"[CUSTOMER]",
		"Sync keeps failing with a timeout.",
		"error=timeout after 30s",
		"Still Needed: environment, region",
	} {
		if !strings.Contains(ctx, want) {
			t.Errorf("transcript missing %q:\n%s", want, ctx)
		}
	}
}

func TestConversationInfo(t *testing.T) {
	conv := &Conversation{
		ConversationID: "conv-x",
		Status:         StatusAwaitingAgent,
		Messages:       []ConversationMessage{{}, {}},
	}
	info := conv.Info()
	if info.MessageCount != 2 || !info.IsFollowup {
		t.Errorf("unexpected info %+v", info)
	}
}
