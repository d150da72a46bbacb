// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verdantops/supportpilot/services/llm"
	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// Auto-reply decision defaults.
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for
	// reusing a prior answer.
	DefaultSimilarityThreshold = 0.80

	// DefaultFreshnessWindow bounds how old a matched resolution may be.
	// Staleness suppresses reuse even at high similarity because policies
	// or product behavior may have changed.
	DefaultFreshnessWindow = 72 * time.Hour
)

// HistoryMatch is a prior resolved ticket that satisfied the auto-reply
// decision rule.
type HistoryMatch struct {
	TicketID    string
	Category    datatypes.Category
	Similarity  float64
	ProcessedAt time.Time
	Reply       datatypes.ReplyDraft
}

type historyEntry struct {
	ticketID    string
	category    datatypes.Category
	embedding   []float32
	processedAt time.Time
	reply       datatypes.ReplyDraft
}

// TicketHistory stores embeddings of previously processed tickets and
// answers similarity queries for the auto-reply matcher. Writes take the
// exclusive lock per ticket id; lookups share the read lock.
type TicketHistory struct {
	embedder  llm.Embedder
	threshold float64
	freshness time.Duration
	clock     func() time.Time

	mu      sync.RWMutex
	entries map[string]historyEntry
}

// NewTicketHistory builds an empty history store. Zero threshold or
// freshness pick up the defaults.
func NewTicketHistory(embedder llm.Embedder, threshold float64, freshness time.Duration) *TicketHistory {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &TicketHistory{
		embedder:  embedder,
		threshold: threshold,
		freshness: freshness,
		clock:     time.Now,
		entries:   make(map[string]historyEntry),
	}
}

// SetClock overrides the time source. Test hook.
func (h *TicketHistory) SetClock(clock func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = clock
}

// Add records a processed ticket and its released reply so later tickets
// can reuse it.
func (h *TicketHistory) Add(ctx context.Context, ticket *datatypes.SupportTicket, result *datatypes.PipelineResult) error {
	vec, err := h.embedder.Embed(ctx, ticket.Text())
	if err != nil {
		return fmt.Errorf("embed ticket %s: %w", ticket.TicketID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[ticket.TicketID] = historyEntry{
		ticketID:    ticket.TicketID,
		category:    result.Triage.Category,
		embedding:   vec,
		processedAt: h.clock(),
		reply:       result.Reply,
	}
	return nil
}

// FindSimilar applies the auto-reply decision rule: similarity at or above
// the threshold, matching category, and a resolution younger than the
// freshness window. Ties are broken by highest similarity, then most recent
// match. The second return value is the best similarity seen regardless of
// outcome, for reporting.
func (h *TicketHistory) FindSimilar(ctx context.Context, ticket *datatypes.SupportTicket, category datatypes.Category) (*HistoryMatch, float64, error) {
	vec, err := h.embedder.Embed(ctx, ticket.Text())
	if err != nil {
		return nil, 0, fmt.Errorf("embed ticket %s: %w", ticket.TicketID, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.clock()
	var best *HistoryMatch
	bestScore := 0.0

	for _, entry := range h.entries {
		if entry.ticketID == ticket.TicketID {
			continue
		}
		sim := llm.CosineSimilarity(vec, entry.embedding)
		if sim > bestScore {
			bestScore = sim
		}
		if sim < h.threshold {
			continue
		}
		if entry.category != category {
			continue
		}
		age := now.Sub(entry.processedAt)
		if age < 0 || age > h.freshness {
			continue
		}
		if best == nil ||
			sim > best.Similarity ||
			(sim == best.Similarity && entry.processedAt.After(best.ProcessedAt)) {
			best = &HistoryMatch{
				TicketID:    entry.ticketID,
				Category:    entry.category,
				Similarity:  sim,
				ProcessedAt: entry.processedAt,
				Reply:       entry.reply,
			}
		}
	}

	if best != nil {
		slog.Debug("Auto-reply match found",
			"ticket_id", ticket.TicketID,
			"matched_ticket_id", best.TicketID,
			"similarity", best.Similarity)
	}
	return best, bestScore, nil
}

// Stats reports the store size and active thresholds.
func (h *TicketHistory) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"total_tickets":        len(h.entries),
		"similarity_threshold": h.threshold,
		"freshness_hours":      h.freshness.Hours(),
	}
}
