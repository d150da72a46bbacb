// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kb holds the pipeline's stateful collaborators: the knowledge
// base retriever, the resolved-ticket history used for auto-reply, and the
// conversation store for multi-turn threads.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// DefaultSearchK is the passage count used when the caller does not specify.
const DefaultSearchK = 5

// Retriever is the knowledge base search interface. Implementations return
// passages ordered by descending relevance; an empty result is valid and
// retrieval errors must never be fatal to ticket processing.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]datatypes.KBHit, error)
}

// ContextQuery builds a retrieval query from ticket context. The category
// expands the query with domain vocabulary so passages about the right
// problem class rank higher.
func ContextQuery(subject, body string, category datatypes.Category) string {
	parts := []string{subject}
	if len(body) > 500 {
		body = body[:500]
	}
	parts = append(parts, body)

	expansions := map[datatypes.Category]string{
		datatypes.CategoryBilling:        "billing payment invoice charge refund",
		datatypes.CategoryBug:            "bug error crash issue fix",
		datatypes.CategoryOutage:         "outage down unavailable incident",
		datatypes.CategorySecurity:       "security vulnerability breach access",
		datatypes.CategoryFeatureRequest: "feature request enhancement",
	}
	if exp, ok := expansions[category]; ok {
		parts = append(parts, exp)
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Weaviate Retriever
// =============================================================================

// KBClassName is the Weaviate class holding knowledge base passages.
const KBClassName = "SupportKB"

// WeaviateRetriever searches a Weaviate vector index of KB passages.
type WeaviateRetriever struct {
	client *weaviate.Client
}

// NewWeaviateRetriever connects to Weaviate at the given URL. The scheme is
// split off the URL; plain host strings default to http.
func NewWeaviateRetriever(url string) (*WeaviateRetriever, error) {
	cfg := weaviate.Config{Host: url, Scheme: "http"}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	slog.Info("Weaviate retriever initialized", "host", cfg.Host, "class", KBClassName)
	return &WeaviateRetriever{client: client}, nil
}

// Search implements the Retriever interface via a nearText GraphQL query.
// Certainty from Weaviate is reported as the relevance score.
func (r *WeaviateRetriever) Search(ctx context.Context, query string, k int) ([]datatypes.KBHit, error) {
	if k <= 0 {
		k = DefaultSearchK
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "docName"},
		{Name: "section"},
		{Name: "passage"},
		{Name: "_additional { certainty }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(KBClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("kb search error: %s", result.Errors[0].Message)
	}

	return parseKBResults(result, k)
}

func parseKBResults(result *models.GraphQLResponse, k int) ([]datatypes.KBHit, error) {
	get, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := get[KBClassName].([]any)
	if !ok {
		return nil, nil
	}

	hits := make([]datatypes.KBHit, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		hit := datatypes.KBHit{
			DocName: stringField(obj, "docName"),
			Section: stringField(obj, "section"),
			Passage: stringField(obj, "passage"),
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			if c, ok := add["certainty"].(float64); ok {
				hit.RelevanceScore = c
			}
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].RelevanceScore > hits[j].RelevanceScore
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

var _ Retriever = (*WeaviateRetriever)(nil)
