// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kb

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// StaticRetriever serves a bundled passage corpus with deterministic keyword
// overlap scoring. It backs mock mode and tests, and is the degraded path
// when no vector index is configured.
type StaticRetriever struct {
	passages []staticPassage
}

type staticPassage struct {
	doc     string
	section string
	text    string
	tokens  map[string]struct{}
}

// NewStaticRetriever builds the retriever over the bundled corpus.
func NewStaticRetriever() *StaticRetriever {
	r := &StaticRetriever{}
	for _, p := range builtinCorpus {
		r.passages = append(r.passages, staticPassage{
			doc:     p.doc,
			section: p.section,
			text:    p.text,
			tokens:  tokenSet(p.text),
		})
	}
	return r
}

// Search implements the Retriever interface. Scores are token overlap
// normalized by query size, so they land in [0,1] and identical queries
// always produce identical rankings.
func (r *StaticRetriever) Search(_ context.Context, query string, k int) ([]datatypes.KBHit, error) {
	if k <= 0 {
		k = DefaultSearchK
	}
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	hits := make([]datatypes.KBHit, 0, len(r.passages))
	for _, p := range r.passages {
		overlap := 0
		for tok := range queryTokens {
			if _, ok := p.tokens[tok]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := float64(overlap) / math.Sqrt(float64(len(queryTokens))*float64(len(p.tokens)))
		hits = append(hits, datatypes.KBHit{
			DocName:        p.doc,
			Section:        p.section,
			Passage:        p.text,
			RelevanceScore: math.Min(1, score*4),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].RelevanceScore != hits[j].RelevanceScore {
			return hits[i].RelevanceScore > hits[j].RelevanceScore
		}
		if hits[i].DocName != hits[j].DocName {
			return hits[i].DocName < hits[j].DocName
		}
		return hits[i].Section < hits[j].Section
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

var _ Retriever = (*StaticRetriever)(nil)

// builtinCorpus is the bundled knowledge base used when no vector index is
// configured. Sections mirror the published support documentation.
var builtinCorpus = []struct {
	doc     string
	section string
	text    string
}{
	{
		doc: "incident_response", section: "outage_triage",
		text: "When a customer reports a production outage, confirm the affected region and service, check the status page for known incidents, and open an incident channel. Customers on enterprise plans receive proactive status updates every 30 minutes until resolution.",
	},
	{
		doc: "incident_response", section: "error_500",
		text: "Widespread HTTP 500 errors usually indicate an unhealthy deployment or an upstream dependency failure. Ask the customer for the region, a request identifier, and the approximate start time, then correlate with the deployment timeline.",
	},
	{
		doc: "troubleshooting", section: "bug_reports",
		text: "A complete bug report needs the environment (production, staging, development), the region, the exact error message, and reproduction steps. Request any missing items before engaging engineering so triage is not blocked.",
	},
	{
		doc: "troubleshooting", section: "sync_failures",
		text: "Sync timeouts are most often caused by expired credentials or proxy interference. Have the customer re-authenticate, verify outbound access to the sync endpoint, and retry. Persistent failures should include the sync job identifier.",
	},
	{
		doc: "billing_policy", section: "duplicate_charges",
		text: "Duplicate charges are reversed automatically within 3 to 5 business days once confirmed. Collect the order or invoice identifier and the charge dates. Do not promise a specific refund amount before billing verifies the transaction.",
	},
	{
		doc: "billing_policy", section: "refund_eligibility",
		text: "Refunds are available within 30 days of the charge for annual plans and within 7 days for monthly plans. Refund requests outside these windows require billing team approval and are handled case by case.",
	},
	{
		doc: "security_policy", section: "incident_handling",
		text: "Suspected security incidents are always escalated to the engineering security rotation. Never discuss details of another customer's data. Ask the reporter for timestamps, source addresses, and any indicators they observed.",
	},
	{
		doc: "security_policy", section: "credential_hygiene",
		text: "If a customer pastes credentials, API keys, or tokens into a ticket, advise immediate rotation. Support staff must never echo the credential back in a reply.",
	},
	{
		doc: "sla_policy", section: "response_targets",
		text: "First response targets by plan: enterprise P0 one hour, P1 four hours. Professional P0 four hours, P1 eight hours. Starter P0 twenty-four hours. Free plans are handled best effort with no committed response time.",
	},
	{
		doc: "product_guide", section: "feature_requests",
		text: "Feature requests are logged in the product backlog and reviewed quarterly. Do not commit to delivery dates. Share the public roadmap link and record the customer's use case in the internal notes.",
	},
}
