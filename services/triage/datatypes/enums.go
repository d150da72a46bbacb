// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the triage service.
//
// This file contains the closed enumerations used across the pipeline.
// Every enum has a parse helper that rejects unknown values so that
// stringly-typed input from the wire or from the reasoner can never
// leak an out-of-set value into the routing tables.
package datatypes

import "fmt"

// =============================================================================
// Urgency
// =============================================================================

// Urgency is the ordered ticket severity scale. P0 is the most severe.
type Urgency string

const (
	UrgencyP0 Urgency = "P0"
	UrgencyP1 Urgency = "P1"
	UrgencyP2 Urgency = "P2"
	UrgencyP3 Urgency = "P3"
)

// Rank returns the ordinal position of the urgency, P0 = 0 through P3 = 3.
// Lower rank means more severe.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyP0:
		return 0
	case UrgencyP1:
		return 1
	case UrgencyP2:
		return 2
	default:
		return 3
	}
}

// ParseUrgency converts a string to an Urgency.
//
// # Outputs
//
//   - Urgency: The parsed value.
//   - error: Non-nil if the string is not one of P0..P3.
func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(s) {
	case UrgencyP0, UrgencyP1, UrgencyP2, UrgencyP3:
		return Urgency(s), nil
	}
	return "", fmt.Errorf("unknown urgency %q", s)
}

// =============================================================================
// Category
// =============================================================================

// Category is the closed ticket classification set.
type Category string

const (
	CategoryOutage         Category = "outage"
	CategoryBug            Category = "bug"
	CategoryBilling        Category = "billing"
	CategorySecurity       Category = "security"
	CategoryFeatureRequest Category = "feature_request"
	CategoryOther          Category = "other"
)

// Categories lists every valid category in a stable order. Used for
// exhaustiveness checks on the routing table at startup.
func Categories() []Category {
	return []Category{
		CategoryOutage, CategoryBug, CategoryBilling,
		CategorySecurity, CategoryFeatureRequest, CategoryOther,
	}
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryOutage, CategoryBug, CategoryBilling,
		CategorySecurity, CategoryFeatureRequest, CategoryOther:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// =============================================================================
// Sentiment
// =============================================================================

// Sentiment is the customer sentiment classification.
type Sentiment string

const (
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentPositive Sentiment = "positive"
)

// ParseSentiment converts a string to a Sentiment.
func ParseSentiment(s string) (Sentiment, error) {
	switch Sentiment(s) {
	case SentimentNegative, SentimentNeutral, SentimentPositive:
		return Sentiment(s), nil
	}
	return "", fmt.Errorf("unknown sentiment %q", s)
}

// =============================================================================
// Team
// =============================================================================

// Team is a routing target for a triaged ticket.
type Team string

const (
	TeamEngineering Team = "engineering"
	TeamBilling     Team = "billing"
	TeamSupport     Team = "support"
)

// =============================================================================
// Account Tier
// =============================================================================

// AccountTier is the customer's plan level, ordered from free to enterprise.
type AccountTier string

const (
	TierFree         AccountTier = "free"
	TierStarter      AccountTier = "starter"
	TierProfessional AccountTier = "professional"
	TierEnterprise   AccountTier = "enterprise"
)

// Tiers lists every valid tier ordered from lowest to highest.
func Tiers() []AccountTier {
	return []AccountTier{TierFree, TierStarter, TierProfessional, TierEnterprise}
}

// Rank returns the ordinal position of the tier, free = 0 through
// enterprise = 3. Higher rank means tighter SLAs.
func (t AccountTier) Rank() int {
	switch t {
	case TierEnterprise:
		return 3
	case TierProfessional:
		return 2
	case TierStarter:
		return 1
	default:
		return 0
	}
}

// ParseAccountTier converts a string to an AccountTier.
func ParseAccountTier(s string) (AccountTier, error) {
	switch AccountTier(s) {
	case TierFree, TierStarter, TierProfessional, TierEnterprise:
		return AccountTier(s), nil
	}
	return "", fmt.Errorf("unknown account tier %q", s)
}
