// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// =============================================================================
// Routing Tables
// =============================================================================

// categoryTeamMap assigns a team per category. Exhaustive over the category
// set; checked at init.
var categoryTeamMap = map[datatypes.Category]datatypes.Team{
	datatypes.CategoryOutage:         datatypes.TeamEngineering,
	datatypes.CategoryBug:            datatypes.TeamEngineering,
	datatypes.CategorySecurity:       datatypes.TeamEngineering,
	datatypes.CategoryBilling:        datatypes.TeamBilling,
	datatypes.CategoryFeatureRequest: datatypes.TeamSupport,
	datatypes.CategoryOther:          datatypes.TeamSupport,
}

// slaMatrix maps (tier, urgency) to first-response hours. The free tier is
// best effort and carries the sentinel for every urgency.
var slaMatrix = map[datatypes.AccountTier]map[datatypes.Urgency]int{
	datatypes.TierEnterprise: {
		datatypes.UrgencyP0: 1,
		datatypes.UrgencyP1: 4,
		datatypes.UrgencyP2: 24,
		datatypes.UrgencyP3: 72,
	},
	datatypes.TierProfessional: {
		datatypes.UrgencyP0: 4,
		datatypes.UrgencyP1: 8,
		datatypes.UrgencyP2: 48,
		datatypes.UrgencyP3: 120,
	},
	datatypes.TierStarter: {
		datatypes.UrgencyP0: 24,
		datatypes.UrgencyP1: 48,
		datatypes.UrgencyP2: 72,
		datatypes.UrgencyP3: 168,
	},
	datatypes.TierFree: {
		datatypes.UrgencyP0: datatypes.BestEffortSLAHours,
		datatypes.UrgencyP1: datatypes.BestEffortSLAHours,
		datatypes.UrgencyP2: datatypes.BestEffortSLAHours,
		datatypes.UrgencyP3: datatypes.BestEffortSLAHours,
	},
}

var allUrgencies = []datatypes.Urgency{
	datatypes.UrgencyP0, datatypes.UrgencyP1, datatypes.UrgencyP2, datatypes.UrgencyP3,
}

// init verifies the tables are exhaustive so an unmatched combination is a
// startup-time error, not a silent default at request time.
func init() {
	for _, cat := range datatypes.Categories() {
		if _, ok := categoryTeamMap[cat]; !ok {
			panic(fmt.Sprintf("routing: no team for category %q", cat))
		}
	}
	for _, tier := range datatypes.Tiers() {
		row, ok := slaMatrix[tier]
		if !ok {
			panic(fmt.Sprintf("routing: no SLA row for tier %q", tier))
		}
		for _, u := range allUrgencies {
			if _, ok := row[u]; !ok {
				panic(fmt.Sprintf("routing: no SLA for %s/%s", tier, u))
			}
		}
	}
}

// ComputeRouting is the deterministic routing decision: a pure function of
// (category, tier, urgency) with no external calls.
//
// Escalation is true for any P0, for P1 on the enterprise tier, and for any
// security-category ticket. The flag is surfaced to the reply and notes
// layer; it does not change team routing by itself.
func ComputeRouting(triage datatypes.TriageResult, tier datatypes.AccountTier) datatypes.RoutingDecision {
	team := categoryTeamMap[triage.Category]
	slaHours := slaMatrix[tier][triage.Urgency]
	escalation := triage.Urgency == datatypes.UrgencyP0 ||
		(triage.Urgency == datatypes.UrgencyP1 && tier == datatypes.TierEnterprise) ||
		triage.Category == datatypes.CategorySecurity

	return datatypes.RoutingDecision{
		Team:       team,
		SLAHours:   slaHours,
		Escalation: escalation,
		Reasoning:  routingReasoning(triage, tier, team, slaHours, escalation),
	}
}

func routingReasoning(triage datatypes.TriageResult, tier datatypes.AccountTier, team datatypes.Team, slaHours int, escalation bool) string {
	var reasons []string

	switch team {
	case datatypes.TeamEngineering:
		reasons = append(reasons, fmt.Sprintf("Routed to engineering due to %s classification", triage.Category))
	case datatypes.TeamBilling:
		reasons = append(reasons, "Routed to billing team for invoice/payment handling")
	default:
		reasons = append(reasons, fmt.Sprintf("Routed to general support for %s handling", triage.Category))
	}

	if slaHours == datatypes.BestEffortSLAHours {
		reasons = append(reasons, "Free tier is handled best effort with no committed SLA")
	} else {
		reasons = append(reasons, fmt.Sprintf("SLA set to %dh based on %s tier and %s priority", slaHours, tier, triage.Urgency))
	}

	if escalation {
		switch {
		case triage.Urgency == datatypes.UrgencyP0:
			reasons = append(reasons, "Escalated due to P0 critical priority")
		case triage.Category == datatypes.CategorySecurity:
			reasons = append(reasons, "Escalated due to security classification")
		default:
			reasons = append(reasons, "Escalated per enterprise account policy")
		}
	}

	return strings.Join(reasons, ". ") + "."
}

// SLADescription renders SLA hours for customer-facing text.
func SLADescription(slaHours int) string {
	switch {
	case slaHours == datatypes.BestEffortSLAHours:
		return "best effort"
	case slaHours <= 1:
		return "1 hour"
	case slaHours < 24:
		return fmt.Sprintf("%d hours", slaHours)
	case slaHours < 168:
		return fmt.Sprintf("%d hours (%d days)", slaHours, slaHours/24)
	default:
		return fmt.Sprintf("%d hours (%d weeks)", slaHours, slaHours/168)
	}
}
