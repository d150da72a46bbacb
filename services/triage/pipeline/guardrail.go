// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/verdantops/supportpilot/services/triage/datatypes"
)

// =============================================================================
// Input Guardrail
// =============================================================================

// Input scan rules. Blocking is reserved for unambiguous policy violations
// (critical risk); lower-risk findings pass through with passed=false so the
// pipeline can continue with heightened caution.
var (
	promptInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`),
		regexp.MustCompile(`(?i)disregard\s+(?:your|the|all)\s+(?:instructions|rules|guidelines)`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an|in)\b`),
		regexp.MustCompile(`(?i)reveal\s+(?:your|the)\s+system\s+prompt`),
		regexp.MustCompile(`(?i)\bjailbreak\b`),
		regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)\s`),
	}

	credentialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		regexp.MustCompile(`(?i)\bmy\s+password\s+is\b`),
	}

	abusePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi\s+will\s+(?:kill|hurt|find)\s+you\b`),
		regexp.MustCompile(`(?i)\byou\s+(?:are\s+all|people\s+are)\s+(?:idiots|morons)\b`),
	}
)

// CheckInputGuardrails scans the raw subject and body before any stage
// runs. Prompt injection and direct threats block processing outright;
// credential leakage and abusive tone are flagged for cautious handling.
func CheckInputGuardrails(ticket *datatypes.SupportTicket) datatypes.GuardrailStatus {
	text := ticket.Text()
	status := datatypes.GuardrailStatus{
		Passed:       true,
		RiskLevel:    datatypes.RiskLow,
		IssuesFound:  []string{},
		FixesApplied: []string{},
	}

	raise := func(level datatypes.RiskLevel, issue string) {
		status.Passed = false
		status.IssuesFound = append(status.IssuesFound, issue)
		if riskRank(level) > riskRank(status.RiskLevel) {
			status.RiskLevel = level
		}
	}

	for _, re := range promptInjectionPatterns {
		if m := re.FindString(text); m != "" {
			raise(datatypes.RiskCritical, fmt.Sprintf("Prompt injection attempt detected: %q", m))
		}
	}
	for _, re := range abusePatterns {
		if m := re.FindString(text); m != "" {
			raise(datatypes.RiskCritical, fmt.Sprintf("Abusive or threatening content detected: %q", m))
		}
	}
	for _, re := range credentialPatterns {
		if re.MatchString(text) {
			raise(datatypes.RiskHigh, "Credential material detected in ticket text; advise rotation and do not echo back")
		}
	}

	status.Blocked = status.RiskLevel == datatypes.RiskCritical
	return status
}

func riskRank(level datatypes.RiskLevel) int {
	switch level {
	case datatypes.RiskCritical:
		return 3
	case datatypes.RiskHigh:
		return 2
	case datatypes.RiskMedium:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// Output Guardrail
// =============================================================================

var (
	citationTokenRe = regexp.MustCompile(`\[KB:([^\]#]+)#([^\]]+)\]`)

	guaranteePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bguarantee\b`),
		regexp.MustCompile(`(?i)\b100%\b`),
		regexp.MustCompile(`(?i)\balways will\b`),
		regexp.MustCompile(`(?i)\bnever fail\b`),
		regexp.MustCompile(`(?i)\bdefinitely will\b`),
		regexp.MustCompile(`(?i)\bpromise\b(?: that| you)?`),
	}

	pricingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\d+`),
		regexp.MustCompile(`(?i)\d+%\s*(?:off|discount)`),
		regexp.MustCompile(`(?i)free\s+(?:month|trial|upgrade)`),
	}

	timelinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)will be (?:fixed|resolved|completed) (?:by|within|in) \d+`),
		regexp.MustCompile(`(?i)(?:fix|resolve|complete) (?:by|within|in) \d+`),
	}

	policyClaimPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)our policy (?:is|states|requires)`),
		regexp.MustCompile(`(?i)per our (?:policy|terms|agreement)`),
		regexp.MustCompile(`(?i)according to our (?:policy|guidelines)`),
	}

	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

var safeEmailPrefixes = []string{"support@", "help@", "billing@", "security@"}

// CheckOutputGuardrails validates a drafted reply against the passages that
// grounded it. Dangling citation tokens are stripped in place rather than
// discarding the whole draft; the strip is recorded in FixesApplied.
func CheckOutputGuardrails(reply *datatypes.ReplyDraft, kbHits []datatypes.KBHit) datatypes.GuardrailStatus {
	status := datatypes.GuardrailStatus{
		Passed:       true,
		IssuesFound:  []string{},
		FixesApplied: []string{},
	}

	known := make(map[string]struct{}, len(kbHits))
	for i := range kbHits {
		known[kbHits[i].Citation()] = struct{}{}
	}

	// Citation integrity: every token in the text must resolve to a
	// supplied hit.
	for _, token := range citationTokenRe.FindAllString(reply.CustomerReply, -1) {
		if _, ok := known[token]; !ok {
			status.IssuesFound = append(status.IssuesFound,
				fmt.Sprintf("Citation %s does not resolve to any retrieved passage", token))
			reply.CustomerReply = strings.ReplaceAll(reply.CustomerReply, token, "")
			status.FixesApplied = append(status.FixesApplied,
				fmt.Sprintf("Stripped dangling citation %s", token))
		}
	}
	reply.CustomerReply = collapseSpaces(reply.CustomerReply)

	kept := reply.Citations[:0]
	for _, c := range reply.Citations {
		if _, ok := known[c]; ok {
			kept = append(kept, c)
			continue
		}
		status.FixesApplied = append(status.FixesApplied,
			fmt.Sprintf("Removed unresolved citation %s from citation list", c))
	}
	reply.Citations = kept

	lower := strings.ToLower(reply.CustomerReply)

	for _, re := range guaranteePatterns {
		if m := re.FindString(lower); m != "" {
			status.IssuesFound = append(status.IssuesFound,
				fmt.Sprintf("Contains guarantee language: %q", m))
		}
	}
	if len(reply.Citations) == 0 {
		for _, re := range pricingPatterns {
			if m := re.FindString(lower); m != "" {
				status.IssuesFound = append(status.IssuesFound,
					fmt.Sprintf("Pricing or discount claim without KB citation: %q", m))
				break
			}
		}
		for _, re := range policyClaimPatterns {
			if m := re.FindString(lower); m != "" {
				status.IssuesFound = append(status.IssuesFound,
					fmt.Sprintf("Policy claim without KB citation: %q", m))
				break
			}
		}
	}
	for _, re := range timelinePatterns {
		if m := re.FindString(lower); m != "" {
			status.IssuesFound = append(status.IssuesFound,
				fmt.Sprintf("Specific timeline commitment needs verification: %q", m))
		}
	}

	for _, email := range emailRe.FindAllString(reply.CustomerReply, -1) {
		if !isSafeEmail(email) {
			status.IssuesFound = append(status.IssuesFound,
				fmt.Sprintf("Potential customer email exposed in reply: %s", email))
		}
	}

	if len(kbHits) > 0 && len(reply.Citations) == 0 {
		status.IssuesFound = append(status.IssuesFound,
			"KB passages were available but the reply cites none")
	}

	status.Passed = passesOutputPolicy(status.IssuesFound)
	return status
}

// passesOutputPolicy tolerates up to two minor findings; guarantee language
// or fabrication evidence always fails.
func passesOutputPolicy(issues []string) bool {
	if len(issues) == 0 {
		return true
	}
	if len(issues) > 2 {
		return false
	}
	for _, issue := range issues {
		l := strings.ToLower(issue)
		if strings.Contains(l, "guarantee") || strings.Contains(l, "fabricat") {
			return false
		}
	}
	return true
}

func isSafeEmail(email string) bool {
	l := strings.ToLower(email)
	if strings.HasSuffix(l, "@example.com") {
		return true
	}
	for _, prefix := range safeEmailPrefixes {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}
