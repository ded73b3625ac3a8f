package harness

import (
	"regexp"
	"strings"
)

// Risk levels, ordered.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Task routes.
const (
	RouteAgent   = "agent"
	RouteTooling = "tooling"
	RouteBrowser = "browser"
	RouteMemory  = "memory"
)

var riskRank = map[string]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

type riskRule struct {
	pattern *regexp.Regexp
	level   string
	reason  string
}

// Ordered risk rules; the maximum matched level wins, empty match is low.
var riskRules = []riskRule{
	{regexp.MustCompile(`(?i)\b(delete|remove|wipe|erase)\b.*\b(account|all|everything|data)\b`), RiskCritical, "destructive data operation"},
	{regexp.MustCompile(`(?i)\b(pay|payment|purchase|buy|checkout|transfer|wire|wallet)\b`), RiskCritical, "payment operation"},
	{regexp.MustCompile(`(?i)\b(password|credential|api.?key|secret|token)\b`), RiskHigh, "credential handling"},
	{regexp.MustCompile(`(?i)\b(deploy|production|prod|release)\b`), RiskHigh, "production change"},
	{regexp.MustCompile(`(?i)\b(login|log in|sign in|authenticate)\b`), RiskHigh, "authentication flow"},
	{regexp.MustCompile(`(?i)\b(install|uninstall|upgrade|configure)\b`), RiskMedium, "system modification"},
	{regexp.MustCompile(`(?i)\b(send|email|post|publish|submit)\b`), RiskMedium, "outbound action"},
	{regexp.MustCompile(`(?i)\b(edit|modify|update|change|write)\b`), RiskMedium, "content mutation"},
}

// ClassifyRisk maps objective text to a risk level plus human-readable
// reasons for the audit trail.
func ClassifyRisk(objective string) (string, []string) {
	level := RiskLow
	var reasons []string
	for _, r := range riskRules {
		if r.pattern.MatchString(objective) {
			reasons = append(reasons, r.reason)
			if riskRank[r.level] > riskRank[level] {
				level = r.level
			}
		}
	}
	if len(reasons) == 0 {
		reasons = []string{"no risk patterns matched"}
	}
	return level, reasons
}

var (
	browserKeywords = regexp.MustCompile(`(?i)\b(browser|chrome|navigate|web ?page|website|url|login|log in|portal|dashboard)\b`)
	toolingKeywords = regexp.MustCompile(`(?i)\b(install|tool|npm|npx|pip3?|brew|docker|pnpm|yarn|git|package manager|cli)\b`)
	memoryKeywords  = regexp.MustCompile(`(?i)\b(remember|memoriz|preference|i prefer|my workflow|note that|don'?t forget)\b`)
)

// RouteTask chooses the execution route for an objective. Precedence:
// browser > tooling > memory > agent.
func RouteTask(objective string) (string, string) {
	switch {
	case browserKeywords.MatchString(objective):
		return RouteBrowser, "browser keywords matched"
	case toolingKeywords.MatchString(objective):
		return RouteTooling, "tooling keywords matched"
	case memoryKeywords.MatchString(objective):
		return RouteMemory, "memory keywords matched"
	default:
		return RouteAgent, "default route"
	}
}

// Intent classes used by the processor for ack gating.
const (
	IntentQuestion    = "question"
	IntentBrowserTask = "browser_task"
	IntentEngineering = "engineering_task"
	IntentGeneral     = "general_task"
)

var engineeringKeywords = regexp.MustCompile(`(?i)\b(code|bug|fix|refactor|test|compile|build|deploy|function|script)\b`)

// ClassifyIntent is a lightweight message-intent classifier: questions get no
// ack, task intents do.
func ClassifyIntent(message string) string {
	trimmed := strings.TrimSpace(message)
	if strings.HasSuffix(trimmed, "?") {
		return IntentQuestion
	}
	lower := strings.ToLower(trimmed)
	for _, w := range []string{"what ", "who ", "when ", "where ", "why ", "how ", "is ", "are ", "can ", "does "} {
		if strings.HasPrefix(lower, w) {
			return IntentQuestion
		}
	}
	if browserKeywords.MatchString(trimmed) {
		return IntentBrowserTask
	}
	if engineeringKeywords.MatchString(trimmed) {
		return IntentEngineering
	}
	return IntentGeneral
}

// IsTaskIntent reports whether the intent warrants a completion-style reply.
func IsTaskIntent(intent string) bool {
	return intent == IntentBrowserTask || intent == IntentEngineering || intent == IntentGeneral
}
