package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// Verdict is the verifier's judgement of one candidate.
type Verdict struct {
	Outcome         string   `json:"outcome"` // pass | minor_fix | critical_fail | abstain
	Findings        []string `json:"findings,omitempty"`
	RequiredActions []string `json:"required_actions,omitempty"`
	EvidenceRefs    []string `json:"evidence_refs,omitempty"`
}

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s<>")\]]+`)
	evidencePattern = regexp.MustCompile(`\[evidence:\s*([^\]]+)\]`)
	placeholderErr  = regexp.MustCompile(`(?i)^\s*(error|sorry, (something went wrong|i (can'?t|cannot))|an error occurred|i encountered an error)`)
)

// VerifyFunc asks a model to judge a candidate; the raw reply is parsed as a
// JSON verdict.
type VerifyFunc func(ctx context.Context, objective, candidate string) (string, error)

// Verifier wraps an LLM judge with deterministic fast paths. Unparsable or
// failing judge output defaults to pass (fail-open policy: verifier outages
// must not freeze user interactions).
type Verifier struct {
	judge VerifyFunc
}

// NewVerifier creates a Verifier; judge may be nil (fast paths only, then
// pass).
func NewVerifier(judge VerifyFunc) *Verifier {
	return &Verifier{judge: judge}
}

// Verify judges a candidate answer for an objective.
func (v *Verifier) Verify(ctx context.Context, objective, candidate string) (*Verdict, error) {
	refs := ExtractEvidenceRefs(candidate)

	// Fast paths: these outrank the LLM judge.
	if len(strings.TrimSpace(candidate)) < 10 {
		return &Verdict{
			Outcome:      store.OutcomeCriticalFail,
			Findings:     []string{"candidate output is empty or too short"},
			EvidenceRefs: refs,
		}, nil
	}
	if placeholderErr.MatchString(candidate) {
		return &Verdict{
			Outcome:      store.OutcomeCriticalFail,
			Findings:     []string{"candidate output is a placeholder error message"},
			EvidenceRefs: refs,
		}, nil
	}

	if v.judge == nil {
		return &Verdict{Outcome: store.OutcomePass, EvidenceRefs: refs}, nil
	}

	raw, err := v.judge(ctx, objective, candidate)
	if err != nil {
		return nil, fmt.Errorf("verifier judge: %w", err)
	}

	verdict := parseVerdict(raw)
	verdict.EvidenceRefs = append(verdict.EvidenceRefs, refs...)
	return verdict, nil
}

// parseVerdict extracts a JSON verdict from a judge reply. Unparsable output
// defaults to pass.
func parseVerdict(raw string) *Verdict {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		var verdict Verdict
		if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err == nil {
			switch verdict.Outcome {
			case store.OutcomePass, store.OutcomeMinorFix, store.OutcomeCriticalFail, store.OutcomeAbstain:
				return &verdict
			}
		}
	}
	return &Verdict{Outcome: store.OutcomePass, Findings: []string{"verifier output unparsable, defaulted to pass"}}
}

// ExtractEvidenceRefs pulls URLs and [evidence: …] tokens out of a candidate.
func ExtractEvidenceRefs(candidate string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, u := range urlPattern.FindAllString(candidate, -1) {
		if !seen[u] {
			seen[u] = true
			refs = append(refs, u)
		}
	}
	for _, m := range evidencePattern.FindAllStringSubmatch(candidate, -1) {
		token := strings.TrimSpace(m[1])
		if token != "" && !seen[token] {
			seen[token] = true
			refs = append(refs, token)
		}
	}
	return refs
}

// VerifierPrompt is the judge instruction wrapped around a candidate.
func VerifierPrompt(objective, candidate string) string {
	return fmt.Sprintf(`You are a strict reviewer. Judge whether the answer below satisfies the objective.
Reply with JSON only: {"outcome": "pass"|"minor_fix"|"critical_fail"|"abstain", "findings": [...], "required_actions": [...]}

Objective:
%s

Answer:
%s`, objective, candidate)
}
