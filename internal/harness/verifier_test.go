package harness

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func TestVerifyFastPaths(t *testing.T) {
	// The judge must never be consulted when a fast path fires.
	judge := func(ctx context.Context, objective, candidate string) (string, error) {
		t.Fatal("judge called on a fast-path candidate")
		return "", nil
	}
	v := NewVerifier(judge)

	tests := []struct {
		name      string
		candidate string
	}{
		{"empty candidate", "   "},
		{"too short", "ok"},
		{"placeholder error", "Sorry, something went wrong while processing your request."},
		{"leading error line", "Error: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := v.Verify(context.Background(), "objective", tt.candidate)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if verdict.Outcome != store.OutcomeCriticalFail {
				t.Errorf("outcome = %q, want critical_fail", verdict.Outcome)
			}
		})
	}
}

func TestVerifyNilJudgePasses(t *testing.T) {
	v := NewVerifier(nil)
	verdict, err := v.Verify(context.Background(), "objective", "a perfectly reasonable answer")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Outcome != store.OutcomePass {
		t.Errorf("outcome = %q, want pass", verdict.Outcome)
	}
}

func TestVerifyParsesJudgeVerdict(t *testing.T) {
	judge := func(ctx context.Context, objective, candidate string) (string, error) {
		return `Here is my judgement: {"outcome":"minor_fix","findings":["missing the deadline"],"required_actions":["add the deadline"]}`, nil
	}
	v := NewVerifier(judge)
	verdict, err := v.Verify(context.Background(), "objective", "a long enough candidate answer")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Outcome != store.OutcomeMinorFix {
		t.Errorf("outcome = %q, want minor_fix", verdict.Outcome)
	}
	if len(verdict.Findings) != 1 || verdict.Findings[0] != "missing the deadline" {
		t.Errorf("findings = %v", verdict.Findings)
	}
}

func TestVerifyJudgeErrorPropagates(t *testing.T) {
	wantErr := errors.New("judge offline")
	judge := func(ctx context.Context, objective, candidate string) (string, error) {
		return "", wantErr
	}
	v := NewVerifier(judge)
	_, err := v.Verify(context.Background(), "objective", "a long enough candidate answer")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped judge error", err)
	}
}

func TestParseVerdictDefaults(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"valid pass", `{"outcome":"pass"}`, store.OutcomePass},
		{"valid abstain", `{"outcome":"abstain"}`, store.OutcomeAbstain},
		{"json with prose around it", `Sure! {"outcome":"critical_fail"} Hope that helps.`, store.OutcomeCriticalFail},
		{"unknown outcome defaults to pass", `{"outcome":"maybe"}`, store.OutcomePass},
		{"no json defaults to pass", "looks fine to me", store.OutcomePass},
		{"broken json defaults to pass", `{"outcome":`, store.OutcomePass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseVerdict(tt.raw); got.Outcome != tt.want {
				t.Errorf("parseVerdict(%q).Outcome = %q, want %q", tt.raw, got.Outcome, tt.want)
			}
		})
	}
}

func TestExtractEvidenceRefs(t *testing.T) {
	candidate := "See https://example.com/a and https://example.com/a again, " +
		"plus [evidence: screenshot-3] and [evidence: screenshot-3]."
	got := ExtractEvidenceRefs(candidate)
	want := []string{"https://example.com/a", "screenshot-3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v (deduplicated)", got, want)
	}
}
