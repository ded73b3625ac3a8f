package harness

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func TestApplyExhaustedParksRunOnUser(t *testing.T) {
	tests := []struct {
		name        string
		result      *LoopResult
		wantInReply []string
		wantOutput  bool
	}{
		{
			name: "critical fail withholds the candidate",
			result: &LoopResult{
				Output:    "draft answer the verifier kept rejecting",
				Exhausted: true,
				Verdict: &Verdict{
					Outcome:  store.OutcomeCriticalFail,
					Findings: []string{"no supporting evidence for the main claim"},
				},
			},
			wantInReply: []string{
				"couldn't produce a result I'm confident in",
				"no supporting evidence",
				"source or example",
			},
			wantOutput: false,
		},
		{
			name: "minor fix still shows the candidate with a caveat",
			result: &LoopResult{
				Output:    "mostly usable answer",
				Exhausted: true,
				Verdict: &Verdict{
					Outcome:  store.OutcomeMinorFix,
					Findings: []string{"tone is unclear in the closing"},
				},
			},
			wantInReply: []string{
				"mostly usable answer",
				"ran out of revision attempts",
				"restate what you need",
			},
			wantOutput: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &Outcome{Status: store.StatusInProgress}
			applyExhausted(tt.result, out)

			if out.Status != store.StatusNeedsInput {
				t.Errorf("status = %q, want %q", out.Status, store.StatusNeedsInput)
			}
			for _, want := range tt.wantInReply {
				if !strings.Contains(out.Reply, want) {
					t.Errorf("reply %q missing %q", out.Reply, want)
				}
			}
			if got := strings.Contains(out.Reply, tt.result.Output); got != tt.wantOutput {
				t.Errorf("reply carries candidate output = %v, want %v", got, tt.wantOutput)
			}
			if !strings.Contains(out.Reply, "?") {
				t.Errorf("reply %q carries no clarifying question", out.Reply)
			}
		})
	}
}

func TestClarifyingQuestion(t *testing.T) {
	tests := []struct {
		name     string
		findings []string
		want     string
	}{
		{"evidence findings ask for a source", []string{"claim lacks evidence"}, "source or example"},
		{"citation findings ask for a source", []string{"missing citation for the quote"}, "source or example"},
		{"ambiguity findings ask to restate", []string{"the request is ambiguous"}, "more detail"},
		{"scope findings ask to narrow", []string{"answer is incomplete"}, "narrow the scope"},
		{"anything else gets the generic ask", []string{"formatting is off"}, "good answer looks like"},
		{"no findings at all", nil, "good answer looks like"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clarifyingQuestion(&Verdict{Findings: tt.findings})
			if !strings.Contains(got, tt.want) {
				t.Errorf("clarifyingQuestion(%v) = %q, want it to mention %q", tt.findings, got, tt.want)
			}
		})
	}
}
