package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// LoopBudget returns the iteration budget for a risk level:
// low→1, medium→3, high/critical→5.
func LoopBudget(risk string) int {
	switch risk {
	case RiskMedium:
		return 3
	case RiskHigh, RiskCritical:
		return 5
	default:
		return 1
	}
}

// LoopCallbacks are the three phases driven by the engine.
type LoopCallbacks struct {
	Generate func(ctx context.Context) (string, error)
	Verify   func(ctx context.Context, candidate string, iteration int) (*Verdict, error)
	Revise   func(ctx context.Context, candidate string, verdict *Verdict, iteration int) (string, error)
}

// LoopResult is the loop engine's outcome.
type LoopResult struct {
	Output     string
	Verdict    *Verdict
	Iterations int
	Exhausted  bool
}

// RunLoop drives generate → verify → (revise → verify)* under the risk
// budget. Exactly one loop_completed or loop_exhausted event is recorded.
func RunLoop(ctx context.Context, db *store.DB, runID, risk string, cb LoopCallbacks) (*LoopResult, error) {
	budget := LoopBudget(risk)

	candidate, err := cb.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	db.AppendStep(runID, 1, "generate", truncate(candidate, 500))

	verdict, err := cb.Verify(ctx, candidate, 1)
	if err != nil {
		// Fail-open: verifier flakes must not block the user.
		slog.Warn("verifier failed, treating as pass", "run", runID, "error", err)
		verdict = &Verdict{Outcome: store.OutcomePass, Findings: []string{"verifier unavailable"}}
	}
	db.AppendStep(runID, 1, "verify", verdict.Outcome)

	iteration := 1
	for {
		db.UpdateRunProgress(runID, iteration, verdict.Outcome, store.StatusInProgress)

		if verdict.Outcome == store.OutcomePass || verdict.Outcome == store.OutcomeAbstain {
			db.AppendEvent(runID, store.EventLoopCompleted, map[string]any{
				"iterations": iteration, "outcome": verdict.Outcome,
			})
			return &LoopResult{Output: candidate, Verdict: verdict, Iterations: iteration}, nil
		}

		fixable := verdict.Outcome == store.OutcomeMinorFix || verdict.Outcome == store.OutcomeCriticalFail
		if !fixable || iteration >= budget {
			db.AppendEvent(runID, store.EventLoopExhausted, map[string]any{
				"iterations": iteration, "outcome": verdict.Outcome, "budget": budget,
			})
			return &LoopResult{Output: candidate, Verdict: verdict, Iterations: iteration, Exhausted: true}, nil
		}

		iteration++
		candidate, err = cb.Revise(ctx, candidate, verdict, iteration)
		if err != nil {
			return nil, fmt.Errorf("revise (iteration %d): %w", iteration, err)
		}
		db.AppendStep(runID, iteration, "revise", truncate(candidate, 500))

		verdict, err = cb.Verify(ctx, candidate, iteration)
		if err != nil {
			slog.Warn("verifier failed, treating as pass", "run", runID, "error", err)
			verdict = &Verdict{Outcome: store.OutcomePass, Findings: []string{"verifier unavailable"}}
		}
		db.AppendStep(runID, iteration, "verify", verdict.Outcome)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
