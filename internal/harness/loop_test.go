package harness

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLitePath(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newLoopRun(t *testing.T, db *store.DB, risk string) string {
	t.Helper()
	runID := "run_" + t.Name()
	err := db.CreateRun(&store.TaskRun{
		RunID:         runID,
		Channel:       "test",
		SenderID:      "u1",
		Objective:     "test objective",
		RiskLevel:     risk,
		Status:        store.StatusInProgress,
		MaxIterations: LoopBudget(risk),
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return runID
}

func countEvents(t *testing.T, db *store.DB, runID, eventType string) int {
	t.Helper()
	n, err := db.CountEvents(runID, eventType)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestRunLoopPassesFirstIteration(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskLow)

	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "answer", nil },
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			return &Verdict{Outcome: store.OutcomePass}, nil
		},
		Revise: func(ctx context.Context, candidate string, verdict *Verdict, iteration int) (string, error) {
			t.Fatal("revise called on a passing candidate")
			return "", nil
		},
	}
	res, err := RunLoop(context.Background(), db, runID, RiskLow, cb)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Output != "answer" || res.Iterations != 1 || res.Exhausted {
		t.Errorf("result = %+v, want answer in 1 iteration", res)
	}
	if n := countEvents(t, db, runID, store.EventLoopCompleted); n != 1 {
		t.Errorf("loop_completed events = %d, want 1", n)
	}
}

func TestRunLoopRevisesUntilPass(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskMedium)

	verdicts := []string{store.OutcomeMinorFix, store.OutcomeMinorFix, store.OutcomePass}
	calls := 0
	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "v1", nil },
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			v := verdicts[calls]
			calls++
			return &Verdict{Outcome: v, Findings: []string{"needs work"}}, nil
		},
		Revise: func(ctx context.Context, candidate string, verdict *Verdict, iteration int) (string, error) {
			return candidate + "+", nil
		},
	}
	res, err := RunLoop(context.Background(), db, runID, RiskMedium, cb)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Output != "v1++" || res.Iterations != 3 || res.Exhausted {
		t.Errorf("result = %+v, want revised output in 3 iterations", res)
	}
}

func TestRunLoopExhaustsBudget(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskMedium)

	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "bad", nil },
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			return &Verdict{Outcome: store.OutcomeMinorFix}, nil
		},
		Revise: func(ctx context.Context, candidate string, verdict *Verdict, iteration int) (string, error) {
			return candidate, nil
		},
	}
	res, err := RunLoop(context.Background(), db, runID, RiskMedium, cb)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if !res.Exhausted || res.Iterations != 3 {
		t.Errorf("result = %+v, want exhausted at budget 3", res)
	}
	if n := countEvents(t, db, runID, store.EventLoopExhausted); n != 1 {
		t.Errorf("loop_exhausted events = %d, want 1", n)
	}
	if n := countEvents(t, db, runID, store.EventLoopCompleted); n != 0 {
		t.Errorf("loop_completed events = %d, want 0", n)
	}
}

func TestRunLoopAbstainCompletes(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskHigh)

	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "unjudgeable", nil },
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			return &Verdict{Outcome: store.OutcomeAbstain}, nil
		},
	}
	res, err := RunLoop(context.Background(), db, runID, RiskHigh, cb)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Exhausted || res.Verdict.Outcome != store.OutcomeAbstain {
		t.Errorf("result = %+v, want abstain treated as completion", res)
	}
}

func TestRunLoopVerifierFailureIsFailOpen(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskLow)

	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "answer", nil },
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			return nil, errors.New("judge offline")
		},
	}
	res, err := RunLoop(context.Background(), db, runID, RiskLow, cb)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Verdict.Outcome != store.OutcomePass {
		t.Errorf("outcome = %q, want fail-open pass", res.Verdict.Outcome)
	}
}

func TestRunLoopGenerateErrorAborts(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskLow)

	cb := LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) { return "", errors.New("runner missing") },
	}
	if _, err := RunLoop(context.Background(), db, runID, RiskLow, cb); err == nil {
		t.Error("RunLoop succeeded, want generate error")
	}
}
