package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// ErrNoTrace means the run has no replayable browser trace.
var ErrNoTrace = errors.New("no replayable browser trace found")

// Replay re-runs the recorded trace of a previous run's latest tab under a
// fresh run id. Only steps that succeeded (or stopped at a checkpoint) are
// replayed, deduplicated by action id.
func (e *Executor) Replay(ctx context.Context, sourceRunID, userID string) (*Result, string, error) {
	tab, err := e.db.LatestTabForRun(sourceRunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrNoTrace
		}
		return nil, "", err
	}

	steps, err := PlanFromTrace(tab.TraceJSON)
	if err != nil {
		return nil, "", err
	}
	if len(steps) == 0 {
		return nil, "", ErrNoTrace
	}

	replayRunID := "replay_" + uuid.NewString()[:8]
	if err := e.db.CreateRun(&store.TaskRun{
		RunID:     replayRunID,
		SenderID:  userID,
		Objective: fmt.Sprintf("replay browser trace of run %s", sourceRunID),
		RiskLevel: "medium",
		Status:    store.StatusInProgress,
	}); err != nil {
		return nil, "", err
	}

	res, err := e.Run(ctx, replayRunID, userID, "trace replay", steps)
	return res, replayRunID, err
}

// PlanFromTrace rebuilds a step plan from a tab's trace JSON. A trace that
// does not open with a navigate gets one prepended to its base URL so the
// replay starts from the same origin.
func PlanFromTrace(traceJSON string) ([]Step, error) {
	var entries []traceEntry
	if err := json.Unmarshal([]byte(traceJSON), &entries); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}

	seen := map[string]bool{}
	var steps []Step
	for _, en := range entries {
		if en.Status != "ok" && en.Status != "checkpoint" {
			continue
		}
		if en.ActionID != "" && seen[en.ActionID] {
			continue
		}
		seen[en.ActionID] = true
		steps = append(steps, Step{
			Kind:     en.Kind,
			URL:      en.URL,
			Selector: en.Selector,
			Value:    en.Value,
			Key:      en.Key,
		})
	}

	// The replay must start from a known origin. When the surviving steps do
	// not open with a navigate, prepend one to the trace's base URL; the
	// recorded order itself stays untouched. A trace with no navigate at all
	// cannot anchor anywhere and is dropped.
	if len(steps) > 0 && steps[0].Kind != StepNavigate {
		base := ""
		for _, s := range steps {
			if s.Kind == StepNavigate && s.URL != "" {
				base = s.URL
				break
			}
		}
		if base == "" {
			return nil, nil
		}
		steps = append([]Step{{Kind: StepNavigate, URL: base}}, steps...)
	}
	return steps, nil
}
