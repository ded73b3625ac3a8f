package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateRun inserts a new task run. RunID is the natural key; a duplicate
// insert updates the mutable columns (idempotent re-dispatch).
func (d *DB) CreateRun(r *TaskRun) error {
	now := nowMillis()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = fromMillis(now)
	}
	r.UpdatedAt = fromMillis(now)
	err := d.exec(`
		INSERT INTO task_runs (run_id, task_id, channel, sender, sender_id, conversation_id,
			branch_key, objective, risk_level, status, assigned_agent, loop_iteration,
			max_iterations, verifier_outcome, result_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			risk_level = excluded.risk_level,
			assigned_agent = excluded.assigned_agent,
			updated_at = excluded.updated_at`,
		r.RunID, r.TaskID, r.Channel, r.Sender, r.SenderID, r.ConversationID,
		r.BranchKey, r.Objective, r.RiskLevel, r.Status, r.AssignedAgent, r.LoopIteration,
		r.MaxIterations, r.VerifierOutcome, r.ResultText, r.CreatedAt.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunProgress records the loop engine's per-iteration state.
func (d *DB) UpdateRunProgress(runID string, iteration int, outcome, status string) error {
	err := d.exec(`
		UPDATE task_runs SET loop_iteration = ?, verifier_outcome = ?, status = ?, updated_at = ?
		WHERE run_id = ?`,
		iteration, outcome, status, nowMillis(), runID)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

// FinalizeRun sets the terminal status and result text for a run.
func (d *DB) FinalizeRun(runID, status, resultText string) error {
	err := d.exec(`
		UPDATE task_runs SET status = ?, result_text = ?, updated_at = ? WHERE run_id = ?`,
		status, resultText, nowMillis(), runID)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

// GetRun returns one run by id.
func (d *DB) GetRun(runID string) (*TaskRun, error) {
	row := d.queryRow(`
		SELECT run_id, task_id, channel, sender, sender_id, conversation_id, branch_key,
			objective, risk_level, status, assigned_agent, loop_iteration, max_iterations,
			verifier_outcome, result_text, created_at, updated_at
		FROM task_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.query(`
		SELECT run_id, task_id, channel, sender, sender_id, conversation_id, branch_key,
			objective, risk_level, status, assigned_agent, loop_iteration, max_iterations,
			verifier_outcome, result_text, created_at, updated_at
		FROM task_runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SupersedeNeedsInput marks every needs_input run for (channel, senderID)
// older than cutoff as rejected and returns the affected run ids. Callers
// record one superseded_by_new_message event per returned id.
func (d *DB) SupersedeNeedsInput(channel, senderID string, cutoff time.Time) ([]string, error) {
	rows, err := d.query(`
		SELECT run_id FROM task_runs
		WHERE channel = ? AND sender_id = ? AND status = ? AND updated_at < ?`,
		channel, senderID, StatusNeedsInput, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("find superseded runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := d.exec(`UPDATE task_runs SET status = ?, updated_at = ? WHERE run_id = ?`,
			StatusRejected, nowMillis(), id); err != nil {
			return nil, fmt.Errorf("supersede run %s: %w", id, err)
		}
	}
	return ids, nil
}

// ListBlockedRunsForOutreach returns runs stuck in needs_input or
// awaiting_approval for at least minAge, keeping only the newest blocked run
// per (channel, sender_id). Runs older than maxAge are excluded.
func (d *DB) ListBlockedRunsForOutreach(minAge, maxAge time.Duration) ([]*TaskRun, error) {
	now := time.Now()
	newest := now.Add(-minAge).UnixMilli()
	oldest := now.Add(-maxAge).UnixMilli()

	rows, err := d.query(`
		SELECT run_id, task_id, channel, sender, sender_id, conversation_id, branch_key,
			objective, risk_level, status, assigned_agent, loop_iteration, max_iterations,
			verifier_outcome, result_text, created_at, updated_at
		FROM task_runs t
		WHERE status IN (?, ?) AND updated_at <= ? AND updated_at >= ?
		AND NOT EXISTS (
			SELECT 1 FROM task_runs n
			WHERE n.channel = t.channel AND n.sender_id = t.sender_id
			AND n.created_at > t.created_at
		)
		ORDER BY updated_at ASC`,
		StatusNeedsInput, StatusAwaitingApproval, newest, oldest)
	if err != nil {
		return nil, fmt.Errorf("list blocked runs: %w", err)
	}
	defer rows.Close()

	var out []*TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DigestTarget is one (channel, sender) pair eligible for the daily digest.
type DigestTarget struct {
	Channel  string
	Sender   string
	SenderID string
}

// ListDigestTargets returns the distinct (channel, sender_id) pairs with run
// activity since the given time, most recently active first.
func (d *DB) ListDigestTargets(since time.Time) ([]*DigestTarget, error) {
	rows, err := d.query(`
		SELECT channel, MAX(sender), sender_id FROM task_runs
		WHERE created_at >= ? AND channel != '' AND sender_id != ''
		GROUP BY channel, sender_id
		ORDER BY MAX(created_at) DESC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list digest targets: %w", err)
	}
	defer rows.Close()

	var out []*DigestTarget
	for rows.Next() {
		var t DigestTarget
		if err := rows.Scan(&t.Channel, &t.Sender, &t.SenderID); err != nil {
			return nil, fmt.Errorf("scan digest target: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*TaskRun, error) {
	var r TaskRun
	var created, updated int64
	err := row.Scan(&r.RunID, &r.TaskID, &r.Channel, &r.Sender, &r.SenderID,
		&r.ConversationID, &r.BranchKey, &r.Objective, &r.RiskLevel, &r.Status,
		&r.AssignedAgent, &r.LoopIteration, &r.MaxIterations, &r.VerifierOutcome,
		&r.ResultText, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}
