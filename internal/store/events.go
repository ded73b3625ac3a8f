package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// AppendEvent records one append-only task event.
func (d *DB) AppendEvent(runID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if payload == nil {
		data = []byte("{}")
	}
	if err := d.exec(`
		INSERT INTO task_events (event_id, run_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		newID(), runID, eventType, string(data), nowMillis()); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the events for a run in append order.
func (d *DB) ListEvents(runID string) ([]*TaskEvent, error) {
	rows, err := d.query(`
		SELECT event_id, run_id, event_type, payload, created_at
		FROM task_events WHERE run_id = ? ORDER BY created_at ASC, event_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*TaskEvent
	for rows.Next() {
		var e TaskEvent
		var payload string
		var created int64
		if err := rows.Scan(&e.EventID, &e.RunID, &e.Type, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		json.Unmarshal([]byte(payload), &e.Payload)
		e.CreatedAt = fromMillis(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events of one type for a run.
func (d *DB) CountEvents(runID, eventType string) (int, error) {
	var n int
	err := d.queryRow(`
		SELECT COUNT(*) FROM task_events WHERE run_id = ? AND event_type = ?`,
		runID, eventType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// LastEventTime returns the newest event timestamp of one type for a run, or
// the zero time when none exists.
func (d *DB) LastEventTime(runID, eventType string) (time.Time, error) {
	var ms int64
	err := d.queryRow(`
		SELECT COALESCE(MAX(created_at), 0) FROM task_events
		WHERE run_id = ? AND event_type = ?`, runID, eventType).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("last event time: %w", err)
	}
	return fromMillis(ms), nil
}

// AppendStep records one loop step (generate/verify/revise).
func (d *DB) AppendStep(runID string, iteration int, kind, detail string) error {
	if err := d.exec(`
		INSERT INTO task_steps (step_id, run_id, iteration, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), runID, iteration, kind, detail, nowMillis()); err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// ListSteps returns the loop steps for a run in order.
func (d *DB) ListSteps(runID string) ([]*TaskStep, error) {
	rows, err := d.query(`
		SELECT step_id, run_id, iteration, kind, detail, created_at
		FROM task_steps WHERE run_id = ? ORDER BY created_at ASC, step_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []*TaskStep
	for rows.Next() {
		var s TaskStep
		var created int64
		if err := rows.Scan(&s.StepID, &s.RunID, &s.Iteration, &s.Kind, &s.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.CreatedAt = fromMillis(created)
		out = append(out, &s)
	}
	return out, rows.Err()
}
