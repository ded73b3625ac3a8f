package store

import (
	"encoding/json"
	"fmt"
)

// Well-known counter names.
const (
	MetricTasksCompleted  = "tasks_completed_count"
	MetricTasksFailed     = "tasks_failed_count"
	MetricTasksNeedsInput = "tasks_needs_input_count"
	MetricResponsesSent   = "responses_delivered_count"
	MetricResponsesLost   = "responses_dropped_count"
	MetricToolExecutions  = "tool_executions_count"
	MetricBrowserRuns     = "browser_runs_count"
	MetricOutreachSent    = "proactive_outreach_count"
)

// IncrMetric bumps a named counter and appends a metric event with the delta
// and metadata.
func (d *DB) IncrMetric(name string, delta float64, metadata map[string]any) error {
	now := nowMillis()
	if err := d.exec(`
		INSERT INTO metrics (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value = metrics.value + excluded.value,
			updated_at = excluded.updated_at`,
		name, delta, now); err != nil {
		return fmt.Errorf("incr metric: %w", err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metric metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}
	if err := d.exec(`
		INSERT INTO metric_events (event_id, name, delta, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		newID(), name, delta, string(meta), now); err != nil {
		return fmt.Errorf("append metric event: %w", err)
	}
	return nil
}

// Metrics returns every counter plus the derived response_loss_rate.
func (d *DB) Metrics() (map[string]float64, error) {
	rows, err := d.query(`SELECT name, value FROM metrics`)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	delivered := out[MetricResponsesSent]
	dropped := out[MetricResponsesLost]
	if delivered+dropped > 0 {
		out["response_loss_rate"] = dropped / (delivered + dropped)
	}
	return out, nil
}
