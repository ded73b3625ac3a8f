package store

import (
	"fmt"
	"strings"
)

// UpsertMemory writes one memory record by its (user, category, key) natural
// key. A newer ingest replaces the value only when its confidence is at least
// the stored confidence; repeated ingest never decreases confidence.
func (d *DB) UpsertMemory(m *MemoryRecord) error {
	now := nowMillis()
	err := d.exec(`
		INSERT INTO memory_records (record_id, user_id, category, mem_key, mem_value,
			confidence, source_run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category, mem_key) DO UPDATE SET
			mem_value = CASE WHEN excluded.confidence >= memory_records.confidence
				THEN excluded.mem_value ELSE memory_records.mem_value END,
			confidence = CASE WHEN excluded.confidence >= memory_records.confidence
				THEN excluded.confidence ELSE memory_records.confidence END,
			source_run_id = CASE WHEN excluded.confidence >= memory_records.confidence
				THEN excluded.source_run_id ELSE memory_records.source_run_id END,
			updated_at = excluded.updated_at`,
		m.RecordID, m.UserID, m.Category, m.Key, m.Value,
		m.Confidence, m.SourceRunID, now, now)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// ListMemory returns memory records newest first, scoped to one user when
// userID is non-empty and filtered by a topic substring against key/value.
func (d *DB) ListMemory(userID, topic string) ([]*MemoryRecord, error) {
	q := `SELECT record_id, user_id, category, mem_key, mem_value, confidence,
			source_run_id, created_at, updated_at
		FROM memory_records`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY updated_at DESC`
	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	topic = strings.ToLower(topic)
	var out []*MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		var created, updated int64
		if err := rows.Scan(&m.RecordID, &m.UserID, &m.Category, &m.Key, &m.Value,
			&m.Confidence, &m.SourceRunID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if topic != "" && !strings.Contains(strings.ToLower(m.Key), topic) &&
			!strings.Contains(strings.ToLower(m.Value), topic) {
			continue
		}
		m.CreatedAt = fromMillis(created)
		m.UpdatedAt = fromMillis(updated)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ForgetMemory deletes a user's records whose key or value mentions topic and
// returns how many rows were removed.
func (d *DB) ForgetMemory(userID, topic string) (int, error) {
	matches, err := d.ListMemory(userID, topic)
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		if err := d.exec(`DELETE FROM memory_records WHERE record_id = ?`, m.RecordID); err != nil {
			return 0, fmt.Errorf("forget memory: %w", err)
		}
	}
	return len(matches), nil
}

// UpsertDailySummary records the Markdown rollup for one UTC day.
func (d *DB) UpsertDailySummary(day, contentPath string, requestCount int) error {
	now := nowMillis()
	err := d.exec(`
		INSERT INTO memory_daily_summaries (summary_day, content_path, request_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (summary_day) DO UPDATE SET
			content_path = excluded.content_path,
			request_count = excluded.request_count,
			updated_at = excluded.updated_at`,
		day, contentPath, requestCount, now, now)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}
