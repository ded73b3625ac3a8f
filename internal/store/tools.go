package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SlugifyTool derives the tool id from its display name.
func SlugifyTool(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// UpsertTool registers a tool by its name, keeping the existing status on
// conflict (approval decisions are never clobbered by re-registration).
func (d *DB) UpsertTool(t *ToolInfo) error {
	if t.ToolID == "" {
		t.ToolID = SlugifyTool(t.Name)
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal tool metadata: %w", err)
	}
	if t.Metadata == nil {
		meta = []byte("{}")
	}
	now := nowMillis()
	err = d.exec(`
		INSERT INTO tool_registry (tool_id, name, source, trust_class, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			source = excluded.source,
			trust_class = excluded.trust_class,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		t.ToolID, t.Name, t.Source, t.TrustClass, t.Status, string(meta), now, now)
	if err != nil {
		return fmt.Errorf("upsert tool: %w", err)
	}
	return nil
}

// GetTool returns one tool by name.
func (d *DB) GetTool(name string) (*ToolInfo, error) {
	row := d.queryRow(`
		SELECT tool_id, name, source, trust_class, status, metadata, created_at, updated_at
		FROM tool_registry WHERE name = ?`, name)
	return scanTool(row)
}

// SetToolStatus moves a tool to approved/blocked/pending.
func (d *DB) SetToolStatus(name, status string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE tool_registry SET status = ?, updated_at = ? WHERE name = ?`),
		status, nowMillis(), name)
	if err != nil {
		return fmt.Errorf("set tool status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTools returns every registered tool.
func (d *DB) ListTools() ([]*ToolInfo, error) {
	rows, err := d.query(`
		SELECT tool_id, name, source, trust_class, status, metadata, created_at, updated_at
		FROM tool_registry ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []*ToolInfo
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendToolEvent records one tool execution lifecycle event.
func (d *DB) AppendToolEvent(toolID, runID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tool event: %w", err)
	}
	if payload == nil {
		data = []byte("{}")
	}
	if err := d.exec(`
		INSERT INTO tool_events (event_id, tool_id, run_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), toolID, runID, eventType, string(data), nowMillis()); err != nil {
		return fmt.Errorf("append tool event: %w", err)
	}
	return nil
}

func scanTool(row rowScanner) (*ToolInfo, error) {
	var t ToolInfo
	var meta string
	var created, updated int64
	err := row.Scan(&t.ToolID, &t.Name, &t.Source, &t.TrustClass, &t.Status, &meta, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool: %w", err)
	}
	json.Unmarshal([]byte(meta), &t.Metadata)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}
