package store

import (
	"database/sql"
	"fmt"
)

// UpsertBrowserSession records a live debugger endpoint keyed by (host, port).
// The launcher is idempotent: re-recording a reachable endpoint refreshes it.
func (d *DB) UpsertBrowserSession(s *BrowserSession) error {
	if s.SessionID == "" {
		s.SessionID = newID()
	}
	now := nowMillis()
	err := d.exec(`
		INSERT INTO browser_sessions (session_id, host, port, profile_path, provider, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host, port) DO UPDATE SET
			profile_path = excluded.profile_path,
			provider = excluded.provider,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		s.SessionID, s.Host, s.Port, s.ProfilePath, s.Provider, s.Status, now, now)
	if err != nil {
		return fmt.Errorf("upsert browser session: %w", err)
	}
	return nil
}

// ListBrowserSessions returns sessions filtered by status ("" = all).
func (d *DB) ListBrowserSessions(status string) ([]*BrowserSession, error) {
	q := `SELECT session_id, host, port, profile_path, provider, status, created_at, updated_at
		FROM browser_sessions`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list browser sessions: %w", err)
	}
	defer rows.Close()

	var out []*BrowserSession
	for rows.Next() {
		var s BrowserSession
		var created, updated int64
		if err := rows.Scan(&s.SessionID, &s.Host, &s.Port, &s.ProfilePath,
			&s.Provider, &s.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan browser session: %w", err)
		}
		s.CreatedAt = fromMillis(created)
		s.UpdatedAt = fromMillis(updated)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// CreateBrowserTab opens a tab row owned by a run.
func (d *DB) CreateBrowserTab(t *BrowserTab) error {
	if t.TabID == "" {
		t.TabID = newID()
	}
	if t.Status == "" {
		t.Status = TabActive
	}
	if t.TraceJSON == "" {
		t.TraceJSON = "[]"
	}
	now := nowMillis()
	err := d.exec(`
		INSERT INTO browser_tabs (tab_id, session_id, run_id, status, trace_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TabID, t.SessionID, t.RunID, t.Status, t.TraceJSON, now, now)
	if err != nil {
		return fmt.Errorf("create browser tab: %w", err)
	}
	return nil
}

// SetTabStatus transitions a tab: active → error | released.
func (d *DB) SetTabStatus(tabID, status string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE browser_tabs SET status = ?, updated_at = ? WHERE tab_id = ?`),
		status, nowMillis(), tabID)
	if err != nil {
		return fmt.Errorf("set tab status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTabTrace persists the tab's selector-trace JSON.
func (d *DB) SaveTabTrace(tabID, traceJSON string) error {
	if err := d.exec(`
		UPDATE browser_tabs SET trace_json = ?, updated_at = ? WHERE tab_id = ?`,
		traceJSON, nowMillis(), tabID); err != nil {
		return fmt.Errorf("save tab trace: %w", err)
	}
	return nil
}

// LatestTabForRun returns the most recent tab owned by runID.
func (d *DB) LatestTabForRun(runID string) (*BrowserTab, error) {
	row := d.queryRow(`
		SELECT tab_id, session_id, run_id, status, trace_json, created_at, updated_at
		FROM browser_tabs WHERE run_id = ? ORDER BY created_at DESC LIMIT 1`, runID)

	var t BrowserTab
	var created, updated int64
	err := row.Scan(&t.TabID, &t.SessionID, &t.RunID, &t.Status, &t.TraceJSON, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest tab: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

// ListTabs returns tabs, optionally scoped to one run.
func (d *DB) ListTabs(runID string) ([]*BrowserTab, error) {
	q := `SELECT tab_id, session_id, run_id, status, trace_json, created_at, updated_at FROM browser_tabs`
	args := []any{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	defer rows.Close()

	var out []*BrowserTab
	for rows.Next() {
		var t BrowserTab
		var created, updated int64
		if err := rows.Scan(&t.TabID, &t.SessionID, &t.RunID, &t.Status, &t.TraceJSON, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		t.CreatedAt = fromMillis(created)
		t.UpdatedAt = fromMillis(updated)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CreateBrowserAction marks one planned step before it executes.
func (d *DB) CreateBrowserAction(a *BrowserAction) error {
	if a.ActionID == "" {
		a.ActionID = newID()
	}
	if a.Status == "" {
		a.Status = "pending"
	}
	now := nowMillis()
	requires := 0
	if a.RequiresApproval {
		requires = 1
	}
	err := d.exec(`
		INSERT INTO browser_actions (action_id, tab_id, run_id, step_index, kind, selector,
			value, risk, requires_approval, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ActionID, a.TabID, a.RunID, a.StepIndex, a.Kind, a.Selector,
		a.Value, a.Risk, requires, a.Status, now, now)
	if err != nil {
		return fmt.Errorf("create browser action: %w", err)
	}
	return nil
}

// SetActionStatus updates one action's execution status.
func (d *DB) SetActionStatus(actionID, status string) error {
	if err := d.exec(`
		UPDATE browser_actions SET status = ?, updated_at = ? WHERE action_id = ?`,
		status, nowMillis(), actionID); err != nil {
		return fmt.Errorf("set action status: %w", err)
	}
	return nil
}

// CreateBrowserApproval inserts a pending approval request for an action and
// returns its id (breq_<uuid> style handled by the caller via ApprovalID).
func (d *DB) CreateBrowserApproval(a *BrowserApproval) error {
	if a.ApprovalID == "" {
		a.ApprovalID = newID()
	}
	if a.Status == "" {
		a.Status = "pending"
	}
	now := nowMillis()
	err := d.exec(`
		INSERT INTO browser_approvals (approval_id, action_id, run_id, user_id, reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ApprovalID, a.ActionID, a.RunID, a.UserID, a.Reason, a.Status, now, now)
	if err != nil {
		return fmt.Errorf("create browser approval: %w", err)
	}
	return nil
}

// DecideBrowserApproval resolves a pending approval to approved/denied.
func (d *DB) DecideBrowserApproval(approvalID, decision string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE browser_approvals SET status = ?, updated_at = ?
		WHERE approval_id = ? AND status = 'pending'`),
		decision, nowMillis(), approvalID)
	if err != nil {
		return fmt.Errorf("decide browser approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBrowserApprovals returns approvals, optionally filtered by user.
func (d *DB) ListBrowserApprovals(userID string) ([]*BrowserApproval, error) {
	q := `SELECT approval_id, action_id, run_id, user_id, reason, status, created_at, updated_at
		FROM browser_approvals`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list browser approvals: %w", err)
	}
	defer rows.Close()

	var out []*BrowserApproval
	for rows.Next() {
		var a BrowserApproval
		var created, updated int64
		if err := rows.Scan(&a.ApprovalID, &a.ActionID, &a.RunID, &a.UserID,
			&a.Reason, &a.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan browser approval: %w", err)
		}
		a.CreatedAt = fromMillis(created)
		a.UpdatedAt = fromMillis(updated)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListBrowserAudits returns a run's audit rows in insertion order.
func (d *DB) ListBrowserAudits(runID string) ([]*BrowserAudit, error) {
	rows, err := d.query(`
		SELECT audit_id, action_id, run_id, event_type, before_screenshot,
			after_screenshot, trace_json, created_at
		FROM browser_audits WHERE run_id = ? ORDER BY created_at ASC, audit_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list browser audits: %w", err)
	}
	defer rows.Close()

	var out []*BrowserAudit
	for rows.Next() {
		var a BrowserAudit
		var created int64
		if err := rows.Scan(&a.AuditID, &a.ActionID, &a.RunID, &a.EventType,
			&a.BeforeScreenshot, &a.AfterScreenshot, &a.TraceJSON, &created); err != nil {
			return nil, fmt.Errorf("scan browser audit: %w", err)
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AppendBrowserAudit records one append-only audit row for an action.
func (d *DB) AppendBrowserAudit(a *BrowserAudit) error {
	if a.AuditID == "" {
		a.AuditID = newID()
	}
	if a.TraceJSON == "" {
		a.TraceJSON = "{}"
	}
	err := d.exec(`
		INSERT INTO browser_audits (audit_id, action_id, run_id, event_type,
			before_screenshot, after_screenshot, trace_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AuditID, a.ActionID, a.RunID, a.EventType,
		a.BeforeScreenshot, a.AfterScreenshot, a.TraceJSON, nowMillis())
	if err != nil {
		return fmt.Errorf("append browser audit: %w", err)
	}
	return nil
}
