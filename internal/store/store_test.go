package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLitePath(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	run := &TaskRun{
		RunID: "run1", Channel: "whatsapp", SenderID: "u1",
		Objective: "do the thing", RiskLevel: "low", Status: StatusQueued,
		MaxIterations: 1,
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("create: %v", err)
	}

	run.Status = StatusInProgress
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	got, err := db.GetRun("run1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("status = %q, want updated on re-dispatch", got.Status)
	}
	runs, _ := db.ListRuns(10)
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1 (no duplicate row)", len(runs))
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeRun(t *testing.T) {
	db := openTestDB(t)
	db.CreateRun(&TaskRun{RunID: "run1", Channel: "c", SenderID: "u1", Status: StatusInProgress})

	if err := db.FinalizeRun("run1", StatusSent, "all done"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ := db.GetRun("run1")
	if got.Status != StatusSent || got.ResultText != "all done" {
		t.Errorf("run = %+v, want terminal status and result", got)
	}
}

func TestSupersedeNeedsInput(t *testing.T) {
	db := openTestDB(t)
	db.CreateRun(&TaskRun{RunID: "blocked1", Channel: "whatsapp", SenderID: "u1", Status: StatusNeedsInput})
	db.CreateRun(&TaskRun{RunID: "blocked2", Channel: "whatsapp", SenderID: "u1", Status: StatusNeedsInput})
	db.CreateRun(&TaskRun{RunID: "other-user", Channel: "whatsapp", SenderID: "u2", Status: StatusNeedsInput})
	db.CreateRun(&TaskRun{RunID: "not-blocked", Channel: "whatsapp", SenderID: "u1", Status: StatusInProgress})

	ids, err := db.SupersedeNeedsInput("whatsapp", "u1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("superseded ids = %v, want the two blocked runs", ids)
	}
	for _, id := range ids {
		run, _ := db.GetRun(id)
		if run.Status != StatusRejected {
			t.Errorf("run %s status = %q, want rejected", id, run.Status)
		}
	}
	other, _ := db.GetRun("other-user")
	if other.Status != StatusNeedsInput {
		t.Error("another user's blocked run was superseded")
	}
	active, _ := db.GetRun("not-blocked")
	if active.Status != StatusInProgress {
		t.Error("an in-progress run was superseded")
	}
}

func TestEventsAndSteps(t *testing.T) {
	db := openTestDB(t)
	db.CreateRun(&TaskRun{RunID: "run1", Channel: "c", SenderID: "u1", Status: StatusInProgress})

	db.AppendEvent("run1", EventRiskClassified, map[string]any{"level": "low"})
	db.AppendEvent("run1", EventLoopCompleted, map[string]any{"iterations": 1})
	db.AppendEvent("run1", EventLoopCompleted, nil)

	events, err := db.ListEvents("run1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Type != EventRiskClassified {
		t.Errorf("first event = %q, want insertion order preserved", events[0].Type)
	}
	if events[0].Payload["level"] != "low" {
		t.Errorf("payload = %v, want round-tripped map", events[0].Payload)
	}

	n, err := db.CountEvents("run1", EventLoopCompleted)
	if err != nil || n != 2 {
		t.Errorf("CountEvents = %d (%v), want 2", n, err)
	}

	last, err := db.LastEventTime("run1", EventLoopCompleted)
	if err != nil {
		t.Fatalf("last event time: %v", err)
	}
	if time.Since(last) > time.Minute {
		t.Errorf("last event time = %v, want recent", last)
	}

	db.AppendStep("run1", 1, "generate", "candidate text")
	db.AppendStep("run1", 1, "verify", "pass")
	steps, err := db.ListSteps("run1")
	if err != nil || len(steps) != 2 {
		t.Fatalf("steps = %d (%v), want 2", len(steps), err)
	}
	if steps[0].Kind != "generate" || steps[1].Kind != "verify" {
		t.Errorf("step order = %q, %q", steps[0].Kind, steps[1].Kind)
	}
}

func TestPendingLifecycle(t *testing.T) {
	db := openTestDB(t)
	p := &PendingMessage{MessageID: "m1", Channel: "whatsapp", Sender: "Sam", SenderID: "u1", ChatRef: "chat1"}

	if err := db.RememberPending(p, 0); err != nil {
		t.Fatalf("remember: %v", err)
	}
	got, err := db.ReadPending("whatsapp", "m1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SenderID != "u1" || got.ChatRef != "chat1" {
		t.Errorf("pending = %+v", got)
	}

	// Re-remember refreshes in place.
	p.ReplyRef = "run_42"
	if err := db.RememberPending(p, 0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, _ = db.ReadPending("whatsapp", "m1")
	if got.ReplyRef != "run_42" {
		t.Errorf("reply ref = %q, want refreshed", got.ReplyRef)
	}

	if err := db.ClearPending("m1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := db.ReadPending("whatsapp", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after clear", err)
	}
}

func TestPendingExpiry(t *testing.T) {
	db := openTestDB(t)
	p := &PendingMessage{MessageID: "m1", Channel: "whatsapp", SenderID: "u1"}
	if err := db.RememberPending(p, time.Millisecond); err != nil {
		t.Fatalf("remember: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := db.ReadPending("whatsapp", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want expired row invisible", err)
	}
	n, err := db.PurgeExpiredPending()
	if err != nil || n != 1 {
		t.Errorf("purged = %d (%v), want 1", n, err)
	}
	n, _ = db.PurgeExpiredPending()
	if n != 0 {
		t.Errorf("second purge = %d, want 0", n)
	}
}

func TestMetrics(t *testing.T) {
	db := openTestDB(t)
	db.IncrMetric(MetricResponsesSent, 1, nil)
	db.IncrMetric(MetricResponsesSent, 1, map[string]any{"channel": "whatsapp"})
	db.IncrMetric(MetricResponsesSent, 1, nil)
	db.IncrMetric(MetricResponsesLost, 1, nil)

	m, err := db.Metrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m[MetricResponsesSent] != 3 {
		t.Errorf("delivered = %v, want 3", m[MetricResponsesSent])
	}
	if got := m["response_loss_rate"]; got != 0.25 {
		t.Errorf("response_loss_rate = %v, want 0.25", got)
	}
}

func TestMetricsNoLossRateWithoutResponses(t *testing.T) {
	db := openTestDB(t)
	db.IncrMetric(MetricTasksCompleted, 1, nil)
	m, _ := db.Metrics()
	if _, ok := m["response_loss_rate"]; ok {
		t.Error("loss rate present without any responses")
	}
}

func TestPermissionLifecycle(t *testing.T) {
	db := openTestDB(t)

	ok, err := db.HasActivePermission("u1", "npm", "execute")
	if err != nil || ok {
		t.Fatalf("initial permission = %v (%v), want none", ok, err)
	}

	requestID, err := db.CreatePendingPermission("u1", "npm", "execute", "tool")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if ok, _ := db.HasActivePermission("u1", "npm", "execute"); ok {
		t.Error("pending request counts as active")
	}

	if err := db.ApprovePermission(requestID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ok, _ := db.HasActivePermission("u1", "npm", "execute"); !ok {
		t.Error("approved request not active")
	}

	// A second approve of the same id no longer matches a pending row.
	if err := db.ApprovePermission(requestID); !errors.Is(err, ErrNotFound) {
		t.Errorf("re-approve err = %v, want ErrNotFound", err)
	}

	if err := db.RevokePermission(requestID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := db.HasActivePermission("u1", "npm", "execute"); ok {
		t.Error("revoked grant still active")
	}
}

func TestGrantPermissionActivatesPendingInPlace(t *testing.T) {
	db := openTestDB(t)
	requestID, err := db.CreatePendingPermission("u1", "git", "execute", "tool")
	if err != nil {
		t.Fatal(err)
	}

	id, err := db.GrantPermission("u1", "git", "execute", "cli")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if id != requestID {
		t.Errorf("grant id = %q, want the pending request %q reused", id, requestID)
	}
	perms, _ := db.ListPermissions("u1")
	if len(perms) != 1 || perms[0].Status != PermActive {
		t.Errorf("perms = %+v, want one active row", perms)
	}
}

func TestBrowserSessionAndTabs(t *testing.T) {
	db := openTestDB(t)
	db.CreateRun(&TaskRun{RunID: "run1", Channel: "c", SenderID: "u1", Status: StatusInProgress})

	session := &BrowserSession{Host: "127.0.0.1", Port: 9333, Provider: "cdp", Status: TabActive}
	if err := db.UpsertBrowserSession(session); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	// Same (host, port) refreshes rather than duplicating.
	if err := db.UpsertBrowserSession(&BrowserSession{
		Host: "127.0.0.1", Port: 9333, Provider: "cdp", Status: TabActive,
	}); err != nil {
		t.Fatalf("re-upsert session: %v", err)
	}
	sessions, err := db.ListBrowserSessions(TabActive)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want (host, port) deduplicated", len(sessions))
	}

	tab := &BrowserTab{SessionID: session.SessionID, RunID: "run1"}
	if err := db.CreateBrowserTab(tab); err != nil {
		t.Fatalf("create tab: %v", err)
	}
	if err := db.SaveTabTrace(tab.TabID, `[{"kind":"navigate"}]`); err != nil {
		t.Fatalf("save trace: %v", err)
	}
	if err := db.SetTabStatus(tab.TabID, TabReleased); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := db.LatestTabForRun("run1")
	if err != nil {
		t.Fatalf("latest tab: %v", err)
	}
	if got.TabID != tab.TabID || got.TraceJSON == "" || got.Status != TabReleased {
		t.Errorf("tab = %+v", got)
	}

	if _, err := db.LatestTabForRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
