package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	home := t.TempDir()
	db, err := store.OpenSQLitePath(filepath.Join(home, "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, home)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCategory string
		wantValue    string
	}{
		{"preference", "I prefer morning meetings over afternoon ones.", store.MemPreferences, "morning meetings over afternoon ones"},
		{"standing instruction", "Please always cc my assistant on invites.", store.MemPreferences, "cc my assistant on invites"},
		{"workflow", "This is my workflow: triage inbox, then deep work.", store.MemWorkflows, "triage inbox, then deep work."},
		{"project", "I'm working on the garden renovation this month.", store.MemProjects, "the garden renovation this month"},
		{"task note", "Remember that the dentist moved to Thursday.", store.MemTaskStates, "the dentist moved to Thursday"},
		{"correction", "Actually, the meeting is at 3pm not 2pm.", store.MemConfirmedFacts, "the meeting is at 3pm not 2pm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := Extract(tt.text)
			if len(facts) == 0 {
				t.Fatalf("Extract(%q) found nothing", tt.text)
			}
			f := facts[0]
			if f.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", f.Category, tt.wantCategory)
			}
			if f.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", f.Value, tt.wantValue)
			}
			if f.Confidence <= 0 || f.Confidence > 1 {
				t.Errorf("confidence = %v, want (0, 1]", f.Confidence)
			}
		})
	}
}

func TestExtractNothing(t *testing.T) {
	if facts := Extract("can you check the weather for tomorrow"); len(facts) != 0 {
		t.Errorf("Extract = %+v, want no facts from plain requests", facts)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	facts := Extract("I prefer tea. I prefer tea.")
	if len(facts) != 1 {
		t.Errorf("facts = %+v, want one deduplicated fact", facts)
	}
}

func TestRecordIDStable(t *testing.T) {
	a := RecordID("u1", store.MemPreferences, "prefers:tea")
	b := RecordID("u1", store.MemPreferences, "prefers:tea")
	c := RecordID("u2", store.MemPreferences, "prefers:tea")
	if a != b {
		t.Error("same tuple produced different ids")
	}
	if a == c {
		t.Error("different users share a record id")
	}
	if !strings.HasPrefix(a, "mem_") {
		t.Errorf("id = %q, want mem_ prefix", a)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	n, err := svc.Ingest("u1", "run1", "I prefer tea over coffee.")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n != 1 {
		t.Fatalf("ingested %d facts, want 1", n)
	}

	if _, err := svc.Ingest("u1", "run2", "I prefer tea over coffee."); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	records, err := svc.db.ListMemory("u1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1 after repeated ingest", len(records))
	}
}

func TestIngestHigherConfidenceWins(t *testing.T) {
	svc := newTestService(t)

	low := &store.MemoryRecord{
		RecordID: RecordID("u1", store.MemPreferences, "prefers:x"),
		UserID:   "u1", Category: store.MemPreferences, Key: "prefers:x",
		Value: "old value", Confidence: 0.5,
	}
	if err := svc.db.UpsertMemory(low); err != nil {
		t.Fatal(err)
	}
	high := &store.MemoryRecord{
		RecordID: low.RecordID, UserID: "u1", Category: store.MemPreferences,
		Key: "prefers:x", Value: "new value", Confidence: 0.9,
	}
	if err := svc.db.UpsertMemory(high); err != nil {
		t.Fatal(err)
	}

	records, _ := svc.db.ListMemory("u1", "")
	if len(records) != 1 || records[0].Value != "new value" || records[0].Confidence != 0.9 {
		t.Errorf("records = %+v, want the higher-confidence value", records[0])
	}

	// A later low-confidence write must not clobber it.
	stale := &store.MemoryRecord{
		RecordID: low.RecordID, UserID: "u1", Category: store.MemPreferences,
		Key: "prefers:x", Value: "stale value", Confidence: 0.3,
	}
	if err := svc.db.UpsertMemory(stale); err != nil {
		t.Fatal(err)
	}
	records, _ = svc.db.ListMemory("u1", "")
	if records[0].Value != "new value" {
		t.Errorf("value = %q, want low-confidence write ignored", records[0].Value)
	}
}

func TestRetrieveContextRanksByRelevance(t *testing.T) {
	svc := newTestService(t)
	svc.Ingest("u1", "run1", "I prefer window seats on long flights.")
	svc.Ingest("u1", "run2", "Remember that the garden fence needs painting.")

	ctx, err := svc.RetrieveContext("u1", "book a flight with a window seat")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.HasPrefix(ctx, "Relevant memory:") {
		t.Errorf("context missing header: %q", ctx)
	}
	lines := strings.Split(strings.TrimSpace(ctx), "\n")
	if len(lines) < 2 || !strings.Contains(lines[1], "window seats") {
		t.Errorf("top match = %q, want the flight preference first", lines[1])
	}
}

func TestRetrieveContextEmptyStore(t *testing.T) {
	svc := newTestService(t)
	ctx, err := svc.RetrieveContext("u1", "anything")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if ctx != "" {
		t.Errorf("context = %q, want empty for a user with no records", ctx)
	}
}
