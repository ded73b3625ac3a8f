package skills

import (
	"os"
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

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name      string
		objective string
		want      string
	}{
		{"lowercase and dashes", "Check the Weekly Report", "check-the-weekly-report"},
		{"punctuation trimmed", "Submit the expense report, please!", "submit-the-expense-report-please"},
		{"capped at eight words", "one two three four five six seven eight nine ten", "one-two-three-four-five-six-seven-eight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeName(tt.objective); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.objective, got, tt.want)
			}
		})
	}
}

func TestNormalizeNameEmptyFallsBack(t *testing.T) {
	got := NormalizeName("!!! ...")
	if !strings.HasPrefix(got, "skill-") {
		t.Errorf("NormalizeName = %q, want timestamp fallback", got)
	}
}

func TestMaybeAutoDraft(t *testing.T) {
	tests := []struct {
		name        string
		in          AutoDraftInput
		wantCreated bool
		wantReason  string
	}{
		{
			"unverified run skipped",
			AutoDraftInput{Objective: "automate the weekly report", Verified: false},
			false, "run not verified",
		},
		{
			"no trigger phrase skipped",
			AutoDraftInput{Objective: "what's the weather like", Verified: true},
			false, "no trigger phrase",
		},
		{
			"generic trigger drafts",
			AutoDraftInput{RunID: "run1", Objective: "automate the weekly report", Verified: true},
			true, "",
		},
		{
			"route trigger drafts",
			AutoDraftInput{RunID: "run2", Objective: "submit the timesheet on the portal", Route: "browser", Verified: true},
			true, "",
		},
		{
			"route trigger ignored off-route",
			AutoDraftInput{RunID: "run3", Objective: "submit the timesheet on the portal", Route: "agent", Verified: true},
			false, "no trigger phrase",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			res, err := svc.MaybeAutoDraft(tt.in)
			if err != nil {
				t.Fatalf("MaybeAutoDraft: %v", err)
			}
			if res.Created != tt.wantCreated {
				t.Errorf("Created = %v (%s), want %v", res.Created, res.Reason, tt.wantCreated)
			}
			if tt.wantReason != "" && res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestMaybeAutoDraftDeduplicatesByName(t *testing.T) {
	svc := newTestService(t)
	in := AutoDraftInput{RunID: "run1", Objective: "automate the weekly report", Verified: true}

	first, err := svc.MaybeAutoDraft(in)
	if err != nil || !first.Created {
		t.Fatalf("first draft = %+v, err %v", first, err)
	}
	second, err := svc.MaybeAutoDraft(in)
	if err != nil {
		t.Fatalf("second draft: %v", err)
	}
	if second.Created {
		t.Error("second draft created, want dedup by name")
	}
	if second.SkillID != first.SkillID {
		t.Errorf("dedup skill id = %q, want %q", second.SkillID, first.SkillID)
	}
}

func TestDraftWritesContentAndRow(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Draft("test-skill", "# Skill\nsteps here\n")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}

	skill, err := svc.db.GetSkill(id)
	if err != nil {
		t.Fatalf("GetSkill: %v", err)
	}
	if skill.Name != "test-skill" || skill.Status != store.SkillDraft {
		t.Errorf("skill = %+v, want draft row", skill)
	}
	data, err := os.ReadFile(skill.ContentPath)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if !strings.Contains(string(data), "steps here") {
		t.Errorf("content = %q", data)
	}
}

func TestReviseAndRollback(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Draft("test-skill", "v1 content")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if _, err := svc.Revise(id, "v2 content", "second pass"); err != nil {
		t.Fatalf("Revise: %v", err)
	}

	versions, err := svc.db.ListSkillVersions(id)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}

	v, err := svc.Rollback(id, 0)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v.Version != 1 {
		t.Errorf("rolled back to v%d, want v1", v.Version)
	}
	skill, _ := svc.db.GetSkill(id)
	if skill.ContentPath != v.ContentPath {
		t.Errorf("skill content = %q, want %q after rollback", skill.ContentPath, v.ContentPath)
	}
}

func TestRollbackWithoutPriorVersionFails(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Draft("test-skill", "only version")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if _, err := svc.Rollback(id, 0); err == nil {
		t.Error("Rollback succeeded with a single version")
	}
}
