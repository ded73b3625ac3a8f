// Package skills manages versioned skill drafts, including auto-drafting
// from verified repeated-workflow signals.
package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

var triggerPhrases = regexp.MustCompile(`(?i)\b(always|every time|automate|repeat this|workflow|template)\b`)

var routeTriggers = map[string]*regexp.Regexp{
	"tooling": regexp.MustCompile(`(?i)\b(install|configure)\b`),
	"browser": regexp.MustCompile(`(?i)\b(login|log in|submit|portal|dashboard)\b`),
}

// Service drafts and manages skills; content lives under
// <home>/skills/<skillId>/SKILL.md with the repository holding the rows.
type Service struct {
	db   *store.DB
	home string
}

// New creates the skills Service.
func New(db *store.DB, home string) *Service {
	return &Service{db: db, home: home}
}

// AutoDraftInput is the signal from a finished run.
type AutoDraftInput struct {
	UserID    string
	RunID     string
	Objective string
	Route     string
	Verified  bool
}

// AutoDraftResult reports whether a draft was created.
type AutoDraftResult struct {
	Created bool
	SkillID string
	Reason  string
}

// MaybeAutoDraft drafts a skill from a verified run whose objective carries a
// repeat-workflow trigger (generic phrases, or route-specific keywords).
// Dedup is by normalized name.
func (s *Service) MaybeAutoDraft(in AutoDraftInput) (*AutoDraftResult, error) {
	if !in.Verified {
		return &AutoDraftResult{Reason: "run not verified"}, nil
	}
	triggered := triggerPhrases.MatchString(in.Objective)
	if !triggered {
		if re, ok := routeTriggers[in.Route]; ok && re.MatchString(in.Objective) {
			triggered = true
		}
	}
	if !triggered {
		return &AutoDraftResult{Reason: "no trigger phrase"}, nil
	}

	name := NormalizeName(in.Objective)
	if existing, err := s.db.FindSkillByName(name); err == nil {
		return &AutoDraftResult{SkillID: existing.SkillID, Reason: "skill already exists"}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	content := fmt.Sprintf(`# Skill: %s

Drafted automatically from a verified run.

## Trigger

%s

## Route

%s

## Notes

Review this draft, refine the steps, then activate it with
`+"`tinyagi skills activate <id>`"+`.
`, name, strings.TrimSpace(in.Objective), in.Route)

	skillID, err := s.Draft(name, content)
	if err != nil {
		return nil, err
	}
	s.db.AppendEvent(in.RunID, store.EventSkillAutodraft, map[string]any{
		"skill_id": skillID, "name": name, "user_id": in.UserID,
	})
	return &AutoDraftResult{Created: true, SkillID: skillID}, nil
}

// Draft writes a new skill's SKILL.md and creates its row with version 1.
func (s *Service) Draft(name, content string) (string, error) {
	skillID := "skill_" + uuid.NewString()[:8]
	dir := filepath.Join(s.home, "skills", skillID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create skill dir: %w", err)
	}
	path := filepath.Join(dir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write skill content: %w", err)
	}

	if _, err := s.db.CreateSkill(&store.Skill{SkillID: skillID, Name: name}, path, "initial draft"); err != nil {
		return "", err
	}
	return skillID, nil
}

// Revise writes a new content version for an existing skill.
func (s *Service) Revise(skillID, content, note string) (*store.SkillVersion, error) {
	skill, err := s.db.GetSkill(skillID)
	if err != nil {
		return nil, err
	}
	versions, err := s.db.ListSkillVersions(skillID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.home, "skills", skill.SkillID)
	path := filepath.Join(dir, fmt.Sprintf("SKILL.v%d.md", len(versions)+1))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write skill version: %w", err)
	}
	return s.db.AddSkillVersion(skillID, path, note)
}

// Activate moves a skill to active.
func (s *Service) Activate(skillID string) error {
	return s.db.SetSkillStatus(skillID, store.SkillActive)
}

// Disable moves a skill to disabled.
func (s *Service) Disable(skillID string) error {
	return s.db.SetSkillStatus(skillID, store.SkillDisabled)
}

// Rollback points a skill at a prior version. Version 0 means the previous
// one.
func (s *Service) Rollback(skillID string, version int) (*store.SkillVersion, error) {
	if version <= 0 {
		versions, err := s.db.ListSkillVersions(skillID)
		if err != nil {
			return nil, err
		}
		if len(versions) < 2 {
			return nil, fmt.Errorf("skill %s has no prior version", skillID)
		}
		version = versions[len(versions)-2].Version
	}
	return s.db.RollbackSkill(skillID, version)
}

// NormalizeName derives a dedup key from an objective: lowercase, stop
// punctuation removed, first eight words.
func NormalizeName(objective string) string {
	words := strings.Fields(strings.ToLower(objective))
	kept := make([]string, 0, 8)
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()[]")
		if w == "" {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 8 {
			break
		}
	}
	name := strings.Join(kept, "-")
	if name == "" {
		name = "skill-" + time.Now().UTC().Format("20060102-150405")
	}
	return name
}
