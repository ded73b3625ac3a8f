package store

import (
	"database/sql"
	"fmt"
)

// CreateSkill inserts a skill row plus its version 1.
func (d *DB) CreateSkill(s *Skill, contentPath, note string) (*SkillVersion, error) {
	now := nowMillis()
	if s.Status == "" {
		s.Status = SkillDraft
	}
	s.ContentPath = contentPath
	if err := d.exec(`
		INSERT INTO skills (skill_id, name, status, content_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SkillID, s.Name, s.Status, s.ContentPath, now, now); err != nil {
		return nil, fmt.Errorf("create skill: %w", err)
	}

	v := &SkillVersion{
		VersionID:   newID(),
		SkillID:     s.SkillID,
		Version:     1,
		ContentPath: contentPath,
		Note:        note,
		CreatedAt:   fromMillis(now),
	}
	if err := d.exec(`
		INSERT INTO skill_versions (version_id, skill_id, version, content_path, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.SkillID, v.Version, v.ContentPath, v.Note, now); err != nil {
		return nil, fmt.Errorf("create skill version: %w", err)
	}
	return v, nil
}

// AddSkillVersion appends the next immutable version and points the skill row
// at it.
func (d *DB) AddSkillVersion(skillID, contentPath, note string) (*SkillVersion, error) {
	var maxVer int
	if err := d.queryRow(`
		SELECT COALESCE(MAX(version), 0) FROM skill_versions WHERE skill_id = ?`,
		skillID).Scan(&maxVer); err != nil {
		return nil, fmt.Errorf("next skill version: %w", err)
	}

	now := nowMillis()
	v := &SkillVersion{
		VersionID:   newID(),
		SkillID:     skillID,
		Version:     maxVer + 1,
		ContentPath: contentPath,
		Note:        note,
		CreatedAt:   fromMillis(now),
	}
	if err := d.exec(`
		INSERT INTO skill_versions (version_id, skill_id, version, content_path, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.SkillID, v.Version, v.ContentPath, v.Note, now); err != nil {
		return nil, fmt.Errorf("add skill version: %w", err)
	}
	if err := d.exec(`
		UPDATE skills SET content_path = ?, updated_at = ? WHERE skill_id = ?`,
		contentPath, now, skillID); err != nil {
		return nil, fmt.Errorf("point skill at version: %w", err)
	}
	return v, nil
}

// GetSkill returns one skill by id.
func (d *DB) GetSkill(skillID string) (*Skill, error) {
	row := d.queryRow(`
		SELECT skill_id, name, status, content_path, created_at, updated_at
		FROM skills WHERE skill_id = ?`, skillID)
	return scanSkill(row)
}

// FindSkillByName returns one skill by its unique name.
func (d *DB) FindSkillByName(name string) (*Skill, error) {
	row := d.queryRow(`
		SELECT skill_id, name, status, content_path, created_at, updated_at
		FROM skills WHERE name = ?`, name)
	return scanSkill(row)
}

// ListSkills returns all skills.
func (d *DB) ListSkills() ([]*Skill, error) {
	rows, err := d.query(`
		SELECT skill_id, name, status, content_path, created_at, updated_at
		FROM skills ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSkillVersions returns a skill's version history, oldest first.
func (d *DB) ListSkillVersions(skillID string) ([]*SkillVersion, error) {
	rows, err := d.query(`
		SELECT version_id, skill_id, version, content_path, note, created_at
		FROM skill_versions WHERE skill_id = ? ORDER BY version ASC`, skillID)
	if err != nil {
		return nil, fmt.Errorf("list skill versions: %w", err)
	}
	defer rows.Close()

	var out []*SkillVersion
	for rows.Next() {
		var v SkillVersion
		var created int64
		if err := rows.Scan(&v.VersionID, &v.SkillID, &v.Version, &v.ContentPath, &v.Note, &created); err != nil {
			return nil, fmt.Errorf("scan skill version: %w", err)
		}
		v.CreatedAt = fromMillis(created)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// SetSkillStatus moves a skill to draft/active/disabled.
func (d *DB) SetSkillStatus(skillID, status string) error {
	res, err := d.sql.Exec(d.bind(`
		UPDATE skills SET status = ?, updated_at = ? WHERE skill_id = ?`),
		status, nowMillis(), skillID)
	if err != nil {
		return fmt.Errorf("set skill status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RollbackSkill points the skill row at a prior version's content path.
func (d *DB) RollbackSkill(skillID string, version int) (*SkillVersion, error) {
	row := d.queryRow(`
		SELECT version_id, skill_id, version, content_path, note, created_at
		FROM skill_versions WHERE skill_id = ? AND version = ?`, skillID, version)

	var v SkillVersion
	var created int64
	err := row.Scan(&v.VersionID, &v.SkillID, &v.Version, &v.ContentPath, &v.Note, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find skill version: %w", err)
	}
	v.CreatedAt = fromMillis(created)

	if err := d.exec(`
		UPDATE skills SET content_path = ?, updated_at = ? WHERE skill_id = ?`,
		v.ContentPath, nowMillis(), skillID); err != nil {
		return nil, fmt.Errorf("rollback skill: %w", err)
	}
	return &v, nil
}

func scanSkill(row rowScanner) (*Skill, error) {
	var s Skill
	var created, updated int64
	err := row.Scan(&s.SkillID, &s.Name, &s.Status, &s.ContentPath, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan skill: %w", err)
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}
