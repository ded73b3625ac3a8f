package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	stateDirName  = ".tinyagi"
	legacyDirName = ".tinyclaw"
)

// StateHome resolves the process-wide state directory.
//
// Resolution order:
//  1. TINYAGI_HOME env override (tests, containers).
//  2. A .tinyagi or .tinyclaw directory next to the executable (repo-local dev).
//  3. ~/.tinyagi, migrating from legacy ~/.tinyclaw when present.
//
// The returned directory is created along with the queue/files/logs subtrees.
func StateHome() (string, error) {
	if v := os.Getenv("TINYAGI_HOME"); v != "" {
		return ensureHome(v)
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, name := range []string{stateDirName, legacyDirName} {
			local := filepath.Join(dir, name)
			if st, err := os.Stat(local); err == nil && st.IsDir() {
				return ensureHome(local)
			}
		}
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	home := filepath.Join(userHome, stateDirName)
	legacy := filepath.Join(userHome, legacyDirName)
	if err := migrateLegacyHome(legacy, home); err != nil {
		slog.Warn("legacy state migration failed, continuing with fresh home", "error", err)
	}
	return ensureHome(home)
}

// migrateLegacyHome copies ~/.tinyclaw into ~/.tinyagi once, verifies the copy
// by file count, then replaces the legacy directory with a symlink when possible.
func migrateLegacyHome(legacy, home string) error {
	lst, err := os.Lstat(legacy)
	if err != nil || lst.Mode()&os.ModeSymlink != 0 {
		return nil // no legacy dir, or already migrated
	}
	if _, err := os.Stat(home); err == nil {
		return nil // new home already exists, never clobber it
	}

	slog.Info("migrating legacy state home", "from", legacy, "to", home)
	if err := copyTree(legacy, home); err != nil {
		return fmt.Errorf("copy legacy state: %w", err)
	}

	srcCount, err := countFiles(legacy)
	if err != nil {
		return err
	}
	dstCount, err := countFiles(home)
	if err != nil {
		return err
	}
	if dstCount < srcCount {
		return fmt.Errorf("migration parity check failed: copied %d of %d files", dstCount, srcCount)
	}

	backup := legacy + ".migrated"
	if err := os.Rename(legacy, backup); err != nil {
		return fmt.Errorf("retire legacy dir: %w", err)
	}
	if err := os.Symlink(home, legacy); err != nil {
		// Symlink is best effort (FAT, some mounts); the backup stays usable.
		slog.Warn("could not symlink legacy state home", "error", err)
	}
	return nil
}

func ensureHome(home string) (string, error) {
	for _, sub := range []string{
		"queue/incoming", "queue/processing", "queue/outgoing",
		"files", "logs", "chats", "events",
		"harness", "harness/browser-audit",
		"memory/raw", "memory/daily",
		"skills",
	} {
		if err := os.MkdirAll(filepath.Join(home, sub), 0o755); err != nil {
			return "", fmt.Errorf("create state dir %s: %w", sub, err)
		}
	}
	return home, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func countFiles(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n, err
}
