package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Spool is the directory-based message queue under <home>/queue.
// All movement between incoming/, processing/ and outgoing/ is a
// same-filesystem rename, so a file is always in exactly one stage.
type Spool struct {
	root  string // <home>/queue
	files string // <home>/files (attachments)
}

// New creates a Spool rooted at the state home. The queue directories are
// created if missing.
func New(home string) (*Spool, error) {
	s := &Spool{
		root:  filepath.Join(home, "queue"),
		files: filepath.Join(home, "files"),
	}
	for _, dir := range []string{s.Incoming(), s.Processing(), s.Outgoing(), s.files} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	return s, nil
}

func (s *Spool) Incoming() string   { return filepath.Join(s.root, "incoming") }
func (s *Spool) Processing() string { return filepath.Join(s.root, "processing") }
func (s *Spool) Outgoing() string   { return filepath.Join(s.root, "outgoing") }

// FilesDir returns the attachment tree.
func (s *Spool) FilesDir() string { return s.files }

// Recover moves every file left in processing/ back to incoming/.
// Called once at startup: anything in processing/ was claimed by a previous
// process that died before finishing.
func (s *Spool) Recover() error {
	entries, err := os.ReadDir(s.Processing())
	if err != nil {
		return fmt.Errorf("read processing dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(s.Processing(), e.Name())
		dst := filepath.Join(s.Incoming(), e.Name())
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("recover %s: %w", e.Name(), err)
		}
		slog.Info("recovered orphaned message", "file", e.Name())
	}
	return nil
}

// ListIncoming returns the *.json files in incoming/ sorted by mtime (oldest
// first). The mtime order is the per-agent execution order.
func (s *Spool) ListIncoming() ([]string, error) {
	entries, err := os.ReadDir(s.Incoming())
	if err != nil {
		return nil, fmt.Errorf("read incoming dir: %w", err)
	}

	type item struct {
		name  string
		mtime time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // raced with a rename, pick it up next tick
		}
		items = append(items, item{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mtime.Before(items[j].mtime) })

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

// EnqueueIncoming writes an envelope into incoming/ under the given filename.
// The write goes through a tmp file so a concurrent lister never sees a
// partial JSON document.
func (s *Spool) EnqueueIncoming(name string, env *Envelope) error {
	return s.writeJSON(filepath.Join(s.Incoming(), name), env)
}

// Claim atomically moves incoming/<name> to processing/<name>. A failed rename
// leaves the file in incoming/ for the next tick.
func (s *Spool) Claim(name string) error {
	src := filepath.Join(s.Incoming(), name)
	dst := filepath.Join(s.Processing(), name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("claim %s: %w", name, err)
	}
	return nil
}

// Requeue moves processing/<name> back to incoming/ after a handler failure.
func (s *Spool) Requeue(name string) error {
	src := filepath.Join(s.Processing(), name)
	dst := filepath.Join(s.Incoming(), name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("requeue %s: %w", name, err)
	}
	return nil
}

// Finish removes processing/<name> once its outgoing envelope is written.
func (s *Spool) Finish(name string) error {
	if err := os.Remove(filepath.Join(s.Processing(), name)); err != nil {
		return fmt.Errorf("finish %s: %w", name, err)
	}
	return nil
}

// ReadProcessing parses the claimed envelope.
func (s *Spool) ReadProcessing(name string) (*Envelope, error) {
	return readEnvelope(filepath.Join(s.Processing(), name))
}

// PeekIncoming parses an envelope still sitting in incoming/ (used to resolve
// its target agent before claiming).
func (s *Spool) PeekIncoming(name string) (*Envelope, error) {
	return readEnvelope(filepath.Join(s.Incoming(), name))
}

// WriteOutgoing writes a reply envelope into outgoing/ with the canonical
// outgoing filename and returns that filename.
func (s *Spool) WriteOutgoing(env *Envelope) (string, error) {
	name := OutgoingName(env.Channel, env.MessageID, time.Now())
	if err := s.writeJSON(filepath.Join(s.Outgoing(), name), env); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Spool) writeJSON(path string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func readEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope %s: %w", filepath.Base(path), err)
	}
	return &env, nil
}
