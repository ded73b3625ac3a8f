package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const summaryRequestCap = 20

// RawEvent is one line of the raw memory event stream under
// memory/raw/YYYY/MM/DD/*.jsonl.
type RawEvent struct {
	Channel   string `json:"channel"`
	Sender    string `json:"sender,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// AppendRaw appends one raw event to the day's JSONL stream.
func (s *Service) AppendRaw(ev *RawEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	day := time.UnixMilli(ev.Timestamp).UTC()
	dir := filepath.Join(s.home, "memory", "raw", day.Format("2006"), day.Format("01"), day.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal raw event: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw stream: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append raw event: %w", err)
	}
	return nil
}

// Summarize collects the raw events for one UTC date (YYYY-MM-DD), groups
// them by channel with the last 20 requests each, writes the Markdown rollup
// to memory/daily/<date>.md and upserts the summary row. Returns the summary
// path.
func (s *Service) Summarize(date string) (string, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("parse date: %w", err)
	}

	dir := filepath.Join(s.home, "memory", "raw", day.Format("2006"), day.Format("01"), day.Format("02"))
	events, err := readRawEvents(dir)
	if err != nil {
		return "", err
	}

	byChannel := map[string][]*RawEvent{}
	for _, ev := range events {
		byChannel[ev.Channel] = append(byChannel[ev.Channel], ev)
	}
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var b strings.Builder
	fmt.Fprintf(&b, "# Daily summary — %s\n\n", date)
	if len(events) == 0 {
		b.WriteString("No activity recorded.\n")
	}
	for _, ch := range channels {
		evs := byChannel[ch]
		fmt.Fprintf(&b, "## %s (%d messages)\n\n", ch, len(evs))
		start := 0
		if len(evs) > summaryRequestCap {
			start = len(evs) - summaryRequestCap
		}
		for _, ev := range evs[start:] {
			msg := strings.TrimSpace(ev.Message)
			if len(msg) > 160 {
				msg = msg[:160] + "…"
			}
			fmt.Fprintf(&b, "- %s: %s\n", time.UnixMilli(ev.Timestamp).UTC().Format("15:04"), msg)
		}
		b.WriteString("\n")
	}

	outDir := filepath.Join(s.home, "memory", "daily")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create daily dir: %w", err)
	}
	path := filepath.Join(outDir, date+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	if err := s.db.UpsertDailySummary(date, path, len(events)); err != nil {
		return "", err
	}
	return path, nil
}

func readRawEvents(dir string) ([]*RawEvent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read raw dir: %w", err)
	}

	var events []*RawEvent
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			var ev RawEvent
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				continue // tolerate malformed lines
			}
			events = append(events, &ev)
		}
		f.Close()
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
	return events, nil
}
