// Package proactive runs the background scheduler: quiet-hours deferral,
// daily digests and nudges for runs blocked on the user.
package proactive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/queue"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

const (
	tickInterval = 60 * time.Second

	outreachMinAge   = 10 * time.Minute
	outreachMaxAge   = 24 * time.Hour
	outreachMaxCount = 3
	outreachGap      = 4 * time.Hour

	digestActivityWindow = 24 * time.Hour

	deferredFile = "proactive-deferred.jsonl"
	stateFile    = "proactive-state.json"
)

// deferredMessage is one outbound message held back by quiet hours.
type deferredMessage struct {
	Envelope *queue.Envelope `json:"envelope"`
	Urgent   bool            `json:"urgent"`
	QueuedAt int64           `json:"queuedAt"`
}

// schedulerState is the little bit of persistence the scheduler needs across
// restarts: which targets already got today's digest.
type schedulerState struct {
	DigestSent map[string]string `json:"digestSent"` // target → YYYY-MM-DD
}

// Scheduler drives the proactive side of the assistant off a one-minute tick.
type Scheduler struct {
	cfg     *config.Config
	db      *store.DB
	spool   *queue.Spool
	home    string
	log     *slog.Logger
	gron    *gronx.Gronx
	limiter *rate.Limiter
	ticking atomic.Bool

	now func() time.Time // test seam
}

// New creates the Scheduler. Outbound nudges are paced to one per 30 seconds
// with a small burst so a backlog can't flood a channel.
func New(cfg *config.Config, db *store.DB, spool *queue.Spool, home string, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		spool:   spool,
		home:    home,
		log:     log.With("component", "proactive"),
		gron:    gronx.New(),
		limiter: rate.NewLimiter(rate.Every(30*time.Second), 3),
		now:     time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass. Overlapping ticks are skipped: a slow pass
// must not stack up behind the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		return
	}
	defer s.ticking.Store(false)

	if !s.cfg.Harness.Enabled {
		return
	}

	now := s.now()
	quiet := s.InQuietHours(now)

	if !quiet {
		if err := s.flushDeferred(); err != nil {
			s.log.Warn("deferred flush failed", "error", err)
		}
		s.runDigest(now)
		s.runOutreach(ctx, now)
	}

	if n, err := s.db.PurgeExpiredPending(); err == nil && n > 0 {
		s.log.Debug("purged expired pending messages", "count", n)
	}
}

// Send delivers an outbound envelope now, or defers it during quiet hours.
// Urgent messages bypass the deferral.
func (s *Scheduler) Send(env *queue.Envelope, urgent bool) error {
	if s.InQuietHours(s.now()) && !urgent {
		return s.deferMessage(env, urgent)
	}
	_, err := s.spool.WriteOutgoing(env)
	return err
}

// InQuietHours reports whether t falls inside the configured window.
// A window whose start is after its end wraps around midnight.
func (s *Scheduler) InQuietHours(t time.Time) bool {
	start, okS := parseClock(s.cfg.Harness.QuietHours.Start)
	end, okE := parseClock(s.cfg.Harness.QuietHours.End)
	if !okS || !okE || start == end {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(hhmm string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(hhmm), "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func (s *Scheduler) deferMessage(env *queue.Envelope, urgent bool) error {
	path := filepath.Join(s.home, "harness", deferredFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open deferred outbox: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(&deferredMessage{Envelope: env, Urgent: urgent, QueuedAt: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal deferred message: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append deferred message: %w", err)
	}
	s.log.Info("message deferred to quiet-hours outbox", "channel", env.Channel)
	return nil
}

// flushDeferred replays the quiet-hours outbox into the outgoing queue, then
// truncates it. A partially failing flush keeps the unsent remainder.
func (s *Scheduler) flushDeferred() error {
	path := filepath.Join(s.home, "harness", deferredFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var remainder []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	flushed := 0
	for sc.Scan() {
		line := sc.Text()
		var msg deferredMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Envelope == nil {
			continue // drop malformed lines
		}
		if _, err := s.spool.WriteOutgoing(msg.Envelope); err != nil {
			remainder = append(remainder, line)
			continue
		}
		flushed++
	}
	f.Close()

	if flushed > 0 {
		s.log.Info("flushed deferred messages", "count", flushed, "kept", len(remainder))
	}
	if len(remainder) == 0 {
		return os.Remove(path)
	}
	return os.WriteFile(path, []byte(strings.Join(remainder, "\n")+"\n"), 0o644)
}

// runDigest sends the daily digest when the configured time comes due: one
// per (channel, sender) with recent activity, at most once per day each.
func (s *Scheduler) runDigest(now time.Time) {
	digestTime := s.cfg.Harness.DigestTime
	if digestTime == "" {
		return
	}
	clock, ok := parseClock(digestTime)
	if !ok {
		return
	}
	expr := fmt.Sprintf("%d %d * * *", clock%60, clock/60)
	due, err := s.gron.IsDue(expr, now)
	if err != nil || !due {
		return
	}

	targets, err := s.db.ListDigestTargets(now.Add(-digestActivityWindow))
	if err != nil {
		s.log.Warn("digest target query failed", "error", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	state := s.loadState()
	today := now.Format("2006-01-02")
	body, err := s.buildDigest(now)
	if err != nil {
		s.log.Warn("digest build failed", "error", err)
		return
	}

	sent := 0
	for _, t := range targets {
		key := t.Channel + "|" + t.SenderID
		if state.DigestSent[key] == today {
			continue
		}
		env := &queue.Envelope{
			Channel:   t.Channel,
			Sender:    t.Sender,
			SenderID:  t.SenderID,
			Message:   body,
			MessageID: "digest_" + uuid.NewString()[:8],
			Timestamp: now.UnixMilli(),
		}
		if err := s.Send(env, false); err != nil {
			s.log.Warn("digest send failed", "target", key, "error", err)
			continue
		}
		state.DigestSent[key] = today
		sent++
	}
	if sent > 0 {
		s.saveState(state)
		s.log.Info("daily digest sent", "targets", sent)
	}
}

func (s *Scheduler) buildDigest(now time.Time) (string, error) {
	metrics, err := s.db.Metrics()
	if err != nil {
		return "", err
	}
	runs, err := s.db.ListRuns(10)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily digest — %s\n\n", now.Format("Mon Jan 2"))
	fmt.Fprintf(&b, "Tasks: %.0f completed, %.0f failed, %.0f waiting on you.\n",
		metrics[store.MetricTasksCompleted], metrics[store.MetricTasksFailed], metrics[store.MetricTasksNeedsInput])
	if len(runs) > 0 {
		b.WriteString("\nRecent:\n")
		for _, r := range runs {
			obj := r.Objective
			if len(obj) > 80 {
				obj = obj[:80] + "…"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", r.Status, obj)
		}
	}
	return b.String(), nil
}

// runOutreach nudges users whose runs are blocked on their input: blocked
// between 10 minutes and 24 hours, fewer than three nudges so far, at least
// four hours since the last one.
func (s *Scheduler) runOutreach(ctx context.Context, now time.Time) {
	runs, err := s.db.ListBlockedRunsForOutreach(outreachMinAge, outreachMaxAge)
	if err != nil {
		s.log.Warn("outreach query failed", "error", err)
		return
	}

	for _, run := range runs {
		count, err := s.db.CountEvents(run.RunID, store.EventProactiveOutreach)
		if err != nil || count >= outreachMaxCount {
			continue
		}
		if count > 0 {
			last, err := s.db.LastEventTime(run.RunID, store.EventProactiveOutreach)
			if err != nil || now.Sub(last) < outreachGap {
				continue
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		obj := run.Objective
		if len(obj) > 120 {
			obj = obj[:120] + "…"
		}
		env := &queue.Envelope{
			Channel:   run.Channel,
			Sender:    run.Sender,
			SenderID:  run.SenderID,
			Agent:     run.AssignedAgent,
			Message:   fmt.Sprintf("Still waiting on you for: %q. Reply here to continue, or /deny to drop it.", obj),
			MessageID: "nudge_" + uuid.NewString()[:8],
			Timestamp: now.UnixMilli(),
		}
		if err := s.Send(env, false); err != nil {
			s.log.Warn("outreach send failed", "run", run.RunID, "error", err)
			continue
		}
		s.db.AppendEvent(run.RunID, store.EventProactiveOutreach, map[string]any{"attempt": count + 1})
		s.db.IncrMetric(store.MetricOutreachSent, 1, nil)
	}
}

func (s *Scheduler) loadState() *schedulerState {
	state := &schedulerState{DigestSent: map[string]string{}}
	data, err := os.ReadFile(filepath.Join(s.home, "harness", stateFile))
	if err == nil {
		json.Unmarshal(data, state)
		if state.DigestSent == nil {
			state.DigestSent = map[string]string{}
		}
	}
	return state
}

func (s *Scheduler) saveState(state *schedulerState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	tmp := filepath.Join(s.home, "harness", stateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, filepath.Join(s.home, "harness", stateFile))
}
