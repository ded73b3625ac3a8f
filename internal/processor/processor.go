// Package processor drains the file queue: it claims incoming messages,
// routes them to per-agent pipelines, runs them through the harness and
// delivers the replies.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/harness"
	"github.com/nextlevelbuilder/tinyagi/internal/invoker"
	"github.com/nextlevelbuilder/tinyagi/internal/memory"
	"github.com/nextlevelbuilder/tinyagi/internal/proactive"
	"github.com/nextlevelbuilder/tinyagi/internal/queue"
	"github.com/nextlevelbuilder/tinyagi/internal/router"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

const (
	scanInterval  = 1 * time.Second
	workerBuffer  = 64
	workerIdleTTL = 5 * time.Minute
)

// Processor is the queue-to-harness pump.
type Processor struct {
	cfg   *config.Config
	db    *store.DB
	spool *queue.Spool
	orch  *harness.Orchestrator
	sched *proactive.Scheduler
	mem   *memory.Service
	inv   *invoker.Invoker
	home  string
	log   *slog.Logger

	mu      sync.Mutex
	queued  map[string]bool
	workers map[string]*worker
	convs   map[string]*Conversation
}

type worker struct {
	ch   chan string
	last time.Time
}

// New wires the Processor.
func New(cfg *config.Config, db *store.DB, spool *queue.Spool, orch *harness.Orchestrator,
	sched *proactive.Scheduler, home string, log *slog.Logger) *Processor {
	return &Processor{
		cfg:     cfg,
		db:      db,
		spool:   spool,
		orch:    orch,
		sched:   sched,
		mem:     memory.New(db, home),
		inv:     invoker.New(cfg, home),
		home:    home,
		log:     log.With("component", "processor"),
		queued:  map[string]bool{},
		workers: map[string]*worker{},
		convs:   map[string]*Conversation{},
	}
}

// Run recovers crashed work, then pumps the incoming queue until ctx is
// cancelled. A filesystem watcher supplements the one-second scan so fresh
// messages are picked up immediately.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.spool.Recover(); err != nil {
		return fmt.Errorf("queue recovery: %w", err)
	}

	wake := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(p.spool.Incoming()); err == nil {
			go func() {
				defer watcher.Close()
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
							select {
							case wake <- struct{}{}:
							default:
							}
						}
					case <-watcher.Errors:
					}
				}
			}()
		} else {
			watcher.Close()
			p.log.Warn("queue watch failed, polling only", "error", err)
		}
	}

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		p.scan(ctx)
		p.reapIdleWorkers()
	}
}

// scan enqueues every unclaimed incoming file onto its agent's pipeline.
// Messages for the same agent stay strictly ordered; different agents run
// concurrently.
func (p *Processor) scan(ctx context.Context) {
	names, err := p.spool.ListIncoming()
	if err != nil {
		p.log.Warn("queue scan failed", "error", err)
		return
	}
	for _, name := range names {
		p.mu.Lock()
		if p.queued[name] {
			p.mu.Unlock()
			continue
		}
		p.queued[name] = true
		p.mu.Unlock()

		agentID := p.agentFor(name)
		p.workerFor(ctx, agentID).ch <- name
	}
}

// agentFor peeks at an incoming file to decide which pipeline owns it.
func (p *Processor) agentFor(name string) string {
	env, err := p.spool.PeekIncoming(name)
	if err != nil {
		return p.cfg.DefaultAgent()
	}
	if env.Agent != "" {
		return env.Agent
	}
	if target, err := router.Resolve(p.cfg, env.Message); err == nil && target.AgentID != "" {
		return target.AgentID
	}
	return p.cfg.DefaultAgent()
}

func (p *Processor) workerFor(ctx context.Context, agentID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[agentID]; ok {
		w.last = time.Now()
		return w
	}
	w := &worker{ch: make(chan string, workerBuffer), last: time.Now()}
	p.workers[agentID] = w
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case name, ok := <-w.ch:
				if !ok {
					return
				}
				p.handle(ctx, name)
			}
		}
	}()
	return w
}

// reapIdleWorkers closes pipelines that have been quiet for a while.
func (p *Processor) reapIdleWorkers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, w := range p.workers {
		if len(w.ch) == 0 && time.Since(w.last) > workerIdleTTL {
			close(w.ch)
			delete(p.workers, id)
		}
	}
}

// handle processes one claimed message end to end. Errors requeue the file
// for the next scan.
func (p *Processor) handle(ctx context.Context, name string) {
	defer func() {
		p.mu.Lock()
		delete(p.queued, name)
		p.mu.Unlock()
	}()

	if err := p.spool.Claim(name); err != nil {
		return // another scan got there first, or the file vanished
	}
	env, err := p.spool.ReadProcessing(name)
	if err != nil {
		p.log.Warn("unreadable message dropped", "file", name, "error", err)
		p.spool.Finish(name)
		return
	}

	if err := p.process(ctx, env); err != nil {
		p.log.Error("message processing failed, requeued", "file", name, "error", err)
		p.spool.Requeue(name)
		return
	}
	p.spool.Finish(name)
}

func (p *Processor) process(ctx context.Context, env *queue.Envelope) error {
	// Operator commands short-circuit the harness.
	if reply, ok := p.handleCommand(env); ok {
		return p.deliver(env, reply, nil)
	}

	target, err := router.Resolve(p.cfg, env.Message)
	if errors.Is(err, router.ErrAmbiguousMention) {
		return p.deliver(env, "One message, one agent please — I can't split a request across several @mentions.", nil)
	}
	if err != nil {
		return err
	}
	agentID := target.AgentID
	if env.Agent != "" {
		agentID = env.Agent
	}
	if agentID == "" {
		agentID = p.cfg.DefaultAgent()
	}

	if env.IsInternal() {
		return p.processInternal(ctx, env, agentID)
	}

	// A fresh user message supersedes older runs stuck waiting on them.
	// With the harness off nothing new enters needs_input, so leave old
	// blocked runs alone too.
	if p.cfg.Harness.Enabled && env.SenderID != "" {
		cutoff := time.UnixMilli(env.Timestamp)
		if env.Timestamp == 0 {
			cutoff = time.Now()
		}
		if ids, err := p.db.SupersedeNeedsInput(env.Channel, env.SenderID, cutoff); err == nil {
			for _, id := range ids {
				p.db.AppendEvent(id, store.EventSuperseded, map[string]any{
					"message_id": env.MessageID,
				})
			}
		}
	}

	p.mem.AppendRaw(&memory.RawEvent{
		Channel:   env.Channel,
		Sender:    env.Sender,
		SenderID:  env.SenderID,
		Message:   env.Message,
		Timestamp: env.Timestamp,
	})

	intent := harness.ClassifyIntent(target.Body)
	if harness.IsTaskIntent(intent) && env.Channel != queue.HeartbeatChannel && env.SenderID != "" {
		p.deliver(env, "On it — I'll report back when it's done.", nil)
		p.db.RememberPending(&store.PendingMessage{
			MessageID: env.MessageID,
			Channel:   env.Channel,
			Sender:    env.Sender,
			SenderID:  env.SenderID,
		}, 0)
	}

	var conv *Conversation
	if target.Team != nil {
		conv = NewConversation("conv_"+uuid.NewString()[:8], target.Team,
			env.Channel, env.Sender, env.SenderID, env.MessageID)
		p.mu.Lock()
		p.convs[conv.ID] = conv
		p.mu.Unlock()
	}

	var outcome *harness.Outcome
	if p.cfg.Harness.Enabled {
		outcome, err = p.orch.Handle(ctx, &harness.Task{
			Channel:        env.Channel,
			Sender:         env.Sender,
			SenderID:       env.SenderID,
			ConversationID: convID(conv, env),
			MessageID:      env.MessageID,
			AgentID:        agentID,
			Objective:      target.Body,
			// Questions continue the agent's previous session; tasks start fresh.
			Resume: intent == harness.IntentQuestion,
		})
		if err != nil {
			return err
		}
	} else {
		outcome = p.invokePlain(ctx, agentID, target.Body, "", intent == harness.IntentQuestion)
	}
	p.db.ClearPending(env.MessageID)

	return p.finishResponse(ctx, env, conv, agentID, intent, outcome)
}

// invokePlain calls the agent directly when the harness is disabled: no
// classification, no verify loop, no gate. Invocation errors become the
// canned failure message rather than a requeue.
func (p *Processor) invokePlain(ctx context.Context, agentID, message, teammates string, resume bool) *harness.Outcome {
	reply, err := p.inv.Invoke(ctx, invoker.Request{
		AgentID:         agentID,
		Message:         message,
		TeammateContext: teammates,
		Resume:          resume,
	})
	if err != nil {
		p.log.Warn("plain invocation failed", "agent", agentID, "error", err)
		reply = "Something went wrong while working on this: " + err.Error()
	}
	return &harness.Outcome{Status: store.StatusSent, Reply: reply}
}

// processInternal handles an agent-to-agent handoff inside a conversation.
func (p *Processor) processInternal(ctx context.Context, env *queue.Envelope, agentID string) error {
	p.mu.Lock()
	conv := p.convs[env.ConversationID]
	p.mu.Unlock()
	if conv == nil {
		p.log.Warn("internal message for unknown conversation dropped", "conversation", env.ConversationID)
		return nil
	}

	message := decorateSiblings(env.Message, conv.Pending())

	var outcome *harness.Outcome
	if p.cfg.Harness.Enabled {
		var err error
		outcome, err = p.orch.Handle(ctx, &harness.Task{
			Channel:         env.Channel,
			Sender:          env.Sender,
			SenderID:        env.SenderID,
			ConversationID:  env.ConversationID,
			MessageID:       env.MessageID,
			AgentID:         agentID,
			Objective:       message,
			FromAgent:       env.FromAgent,
			TeammateContext: teamBriefing(conv.Team, agentID),
			Resume:          true,
		})
		if err != nil {
			return err
		}
	} else {
		outcome = p.invokePlain(ctx, agentID, message, teamBriefing(conv.Team, agentID), true)
	}
	return p.finishResponse(ctx, env, conv, agentID, harness.ClassifyIntent(env.Message), outcome)
}

// finishResponse fans out handoffs, records conversation progress and
// delivers the reply (or the closed conversation) to the user.
func (p *Processor) finishResponse(ctx context.Context, env *queue.Envelope, conv *Conversation, agentID, intent string, outcome *harness.Outcome) error {
	raw := outcome.Reply

	if conv != nil {
		mentions := router.ExtractMentions(raw, agentID, conv.Team)
		if len(mentions) > 0 {
			conv.AddPending(len(mentions))
			for _, m := range mentions {
				internal := &queue.Envelope{
					Channel:         env.Channel,
					Sender:          env.Sender,
					SenderID:        env.SenderID,
					Message:         "@" + m.AgentID + " " + m.Message,
					MessageID:       "hnd_" + uuid.NewString()[:8],
					Agent:           m.AgentID,
					ConversationID:  conv.ID,
					FromAgent:       agentID,
					OriginalMessage: env.Message,
					Timestamp:       time.Now().UnixMilli(),
				}
				name := queue.InternalName(conv.ID, m.AgentID, time.Now())
				if err := p.spool.EnqueueIncoming(name, internal); err != nil {
					p.log.Warn("handoff enqueue failed", "to", m.AgentID, "error", err)
					conv.AddPending(-1)
				}
			}
		}

		text := SanitizeResponse(router.StripHandoffs(raw))
		closed := conv.Record(agentID, text)
		if !closed {
			return nil // wait for the remaining teammates
		}

		p.mu.Lock()
		delete(p.convs, conv.ID)
		p.mu.Unlock()
		if err := conv.WriteTranscript(p.home); err != nil {
			p.log.Warn("transcript write failed", "conversation", conv.ID, "error", err)
		}
		return p.deliverFinal(env, conv.Compose(), nil, outcome)
	}

	reply := SanitizeResponse(router.StripHandoffs(raw))
	if IsSilentReply(reply) || reply == "" {
		return nil
	}
	if harness.IsTaskIntent(intent) && !HasCompletionIndicator(reply) {
		reply = "Done! Here's what happened:\n" + reply
	}
	return p.deliverFinal(env, reply, outcome.Artifacts, outcome)
}

// deliverFinal applies send-file extraction and long-message spill, then
// writes the outgoing envelope.
func (p *Processor) deliverFinal(env *queue.Envelope, text string, artifacts []string, outcome *harness.Outcome) error {
	text, files := ExtractSendFiles(text)
	files = append(files, artifacts...)

	inline, spill, err := SpillLongMessage(text, p.spool.FilesDir())
	if err != nil {
		p.log.Warn("spill failed, sending truncated", "error", err)
		inline = text[:spillLimit]
	}
	if spill != "" {
		files = append(files, spill)
	}

	if outcome != nil && (outcome.Status == store.StatusNeedsInput || outcome.Status == store.StatusAwaitingApproval) {
		p.db.RememberPending(&store.PendingMessage{
			MessageID: env.MessageID,
			Channel:   env.Channel,
			Sender:    env.Sender,
			SenderID:  env.SenderID,
			ReplyRef:  outcome.RunID,
		}, 0)
	}
	return p.deliver(env, inline, files)
}

// deliver writes one outgoing envelope addressed back to the message origin.
// Everything sent here answers a user-initiated message, so it goes out
// urgent: quiet hours defer proactive sends, never acks or direct replies.
func (p *Processor) deliver(env *queue.Envelope, text string, files []string) error {
	out := &queue.Envelope{
		Channel:   env.Channel,
		Sender:    env.Sender,
		SenderID:  env.SenderID,
		Message:   text,
		MessageID: "out_" + uuid.NewString()[:8],
		Files:     files,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := p.sched.Send(out, true); err != nil {
		p.db.IncrMetric(store.MetricResponsesLost, 1, nil)
		return fmt.Errorf("deliver response: %w", err)
	}
	p.db.IncrMetric(store.MetricResponsesSent, 1, nil)
	return nil
}

// decorateSiblings notes still-running teammate branches on a handoff
// message. Pending counts this branch too; siblings are the rest.
func decorateSiblings(message string, pending int) string {
	if n := pending - 1; n > 0 {
		return message + fmt.Sprintf("\n\n[%d other teammate response(s) are still being processed in this conversation]", n)
	}
	return message
}

// teamBriefing renders the TEAMMATES.md content for an agent working inside a
// team conversation.
func teamBriefing(team *config.TeamSpec, self string) string {
	if team == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Team %s\n\nYou are @%s. Teammates:\n", team.Name, self)
	all := append([]string{team.Leader}, team.Members...)
	for _, id := range all {
		if id == self {
			continue
		}
		fmt.Fprintf(&b, "- @%s\n", id)
	}
	b.WriteString("\nHand work to a teammate with [@teammate: what you need].\n")
	return b.String()
}

func convID(conv *Conversation, env *queue.Envelope) string {
	if conv != nil {
		return conv.ID
	}
	return env.ConversationID
}

// resetConversations drops in-flight conversation state for one sender.
func (p *Processor) resetConversations(channel, senderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.convs {
		if c.Channel == channel && c.SenderID == senderID {
			delete(p.convs, id)
		}
	}
}

// saveConfig persists the current in-memory configuration.
func (p *Processor) saveConfig() error {
	return config.Save(p.home, p.cfg)
}
