package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tinyagi/internal/browser"
	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/invoker"
	"github.com/nextlevelbuilder/tinyagi/internal/memory"
	"github.com/nextlevelbuilder/tinyagi/internal/skills"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
	"github.com/nextlevelbuilder/tinyagi/internal/tooling"
)

// Task is one unit of work entering the harness.
type Task struct {
	Channel        string
	Sender         string
	SenderID       string
	ConversationID string
	MessageID      string
	AgentID        string
	Objective      string
	FromAgent      string
	// TeammateContext is forwarded to the model runner's workspace.
	TeammateContext string
	Resume          bool
}

// Outcome is what the processor delivers back to the channel.
type Outcome struct {
	RunID     string
	Status    string
	Route     string
	Risk      string
	Reply     string
	Verified  bool
	RequestID string
	Artifacts []string
}

// Orchestrator drives one task through classification, the
// generate→verify→revise loop, route execution and the publish gate.
type Orchestrator struct {
	cfg      *config.Config
	db       *store.DB
	home     string
	invoker  *invoker.Invoker
	verifier *Verifier
	gate     *PublishGate
	browser  *browser.Executor
	tooling  *tooling.Executor
	memory   *memory.Service
	skills   *skills.Service
	log      *slog.Logger
}

// NewOrchestrator wires the harness together.
func NewOrchestrator(cfg *config.Config, db *store.DB, home string, log *slog.Logger) *Orchestrator {
	inv := invoker.New(cfg, home)
	o := &Orchestrator{
		cfg:     cfg,
		db:      db,
		home:    home,
		invoker: inv,
		gate:    NewPublishGate(db, false),
		browser: browser.NewExecutor(cfg, db, home, log),
		tooling: tooling.New(db),
		memory:  memory.New(db, home),
		skills:  skills.New(db, home),
		log:     log.With("component", "harness"),
	}
	o.verifier = NewVerifier(o.judge)
	return o
}

// Memory exposes the orchestrator's memory service for CLI surfaces.
func (o *Orchestrator) Memory() *memory.Service { return o.memory }

// Skills exposes the skills service.
func (o *Orchestrator) Skills() *skills.Service { return o.skills }

// Browser exposes the browser executor (trace replay).
func (o *Orchestrator) Browser() *browser.Executor { return o.browser }

// NewRunID derives a run id that is stable in prefix for the same message
// (so duplicate deliveries collapse in the run table) and unique in suffix.
func NewRunID(conversationID, messageID, agentID, fromAgent string) string {
	sum := sha256.Sum256([]byte(conversationID + "|" + messageID + "|" + agentID + "|" + fromAgent))
	return "run_" + hex.EncodeToString(sum[:5]) + "_" + uuid.NewString()[:6]
}

// Handle runs one task end to end and returns its outcome. The returned
// error is reserved for infrastructure faults; task-level failures come back
// as Outcome.Status = failed with a user-facing Reply.
func (o *Orchestrator) Handle(ctx context.Context, task *Task) (*Outcome, error) {
	runID := NewRunID(task.ConversationID, task.MessageID, task.AgentID, task.FromAgent)

	risk, reasons := ClassifyRisk(task.Objective)
	route, routeReason := RouteTask(task.Objective)
	// The runner's own browser control supersedes the built-in executor
	// when configured: browser objectives then flow through the agent route.
	if route == RouteBrowser && o.cfg.Harness.Browser.UseClaudeChrome {
		route = RouteAgent
		routeReason = "runner-controlled browser"
	}

	if err := o.db.CreateRun(&store.TaskRun{
		RunID:          runID,
		Channel:        task.Channel,
		Sender:         task.Sender,
		SenderID:       task.SenderID,
		ConversationID: task.ConversationID,
		Objective:      task.Objective,
		RiskLevel:      risk,
		Status:         store.StatusInProgress,
		AssignedAgent:  task.AgentID,
		MaxIterations:  LoopBudget(risk),
	}); err != nil {
		return nil, err
	}
	o.db.AppendEvent(runID, store.EventRiskClassified, map[string]any{"risk": risk, "reasons": reasons})
	o.db.AppendEvent(runID, store.EventTaskRouted, map[string]any{"route": route, "reason": routeReason})

	out := &Outcome{RunID: runID, Route: route, Risk: risk}

	switch route {
	case RouteMemory:
		o.handleMemory(task, runID, out)
	case RouteTooling:
		o.handleTooling(ctx, task, runID, risk, out)
	case RouteBrowser:
		o.handleBrowser(ctx, task, runID, risk, out)
	default:
		o.handleAgent(ctx, task, runID, risk, out)
	}

	// Durable facts are harvested from the user's message regardless of route.
	if _, err := o.memory.Ingest(task.SenderID, runID, task.Objective); err != nil {
		o.log.Warn("memory ingest failed", "run", runID, "error", err)
	}

	if out.Verified {
		if _, err := o.skills.MaybeAutoDraft(skills.AutoDraftInput{
			UserID:    task.SenderID,
			RunID:     runID,
			Objective: task.Objective,
			Route:     route,
			Verified:  true,
		}); err != nil {
			o.log.Warn("skill autodraft failed", "run", runID, "error", err)
		}
	}

	o.finalize(runID, out)
	return out, nil
}

func (o *Orchestrator) handleMemory(task *Task, runID string, out *Outcome) {
	count, err := o.memory.Ingest(task.SenderID, runID, task.Objective)
	if err != nil {
		out.Status = store.StatusFailed
		out.Reply = "I couldn't save that: " + err.Error()
		return
	}
	out.Verified = true
	out.Status = store.StatusVerified
	if count == 0 {
		out.Reply = "Noted, though I didn't find a concrete fact to store. Tell me things like \"I prefer X\" or \"remember that Y\"."
	} else {
		out.Reply = fmt.Sprintf("Got it — I've remembered %d thing(s).", count)
	}
}

func (o *Orchestrator) handleAgent(ctx context.Context, task *Task, runID, risk string, out *Outcome) {
	result, err := o.runLoop(ctx, task, runID, risk)
	if err != nil {
		out.Status = store.StatusFailed
		out.Reply = o.describeFailure(err)
		return
	}

	if result.Exhausted {
		applyExhausted(result, out)
		return
	}

	out.Verified = true
	decision, err := o.gate.Check(runID, task.SenderID, result.Output, RouteAgent, risk)
	if err != nil {
		out.Status = store.StatusFailed
		out.Reply = o.describeFailure(err)
		return
	}
	if decision.RequiresApproval {
		out.Status = store.StatusAwaitingApproval
		out.RequestID = decision.RequestID
		out.Reply = fmt.Sprintf("This result is held for your approval (%s). Approve with /approve %s.",
			decision.Reason, decision.RequestID)
		return
	}
	out.Status = store.StatusVerified
	out.Reply = result.Output
}

func (o *Orchestrator) handleTooling(ctx context.Context, task *Task, runID, risk string, out *Outcome) {
	loop, err := o.runLoop(ctx, task, runID, risk)
	candidate := task.Objective
	if err == nil && loop != nil {
		candidate = loop.Output
	}

	res := o.tooling.Execute(ctx, runID, task.SenderID, task.Objective, candidate)
	out.Reply = res.Message
	out.RequestID = res.RequestID
	switch res.Status {
	case tooling.StatusCompleted:
		out.Verified = true
		out.Status = store.StatusVerified
	case tooling.StatusNeedsApproval:
		out.Status = store.StatusAwaitingApproval
	case tooling.StatusNeedsInput:
		out.Status = store.StatusNeedsInput
	default:
		out.Status = store.StatusFailed
	}
}

func (o *Orchestrator) handleBrowser(ctx context.Context, task *Task, runID, risk string, out *Outcome) {
	loop, err := o.runLoop(ctx, task, runID, risk)
	candidate := task.Objective
	if err == nil && loop != nil {
		candidate = loop.Output
	}

	res, err := o.browser.Execute(ctx, runID, task.SenderID, task.Objective, candidate)
	if err != nil {
		out.Status = store.StatusFailed
		out.Reply = o.describeFailure(err)
		return
	}
	out.Reply = res.Message
	out.RequestID = res.RequestID
	out.Artifacts = res.Artifacts
	switch res.Status {
	case browser.StatusCompleted:
		out.Verified = true
		out.Status = store.StatusVerified
	case browser.StatusNeedsApproval:
		out.Status = store.StatusAwaitingApproval
	case browser.StatusNeedsInput:
		out.Status = store.StatusNeedsInput
	default:
		out.Status = store.StatusFailed
	}
}

// runLoop drives the generate→verify→revise engine with the task's agent as
// generator and the judge model as verifier.
func (o *Orchestrator) runLoop(ctx context.Context, task *Task, runID, risk string) (*LoopResult, error) {
	memBlock, err := o.memory.RetrieveContext(task.SenderID, task.Objective)
	if err != nil {
		o.log.Warn("memory retrieval failed", "run", runID, "error", err)
	}

	prompt := task.Objective
	if memBlock != "" {
		prompt = memBlock + "\n" + prompt
	}

	return RunLoop(ctx, o.db, runID, risk, LoopCallbacks{
		Generate: func(ctx context.Context) (string, error) {
			return o.invoker.Invoke(ctx, invoker.Request{
				AgentID:         task.AgentID,
				Message:         prompt,
				Resume:          task.Resume,
				TeammateContext: task.TeammateContext,
			})
		},
		Verify: func(ctx context.Context, candidate string, iteration int) (*Verdict, error) {
			return o.verifier.Verify(ctx, task.Objective, candidate)
		},
		Revise: func(ctx context.Context, candidate string, verdict *Verdict, iteration int) (string, error) {
			revision := fmt.Sprintf(
				"Your previous answer needs revision.\n\nFindings:\n- %s\n\nRequired actions:\n- %s\n\nPrevious answer:\n%s\n\nProduce a corrected answer to the original request:\n%s",
				strings.Join(verdict.Findings, "\n- "),
				strings.Join(verdict.RequiredActions, "\n- "),
				candidate, task.Objective)
			return o.invoker.Invoke(ctx, invoker.Request{
				AgentID: task.AgentID,
				Message: revision,
				Resume:  true,
			})
		},
	})
}

// applyExhausted settles a run that burned its whole revision budget without
// a pass: the run parks in needs_input with a clarifying question so the
// user's next message (or a nudge) can unstick it. A minor_fix candidate is
// still shown, caveat attached, since it is close to usable.
func applyExhausted(result *LoopResult, out *Outcome) {
	out.Status = store.StatusNeedsInput
	question := clarifyingQuestion(result.Verdict)
	switch result.Verdict.Outcome {
	case store.OutcomeMinorFix:
		out.Reply = result.Output + "\n\n(I ran out of revision attempts — " +
			strings.Join(result.Verdict.Findings, "; ") + ". " + question + ")"
	default:
		out.Reply = "I tried several times but couldn't produce a result I'm confident in. " +
			"The main issue: " + strings.Join(result.Verdict.Findings, "; ") + "\n\n" + question
	}
}

// clarifyingQuestion picks a follow-up question for an exhausted run based on
// what the verifier kept flagging.
func clarifyingQuestion(verdict *Verdict) string {
	findings := strings.ToLower(strings.Join(verdict.Findings, " "))
	switch {
	case strings.Contains(findings, "evidence") || strings.Contains(findings, "source") ||
		strings.Contains(findings, "citation"):
		return "Can you point me at a source or example I should rely on?"
	case strings.Contains(findings, "ambiguous") || strings.Contains(findings, "unclear") ||
		strings.Contains(findings, "vague"):
		return "Could you restate what you need with a bit more detail?"
	case strings.Contains(findings, "missing") || strings.Contains(findings, "incomplete") ||
		strings.Contains(findings, "scope"):
		return "Which part matters most, so I can narrow the scope?"
	default:
		return "Could you narrow the request, or tell me what a good answer looks like?"
	}
}

// judge asks the configured invoker model to review a candidate.
func (o *Orchestrator) judge(ctx context.Context, objective, candidate string) (string, error) {
	return o.invoker.Invoke(ctx, invoker.Request{
		AgentID: o.cfg.DefaultAgent(),
		Message: VerifierPrompt(objective, candidate),
	})
}

// finalize persists terminal state and bumps the outcome metrics.
func (o *Orchestrator) finalize(runID string, out *Outcome) {
	if err := o.db.FinalizeRun(runID, out.Status, out.Reply); err != nil {
		o.log.Warn("finalize run failed", "run", runID, "error", err)
	}
	switch out.Status {
	case store.StatusVerified, store.StatusSent:
		o.db.IncrMetric(store.MetricTasksCompleted, 1, nil)
	case store.StatusNeedsInput, store.StatusAwaitingApproval:
		o.db.IncrMetric(store.MetricTasksNeedsInput, 1, nil)
	case store.StatusFailed:
		o.db.IncrMetric(store.MetricTasksFailed, 1, nil)
		o.db.AppendEvent(runID, store.EventFailed, map[string]any{"reply": truncate(out.Reply, 300)})
	}
}

// describeFailure translates infrastructure errors into something a user can
// act on.
func (o *Orchestrator) describeFailure(err error) string {
	switch {
	case errors.Is(err, invoker.ErrBinaryMissing):
		return "The model runner binary is not installed or not on PATH. Install it, then try again."
	case errors.Is(err, invoker.ErrModelUnavailable):
		return "The configured model is unavailable and no fallback worked. Check your model settings."
	case errors.Is(err, context.DeadlineExceeded):
		return "The task timed out before completing. Try a smaller request."
	default:
		return "Something went wrong while working on this: " + err.Error()
	}
}
