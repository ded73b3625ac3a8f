package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// Execution outcomes.
const (
	StatusCompleted     = "completed"
	StatusNeedsApproval = "needs_approval"
	StatusNeedsInput    = "needs_input"
	StatusFailed        = "failed"
)

const (
	stepRetries      = 3
	retryBaseDelay   = 350 * time.Millisecond
	maxArtifacts     = 6
	maxExtractedRows = 5
	screenshotWidth  = 1280
)

var (
	paymentPattern = regexp.MustCompile(`(?i)\b(pay|payment|checkout|purchase|buy now|wallet|transfer|card number|cvv|cvc)\b`)

	checkpointPattern = regexp.MustCompile(`(?i)(captcha|verify you are human|are you a robot|two.?factor|2fa\b|one.?time code|verification code|session (has )?expired|please (log|sign) in again)`)
)

// Result is the outcome of a browser run.
type Result struct {
	Status    string
	Message   string
	RequestID string
	TabID     string
	Artifacts []string
	Extracted []string
}

// traceEntry is one executed (or refused) step in a tab's replayable trace.
type traceEntry struct {
	ActionID string `json:"actionId"`
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Executor runs browser plans against an attached Automation and records
// actions, audits and the selector trace.
type Executor struct {
	cfg      *config.Config
	db       *store.DB
	sessions *SessionManager
	home     string
	log      *slog.Logger

	attach func(context.Context) (Automation, error) // test seam
}

// NewExecutor builds a browser Executor.
func NewExecutor(cfg *config.Config, db *store.DB, home string, log *slog.Logger) *Executor {
	e := &Executor{
		cfg:      cfg,
		db:       db,
		sessions: NewSessionManager(cfg, db, home, log),
		home:     home,
		log:      log.With("component", "browser"),
	}
	e.attach = e.sessions.Attach
	return e
}

// Execute plans and runs browser steps for a run's objective. Payment steps
// hard-stop into an approval request when configured; checkpoint pages
// (captcha, 2FA, expired session) surface as needs_input.
func (e *Executor) Execute(ctx context.Context, runID, userID, objective, candidate string) (*Result, error) {
	steps := Plan(objective, candidate)
	if len(steps) == 0 {
		return &Result{Status: StatusFailed, Message: "No actionable browser steps could be derived from the request."}, nil
	}
	return e.Run(ctx, runID, userID, objective, steps)
}

// Run executes an explicit plan. Used by Execute and by trace replay.
func (e *Executor) Run(ctx context.Context, runID, userID, objective string, steps []Step) (*Result, error) {
	auto, err := e.attach(ctx)
	if err != nil {
		return &Result{Status: StatusFailed, Message: "Browser automation is unavailable: " + err.Error()}, nil
	}
	defer auto.Close()

	tab := &store.BrowserTab{RunID: runID}
	if err := e.db.CreateBrowserTab(tab); err != nil {
		return nil, err
	}

	var (
		trace     []traceEntry
		artifacts []string
		extracted []string
	)
	finishTrace := func() {
		if data, err := json.Marshal(trace); err == nil {
			e.db.SaveTabTrace(tab.TabID, string(data))
		}
	}

	hardStop := e.cfg.Harness.Browser.HardStopPayments

	for i, step := range steps {
		action := &store.BrowserAction{
			TabID:     tab.TabID,
			RunID:     runID,
			StepIndex: i,
			Kind:      step.Kind,
			Selector:  step.Selector,
			Value:     step.Value,
			Risk:      "normal",
		}

		if hardStop && isPaymentStep(step) {
			action.Risk = "critical"
			action.RequiresApproval = true
			action.Status = "blocked"
			e.db.CreateBrowserAction(action)

			approval := &store.BrowserApproval{
				ActionID: action.ActionID,
				RunID:    runID,
				UserID:   userID,
				Reason:   fmt.Sprintf("payment-adjacent step %d (%s %s)", i+1, step.Kind, step.Selector),
			}
			e.db.CreateBrowserApproval(approval)
			e.db.AppendBrowserAudit(&store.BrowserAudit{
				ActionID:  action.ActionID,
				RunID:     runID,
				EventType: "approval_required",
			})
			trace = append(trace, traceEntry{ActionID: action.ActionID, Kind: step.Kind,
				URL: step.URL, Selector: step.Selector, Status: "blocked"})
			finishTrace()
			e.db.AppendEvent(runID, store.EventBrowserExecution, map[string]any{
				"tab_id": tab.TabID, "status": StatusNeedsApproval, "approval_id": approval.ApprovalID,
			})
			return &Result{
				Status:    StatusNeedsApproval,
				RequestID: approval.ApprovalID,
				TabID:     tab.TabID,
				Message: fmt.Sprintf("Stopped before a payment step (%s). Approve with /approve %s to continue.",
					step.Selector, approval.ApprovalID),
				Artifacts: artifacts,
			}, nil
		}

		e.db.CreateBrowserAction(action)

		before := e.captureArtifact(ctx, auto, runID, tab.TabID, i, "before")
		stepErr := e.runStepWithRetry(ctx, auto, step)
		after := e.captureArtifact(ctx, auto, runID, tab.TabID, i, "after")
		for _, p := range []string{before, after} {
			if p != "" && len(artifacts) < maxArtifacts {
				artifacts = append(artifacts, p)
			}
		}

		entry := traceEntry{ActionID: action.ActionID, Kind: step.Kind,
			URL: step.URL, Selector: step.Selector, Value: step.Value, Key: step.Key}

		if step.Kind == StepExtractText && stepErr == nil {
			if text, err := auto.ExtractText(ctx, step.Selector); err == nil {
				for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
					line = strings.TrimSpace(line)
					if line != "" && len(extracted) < maxExtractedRows {
						extracted = append(extracted, line)
					}
				}
			}
		}

		audit := &store.BrowserAudit{
			ActionID:         action.ActionID,
			RunID:            runID,
			BeforeScreenshot: before,
			AfterScreenshot:  after,
		}

		// Re-read the page after every step: a checkpoint page can sit
		// behind a click that itself succeeded.
		if state, rerr := auto.ReadState(ctx); rerr == nil &&
			checkpointPattern.MatchString(state.URL+" "+state.Title+" "+state.VisibleText) {
			entry.Status = "checkpoint"
			if stepErr != nil {
				entry.Error = stepErr.Error()
			}
			trace = append(trace, entry)
			e.db.SetActionStatus(action.ActionID, "checkpoint")
			audit.EventType = "checkpoint"
			e.db.AppendBrowserAudit(audit)
			finishTrace()
			e.db.SetTabStatus(tab.TabID, store.TabError)
			e.db.AppendEvent(runID, store.EventBrowserExecution, map[string]any{
				"tab_id": tab.TabID, "status": StatusNeedsInput, "step": i,
			})
			return &Result{
				Status: StatusNeedsInput,
				TabID:  tab.TabID,
				Message: fmt.Sprintf("The page needs your attention at step %d (%s): a verification checkpoint appeared. "+
					"Complete it in the browser, then ask me to retry.", i+1, step.Kind),
				Artifacts: artifacts,
			}, nil
		}

		if stepErr != nil {
			entry.Status = "failed"
			entry.Error = stepErr.Error()
			trace = append(trace, entry)
			e.db.SetActionStatus(action.ActionID, "failed")
			audit.EventType = "failed"
			e.db.AppendBrowserAudit(audit)
			finishTrace()
			e.db.SetTabStatus(tab.TabID, store.TabError)
			e.db.AppendEvent(runID, store.EventBrowserExecution, map[string]any{
				"tab_id": tab.TabID, "status": StatusFailed, "step": i, "error": stepErr.Error(),
			})
			return &Result{
				Status:    StatusFailed,
				TabID:     tab.TabID,
				Message:   fmt.Sprintf("Browser step %d (%s) failed after %d attempts: %v", i+1, step.Kind, stepRetries, stepErr),
				Artifacts: artifacts,
				Extracted: extracted,
			}, nil
		}

		entry.Status = "ok"
		trace = append(trace, entry)
		e.db.SetActionStatus(action.ActionID, "completed")
		audit.EventType = "completed"
		e.db.AppendBrowserAudit(audit)
	}

	finishTrace()
	e.db.SetTabStatus(tab.TabID, store.TabReleased)
	e.db.IncrMetric(store.MetricBrowserRuns, 1, nil)
	e.db.AppendEvent(runID, store.EventBrowserExecution, map[string]any{
		"tab_id": tab.TabID, "status": StatusCompleted, "steps": len(steps),
	})

	msg := fmt.Sprintf("Completed %d browser step(s).", len(steps))
	if len(extracted) > 0 {
		msg += "\n" + strings.Join(extracted, "\n")
	}
	return &Result{
		Status:    StatusCompleted,
		TabID:     tab.TabID,
		Message:   msg,
		Artifacts: artifacts,
		Extracted: extracted,
	}, nil
}

// runStepWithRetry executes one step with exponential backoff:
// 350ms, 700ms between the three attempts.
func (e *Executor) runStepWithRetry(ctx context.Context, auto Automation, step Step) error {
	var err error
	for attempt := 1; attempt <= stepRetries; attempt++ {
		err = runStep(ctx, auto, step)
		if err == nil {
			return nil
		}
		if attempt == stepRetries {
			break
		}
		delay := retryBaseDelay * (1 << (attempt - 1))
		e.log.Debug("browser step retry", "kind", step.Kind, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func runStep(ctx context.Context, auto Automation, step Step) error {
	switch step.Kind {
	case StepNavigate:
		return auto.Navigate(ctx, step.URL)
	case StepClick:
		return auto.Click(ctx, step.Selector)
	case StepFill:
		return auto.Fill(ctx, step.Selector, step.Value)
	case StepType:
		return auto.Type(ctx, step.Selector, step.Value)
	case StepWaitFor:
		return auto.WaitFor(ctx, step.Selector)
	case StepPress:
		return auto.Press(ctx, step.Key)
	case StepScreenshot, StepExtractText:
		return nil // handled by the artifact/extraction paths
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// captureArtifact screenshots the page, downscales it and stores it under
// harness/browser-audit/<runID>/<tabID>/. Returns the path, or "" on any
// failure.
func (e *Executor) captureArtifact(ctx context.Context, auto Automation, runID, tabID string, stepIndex int, phase string) string {
	data, err := auto.Screenshot(ctx)
	if err != nil {
		return ""
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if img.Bounds().Dx() > screenshotWidth {
		img = imaging.Resize(img, screenshotWidth, 0, imaging.Lanczos)
	}

	dir := filepath.Join(e.home, "harness", "browser-audit", runID, tabID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("step%02d-%s.png", stepIndex+1, phase))
	if err := imaging.Save(img, path); err != nil {
		return ""
	}
	return path
}

// isPaymentStep flags steps whose selector, value or URL look
// payment-adjacent.
func isPaymentStep(step Step) bool {
	return paymentPattern.MatchString(step.Selector + " " + step.Value + " " + step.URL)
}
