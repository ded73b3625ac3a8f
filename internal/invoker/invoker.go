// Package invoker runs the model-runner binary as an opaque subprocess.
// Two provider families are supported: a one-shot CLI that prints the reply
// on stdout, and a framed runner that emits newline-delimited JSON events.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
)

// Structured invocation failures.
var (
	ErrBinaryMissing    = errors.New("invoker: model runner binary not found")
	ErrModelUnavailable = errors.New("invoker: model unavailable")
	ErrNoPriorSession   = errors.New("invoker: no prior session to resume")
)

// Provider families.
const (
	FamilyOneShot = "oneshot"
	FamilyFramed  = "framed"
)

var modelUnavailablePattern = regexp.MustCompile(`(?i)does not exist|do not have access|invalid model`)
var noSessionPattern = regexp.MustCompile(`(?i)no (conversation|session) (found|to (resume|continue))`)

// Invoker spawns model-runner subprocesses with per-agent workspaces.
type Invoker struct {
	cfg  *config.Config
	home string
}

// New creates an Invoker rooted at the state home.
func New(cfg *config.Config, home string) *Invoker {
	return &Invoker{cfg: cfg, home: home}
}

// Request is one model call.
type Request struct {
	AgentID string
	Message string
	// Resume continues the agent's previous session when the family supports
	// it; a missing session falls back to a fresh one.
	Resume bool
	// TeammateContext, when non-empty, is written to the agent workspace
	// before invocation so the runner sees its team briefing.
	TeammateContext string
}

// Invoke runs the model subprocess and returns the reply text. Model
// fallback: when the primary model is unavailable and a fallback model is
// configured, the call is retried once with the fallback.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (string, error) {
	spec := inv.cfg.Agent(req.AgentID)
	ws, err := inv.ensureWorkspace(req.AgentID, spec)
	if err != nil {
		return "", err
	}
	if req.TeammateContext != "" {
		ctxFile := filepath.Join(ws, "TEAMMATES.md")
		if err := os.WriteFile(ctxFile, []byte(req.TeammateContext), 0o644); err != nil {
			slog.Warn("could not write teammate context", "agent", req.AgentID, "error", err)
		}
	}

	out, err := inv.invokeModel(ctx, spec, ws, req, spec.Model)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrModelUnavailable) && inv.cfg.Invoker.FallbackModel != "" && inv.cfg.Invoker.FallbackModel != spec.Model {
		slog.Warn("primary model unavailable, trying fallback",
			"agent", req.AgentID, "model", spec.Model, "fallback", inv.cfg.Invoker.FallbackModel)
		return inv.invokeModel(ctx, spec, ws, req, inv.cfg.Invoker.FallbackModel)
	}
	return "", err
}

func (inv *Invoker) invokeModel(ctx context.Context, spec config.AgentSpec, ws string, req Request, model string) (string, error) {
	switch spec.Family {
	case FamilyOneShot:
		return inv.runOneShot(ctx, spec, ws, req, model)
	default:
		out, err := inv.runFramed(ctx, spec, ws, req, model, req.Resume)
		if errors.Is(err, ErrNoPriorSession) && req.Resume {
			slog.Info("resume unavailable, starting fresh session", "agent", req.AgentID)
			return inv.runFramed(ctx, spec, ws, req, model, false)
		}
		return out, err
	}
}

// runOneShot: argv [bin, --model, M, --continue, -p, message]; stdout is the
// reply.
func (inv *Invoker) runOneShot(ctx context.Context, spec config.AgentSpec, ws string, req Request, model string) (string, error) {
	args := []string{"--model", model}
	if req.Resume {
		args = append(args, "--continue")
	}
	args = append(args, "-p", req.Message)

	stdout, stderr, err := inv.run(ctx, spec.Binary, ws, args)
	if err != nil {
		return "", classifyExecError(err, stderr)
	}
	return strings.TrimSpace(stdout), nil
}

// runFramed: argv [bin, exec|resume, --json, message]; stdout is a stream of
// newline-delimited JSON frames.
func (inv *Invoker) runFramed(ctx context.Context, spec config.AgentSpec, ws string, req Request, model string, resume bool) (string, error) {
	var args []string
	if resume {
		args = []string{"resume", "--last", "--json", "--model", model, req.Message}
	} else {
		args = []string{"exec", "--json", "--model", model, req.Message}
	}

	stdout, stderr, err := inv.run(ctx, spec.Binary, ws, args)
	if err != nil {
		return "", classifyExecError(err, stderr)
	}

	text, ferr := ParseFrames(stdout)
	if ferr != nil {
		if modelUnavailablePattern.MatchString(ferr.Error()) {
			return "", fmt.Errorf("%w: %s", ErrModelUnavailable, ferr)
		}
		if noSessionPattern.MatchString(ferr.Error()) {
			return "", ErrNoPriorSession
		}
		return "", ferr
	}
	return text, nil
}

// run launches the binary with argv only (no shell) and captures both
// streams.
func (inv *Invoker) run(ctx context.Context, binary, dir string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("invoking model runner", "binary", binary, "args", len(args), "dir", dir)
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (inv *Invoker) ensureWorkspace(agentID string, spec config.AgentSpec) (string, error) {
	ws := spec.Workspace
	if ws == "" {
		ws = filepath.Join(inv.home, "workspaces", agentID)
	}
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", fmt.Errorf("create agent workspace: %w", err)
	}
	return ws, nil
}

func classifyExecError(err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return ErrBinaryMissing
	}
	combined := stderr
	if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
		combined += string(ee.Stderr)
	}
	switch {
	case modelUnavailablePattern.MatchString(combined):
		return fmt.Errorf("%w: %s", ErrModelUnavailable, firstLine(combined))
	case noSessionPattern.MatchString(combined):
		return ErrNoPriorSession
	}
	if combined != "" {
		return fmt.Errorf("model runner failed: %s: %w", firstLine(combined), err)
	}
	return fmt.Errorf("model runner failed: %w", err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
