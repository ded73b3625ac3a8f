// Package tooling runs approval-gated, shell-free allowlisted commands
// extracted from candidate output.
package tooling

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// Result statuses.
const (
	StatusCompleted     = "completed"
	StatusNeedsApproval = "needs_approval"
	StatusNeedsInput    = "needs_input"
	StatusFailed        = "failed"
)

const (
	commandTimeout = 120 * time.Second
	captureLimit   = 24 * 1024 // ring buffer per stream
)

// allowedTools is the argv[0] allowlist. Nothing outside it ever executes.
var allowedTools = map[string]string{
	"npm":    store.TrustMainstream,
	"npx":    store.TrustMainstream,
	"pip":    store.TrustMainstream,
	"pip3":   store.TrustMainstream,
	"brew":   store.TrustMainstream,
	"git":    store.TrustCurated,
	"docker": store.TrustMainstream,
	"pnpm":   store.TrustMainstream,
	"yarn":   store.TrustMainstream,
}

var (
	shellMetachars  = regexp.MustCompile("[;&|`]")
	commandFallback = regexp.MustCompile(`(?m)^\s*(?:[-*\d.)\]]+\s*)?((?:npm|npx|pip3?|brew|git|docker|pnpm|yarn)\b[^\n]*)`)
	listItemPrefix  = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s*`)
	rmrfPattern     = regexp.MustCompile(`\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r`)
)

// Result is the executor's structured outcome.
type Result struct {
	Status    string
	Command   string
	Message   string
	RequestID string
	ExitCode  int
	Duration  time.Duration
	Output    string
}

// Executor extracts, sanitizes and runs one allowlisted command per task.
type Executor struct {
	db *store.DB
}

// New creates a tooling Executor backed by the repository.
func New(db *store.DB) *Executor {
	return &Executor{db: db}
}

// Execute runs the tooling route for one task: extract a command from the
// candidate output (falling back to the objective), sanitize it, check the
// user's permission, then spawn it without a shell.
func (e *Executor) Execute(ctx context.Context, runID, userID, objective, candidate string) *Result {
	command := ExtractCommand(candidate)
	if command == "" {
		command = ExtractCommand(objective)
	}
	if command == "" {
		return &Result{
			Status:  StatusNeedsInput,
			Message: "I could not find a runnable command in the task. Please tell me the exact command to run.",
		}
	}

	argv, err := SanitizeCommand(command)
	if err != nil {
		e.db.AppendEvent(runID, store.EventToolingExecution, map[string]any{
			"command": command, "rejected": err.Error(),
		})
		return &Result{
			Status:  StatusNeedsInput,
			Command: command,
			Message: fmt.Sprintf("Command rejected by safety policy: %v", err),
		}
	}

	tool := argv[0]
	toolRow := &store.ToolInfo{
		Name:       tool,
		Source:     "builtin-allowlist",
		TrustClass: allowedTools[tool],
		Status:     store.ToolApproved,
	}
	if err := e.db.UpsertTool(toolRow); err != nil {
		slog.Warn("tool registration failed", "tool", tool, "error", err)
	}

	ok, err := e.db.HasActivePermission(userID, tool, "execute")
	if err != nil {
		return &Result{Status: StatusFailed, Command: command, Message: err.Error()}
	}
	if !ok {
		requestID, err := e.db.CreatePendingPermission(userID, tool, "execute", "tool")
		if err != nil {
			return &Result{Status: StatusFailed, Command: command, Message: err.Error()}
		}
		return &Result{
			Status:    StatusNeedsApproval,
			Command:   command,
			RequestID: requestID,
			Message: fmt.Sprintf("I need permission to run %q. Reply /approve %s to allow it.",
				command, requestID),
		}
	}

	return e.spawn(ctx, runID, toolRow.ToolID, command, argv)
}

func (e *Executor) spawn(ctx context.Context, runID, toolID, command string, argv []string) *Result {
	e.db.AppendToolEvent(toolID, runID, "execute_start", map[string]any{"command": command})

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = 5 * time.Second // SIGKILL grace after the deadline SIGTERM
	cmd.Cancel = func() error { return cmd.Process.Signal(sigterm) }

	stdout := newRingBuffer(captureLimit)
	stderr := newRingBuffer(captureLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	output := stdout.String()
	if s := stderr.String(); s != "" {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + s
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	summary := fmt.Sprintf("Exit code: %d (%.1fs)\n%s", exitCode, duration.Seconds(), output)

	if err != nil {
		reason := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("command timed out after %s", commandTimeout)
		}
		e.db.AppendToolEvent(toolID, runID, "execute_failed", map[string]any{
			"command": command, "exit_code": exitCode, "error": reason,
		})
		e.db.IncrMetric(store.MetricToolExecutions, 1, map[string]any{"result": "failed"})
		return &Result{
			Status: StatusFailed, Command: command, Message: reason,
			ExitCode: exitCode, Duration: duration, Output: summary,
		}
	}

	e.db.AppendToolEvent(toolID, runID, "execute_success", map[string]any{
		"command": command, "duration_ms": duration.Milliseconds(),
	})
	e.db.IncrMetric(store.MetricToolExecutions, 1, map[string]any{"result": "success"})
	return &Result{
		Status: StatusCompleted, Command: command,
		ExitCode: exitCode, Duration: duration, Output: summary,
	}
}

// ExtractCommand scans candidate text for a line beginning with an
// allowlisted tool, stripping list-item prefixes; falls back to the first
// regex match anywhere in the text.
func ExtractCommand(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = listItemPrefix.ReplaceAllString(line, "")
		line = strings.Trim(line, "`")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := strings.Fields(line)
		if len(first) > 0 {
			if _, ok := allowedTools[first[0]]; ok {
				return line
			}
		}
	}
	if m := commandFallback.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// SanitizeCommand validates and tokenizes a candidate command. It rejects
// shell metacharacters, sudo, recursive-force deletes and anything whose
// argv[0] is not allowlisted.
func SanitizeCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}
	if shellMetachars.MatchString(command) {
		return nil, fmt.Errorf("shell metacharacters are not allowed")
	}
	if strings.Contains(command, "sudo") {
		return nil, fmt.Errorf("sudo is not allowed")
	}
	if rmrfPattern.MatchString(command) || strings.Contains(command, "rm -rf") {
		return nil, fmt.Errorf("recursive force delete is not allowed")
	}

	argv, err := tokenize(command)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if _, ok := allowedTools[argv[0]]; !ok {
		return nil, fmt.Errorf("%q is not an allowlisted tool", argv[0])
	}
	return argv, nil
}

// tokenize splits a command quote-aware: double and single quotes group
// tokens, nothing is expanded.
func tokenize(command string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				argv = append(argv, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		argv = append(argv, cur.String())
	}
	return argv, nil
}
