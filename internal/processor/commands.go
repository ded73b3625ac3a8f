package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/tinyagi/internal/queue"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// handleCommand executes in-channel operator commands. It returns the reply
// text and whether the message was a command at all.
func (p *Processor) handleCommand(env *queue.Envelope) (string, bool) {
	msg := strings.TrimSpace(env.Message)
	if !strings.HasPrefix(msg, "/") {
		return "", false
	}
	fields := strings.Fields(msg)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/status":
		return p.commandStatus(), true
	case "/approve":
		if len(args) == 0 {
			return "Usage: /approve <request-id>", true
		}
		return p.commandApprove(args[0]), true
	case "/deny":
		if len(args) == 0 {
			return "Usage: /deny <request-id>", true
		}
		return p.commandDeny(args[0]), true
	case "/permissions":
		return p.commandPermissions(env.SenderID), true
	case "/memory":
		return p.commandMemory(env.SenderID, args), true
	case "/autonomy":
		if len(args) == 0 {
			return fmt.Sprintf("Autonomy is %q. Usage: /autonomy <low|normal|strict>", p.cfg.Harness.Autonomy), true
		}
		if err := p.cfg.SetAutonomy(p.home, strings.ToLower(args[0])); err != nil {
			return "Could not change autonomy: " + err.Error(), true
		}
		return "Autonomy set to " + strings.ToLower(args[0]) + ".", true
	case "/agent":
		return p.commandAgent(args), true
	case "/team":
		return p.commandTeam(), true
	case "/reset":
		p.resetConversations(env.Channel, env.SenderID)
		return "Conversation state cleared. Next message starts fresh.", true
	default:
		return "", false
	}
}

func (p *Processor) commandStatus() string {
	runs, err := p.db.ListRuns(5)
	if err != nil {
		return "Status unavailable: " + err.Error()
	}
	metrics, _ := p.db.Metrics()

	var b strings.Builder
	fmt.Fprintf(&b, "Harness: enabled=%v autonomy=%s\n", p.cfg.Harness.Enabled, p.cfg.Harness.Autonomy)
	fmt.Fprintf(&b, "Tasks: %.0f done, %.0f failed, %.0f waiting on you\n",
		metrics[store.MetricTasksCompleted], metrics[store.MetricTasksFailed], metrics[store.MetricTasksNeedsInput])
	if len(runs) > 0 {
		b.WriteString("Recent runs:\n")
		for _, r := range runs {
			obj := r.Objective
			if len(obj) > 60 {
				obj = obj[:60] + "…"
			}
			fmt.Fprintf(&b, "- %s [%s] %s\n", r.RunID, r.Status, obj)
		}
	}
	return strings.TrimSpace(b.String())
}

func (p *Processor) commandApprove(id string) string {
	if err := p.db.ApprovePermission(id); err == nil {
		return fmt.Sprintf("Approved %s. I'll proceed next time the task runs.", id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "Approval failed: " + err.Error()
	}
	if err := p.db.DecideBrowserApproval(id, "approved"); err == nil {
		return fmt.Sprintf("Browser action %s approved. Ask me to retry the task to continue.", id)
	}
	return fmt.Sprintf("No pending request found for %s.", id)
}

func (p *Processor) commandDeny(id string) string {
	if err := p.db.RevokePermission(id); err == nil {
		return fmt.Sprintf("Denied %s.", id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "Denial failed: " + err.Error()
	}
	if err := p.db.DecideBrowserApproval(id, "denied"); err == nil {
		return fmt.Sprintf("Browser action %s denied.", id)
	}
	return fmt.Sprintf("No pending request found for %s.", id)
}

func (p *Processor) commandPermissions(userID string) string {
	perms, err := p.db.ListPermissions(userID)
	if err != nil {
		return "Permissions unavailable: " + err.Error()
	}
	if len(perms) == 0 {
		return "No permissions on file."
	}
	var b strings.Builder
	b.WriteString("Permissions:\n")
	for _, perm := range perms {
		fmt.Fprintf(&b, "- %s: %s %s [%s]\n", perm.PermissionID, perm.Action, perm.Subject, perm.Status)
	}
	return strings.TrimSpace(b.String())
}

func (p *Processor) commandMemory(userID string, args []string) string {
	if len(args) >= 1 && strings.ToLower(args[0]) == "forget" {
		topic := strings.Join(args[1:], " ")
		if topic == "" {
			return "Usage: /memory forget <topic>"
		}
		n, err := p.db.ForgetMemory(userID, topic)
		if err != nil {
			return "Forget failed: " + err.Error()
		}
		return fmt.Sprintf("Forgot %d memory record(s) matching %q.", n, topic)
	}

	topic := strings.Join(args, " ")
	records, err := p.db.ListMemory(userID, topic)
	if err != nil {
		return "Memory unavailable: " + err.Error()
	}
	if len(records) == 0 {
		return "Nothing remembered yet."
	}
	var b strings.Builder
	b.WriteString("What I remember:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Category, r.Key, r.Value)
	}
	return strings.TrimSpace(b.String())
}

func (p *Processor) commandAgent(args []string) string {
	if len(args) == 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Default agent: %s\nKnown agents:\n", p.cfg.DefaultAgent())
		for _, id := range p.cfg.AgentIDs() {
			fmt.Fprintf(&b, "- %s\n", id)
		}
		return strings.TrimSpace(b.String())
	}
	id := args[0]
	if !p.cfg.AgentExists(id) {
		return fmt.Sprintf("Unknown agent %q.", id)
	}
	p.cfg.Agents.Default = id
	if err := p.saveConfig(); err != nil {
		return "Could not persist the change: " + err.Error()
	}
	return fmt.Sprintf("Default agent is now @%s.", id)
}

func (p *Processor) commandTeam() string {
	if len(p.cfg.Teams) == 0 {
		return "No teams configured."
	}
	var b strings.Builder
	b.WriteString("Teams:\n")
	for _, t := range p.cfg.Teams {
		fmt.Fprintf(&b, "- %s (%s): leader @%s, members %s\n",
			t.ID, t.Name, t.Leader, strings.Join(t.Members, ", "))
	}
	return strings.TrimSpace(b.String())
}
