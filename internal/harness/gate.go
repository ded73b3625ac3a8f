package harness

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// GateDecision is the publish gate's answer for one verified candidate.
type GateDecision struct {
	Allow            bool
	RequiresApproval bool
	RequestID        string
	Reason           string
}

// PublishGate is the final admission check between a verified candidate and
// delivery. The production policy allows everything; the approval path is
// kept wired so a stricter deployment can enable it without new plumbing.
type PublishGate struct {
	db      *store.DB
	enforce bool
}

// NewPublishGate creates the gate. enforce=false is the shipped policy.
func NewPublishGate(db *store.DB, enforce bool) *PublishGate {
	return &PublishGate{db: db, enforce: enforce}
}

// Check decides whether (runID, userID, output) may be published. Route
// browser bypasses the gate: the browser executor runs its own per-action
// approvals.
func (g *PublishGate) Check(runID, userID, output, route, risk string) (*GateDecision, error) {
	if route == RouteBrowser {
		return &GateDecision{Allow: true, Reason: "browser route has per-action approvals"}, nil
	}
	if !g.enforce {
		return &GateDecision{Allow: true, Reason: "gate disabled"}, nil
	}
	if risk != RiskCritical {
		return &GateDecision{Allow: true, Reason: "below approval threshold"}, nil
	}

	requestID := "gate_" + uuid.NewString()
	if err := g.db.AppendEvent(runID, store.EventAwaitingApproval, map[string]any{
		"request_id": requestID,
		"user_id":    userID,
		"reason":     "critical risk requires approval before delivery",
	}); err != nil {
		return nil, fmt.Errorf("record gate approval: %w", err)
	}
	return &GateDecision{
		RequiresApproval: true,
		RequestID:        requestID,
		Reason:           "critical-risk output held for approval",
	}, nil
}
