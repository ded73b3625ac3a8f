package harness

import (
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func TestGateDisabledAllowsEverything(t *testing.T) {
	db := newTestDB(t)
	gate := NewPublishGate(db, false)

	dec, err := gate.Check("run1", "u1", "output", RouteAgent, RiskCritical)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !dec.Allow || dec.RequiresApproval {
		t.Errorf("decision = %+v, want unconditional allow", dec)
	}
}

func TestGateBrowserRouteBypasses(t *testing.T) {
	db := newTestDB(t)
	gate := NewPublishGate(db, true)

	dec, err := gate.Check("run1", "u1", "output", RouteBrowser, RiskCritical)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !dec.Allow {
		t.Errorf("decision = %+v, want allow (browser runs its own approvals)", dec)
	}
}

func TestGateEnforcedHoldsCriticalOnly(t *testing.T) {
	db := newTestDB(t)
	runID := newLoopRun(t, db, RiskCritical)
	gate := NewPublishGate(db, true)

	dec, err := gate.Check(runID, "u1", "output", RouteAgent, RiskHigh)
	if err != nil {
		t.Fatalf("Check high: %v", err)
	}
	if !dec.Allow {
		t.Errorf("high-risk decision = %+v, want allow", dec)
	}

	dec, err = gate.Check(runID, "u1", "output", RouteAgent, RiskCritical)
	if err != nil {
		t.Fatalf("Check critical: %v", err)
	}
	if dec.Allow || !dec.RequiresApproval || dec.RequestID == "" {
		t.Errorf("critical decision = %+v, want held for approval", dec)
	}
	if n := countEvents(t, db, runID, store.EventAwaitingApproval); n != 1 {
		t.Errorf("awaiting_approval events = %d, want 1", n)
	}
}
