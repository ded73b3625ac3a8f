package browser

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

// fakeAutomation scripts page states per step so executor behaviour can be
// driven without a browser.
type fakeAutomation struct {
	states  []*State
	shot    []byte
	shotErr error
	clicks  int
}

func (f *fakeAutomation) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeAutomation) Click(ctx context.Context, selector string) error {
	f.clicks++
	return nil
}
func (f *fakeAutomation) Fill(ctx context.Context, selector, value string) error { return nil }
func (f *fakeAutomation) Type(ctx context.Context, selector, text string) error  { return nil }
func (f *fakeAutomation) WaitFor(ctx context.Context, selector string) error     { return nil }
func (f *fakeAutomation) Press(ctx context.Context, key string) error            { return nil }
func (f *fakeAutomation) ExtractText(ctx context.Context, selector string) (string, error) {
	return "", nil
}
func (f *fakeAutomation) Screenshot(ctx context.Context) ([]byte, error) {
	return f.shot, f.shotErr
}
func (f *fakeAutomation) ReadState(ctx context.Context) (*State, error) {
	if len(f.states) == 0 {
		return nil, errors.New("no scripted state left")
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s, nil
}
func (f *fakeAutomation) Close() error { return nil }

func newTestExecutor(t *testing.T, auto Automation, hardStop bool) (*Executor, *store.DB) {
	t.Helper()
	home := t.TempDir()
	db, err := store.OpenSQLitePath(filepath.Join(home, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Harness: config.HarnessConfig{
			Browser: config.BrowserConfig{Enabled: true, HardStopPayments: hardStop},
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewExecutor(cfg, db, home, log)
	e.attach = func(context.Context) (Automation, error) { return auto, nil }
	return e, db
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRunChecksCheckpointAfterSuccessfulStep(t *testing.T) {
	auto := &fakeAutomation{
		shotErr: errors.New("no screenshots in this run"),
		states: []*State{
			{URL: "https://example.com", Title: "Home"},
			{URL: "https://example.com/captcha", Title: "Quick check"},
		},
	}
	e, db := newTestExecutor(t, auto, false)

	steps := []Step{
		{Kind: StepNavigate, URL: "https://example.com"},
		{Kind: StepClick, Selector: "#menu"},
	}
	res, err := e.Run(context.Background(), "run1", "u1", "open the menu", steps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Status != StatusNeedsInput {
		t.Errorf("status = %q, want %q", res.Status, StatusNeedsInput)
	}
	if !strings.Contains(res.Message, "step 2") {
		t.Errorf("message = %q, want the checkpoint pinned to step 2", res.Message)
	}
	// The click itself succeeded: detection must not depend on a step error.
	if auto.clicks != 1 {
		t.Errorf("clicks = %d, want the click to have executed", auto.clicks)
	}
	tab, err := db.LatestTabForRun("run1")
	if err != nil {
		t.Fatalf("latest tab: %v", err)
	}
	if tab.Status != store.TabError {
		t.Errorf("tab status = %q, want %q", tab.Status, store.TabError)
	}
	if !strings.Contains(tab.TraceJSON, `"checkpoint"`) {
		t.Errorf("trace %q missing checkpoint entry", tab.TraceJSON)
	}
}

func TestRunPaymentHardStopAudited(t *testing.T) {
	auto := &fakeAutomation{shotErr: errors.New("no screenshots in this run")}
	e, db := newTestExecutor(t, auto, true)

	steps := []Step{{Kind: StepClick, Selector: "text=Pay now"}}
	res, err := e.Run(context.Background(), "run2", "u1", "pay the invoice", steps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Status != StatusNeedsApproval {
		t.Errorf("status = %q, want %q", res.Status, StatusNeedsApproval)
	}
	if res.RequestID == "" {
		t.Error("no approval request id returned")
	}
	if auto.clicks != 0 {
		t.Errorf("clicks = %d, want the payment step blocked before execution", auto.clicks)
	}

	audits, err := db.ListBrowserAudits("run2")
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audits = %d rows, want exactly one", len(audits))
	}
	if audits[0].EventType != "approval_required" {
		t.Errorf("audit event = %q, want approval_required", audits[0].EventType)
	}
}

func TestRunStoresArtifactsPerTab(t *testing.T) {
	auto := &fakeAutomation{
		shot:   tinyPNG(t),
		states: []*State{{URL: "https://example.com", Title: "Home"}},
	}
	e, db := newTestExecutor(t, auto, false)

	steps := []Step{
		{Kind: StepNavigate, URL: "https://example.com"},
		{Kind: StepScreenshot},
	}
	res, err := e.Run(context.Background(), "run3", "u1", "grab a screenshot", steps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q (message: %s)", res.Status, StatusCompleted, res.Message)
	}
	if len(res.Artifacts) != 4 {
		t.Fatalf("artifacts = %v, want before/after per step", res.Artifacts)
	}
	wantDir := filepath.Join("browser-audit", "run3", res.TabID)
	for _, p := range res.Artifacts {
		if !strings.Contains(p, wantDir) {
			t.Errorf("artifact %q outside %q", p, wantDir)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing on disk: %v", err)
		}
	}

	tab, err := db.LatestTabForRun("run3")
	if err != nil {
		t.Fatalf("latest tab: %v", err)
	}
	if tab.Status != store.TabReleased {
		t.Errorf("tab status = %q, want %q", tab.Status, store.TabReleased)
	}
}
