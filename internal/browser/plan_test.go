package browser

import (
	"reflect"
	"testing"
)

func TestPlanParsesCandidateLines(t *testing.T) {
	candidate := `1. Navigate to https://example.com/orders
2. Click on #order-list
3. Fill #search with "blue socks"
4. Type "standard" into .shipping-field
5. Press Enter
6. Wait for .results
7. Extract text from .results
8. Screenshot`
	got := Plan("check my orders", candidate)
	want := []Step{
		{Kind: StepNavigate, URL: "https://example.com/orders"},
		{Kind: StepClick, Selector: "#order-list"},
		{Kind: StepFill, Selector: "#search", Value: "blue socks"},
		{Kind: StepType, Selector: ".shipping-field", Value: "standard"},
		{Kind: StepPress, Key: "Enter"},
		{Kind: StepWaitFor, Selector: ".results"},
		{Kind: StepExtractText, Selector: ".results"},
		{Kind: StepScreenshot},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plan =\n%+v\nwant\n%+v", got, want)
	}
}

func TestPlanFallsBackToObjective(t *testing.T) {
	got := Plan("open example.com and click Sign up", "I couldn't produce a plan, sorry.")
	if len(got) == 0 {
		t.Fatal("Plan produced no steps from the objective")
	}
	if got[0].Kind != StepNavigate || got[0].URL != "https://example.com" {
		t.Errorf("first step = %+v, want navigate to https://example.com", got[0])
	}
}

func TestPlanURLOnlyFallback(t *testing.T) {
	got := Plan("see https://news.example.org for details", "nothing actionable here")
	want := []Step{
		{Kind: StepNavigate, URL: "https://news.example.org"},
		{Kind: StepScreenshot},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plan = %+v, want navigate+screenshot fallback", got)
	}
}

func TestPlanNothingParsable(t *testing.T) {
	if got := Plan("just thinking out loud", "no urls, no verbs"); got != nil {
		t.Errorf("Plan = %+v, want nil", got)
	}
}

func TestNormalizeSelector(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"id selector", "#submit", "#submit"},
		{"class selector", ".btn-primary", ".btn-primary"},
		{"attribute selector", `[name=email]`, `[name=email]`},
		{"text prefix verbatim", "text=Sign up", "text=Sign up"},
		{"css prefix verbatim", "css=div > a", "css=div > a"},
		{"xpath prefix verbatim", "xpath=//button[1]", "xpath=//button[1]"},
		{"multi-word wraps as text", "Sign up now", "text=Sign up now"},
		{"single identifier passes through", "submit-button", "submit-button"},
		{"quoted value unwrapped", `"Log in"`, "text=Log in"},
		{"empty stays empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSelector(tt.in); got != tt.want {
				t.Errorf("NormalizeSelector(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsPaymentStep(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want bool
	}{
		{"checkout button", Step{Kind: StepClick, Selector: "text=Proceed to checkout"}, true},
		{"card number field", Step{Kind: StepFill, Selector: "#card-number-input", Value: "4111"}, false},
		{"card number text", Step{Kind: StepFill, Selector: "text=Card number", Value: "4111"}, true},
		{"cvv field", Step{Kind: StepFill, Selector: "#cvv", Value: "123"}, true},
		{"payment url", Step{Kind: StepNavigate, URL: "https://shop.example.com/payment/confirm"}, true},
		{"harmless click", Step{Kind: StepClick, Selector: "#order-history"}, false},
		{"buy now", Step{Kind: StepClick, Selector: "text=Buy now"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPaymentStep(tt.step); got != tt.want {
				t.Errorf("isPaymentStep(%+v) = %v, want %v", tt.step, got, tt.want)
			}
		})
	}
}

func TestPlanFromTrace(t *testing.T) {
	trace := `[
		{"actionId":"a1","kind":"navigate","url":"https://example.com","status":"ok"},
		{"actionId":"a2","kind":"click","selector":"#login","status":"ok"},
		{"actionId":"a2","kind":"click","selector":"#login","status":"ok"},
		{"actionId":"a3","kind":"fill","selector":"#user","value":"me","status":"failed"},
		{"actionId":"a4","kind":"type","selector":"#q","value":"hi","status":"checkpoint"}
	]`
	got, err := PlanFromTrace(trace)
	if err != nil {
		t.Fatalf("PlanFromTrace: %v", err)
	}
	want := []Step{
		{Kind: StepNavigate, URL: "https://example.com"},
		{Kind: StepClick, Selector: "#login"},
		{Kind: StepType, Selector: "#q", Value: "hi"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("steps =\n%+v\nwant\n%+v", got, want)
	}
}

func TestPlanFromTracePrependsNavigateAnchor(t *testing.T) {
	trace := `[
		{"actionId":"a1","kind":"click","selector":"#menu","status":"ok"},
		{"actionId":"a2","kind":"navigate","url":"https://example.com","status":"ok"},
		{"actionId":"a3","kind":"click","selector":"#item","status":"ok"}
	]`
	got, err := PlanFromTrace(trace)
	if err != nil {
		t.Fatalf("PlanFromTrace: %v", err)
	}
	want := []Step{
		{Kind: StepNavigate, URL: "https://example.com"},
		{Kind: StepClick, Selector: "#menu"},
		{Kind: StepNavigate, URL: "https://example.com"},
		{Kind: StepClick, Selector: "#item"},
	}
	// The recorded sequence stays intact; only a fresh anchor is added.
	if !reflect.DeepEqual(got, want) {
		t.Errorf("steps =\n%+v\nwant\n%+v", got, want)
	}
}

func TestPlanFromTraceWithoutNavigateAnchor(t *testing.T) {
	trace := `[{"actionId":"a1","kind":"click","selector":"#menu","status":"ok"}]`
	got, err := PlanFromTrace(trace)
	if err != nil {
		t.Fatalf("PlanFromTrace: %v", err)
	}
	if got != nil {
		t.Errorf("steps = %+v, want nil for an unanchored trace", got)
	}
}

func TestPlanFromTraceBadJSON(t *testing.T) {
	if _, err := PlanFromTrace("{not json"); err == nil {
		t.Error("PlanFromTrace accepted malformed trace")
	}
}
