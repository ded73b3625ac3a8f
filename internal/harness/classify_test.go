package harness

import "testing"

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name      string
		objective string
		want      string
	}{
		{"plain request is low", "summarize my unread newsletters", RiskLow},
		{"content mutation is medium", "update my notes file with the meeting summary", RiskMedium},
		{"outbound action is medium", "send the summary to my work address", RiskMedium},
		{"credentials are high", "rotate the api key for the staging service", RiskHigh},
		{"login flow is high", "log in to the vendor portal and download the invoice", RiskHigh},
		{"payment is critical", "buy the concert tickets before they sell out", RiskCritical},
		{"destructive data op is critical", "delete everything in the downloads folder", RiskCritical},
		{"highest match wins", "install the cli and transfer the funds", RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := ClassifyRisk(tt.objective)
			if got != tt.want {
				t.Errorf("ClassifyRisk(%q) = %q, want %q", tt.objective, got, tt.want)
			}
			if len(reasons) == 0 {
				t.Error("ClassifyRisk returned no reasons")
			}
		})
	}
}

func TestClassifyRiskLowHasPlaceholderReason(t *testing.T) {
	_, reasons := ClassifyRisk("hello")
	if len(reasons) != 1 || reasons[0] != "no risk patterns matched" {
		t.Errorf("reasons = %v, want the no-match placeholder", reasons)
	}
}

func TestRouteTask(t *testing.T) {
	tests := []struct {
		name      string
		objective string
		want      string
	}{
		{"browser keywords", "open the website and check my order status", RouteBrowser},
		{"tooling keywords", "install ripgrep with brew", RouteTooling},
		{"memory keywords", "remember that I prefer morning meetings", RouteMemory},
		{"default", "draft a birthday message for Sam", RouteAgent},
		{"browser outranks tooling", "use the browser to install the extension", RouteBrowser},
		{"tooling outranks memory", "remember to install docker", RouteTooling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := RouteTask(tt.objective)
			if got != tt.want {
				t.Errorf("RouteTask(%q) = %q (%s), want %q", tt.objective, got, reason, tt.want)
			}
		})
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"question mark", "did the deploy finish?", IntentQuestion},
		{"interrogative opener", "what happened with the invoice", IntentQuestion},
		{"browser task", "check the dashboard for new signups", IntentBrowserTask},
		{"engineering task", "fix the failing test in the parser", IntentEngineering},
		{"general task", "plan a dinner menu for saturday", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyIntent(tt.message); got != tt.want {
				t.Errorf("ClassifyIntent(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestIsTaskIntent(t *testing.T) {
	if IsTaskIntent(IntentQuestion) {
		t.Error("question counted as task intent")
	}
	for _, intent := range []string{IntentBrowserTask, IntentEngineering, IntentGeneral} {
		if !IsTaskIntent(intent) {
			t.Errorf("%s not counted as task intent", intent)
		}
	}
}

func TestLoopBudget(t *testing.T) {
	tests := []struct {
		risk string
		want int
	}{
		{RiskLow, 1},
		{RiskMedium, 3},
		{RiskHigh, 5},
		{RiskCritical, 5},
		{"", 1},
	}
	for _, tt := range tests {
		if got := LoopBudget(tt.risk); got != tt.want {
			t.Errorf("LoopBudget(%q) = %d, want %d", tt.risk, got, tt.want)
		}
	}
}
