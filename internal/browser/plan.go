package browser

import (
	"regexp"
	"strings"
)

// Step kinds in a browser plan.
const (
	StepNavigate    = "navigate"
	StepClick       = "click"
	StepType        = "type"
	StepFill        = "fill"
	StepWaitFor     = "wait_for"
	StepPress       = "press"
	StepScreenshot  = "screenshot"
	StepExtractText = "extract_text"
)

// Step is one typed action in a plan.
type Step struct {
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
}

var (
	planURL = regexp.MustCompile(`https?://[^\s<>")\]]+`)

	navigateLine = regexp.MustCompile(`(?i)^(?:navigate|go|open|visit)(?:\s+to)?\s+(\S+)`)
	clickLine    = regexp.MustCompile(`(?i)^click(?:\s+on)?\s+(.+)$`)
	typeLine     = regexp.MustCompile(`(?i)^type\s+"([^"]+)"(?:\s+(?:in|into)\s+(.+))?$`)
	fillLine     = regexp.MustCompile(`(?i)^fill\s+(\S+)\s+with\s+"([^"]*)"$`)
	waitLine     = regexp.MustCompile(`(?i)^wait(?:\s+for)?\s+(.+)$`)
	pressLine    = regexp.MustCompile(`(?i)^press\s+(\S+)$`)
	extractLine  = regexp.MustCompile(`(?i)^extract(?:\s+text)?(?:\s+from)?\s+(.+)$`)
	shotLine     = regexp.MustCompile(`(?i)^(?:take\s+a?\s*)?screenshot$`)

	listPrefix = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s*`)
	identOnly  = regexp.MustCompile(`^[A-Za-z0-9_#.\[\]=-]+$`)
)

// Plan parses objective + candidate output into typed steps. When nothing
// parses but a URL exists, the plan degrades to [navigate, screenshot].
func Plan(objective, candidate string) []Step {
	var steps []Step
	for _, source := range []string{candidate, objective} {
		for _, raw := range strings.Split(source, "\n") {
			line := strings.TrimSpace(listPrefix.ReplaceAllString(raw, ""))
			line = strings.Trim(line, "`")
			if line == "" {
				continue
			}
			if step, ok := parseLine(line); ok {
				steps = append(steps, step)
			}
		}
		if len(steps) > 0 {
			break
		}
	}

	if len(steps) == 0 {
		if url := planURL.FindString(candidate + "\n" + objective); url != "" {
			steps = []Step{
				{Kind: StepNavigate, URL: url},
				{Kind: StepScreenshot},
			}
		}
	}
	return steps
}

func parseLine(line string) (Step, bool) {
	switch {
	case shotLine.MatchString(line):
		return Step{Kind: StepScreenshot}, true
	case navigateLine.MatchString(line):
		m := navigateLine.FindStringSubmatch(line)
		url := strings.Trim(m[1], `"'`)
		if !strings.Contains(url, "://") {
			if !strings.Contains(url, ".") {
				return Step{}, false
			}
			url = "https://" + url
		}
		return Step{Kind: StepNavigate, URL: url}, true
	case fillLine.MatchString(line):
		m := fillLine.FindStringSubmatch(line)
		return Step{Kind: StepFill, Selector: NormalizeSelector(m[1]), Value: m[2]}, true
	case typeLine.MatchString(line):
		m := typeLine.FindStringSubmatch(line)
		step := Step{Kind: StepType, Value: m[1]}
		if m[2] != "" {
			step.Selector = NormalizeSelector(strings.TrimSpace(m[2]))
		}
		return step, true
	case pressLine.MatchString(line):
		m := pressLine.FindStringSubmatch(line)
		return Step{Kind: StepPress, Key: m[1]}, true
	case waitLine.MatchString(line):
		m := waitLine.FindStringSubmatch(line)
		return Step{Kind: StepWaitFor, Selector: NormalizeSelector(strings.TrimSpace(m[1]))}, true
	case extractLine.MatchString(line):
		m := extractLine.FindStringSubmatch(line)
		return Step{Kind: StepExtractText, Selector: NormalizeSelector(strings.TrimSpace(m[1]))}, true
	case clickLine.MatchString(line):
		m := clickLine.FindStringSubmatch(line)
		return Step{Kind: StepClick, Selector: NormalizeSelector(strings.TrimSpace(m[1]))}, true
	}
	return Step{}, false
}

// NormalizeSelector maps free-form selector text onto the selector DSL:
//   - leading # . [ stays CSS
//   - text= css= xpath= prefixes are kept verbatim
//   - multi-word untagged values wrap as text=<value>
//   - single identifiers pass through
func NormalizeSelector(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return s
	}
	switch s[0] {
	case '#', '.', '[':
		return s
	}
	for _, prefix := range []string{"text=", "css=", "xpath="} {
		if strings.HasPrefix(s, prefix) {
			return s
		}
	}
	if strings.ContainsAny(s, " \t") || !identOnly.MatchString(s) {
		return "text=" + s
	}
	return s
}
