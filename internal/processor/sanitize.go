package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// spillLimit is the largest message sent inline; anything longer ships as a
// Markdown attachment with a short lead-in.
const spillLimit = 4000

var (
	thinkingTagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<think>.*?</think>`),
		regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
		regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	}
	leadingBlanks   = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
	sendFilePattern = regexp.MustCompile(`\[send_file:\s*([^\]\n]+)\]`)
)

// SanitizeResponse cleans model output before it reaches a user: reasoning
// tags go, consecutive duplicate paragraphs collapse, leading blank lines are
// trimmed.
func SanitizeResponse(content string) string {
	if content == "" {
		return content
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") {
		for _, pat := range thinkingTagPatterns {
			content = pat.ReplaceAllString(content, "")
		}
	}
	content = collapseDuplicateBlocks(content)
	content = leadingBlanks.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// collapseDuplicateBlocks drops paragraphs that repeat the previous one
// verbatim, a common failure of looping generations.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}

var completionIndicators = []string{"done", "completed", "finished", "all set", "here's", "here is"}

// HasCompletionIndicator reports whether a reply already opens like a
// finished-task report; such replies skip the "Done!" prefix.
func HasCompletionIndicator(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, ind := range completionIndicators {
		if strings.HasPrefix(lower, ind) {
			return true
		}
	}
	return false
}

// IsSilentReply reports whether the model explicitly declined to reply.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "NO_REPLY" || strings.HasPrefix(trimmed, "NO_REPLY\n")
}

// ExtractSendFiles pulls [send_file: path] markers out of a response.
// Returns the cleaned text and the file paths, keeping only paths that exist.
func ExtractSendFiles(text string) (string, []string) {
	var files []string
	for _, m := range sendFilePattern.FindAllStringSubmatch(text, -1) {
		path := strings.TrimSpace(m[1])
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	cleaned := sendFilePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), files
}

// SpillLongMessage writes an over-length message to a Markdown attachment in
// filesDir and returns the truncated inline text plus the attachment path.
// Short messages come back unchanged with an empty path.
func SpillLongMessage(text, filesDir string) (string, string, error) {
	if len(text) <= spillLimit {
		return text, "", nil
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return text, "", fmt.Errorf("create files dir: %w", err)
	}
	path := filepath.Join(filesDir, fmt.Sprintf("response_%d.md", time.Now().UnixMilli()))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return text, "", fmt.Errorf("write spill file: %w", err)
	}

	cut := spillLimit
	if idx := strings.LastIndex(text[:cut], "\n"); idx > spillLimit/2 {
		cut = idx
	}
	inline := text[:cut] + "\n\n(Full response attached.)"
	return inline, path, nil
}
