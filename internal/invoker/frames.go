package invoker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame kinds emitted by the framed provider family.
const (
	FrameAgentMessage = "agent_message"
	FrameError        = "error"
)

// frame is one newline-delimited JSON event. Current runners nest the type
// under msg; older ones put it at the top level.
type frame struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Msg  *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"msg"`
}

func (f *frame) kind() string {
	if f.Msg != nil && f.Msg.Type != "" {
		return f.Msg.Type
	}
	return f.Type
}

func (f *frame) text() string {
	if f.Msg != nil && f.Msg.Text != "" {
		return f.Msg.Text
	}
	return f.Text
}

// ParseFrames scans a framed stdout stream. Malformed lines are tolerated and
// skipped. The last agent_message wins; a trailing error frame fails the
// whole invocation.
func ParseFrames(stream string) (string, error) {
	var lastMessage string
	var lastError string
	sawAny := false

	sc := bufio.NewScanner(strings.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			continue // tolerate malformed frames
		}
		switch f.kind() {
		case FrameAgentMessage:
			if t := f.text(); t != "" {
				lastMessage = t
				lastError = ""
			}
			sawAny = true
		case FrameError:
			lastError = f.text()
			sawAny = true
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scan frames: %w", err)
	}

	if lastError != "" {
		return "", fmt.Errorf("model runner reported error: %s", lastError)
	}
	if !sawAny || lastMessage == "" {
		return "", errors.New("model runner produced no agent message")
	}
	return strings.TrimSpace(lastMessage), nil
}
