// Package protocol defines the JSON-RPC wire contract between the
// orchestrator and the external browser-automation broker.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 2

// RPC method names understood by the broker.
const (
	MethodNavigate    = "page.navigate"
	MethodClick       = "page.click"
	MethodFill        = "page.fill"
	MethodType        = "page.type"
	MethodWaitFor     = "page.waitFor"
	MethodPress       = "page.press"
	MethodExtractText = "page.extractText"
	MethodScreenshot  = "page.screenshot"
	MethodEvaluate    = "page.evaluate"
	MethodReadState   = "page.readState"
	MethodClose       = "page.close"
	MethodHealth      = "health"
)

// Request is one broker RPC call.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the broker's reply; exactly one of Result or Error is set.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a broker-side failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Err() string { return e.Message }

// StepParams carries one automation step.
type StepParams struct {
	Selector  string `json:"selector,omitempty"`
	Value     string `json:"value,omitempty"`
	URL       string `json:"url,omitempty"`
	Key       string `json:"key,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// PageState is the broker's read of the current page.
type PageState struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	VisibleText string `json:"visibleText,omitempty"`
}

// ScreenshotResult carries a base64 PNG.
type ScreenshotResult struct {
	Data string `json:"data"`
}

// TextResult carries extracted text.
type TextResult struct {
	Text string `json:"text"`
}
