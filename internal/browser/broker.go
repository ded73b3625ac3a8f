package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nextlevelbuilder/tinyagi/pkg/protocol"
)

const (
	brokerDialTimeout = 10 * time.Second
	brokerCallTimeout = 30 * time.Second
	brokerNavTimeout  = 90 * time.Second
)

// brokerAutomation drives a remote automation broker over a websocket
// JSON-RPC channel.
type brokerAutomation struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	mu sync.Mutex // one in-flight call at a time; broker replies in order
}

// ConnectBroker dials the broker channel and verifies it with a health call.
func ConnectBroker(ctx context.Context, url string) (Automation, error) {
	dialCtx, cancel := context.WithTimeout(ctx, brokerDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker %s: %w", url, err)
	}
	conn.SetReadLimit(16 << 20) // screenshots come back inline

	b := &brokerAutomation{conn: conn}
	if _, err := b.call(ctx, protocol.MethodHealth, nil, brokerCallTimeout); err != nil {
		conn.Close(websocket.StatusInternalError, "health check failed")
		return nil, fmt.Errorf("broker health: %w", err)
	}
	return b, nil
}

func (b *brokerAutomation) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := protocol.Request{ID: b.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	if err := wsjson.Write(ctx, b.conn, &req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		var resp protocol.Response
		if err := wsjson.Read(ctx, b.conn, &resp); err != nil {
			return nil, fmt.Errorf("read %s reply: %w", method, err)
		}
		if resp.ID != req.ID {
			continue // stale reply from an abandoned call
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("broker %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

func (b *brokerAutomation) step(ctx context.Context, method string, p protocol.StepParams, timeout time.Duration) error {
	_, err := b.call(ctx, method, p, timeout)
	return err
}

func (b *brokerAutomation) Navigate(ctx context.Context, url string) error {
	return b.step(ctx, protocol.MethodNavigate, protocol.StepParams{URL: url}, brokerNavTimeout)
}

func (b *brokerAutomation) Click(ctx context.Context, selector string) error {
	return b.step(ctx, protocol.MethodClick, protocol.StepParams{Selector: selector}, brokerCallTimeout)
}

func (b *brokerAutomation) Fill(ctx context.Context, selector, value string) error {
	return b.step(ctx, protocol.MethodFill, protocol.StepParams{Selector: selector, Value: value}, brokerCallTimeout)
}

func (b *brokerAutomation) Type(ctx context.Context, selector, text string) error {
	return b.step(ctx, protocol.MethodType, protocol.StepParams{Selector: selector, Value: text}, brokerCallTimeout)
}

func (b *brokerAutomation) WaitFor(ctx context.Context, selector string) error {
	return b.step(ctx, protocol.MethodWaitFor, protocol.StepParams{
		Selector:  selector,
		TimeoutMs: int(selectorTimeout / time.Millisecond),
	}, brokerCallTimeout)
}

func (b *brokerAutomation) Press(ctx context.Context, key string) error {
	return b.step(ctx, protocol.MethodPress, protocol.StepParams{Key: key}, brokerCallTimeout)
}

func (b *brokerAutomation) ExtractText(ctx context.Context, selector string) (string, error) {
	raw, err := b.call(ctx, protocol.MethodExtractText, protocol.StepParams{Selector: selector}, brokerCallTimeout)
	if err != nil {
		return "", err
	}
	var res protocol.TextResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode text result: %w", err)
	}
	return res.Text, nil
}

func (b *brokerAutomation) Screenshot(ctx context.Context) ([]byte, error) {
	raw, err := b.call(ctx, protocol.MethodScreenshot, nil, brokerCallTimeout)
	if err != nil {
		return nil, err
	}
	var res protocol.ScreenshotResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode screenshot result: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot data: %w", err)
	}
	return data, nil
}

func (b *brokerAutomation) ReadState(ctx context.Context) (*State, error) {
	raw, err := b.call(ctx, protocol.MethodReadState, nil, brokerCallTimeout)
	if err != nil {
		return nil, err
	}
	var res protocol.PageState
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode page state: %w", err)
	}
	return &State{URL: res.URL, Title: res.Title, VisibleText: res.VisibleText}, nil
}

func (b *brokerAutomation) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.call(ctx, protocol.MethodClose, nil, 5*time.Second)
	return b.conn.Close(websocket.StatusNormalClosure, "done")
}
