package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	navigateTimeout = 30 * time.Second
	selectorTimeout = 15 * time.Second
)

// rodAutomation drives a Chromium instance over CDP.
type rodAutomation struct {
	browser *rod.Browser
	page    *rod.Page
	owned   *launcher.Launcher // set when we launched the process ourselves
}

// ConnectCDP attaches to a running debugger endpoint (ws:// or http://host:port).
func ConnectCDP(debuggerURL string) (Automation, error) {
	u, err := launcher.ResolveURL(debuggerURL)
	if err != nil {
		return nil, fmt.Errorf("resolve debugger url: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect debugger: %w", err)
	}
	page, err := attachPage(b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &rodAutomation{browser: b, page: page}, nil
}

// LaunchCDP starts a fresh headless-off Chromium with the given user data dir
// and debugging port, then attaches.
func LaunchCDP(userDataDir string, port int) (Automation, error) {
	l := launcher.New().
		Headless(false).
		Leakless(false).
		Set("remote-debugging-port", fmt.Sprintf("%d", port))
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect launched browser: %w", err)
	}
	page, err := attachPage(b)
	if err != nil {
		b.Close()
		l.Cleanup()
		return nil, err
	}
	return &rodAutomation{browser: b, page: page, owned: l}, nil
}

// attachPage reuses the most recent open page, or creates one.
func attachPage(b *rod.Browser) (*rod.Page, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) > 0 {
		return pages[len(pages)-1], nil
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return page, nil
}

func (r *rodAutomation) Navigate(ctx context.Context, url string) error {
	page := r.page.Context(ctx).Timeout(navigateTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// element resolves a selector in the text=/css=/xpath= DSL.
func (r *rodAutomation) element(ctx context.Context, selector string) (*rod.Element, error) {
	page := r.page.Context(ctx).Timeout(selectorTimeout)
	switch {
	case strings.HasPrefix(selector, "text="):
		text := strings.TrimPrefix(selector, "text=")
		el, err := page.ElementR(`a, button, input, label, [role], h1, h2, h3, span, div`, "(?i)"+regexp.QuoteMeta(text))
		if err != nil {
			return nil, fmt.Errorf("find text %q: %w", text, err)
		}
		return el, nil
	case strings.HasPrefix(selector, "xpath="):
		el, err := page.ElementX(strings.TrimPrefix(selector, "xpath="))
		if err != nil {
			return nil, fmt.Errorf("find xpath %q: %w", selector, err)
		}
		return el, nil
	case strings.HasPrefix(selector, "css="):
		selector = strings.TrimPrefix(selector, "css=")
		fallthrough
	default:
		el, err := page.Element(selector)
		if err != nil {
			return nil, fmt.Errorf("find %q: %w", selector, err)
		}
		return el, nil
	}
}

func (r *rodAutomation) Click(ctx context.Context, selector string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll to %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (r *rodAutomation) Fill(ctx context.Context, selector, value string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (r *rodAutomation) Type(ctx context.Context, selector, text string) error {
	if selector != "" {
		el, err := r.element(ctx, selector)
		if err != nil {
			return err
		}
		if err := el.Focus(); err != nil {
			return fmt.Errorf("focus %q: %w", selector, err)
		}
	}
	page := r.page.Context(ctx)
	if err := page.InsertText(text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

func (r *rodAutomation) WaitFor(ctx context.Context, selector string) error {
	_, err := r.element(ctx, selector)
	return err
}

func (r *rodAutomation) Press(ctx context.Context, key string) error {
	k, ok := keyMap[strings.ToLower(key)]
	if !ok {
		runes := []rune(key)
		if len(runes) != 1 {
			return fmt.Errorf("unknown key %q", key)
		}
		k = input.Key(runes[0])
	}
	page := r.page.Context(ctx)
	if err := page.Keyboard.Press(k); err != nil {
		return fmt.Errorf("press %q: %w", key, err)
	}
	return nil
}

var keyMap = map[string]input.Key{
	"enter":     input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"backspace": input.Backspace,
	"space":     input.Space,
	"arrowup":   input.ArrowUp,
	"arrowdown": input.ArrowDown,
	"pageup":    input.PageUp,
	"pagedown":  input.PageDown,
}

func (r *rodAutomation) ExtractText(ctx context.Context, selector string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read text %q: %w", selector, err)
	}
	return text, nil
}

func (r *rodAutomation) Screenshot(ctx context.Context) ([]byte, error) {
	page := r.page.Context(ctx)
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (r *rodAutomation) ReadState(ctx context.Context) (*State, error) {
	page := r.page.Context(ctx)
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	state := &State{URL: info.URL, Title: info.Title}
	if body, err := page.Element("body"); err == nil {
		if text, err := body.Text(); err == nil {
			if len(text) > 4000 {
				text = text[:4000]
			}
			state.VisibleText = text
		}
	}
	return state, nil
}

func (r *rodAutomation) Close() error {
	err := r.browser.Close()
	if r.owned != nil {
		r.owned.Cleanup()
	}
	return err
}
