package browser

import (
	"context"
	"errors"
)

// ErrNoAutomation means no browser backend could be attached.
var ErrNoAutomation = errors.New("no browser automation backend available")

// State is a read of the current page.
type State struct {
	URL         string
	Title       string
	VisibleText string
}

// Automation is the capability surface a backend must provide. Both the
// direct CDP backend and the broker client implement it.
type Automation interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	WaitFor(ctx context.Context, selector string) error
	Press(ctx context.Context, key string) error
	ExtractText(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ReadState(ctx context.Context) (*State, error)
	Close() error
}
