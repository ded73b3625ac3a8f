package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

const (
	debugPortLow  = 9222
	debugPortHigh = 9621

	readinessWait     = 12 * time.Second
	mirrorStaleAfter  = 2 * time.Minute
	mirrorMetadataTag = "mirror.json"
)

// Cache directories never worth mirroring; they are large and Chromium
// rebuilds them.
var mirrorExclude = map[string]bool{
	"Cache":         true,
	"Code Cache":    true,
	"GPUCache":      true,
	"ShaderCache":   true,
	"GrShaderCache": true,
	"DawnCache":     true,
	"Media Cache":   true,
}

// SessionManager attaches an Automation backend, preferring an already
// running debugger, then a fresh launch on a mirrored profile, then the
// broker channel.
type SessionManager struct {
	cfg  *config.Config
	db   *store.DB
	home string
	log  *slog.Logger
}

// NewSessionManager builds a SessionManager.
func NewSessionManager(cfg *config.Config, db *store.DB, home string, log *slog.Logger) *SessionManager {
	return &SessionManager{cfg: cfg, db: db, home: home, log: log.With("component", "browser")}
}

// Attach returns a connected Automation. Caller owns Close.
func (m *SessionManager) Attach(ctx context.Context) (Automation, error) {
	bc := m.cfg.Harness.Browser
	if !bc.Enabled {
		return nil, ErrNoAutomation
	}

	switch bc.Provider {
	case "broker":
		return m.attachBroker(ctx, bc)
	case "cdp":
		return m.attachCDP(ctx, bc)
	default: // auto
		auto, err := m.attachCDP(ctx, bc)
		if err == nil {
			return auto, nil
		}
		m.log.Warn("cdp attach failed, trying broker", "error", err)
		if bc.MCPChannel != "" {
			return m.attachBroker(ctx, bc)
		}
		return nil, err
	}
}

func (m *SessionManager) attachBroker(ctx context.Context, bc config.BrowserConfig) (Automation, error) {
	if bc.MCPChannel == "" {
		return nil, fmt.Errorf("%w: broker channel not configured", ErrNoAutomation)
	}
	return ConnectBroker(ctx, bc.MCPChannel)
}

func (m *SessionManager) attachCDP(ctx context.Context, bc config.BrowserConfig) (Automation, error) {
	// 1. Explicit debugger endpoint.
	if bc.DebuggerURL != "" {
		if auto, err := ConnectCDP(bc.DebuggerURL); err == nil {
			return auto, nil
		} else {
			m.log.Warn("configured debugger unreachable", "url", bc.DebuggerURL, "error", err)
		}
	}

	// 2. Configured ports, then sessions we launched before.
	for _, port := range bc.DebuggerPorts {
		if url, ok := probeDebugger(ctx, "127.0.0.1", port); ok {
			return ConnectCDP(url)
		}
	}
	if sessions, err := m.db.ListBrowserSessions(store.TabActive); err == nil {
		for _, s := range sessions {
			if url, ok := probeDebugger(ctx, s.Host, s.Port); ok {
				return ConnectCDP(url)
			}
		}
	}

	// 3. Launch fresh on a mirrored profile.
	profile, err := m.mirrorProfile(bc)
	if err != nil {
		m.log.Warn("profile mirror failed, launching bare", "error", err)
		profile = ""
	}
	port := debugPortLow + rand.Intn(debugPortHigh-debugPortLow+1)
	auto, err := LaunchCDP(profile, port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAutomation, err)
	}
	if err := waitDebuggerReady(ctx, port); err != nil {
		auto.Close()
		return nil, err
	}

	m.db.UpsertBrowserSession(&store.BrowserSession{
		Host: "127.0.0.1", Port: port, ProfilePath: profile, Status: store.TabActive,
	})
	m.log.Info("browser launched", "port", port, "profile", profile)
	return auto, nil
}

// probeDebugger checks the DevTools version endpoint and returns the ws URL.
func probeDebugger(ctx context.Context, host string, port int) (string, bool) {
	url := fmt.Sprintf("http://%s:%d/json/version", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", false
	}
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &version); err != nil || version.WebSocketDebuggerURL == "" {
		return "", false
	}
	return version.WebSocketDebuggerURL, true
}

func waitDebuggerReady(ctx context.Context, port int) error {
	deadline := time.Now().Add(readinessWait)
	for time.Now().Before(deadline) {
		if _, ok := probeDebugger(ctx, "127.0.0.1", port); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return fmt.Errorf("debugger on port %d not ready after %s", port, readinessWait)
}

// mirrorProfile snapshots the user's browser profile into the harness state
// dir so a second Chromium can use the same logins without fighting the live
// profile's lock. Cache directories are skipped. A snapshot younger than two
// minutes is reused.
func (m *SessionManager) mirrorProfile(bc config.BrowserConfig) (string, error) {
	src := bc.ProfilePath
	if src == "" {
		return "", nil
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("profile path: %w", err)
	}

	dst := filepath.Join(m.home, "harness", "browser-profile-mirror")
	metaPath := filepath.Join(dst, mirrorMetadataTag)

	var meta struct {
		Source   string `json:"source"`
		Mirrored int64  `json:"mirroredAt"`
	}
	if data, err := os.ReadFile(metaPath); err == nil {
		if json.Unmarshal(data, &meta) == nil &&
			meta.Source == src &&
			time.Since(time.UnixMilli(meta.Mirrored)) < mirrorStaleAfter {
			return dst, nil
		}
	}

	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("clear mirror: %w", err)
	}
	if err := copyProfileTree(src, dst, bc.ProfileDirectory); err != nil {
		return "", err
	}

	meta.Source = src
	meta.Mirrored = time.Now().UnixMilli()
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write mirror metadata: %w", err)
	}
	return dst, nil
}

// copyProfileTree copies src into dst, skipping cache dirs and lock files.
// When profileDir is set, only that profile subdirectory plus the top-level
// Local State file is copied.
func copyProfileTree(src, dst, profileDir string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))

		if d.IsDir() {
			if mirrorExclude[d.Name()] {
				return filepath.SkipDir
			}
			if profileDir != "" && len(parts) == 1 && parts[0] != profileDir {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}

		if strings.HasPrefix(d.Name(), "Singleton") {
			return nil // live-profile locks
		}
		if profileDir != "" && len(parts) == 1 && parts[0] != "Local State" {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return nil // file vanished or locked mid-walk
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
