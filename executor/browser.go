// Package executor drives a real browser for screenshot capture and
// pixel-coordinate interaction. It deliberately knows nothing about CSS
// selectors or the DOM: elements are located by the perception service and
// acted on at their bounding-box centers, which keeps the executor honest
// about operating on what is visible rather than what is in the markup.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Headless controls whether a locally launched Chrome shows a window.
	Headless bool `yaml:"headless"`

	// Stealth applies anti-detection page setup to every session.
	Stealth bool `yaml:"stealth"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser manages one Chrome instance shared by its sessions.
type Browser struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Call Start to launch or connect Chrome.
func NewBrowser(cfg Config) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("executor: browser is closed")
	}

	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		b.cfg.Logger.Info("executor: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(b.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("executor: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("executor: launched local chrome", "headless", b.cfg.Headless)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("executor: connect: %w", err)
	}

	// Dev/test targets frequently run on self-signed certs.
	if err := browser.IgnoreCertErrors(true); err != nil {
		b.cfg.Logger.Warn("executor: ignore cert errors failed", "error", err)
	}

	b.browser = browser
	return nil
}

// Close shuts down Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return fmt.Errorf("executor: close browser: %w", err)
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

func (b *Browser) rod() *rod.Browser {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.browser
}
