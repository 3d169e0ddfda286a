// Package browser owns the Chrome process domagent inspects: launch or
// connect, periodic recycling, and opening the inspected tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode selects how pages are opened.
type Mode string

const (
	ModePlain    Mode = "plain"    // headless, no stealth patches
	ModeHeadless Mode = "headless" // headless with stealth patches
	ModeHeadful  Mode = "headful"  // visible Chrome on an Xvfb display, with stealth
)

// ParseMode accepts the config spellings of Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePlain, ModeHeadless, ModeHeadful:
		return m, nil
	case "":
		return ModeHeadless, nil
	}
	return "", fmt.Errorf("browser: unknown mode %q", s)
}

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket of a running Chrome. Empty
	// launches a local one.
	RemoteURL string
	// MemoryLimit is the JS heap size, in bytes, above which Chrome is
	// recycled. Default 1GB.
	MemoryLimit int64
	// RecycleInterval is the longest a Chrome process lives. Default 4h.
	RecycleInterval time.Duration
	// ResourceBlocking lists resource types the tab refuses to load
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string
	Mode             Mode
	XvfbDisplay      string
	Logger           *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Mode == "" {
		c.Mode = ModeHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	display   *virtualDisplay
	startedAt time.Time
	closed    bool
	onRecycle func(*rod.Browser)
}

// NewManager creates a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers fn to run with the new browser after every recycle.
// Pages of the old browser are gone by then.
func (m *Manager) OnRecycle(fn func(*rod.Browser)) {
	m.mu.Lock()
	m.onRecycle = fn
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the recycle monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, err := m.launchLocked()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startedAt = time.Now()
	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current browser, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome and runs the OnRecycle callback.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startedAt).Round(time.Second))
	m.shutdownLocked()
	b, err := m.launchLocked()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startedAt = time.Now()
	cb := m.onRecycle
	m.mu.Unlock()

	if cb != nil {
		cb(b)
	}
	return nil
}

// Close stops Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.shutdownLocked()
	return nil
}

func (m *Manager) launchLocked() (*rod.Browser, error) {
	log := m.cfg.Logger
	if m.cfg.Mode == ModeHeadful {
		if m.display == nil {
			d, err := startDisplay(m.cfg.XvfbDisplay, m.cfg.Logger)
			if err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
			m.display = d
		}
	}

	controlURL := m.cfg.RemoteURL
	if controlURL == "" {
		l := launcher.New().
			Headless(m.cfg.Mode != ModeHeadful).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Mode == ModeHeadful {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
		m.launcher = l
		log.Info("browser: launched chrome", "mode", m.cfg.Mode)
	} else {
		log.Info("browser: connecting to remote chrome", "url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) shutdownLocked() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	if m.display != nil {
		m.display.stop()
		m.display = nil
	}
}

func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		b, closed, started := m.browser, m.closed, m.startedAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if time.Since(started) > m.cfg.RecycleInterval {
			reason = "interval"
		} else if used, err := heapUsed(b); err != nil {
			m.cfg.Logger.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			reason = "memory"
		}
		if reason == "" {
			continue
		}
		m.cfg.Logger.Info("browser: recycle triggered", "reason", reason)
		if err := m.Recycle(); err != nil {
			m.cfg.Logger.Error("browser: recycle failed", "error", err)
		}
	}
}

// heapUsed reads the JS heap of the first page, the inspected tab.
func heapUsed(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no pages")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
