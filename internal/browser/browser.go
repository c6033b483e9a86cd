// Package browser drives headless Chrome against embedded code-server
// instances: it owns the shared browser process and knows how to walk an
// editor UI into a screenshot-ready state.
package browser

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// Manager owns the process-wide headless browser shared by viewport
// captures. The browser is launched on first use and torn down by Shutdown;
// launching Chrome is expensive enough that per-capture instances would
// dominate capture latency.
type Manager struct {
	bin string

	// lifecycle outlives any single caller. The shared browser connects
	// with this context, never a per-request one, so a finished HTTP
	// request cannot cancel the cached instance out from under the next.
	lifecycle context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	browser *rod.Browser
	stop    func() // closes the shared browser and kills its launcher

	launch func(ctx context.Context) (*rod.Browser, func(), error)
	alive  func(b *rod.Browser) error
}

// NewManager creates a Manager. bin optionally pins the Chrome binary;
// empty lets the launcher resolve one.
func NewManager(bin string) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{bin: bin, lifecycle: ctx, cancel: cancel}
	m.launch = m.launchShared
	m.alive = func(b *rod.Browser) error {
		_, err := b.Version()
		return err
	}
	return m
}

// Browser returns a handle to the shared headless browser, launching it on
// first use. The handle is scoped to ctx; the browser process itself
// follows the Manager's lifecycle and is reused across callers.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		// Verify the connection is still alive; Chrome can die underneath us.
		if err := m.alive(m.browser); err == nil {
			return m.browser.Context(ctx), nil
		}
		log.Printf("browser: stale shared browser detected, relaunching")
		m.stop()
		m.browser, m.stop = nil, nil
	}

	b, stop, err := m.launch(m.lifecycle)
	if err != nil {
		return nil, err
	}
	m.browser, m.stop = b, stop
	return b.Context(ctx), nil
}

func (m *Manager) launchShared(ctx context.Context) (*rod.Browser, func(), error) {
	l := launcher.New().Headless(true)
	if m.bin != "" {
		l = l.Bin(m.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launching shared browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connecting to shared browser: %w", err)
	}

	stop := func() {
		if err := b.Close(); err != nil {
			log.Printf("browser: closing shared browser: %v", err)
		}
		l.Kill()
	}
	return b, stop, nil
}

// Shutdown closes the shared browser if it was ever launched. Safe to call
// more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		m.stop()
		m.browser, m.stop = nil, nil
	}
	m.cancel()
}

// NewVisibleBrowser launches a dedicated, visible browser pre-authorized
// for display-media capture. Display-media grants are session-scoped, so
// this browser is never shared; the returned cleanup closes it.
func (m *Manager) NewVisibleBrowser(ctx context.Context) (*rod.Browser, func(), error) {
	l := launcher.New().
		Headless(false).
		Set("auto-select-desktop-capture-source", "Entire screen").
		Set(flags.Flag("use-fake-ui-for-media-stream")).
		Set(flags.Flag("enable-usermedia-screen-capturing"))
	if m.bin != "" {
		l = l.Bin(m.bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launching capture browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connecting to capture browser: %w", err)
	}

	cleanup := func() {
		if err := b.Close(); err != nil {
			log.Printf("browser: closing capture browser: %v", err)
		}
		l.Kill()
	}
	return b, cleanup, nil
}
