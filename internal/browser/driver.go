package browser

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// shortProbe bounds a single "is this element here right now" check.
// Element absence is a normal outcome for every probe in this package.
const shortProbe = 2 * time.Second

// ErrNavigation means the editor URL could not be loaded at all. This is
// the only hard failure in the preparation sequence; everything after
// navigation degrades gracefully.
var ErrNavigation = errors.New("editor navigation failed")

// Timeouts bounds each preparation step.
type Timeouts struct {
	Navigation   time.Duration // hard: page load
	Login        time.Duration // soft: editor shell after credential submit
	TrustDialog  time.Duration // soft: trust-dialog search
	ContentReady time.Duration // soft: code content poll
}

// DefaultTimeouts returns the production bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:   45 * time.Second,
		Login:        15 * time.Second,
		TrustDialog:  20 * time.Second,
		ContentReady: 10 * time.Second,
	}
}

// PrepareOptions parameterizes one preparation run.
type PrepareOptions struct {
	EditorURL string
	Password  string // shared code-server credential

	// SampleFileName/SampleContent are used to synthesize a starter file
	// when the workspace has nothing open and nothing in the explorer.
	SampleFileName string
	SampleContent  string
}

// PrepareReport records which soft steps succeeded. Capture proceeds no
// matter what the report says; it exists for diagnostics.
type PrepareReport struct {
	LoggedIn        bool   `json:"logged_in"`
	TrustDismissed  bool   `json:"trust_dismissed"`
	TrustMatcher    string `json:"trust_matcher,omitempty"`
	FileOpened      bool   `json:"file_opened"`
	FileSynthesized bool   `json:"file_synthesized"`
	ContentReady    bool   `json:"content_ready"`
}

// Driver walks an embedded editor page into a screenshot-ready state. The
// editor UI is third-party and versioned, so every step past navigation
// treats "not applicable" as success and keeps going.
type Driver struct {
	timeouts    Timeouts
	snapshotDir string // diagnostic snapshots land here; empty disables them
}

// NewDriver creates a Driver. snapshotDir may be empty.
func NewDriver(timeouts Timeouts, snapshotDir string) *Driver {
	return &Driver{timeouts: timeouts, snapshotDir: snapshotDir}
}

// Prepare navigates to the editor and runs the full readiness sequence:
// authenticate, dismiss the trust dialog, make sure a code file is visible,
// and wait for real content. Only navigation failures are returned as
// errors.
func (d *Driver) Prepare(page *rod.Page, opts PrepareOptions) (*PrepareReport, error) {
	report := &PrepareReport{}

	nav := page.Timeout(d.timeouts.Navigation)
	if err := nav.Navigate(opts.EditorURL); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNavigation, opts.EditorURL, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNavigation, opts.EditorURL, err)
	}
	// Let in-flight editor assets settle; a busy page is not a failure.
	_ = page.Timeout(10 * time.Second).WaitIdle(10 * time.Second)

	d.login(page, opts.Password, report)
	d.dismissTrustDialog(page, report)
	d.normalizeWorkspace(page, opts, report)
	d.waitForContent(page, report)

	return report, nil
}

// login submits the shared credential if a password prompt is showing.
// No prompt means the session is already authenticated.
func (d *Driver) login(page *rod.Page, password string, report *PrepareReport) {
	field, err := page.Timeout(3 * time.Second).Element(`input[type="password"]`)
	if err != nil {
		return // no login page, proceed
	}

	if err := field.Input(password); err != nil {
		log.Printf("browser: typing editor credential: %v", err)
		return
	}
	if btn, err := page.Timeout(time.Second).Element(`button[type="submit"], .submit`); err == nil {
		_ = btn.Click(proto.InputMouseButtonLeft, 1)
	} else {
		_ = page.Keyboard.Press(input.Enter)
	}

	if _, err := page.Timeout(d.timeouts.Login).Element(`.monaco-workbench`); err != nil {
		log.Printf("browser: editor shell did not appear within %s after login", d.timeouts.Login)
		return
	}
	report.LoggedIn = true
}

// dismissTrustDialog searches for the workspace-trust affirmation with the
// ordered matcher strategies until found or the bound expires. Some editor
// states never show the dialog, so a miss is logged with a diagnostic
// snapshot and capture proceeds.
func (d *Driver) dismissTrustDialog(page *rod.Page, report *PrepareReport) {
	matchers := trustDialogMatchers()
	deadline := time.Now().Add(d.timeouts.TrustDialog)

	for time.Now().Before(deadline) {
		el, name, found := FindFirst(page, matchers)
		if found {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				log.Printf("browser: clicking trust dialog (%s matcher): %v", name, err)
				return
			}
			report.TrustDismissed = true
			report.TrustMatcher = name
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	log.Printf("browser: no trust dialog found within %s, continuing", d.timeouts.TrustDialog)
	d.snapshot(page, "trust-dialog-miss")
}

// normalizeWorkspace clears overlays and makes sure a code file occupies
// the editor area: reuse an open tab, open the first explorer file, or
// synthesize a starter file as the last resort.
func (d *Driver) normalizeWorkspace(page *rod.Page, opts PrepareOptions, report *PrepareReport) {
	// Escape closes command palettes and hover widgets.
	_ = page.Keyboard.Press(input.Escape)
	if clear, err := page.Timeout(shortProbe).Element(`.notifications-toasts .codicon-notifications-clear-all`); err == nil {
		_ = clear.Click(proto.InputMouseButtonLeft, 1)
	}

	if _, err := page.Timeout(shortProbe).Element(`.tabs-container .tab`); err == nil {
		report.FileOpened = true
		return
	}

	if row, err := page.Timeout(shortProbe).Element(`.explorer-folders-view .monaco-list-row`); err == nil {
		_ = row.Click(proto.InputMouseButtonLeft, 1)
		if _, err := page.Timeout(5 * time.Second).Element(`.tabs-container .tab`); err == nil {
			report.FileOpened = true
			return
		}
	}

	if opts.SampleFileName == "" {
		return
	}
	if d.synthesizeFile(page, opts) {
		report.FileOpened = true
		report.FileSynthesized = true
	}
}

// synthesizeFile creates a new editor buffer, types the starter snippet,
// and saves it under the language-correct filename so the capture never
// shows an empty Get Started screen.
func (d *Driver) synthesizeFile(page *rod.Page, opts PrepareOptions) bool {
	if err := page.KeyActions().Press(input.ControlLeft).Type(input.KeyN).Do(); err != nil {
		log.Printf("browser: opening new file: %v", err)
		return false
	}
	if _, err := page.Timeout(5 * time.Second).Element(`.tabs-container .tab`); err != nil {
		return false
	}
	if err := page.InsertText(opts.SampleContent); err != nil {
		log.Printf("browser: typing sample snippet: %v", err)
		return false
	}

	if err := page.KeyActions().Press(input.ControlLeft).Type(input.KeyS).Do(); err != nil {
		return false
	}
	// code-server prompts for the filename in a quick-input box.
	if box, err := page.Timeout(5 * time.Second).Element(`.quick-input-widget input`); err == nil {
		_ = box.SelectAllText()
		if err := box.Input(opts.SampleFileName); err == nil {
			_ = page.Keyboard.Press(input.Enter)
		}
	}
	return true
}

// waitForContent polls the editor viewport for non-placeholder code text.
// Missing the bound is logged, not fatal: a partial capture still beats
// no capture.
func (d *Driver) waitForContent(page *rod.Page, report *PrepareReport) {
	deadline := time.Now().Add(d.timeouts.ContentReady)

	for time.Now().Before(deadline) {
		if el, err := page.Timeout(time.Second).Element(`.view-lines`); err == nil {
			if text, err := el.Text(); err == nil && LooksLikeCode(text) {
				report.ContentReady = true
				return
			}
		}
		time.Sleep(time.Second)
	}
	log.Printf("browser: no code content detected within %s, capturing anyway", d.timeouts.ContentReady)
}

// snapshot writes a diagnostic screenshot, best effort.
func (d *Driver) snapshot(page *rod.Page, label string) {
	if d.snapshotDir == "" {
		return
	}
	data, err := page.Screenshot(false, nil)
	if err != nil {
		return
	}
	name := fmt.Sprintf("%s-%d.png", label, time.Now().Unix())
	if err := os.WriteFile(filepath.Join(d.snapshotDir, name), data, 0o644); err != nil {
		log.Printf("browser: writing diagnostic snapshot: %v", err)
	}
}
