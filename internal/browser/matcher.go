package browser

import (
	"strings"

	"github.com/go-rod/rod"
)

// Matcher is one strategy for locating a likely-present UI element in the
// third-party editor DOM. Strategies are independent and ordered; the first
// one that finds an element wins. "Not found" is a normal outcome, never an
// error.
type Matcher struct {
	Name string
	Find func(page *rod.Page) (*rod.Element, bool)
}

// FindFirst runs matchers in order and returns the first hit along with the
// name of the strategy that produced it.
func FindFirst(page *rod.Page, matchers []Matcher) (*rod.Element, string, bool) {
	for _, m := range matchers {
		if el, ok := m.Find(page); ok {
			return el, m.Name, true
		}
	}
	return nil, "", false
}

// trustDialogMatchers locates the "trust this workspace" affirmation button
// across code-server versions. Selectors drift between releases, so four
// strategies are tried: exact attribute, case-insensitive button text, a
// structural walk of any visible dialog's action row, and a shadow-DOM
// traversal for builds that render the dialog inside a shadow root.
func trustDialogMatchers() []Matcher {
	return []Matcher{
		{
			Name: "attribute",
			Find: func(page *rod.Page) (*rod.Element, bool) {
				el, err := page.Timeout(shortProbe).Element(`.dialog-buttons a.monaco-button[title*="Trust"]`)
				if err != nil {
					return nil, false
				}
				return el, true
			},
		},
		{
			Name: "text",
			Find: func(page *rod.Page) (*rod.Element, bool) {
				// ElementR matches visible text; (?i) covers "Yes, I trust
				// the authors" and the shorter "Trust" variants.
				el, err := page.Timeout(shortProbe).ElementR("a.monaco-button, button", `(?i)trust`)
				if err != nil {
					return nil, false
				}
				return el, true
			},
		},
		{
			Name: "structural",
			Find: func(page *rod.Page) (*rod.Element, bool) {
				// Fall back to the primary action of whatever modal dialog
				// is up: the trust prompt always puts the affirmation first.
				dialog, err := page.Timeout(shortProbe).Element(`.monaco-dialog-box .dialog-buttons-row`)
				if err != nil {
					return nil, false
				}
				buttons, err := dialog.Elements(`a.monaco-button`)
				if err != nil || len(buttons) == 0 {
					return nil, false
				}
				text, err := buttons[0].Text()
				if err != nil || strings.TrimSpace(text) == "" {
					return nil, false
				}
				return buttons[0], true
			},
		},
		{
			Name: "shadow-dom",
			Find: func(page *rod.Page) (*rod.Element, bool) {
				// Some builds render the dialog inside a shadow root where
				// CSS selectors from the document cannot reach. Walk every
				// shadow root from JS and hand the button back.
				el, err := page.Timeout(shortProbe).ElementByJS(rod.Eval(`() => {
					const walk = (root) => {
						for (const el of root.querySelectorAll('a, button')) {
							if (/trust/i.test(el.textContent || '')) return el
						}
						for (const el of root.querySelectorAll('*')) {
							if (el.shadowRoot) {
								const hit = walk(el.shadowRoot)
								if (hit) return hit
							}
						}
						return null
					}
					return walk(document)
				}`))
				if err != nil {
					return nil, false
				}
				return el, true
			},
		},
	}
}
