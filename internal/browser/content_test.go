package browser_test

import (
	"strings"
	"testing"

	"github.com/rifahb/hopeless/internal/browser"
	"github.com/rifahb/hopeless/internal/workspace"
)

// ---------------------------------------------------------------------------
// LooksLikeCode
// ---------------------------------------------------------------------------

func TestLooksLikeCode_RealCode(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"javascript function", "function isPrime(num) {\n  if (num < 2) return false;\n}"},
		{"python def", "def fibonacci(n):\n    if n < 2:\n        return n\n    import math"},
		{"cpp include", "#include <iostream>\nint main() { return 0; }"},
		{"java class", "public class Main {\n    public static void main(String[] args) {}\n}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !browser.LooksLikeCode(tc.text) {
				t.Errorf("LooksLikeCode(%q) = false; want true", tc.text)
			}
		})
	}
}

func TestLooksLikeCode_Placeholders(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"welcome tab", "Welcome\nStart\nNew File...\nOpen Folder...\nRecent"},
		{"get started", "Get Started with VS Code\nDiscover the best customizations"},
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"short", "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if browser.LooksLikeCode(tc.text) {
				t.Errorf("LooksLikeCode(%q) = true; want false", tc.text)
			}
		})
	}
}

func TestLooksLikeCode_CodeNextToWelcomeTab(t *testing.T) {
	// A welcome tab can sit beside a real code tab; strong code evidence
	// should still win.
	text := "Welcome\nfunction isPrime(num) {\n  for (let i = 2; i < num; i++) {\n    if (num % i === 0) return false;\n  }\n  return true;\n}"
	if !browser.LooksLikeCode(text) {
		t.Error("LooksLikeCode = false for code next to a welcome tab; want true")
	}
}

// ---------------------------------------------------------------------------
// SampleFile
// ---------------------------------------------------------------------------

func TestSampleFile_ExtensionsMatchLanguage(t *testing.T) {
	langs := []workspace.Language{
		workspace.LangJavaScript, workspace.LangPython,
		workspace.LangJava, workspace.LangCPP,
	}
	for _, lang := range langs {
		name, content := browser.SampleFile(lang)
		if !strings.HasSuffix(name, lang.Ext()) {
			t.Errorf("SampleFile(%s) name = %q; want suffix %q", lang, name, lang.Ext())
		}
		if content == "" {
			t.Errorf("SampleFile(%s) returned empty content", lang)
		}
		if !browser.LooksLikeCode(content) {
			// Synthesized snippets exist to make captures show code, so
			// they must register on the readiness heuristic themselves.
			t.Errorf("SampleFile(%s) content does not look like code: %q", lang, content)
		}
	}
}
