package browser

import (
	"strings"

	"github.com/rifahb/hopeless/internal/workspace"
)

// placeholderStrings mark editor states that render text without showing
// any student code (welcome tabs, empty-workspace hints).
var placeholderStrings = []string{
	"welcome",
	"get started",
	"open folder",
	"walkthrough",
}

// codeTokens are cheap signals that the visible text is source code rather
// than editor chrome.
var codeTokens = []string{
	"{", "}", ";", "()", "=>",
	"def ", "import ", "#include", "function ", "class ",
	"public ", "return ", "const ", "let ", "var ",
	"print(", "console.",
}

// LooksLikeCode reports whether visible editor text is genuine code content
// worth capturing. Placeholder-only screens ("Welcome", "Get Started")
// report false; the capture still proceeds, this only drives logging and
// the readiness wait.
func LooksLikeCode(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}

	lower := strings.ToLower(trimmed)
	placeholderHit := false
	for _, p := range placeholderStrings {
		if strings.Contains(lower, p) {
			placeholderHit = true
			break
		}
	}

	tokens := 0
	for _, tok := range codeTokens {
		if strings.Contains(trimmed, tok) {
			tokens++
		}
	}

	if placeholderHit {
		// A welcome tab next to a real code tab still counts, but demand
		// stronger evidence than a single brace in the marketing copy.
		return tokens >= 3
	}
	return tokens >= 1
}

// SampleFile returns the filename and starter content used to synthesize a
// code file when a workspace has nothing open and nothing on disk. The
// snippet keeps the capture from showing an empty "Get Started" screen.
func SampleFile(lang workspace.Language) (name, content string) {
	switch lang {
	case workspace.LangPython:
		return "main.py", "# Write your solution below\n\ndef solve():\n    pass\n"
	case workspace.LangJava:
		return "Main.java", "public class Main {\n    public static void main(String[] args) {\n        // Write your solution below\n    }\n}\n"
	case workspace.LangCPP:
		return "main.cpp", "#include <iostream>\n\nint main() {\n    // Write your solution below\n    return 0;\n}\n"
	case workspace.LangJavaScript:
		return "main.js", "// Write your solution below\n\nfunction solve() {\n}\n"
	}
	return "notes.txt", "Write your solution below\n"
}
