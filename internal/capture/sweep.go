package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProcessSweeper terminates stray browser processes left behind by crashed
// runs. Swept explicitly by an operator action, never automatically.
type ProcessSweeper interface {
	Sweep(ctx context.Context) (killed int, err error)
}

// ExecSweeper implements ProcessSweeper with pgrep/pkill. Patterns target
// only browsers this service launches: the rod launcher's headless flag
// and the display-capture auto-select flag.
type ExecSweeper struct {
	patterns []string
}

// NewExecSweeper creates the default sweeper.
func NewExecSweeper() *ExecSweeper {
	return &ExecSweeper{
		patterns: []string{
			"chrom.*--headless",
			"chrom.*--auto-select-desktop-capture-source",
		},
	}
}

// Sweep kills processes matching any pattern and returns how many matched.
func (s *ExecSweeper) Sweep(ctx context.Context) (int, error) {
	killed := 0
	for _, pattern := range s.patterns {
		out, err := exec.CommandContext(ctx, "pgrep", "-f", pattern).Output()
		if err != nil {
			continue // no matches
		}
		matches := strings.Fields(strings.TrimSpace(string(out)))
		if len(matches) == 0 {
			continue
		}
		if out, err := exec.CommandContext(ctx, "pkill", "-f", pattern).CombinedOutput(); err != nil {
			return killed, fmt.Errorf("pkill -f %q: %w\noutput: %s", pattern, err, string(out))
		}
		killed += len(matches)
	}
	return killed, nil
}
