package scheduler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes capture triggers. Loaded from an optional YAML file so
// operators can slow down or disable trigger classes without a rebuild.
type Policy struct {
	// IntervalSeconds between periodic captures. Default 30.
	IntervalSeconds int `yaml:"interval_seconds"`

	// DisablePeriodic turns off the per-session capture loop.
	DisablePeriodic bool `yaml:"disable_periodic"`

	// DisableSubmission turns off submission-triggered captures.
	DisableSubmission bool `yaml:"disable_submission"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{IntervalSeconds: 30}
}

// Interval returns the periodic capture interval.
func (p Policy) Interval() time.Duration {
	if p.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.IntervalSeconds) * time.Second
}

// LoadPolicy reads a policy file. An empty path or missing file yields the
// defaults; a malformed file is an error so a typo never silently disables
// proctoring.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if p.IntervalSeconds <= 0 {
		p.IntervalSeconds = 30
	}
	return p, nil
}
