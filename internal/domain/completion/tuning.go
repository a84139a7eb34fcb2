package completion

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Tuning holds the knobs read before every completion cycle
type Tuning struct {
	DebounceMs   int  `envconfig:"AGENTTERM_DEBOUNCE_MS" default:"300"`
	HistoryCount int  `envconfig:"AGENTTERM_HISTORY_COUNT" default:"25"`
	DisableCache bool `envconfig:"AGENTTERM_DISABLE_CACHE" default:"false"`
}

// TuningSource yields the tuning for one cycle
type TuningSource func() Tuning

// DefaultTuning returns the built-in tuning
func DefaultTuning() Tuning {
	return Tuning{DebounceMs: 300, HistoryCount: 25}
}

// LoadTuning reads tuning from the environment, falling back to the
// defaults when a variable does not parse
func LoadTuning() Tuning {
	var t Tuning
	if err := envconfig.Process("", &t); err != nil {
		return DefaultTuning()
	}
	if t.DebounceMs < 0 {
		t.DebounceMs = 0
	}
	if t.HistoryCount < 0 {
		t.HistoryCount = 0
	}
	return t
}

// Debounce returns the debounce window
func (t Tuning) Debounce() time.Duration {
	return time.Duration(t.DebounceMs) * time.Millisecond
}

// Fixed returns a source that always yields t
func Fixed(t Tuning) TuningSource {
	return func() Tuning { return t }
}
