// Package report tracks the lifecycle of the active SOS alarm.
package report

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/types"
)

// Tracker is the report lifecycle state machine:
//
//	NONE -> WAITING -> CONFIRMED -> NONE
//
// CONFIRMED is reachable only via WAITING; "finished", cancellation and
// loss of authentication all reset to NONE from any state. The observer
// slot is single: registering a new observer replaces the previous one.
type Tracker struct {
	mu       sync.Mutex
	state    types.ReportState
	observer func(types.ReportState)
	logger   zerolog.Logger
}

// NewTracker creates a tracker in the NONE state.
func NewTracker() *Tracker {
	return &Tracker{
		state:  types.ReportStateNone,
		logger: log.WithComponent("report"),
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() types.ReportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Observe registers the state-change observer, replacing any previous one.
func (t *Tracker) Observe(fn func(types.ReportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// Apply moves the machine to the given state if the transition is legal and
// reports whether it was applied. The only rejected transition is entering
// CONFIRMED from anywhere but WAITING.
func (t *Tracker) Apply(next types.ReportState) bool {
	t.mu.Lock()
	if !next.IsValid() {
		t.mu.Unlock()
		return false
	}
	if next == types.ReportStateConfirmed && t.state != types.ReportStateWaiting {
		t.logger.Warn().
			Str("event", "report.illegal_transition").
			Str("from", t.state.String()).
			Str("to", next.String()).
			Msg("rejected transition")
		t.mu.Unlock()
		return false
	}
	if next == t.state {
		t.mu.Unlock()
		return true
	}
	prev := t.state
	t.state = next
	observer := t.observer
	t.mu.Unlock()

	t.logger.Info().
		Str("event", "report.state_changed").
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("report state changed")
	if observer != nil {
		observer(next)
	}
	return true
}

// Begin marks a user-initiated SOS as waiting for dispatch.
func (t *Tracker) Begin() { t.Apply(types.ReportStateWaiting) }

// Reset clears the lifecycle back to NONE (finished, cancelled or
// unauthorized).
func (t *Tracker) Reset() { t.Apply(types.ReportStateNone) }
