package lifecycle

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var lifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "edgecache_lifecycle_state",
	Help: "Current lifecycle state (1 for the active state, 0 otherwise)",
}, []string{"state"})

// Tracker holds the lifecycle state and the pending skip-waiting request.
// It is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	state       State
	skipWaiting bool
	logger      zerolog.Logger
}

// NewTracker creates a tracker in StateNew.
func NewTracker(logger zerolog.Logger) *Tracker {
	t := &Tracker{
		state:  StateNew,
		logger: logger,
	}
	recordState(StateNew)
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Activated reports whether the engine handles requests.
func (t *Tracker) Activated() bool {
	return t.State() == StateActivated
}

// Transition moves the tracker to the given state and returns the state it
// left. Disallowed changes return ErrInvalidTransition and leave the state
// untouched.
func (t *Tracker) Transition(to State) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.state
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.state = to
	if to == StateActivated {
		t.skipWaiting = false
	}
	recordState(to)

	t.logger.Debug().
		Str("from", string(from)).
		Str("state", string(to)).
		Msg("Lifecycle transition")

	return from, nil
}

// RequestSkipWaiting records a request to bypass the waiting period and
// returns the current state so the caller can decide whether to activate
// right away.
func (t *Tracker) RequestSkipWaiting() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActivated {
		t.skipWaiting = true
	}
	return t.state
}

// SkipWaitingRequested reports whether a skip-waiting request is pending.
func (t *Tracker) SkipWaitingRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipWaiting
}

func recordState(current State) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		lifecycleState.WithLabelValues(string(s)).Set(v)
	}
}
