// Package workflow tracks the task phase of a session and validates phase
// transitions. Phases move forward one step at a time unless a skip is
// explicitly allowed; moving backward is always permitted.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/overseer-ai/gatehouse/internal/state"
)

// Phase is a stage of the task lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseResearch  Phase = "research"
	PhasePlanning  Phase = "planning"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseComplete  Phase = "complete"
)

// phaseOrder defines the forward direction of the lifecycle.
var phaseOrder = []Phase{
	PhaseInit,
	PhaseResearch,
	PhasePlanning,
	PhaseImplement,
	PhaseReview,
	PhaseComplete,
}

var phaseRank = func() map[Phase]int {
	ranks := make(map[Phase]int, len(phaseOrder))
	for i, p := range phaseOrder {
		ranks[p] = i
	}
	return ranks
}()

// Valid reports whether p names a lifecycle phase.
func Valid(p Phase) bool {
	_, ok := phaseRank[p]
	return ok
}

// Rank returns the position of p in the lifecycle, or -1 for unknown phases.
func Rank(p Phase) int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Between returns the phases strictly between from and to in forward order.
// Empty unless both phases are known and to is more than one step ahead.
func Between(from, to Phase) []Phase {
	lo, hi := Rank(from), Rank(to)
	if lo < 0 || hi < 0 || hi-lo < 2 {
		return nil
	}
	return append([]Phase(nil), phaseOrder[lo+1:hi]...)
}

// Skip names an allowed forward jump past intermediate phases.
type Skip struct {
	From Phase `json:"from" yaml:"from"`
	To   Phase `json:"to" yaml:"to"`
}

// DefaultSkips allows research to jump straight to implement for tasks
// that need no planning phase.
func DefaultSkips() []Skip {
	return []Skip{{From: PhaseResearch, To: PhaseImplement}}
}

// Transition records one phase change.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// State is the persisted phase record of a session.
type State struct {
	Current Phase        `json:"current_phase"`
	History []Transition `json:"history,omitempty"`
}

// maxHistory bounds the persisted transition log to the most recent entries.
const maxHistory = 50

// TransitionError reports a forward jump that is neither adjacent nor an
// allowed skip.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

// Manager reads and writes session phase state through the shared store.
type Manager struct {
	store state.Store
	skips map[Skip]bool
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store state.Store, skips []Skip, ttl time.Duration) *Manager {
	allowed := make(map[Skip]bool, len(skips))
	for _, s := range skips {
		allowed[s] = true
	}
	return &Manager{store: store, skips: allowed, ttl: ttl, now: time.Now}
}

// Validate checks whether the move from one phase to another is legal.
// Backward moves and same-phase moves are always legal.
func (m *Manager) Validate(from, to Phase) error {
	if !Valid(to) {
		return fmt.Errorf("unknown phase %q", to)
	}
	if !Valid(from) {
		return fmt.Errorf("unknown phase %q", from)
	}
	if Rank(to) <= Rank(from)+1 {
		return nil
	}
	if m.skips[Skip{From: from, To: to}] {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// Current returns the session's phase state. Sessions with no recorded
// phase start at init.
func (m *Manager) Current(ctx context.Context, sessionID string) (State, error) {
	var st State
	found, err := state.GetJSON(ctx, m.store, phaseKey(sessionID), &st)
	if err != nil {
		return State{}, fmt.Errorf("Current: %w", err)
	}
	if !found || !Valid(st.Current) {
		return State{Current: PhaseInit}, nil
	}
	return st, nil
}

// Advance moves the session to target, validating against the phase read
// inside the store's compare-and-swap so concurrent advances cannot skip
// validation.
func (m *Manager) Advance(ctx context.Context, sessionID string, target Phase, reason string) (State, error) {
	var result State
	_, err := m.store.Update(ctx, phaseKey(sessionID), m.ttl, func(current []byte, found bool) ([]byte, error) {
		st := State{Current: PhaseInit}
		if found {
			if err := json.Unmarshal(current, &st); err != nil || !Valid(st.Current) {
				st = State{Current: PhaseInit}
			}
		}
		if err := m.Validate(st.Current, target); err != nil {
			return nil, err
		}
		if st.Current == target {
			result = st
			return nil, state.ErrSkipUpdate
		}
		st.History = append(st.History, Transition{
			From:   st.Current,
			To:     target,
			Reason: reason,
			At:     m.now().UTC(),
		})
		if len(st.History) > maxHistory {
			st.History = st.History[len(st.History)-maxHistory:]
		}
		st.Current = target
		result = st
		return json.Marshal(st)
	})
	if err != nil {
		return State{}, fmt.Errorf("Advance: %w", err)
	}
	return result, nil
}

func phaseKey(sessionID string) string {
	return state.Key(state.NamespacePhaseState, sessionID)
}
