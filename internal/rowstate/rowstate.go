// Package rowstate holds the ephemeral per-incident workflow state of the
// dashboard. It is the only owner of mutable workflow state; triage and
// remediation write to it through keyed partial merges.
package rowstate

import (
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// State is the workflow state of one incident row. AgentType names the agent
// of the most recent accepted run, whose progress and error are shown;
// AgentOutcomeType names the agent that produced AgentOutcome, which a later
// failed run leaves in place.
type State struct {
	Expanded              bool              `json:"expanded"`
	TriageLoading         bool              `json:"triage_loading"`
	TriageError           string            `json:"triage_error,omitempty"`
	Verdict               *incident.Verdict `json:"verdict,omitempty"`
	AgentType             string            `json:"agent_type,omitempty"`
	AgentLoading          bool              `json:"agent_loading"`
	AgentProgressStep     int               `json:"agent_progress_step"`
	AgentProgressMessages []string          `json:"agent_progress_messages,omitempty"`
	AgentError            string            `json:"agent_error,omitempty"`
	AgentOutcome          incident.Outcome  `json:"agent_outcome,omitempty"`
	AgentOutcomeType      string            `json:"agent_outcome_type,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at,omitzero"`
}

// clone returns a deep copy safe to hand out of the store.
func (s State) clone() State {
	if s.Verdict != nil {
		v := *s.Verdict
		s.Verdict = &v
	}
	s.AgentProgressMessages = slices.Clone(s.AgentProgressMessages)
	s.AgentOutcome = s.AgentOutcome.Clone()
	return s
}

// Patch is a partial update. Nil fields leave the stored value unchanged.
type Patch struct {
	Expanded              *bool
	TriageLoading         *bool
	TriageError           *string
	Verdict               *incident.Verdict
	AgentType             *string
	AgentLoading          *bool
	AgentProgressStep     *int
	AgentProgressMessages []string
	AgentError            *string
	AgentOutcome          incident.Outcome
	AgentOutcomeType      *string
}

// Apply merges p into s.
func (p Patch) Apply(s *State) {
	if p.Expanded != nil {
		s.Expanded = *p.Expanded
	}
	if p.TriageLoading != nil {
		s.TriageLoading = *p.TriageLoading
	}
	if p.TriageError != nil {
		s.TriageError = *p.TriageError
	}
	if p.Verdict != nil {
		v := *p.Verdict
		s.Verdict = &v
	}
	if p.AgentType != nil {
		s.AgentType = *p.AgentType
	}
	if p.AgentLoading != nil {
		s.AgentLoading = *p.AgentLoading
	}
	if p.AgentProgressStep != nil {
		s.AgentProgressStep = *p.AgentProgressStep
	}
	if p.AgentProgressMessages != nil {
		s.AgentProgressMessages = slices.Clone(p.AgentProgressMessages)
	}
	if p.AgentError != nil {
		s.AgentError = *p.AgentError
	}
	if p.AgentOutcome != nil {
		s.AgentOutcome = p.AgentOutcome.Clone()
	}
	if p.AgentOutcomeType != nil {
		s.AgentOutcomeType = *p.AgentOutcomeType
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

type row struct {
	mu    sync.Mutex
	state State
}

// Store maps incident keys to row state. The map lock only guards row lookup
// and creation; each row has its own lock so updates to different keys never
// wait on each other.
type Store struct {
	mu   sync.RWMutex
	rows map[string]*row
	now  func() time.Time // for testing
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		rows: make(map[string]*row),
		now:  time.Now,
	}
}

func (s *Store) row(key string) *row {
	s.mu.RLock()
	r, ok := s.rows[key]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rows[key]; !ok {
		r = &row{}
		s.rows[key] = r
	}
	return r
}

// Get returns a copy of the row state for key. A row never touched before
// reads as the zero State.
func (s *Store) Get(key string) State {
	s.mu.RLock()
	r, ok := s.rows[key]
	s.mu.RUnlock()
	if !ok {
		return State{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Update merges p into the row for key, creating it if needed, and returns
// a copy of the resulting state.
func (s *Store) Update(key string, p Patch) State {
	return s.Modify(key, func(st *State) { p.Apply(st) })
}

// Modify runs fn on the row for key while holding that row's lock, so fn can
// make read-then-write decisions atomically. It returns a copy of the result.
func (s *Store) Modify(key string, fn func(*State)) State {
	return s.ModifyIf(key, func(st *State) bool {
		fn(st)
		return true
	})
}

// ModifyIf is Modify for read-then-maybe-write decisions: fn reports whether
// it changed the state. A row fn leaves unchanged keeps its UpdatedAt, and a
// row that does not exist yet is only created when fn changes it. For a
// missing row fn may run twice, first on a scratch zero State; it must not
// carry side effects over from that first call.
func (s *Store) ModifyIf(key string, fn func(*State) bool) State {
	s.mu.RLock()
	_, ok := s.rows[key]
	s.mu.RUnlock()
	if !ok {
		var scratch State
		if !fn(&scratch) {
			return scratch.clone()
		}
	}

	r := s.row(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn(&r.state) {
		r.state.UpdatedAt = s.now()
	}
	return r.state.clone()
}

// Snapshot returns copies of every row that has been touched. Rows missing
// from the map read as the zero State.
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	keys := make(map[string]*row, len(s.rows))
	for k, r := range s.rows {
		keys[k] = r
	}
	s.mu.RUnlock()

	out := make(map[string]State, len(keys))
	for k, r := range keys {
		r.mu.Lock()
		out[k] = r.state.clone()
		r.mu.Unlock()
	}
	return out
}
