// Package raffle implements the per-broadcaster raffle state machine and the
// chat command handlers that drive it. A raffle is either absent, open for
// entries, or closed awaiting a draw; drawing or cancelling always returns the
// broadcaster to the no-raffle state.
package raffle

import "sort"

// State tracks one broadcaster's raffle lifecycle. Entrants are keyed by user
// id with the last-known display name as the value, so a user can enter at
// most once and every entrant always has a name.
//
// State itself is not goroutine safe; the Component serializes access.
type State struct {
	active   bool
	open     bool
	entrants map[string]string // user id -> display name
}

// NewState returns an empty no-raffle state.
func NewState() *State {
	return &State{entrants: make(map[string]string)}
}

// Active reports whether a raffle has been started and not yet drawn or cancelled.
func (s *State) Active() bool { return s.active }

// Open reports whether entries are currently accepted.
func (s *State) Open() bool { return s.open }

// Count returns the number of distinct entrants.
func (s *State) Count() int { return len(s.entrants) }

// Reset unconditionally returns to the no-raffle state with no entrants.
func (s *State) Reset() {
	s.active = false
	s.open = false
	s.entrants = make(map[string]string)
}

// Begin opens a fresh raffle. Any prior entrants are discarded.
func (s *State) Begin() {
	s.Reset()
	s.active = true
	s.open = true
}

// CloseEntries stops accepting entries. The raffle stays active for the draw.
func (s *State) CloseEntries() { s.open = false }

// AddParticipant records an entrant. The join is idempotent: a repeated user
// id is a no-op and returns false.
func (s *State) AddParticipant(userID, displayName string) bool {
	if _, ok := s.entrants[userID]; ok {
		return false
	}
	s.entrants[userID] = displayName
	return true
}

// DrawWinner picks one entrant uniformly at random using pick and returns the
// display name. The second return is false when nobody entered. A blank stored
// display name falls back to "Unknown".
func (s *State) DrawWinner(pick PickFunc) (string, bool) {
	if len(s.entrants) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(s.entrants))
	for id := range s.entrants {
		ids = append(ids, id)
	}
	name := s.entrants[ids[pick(len(ids))]]
	if name == "" {
		name = "Unknown"
	}
	return name, true
}

// Participant is the persisted entrant record.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Record is the database snapshot of a State. Participants are sorted by user
// id so snapshots of the same state are byte-identical.
type Record struct {
	Active       bool
	Open         bool
	Participants []Participant
}

// Record captures the state for persistence.
func (s *State) Record() Record {
	ps := make([]Participant, 0, len(s.entrants))
	for id, name := range s.entrants {
		ps = append(ps, Participant{UserID: id, DisplayName: name})
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
	return Record{Active: s.active, Open: s.open, Participants: ps}
}

// FromRecord rebuilds a State from a persisted snapshot.
func FromRecord(rec Record) *State {
	s := NewState()
	s.active = rec.Active
	s.open = rec.Open
	for _, p := range rec.Participants {
		s.entrants[p.UserID] = p.DisplayName
	}
	return s
}
