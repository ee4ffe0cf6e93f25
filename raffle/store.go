package raffle

// Store maps broadcaster ids to raffle state, creating entries on demand.
// Entries are never evicted; the key space is bounded by the broadcasters the
// bot actually talks to. Store has no locking of its own — the owning
// Component serializes all access.
type Store struct {
	raffles map[string]*State
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{raffles: make(map[string]*State)}
}

// Get returns the broadcaster's state, creating it on first reference.
func (st *Store) Get(broadcasterID string) *State {
	s, ok := st.raffles[broadcasterID]
	if !ok {
		s = NewState()
		st.raffles[broadcasterID] = s
	}
	return s
}

// Put installs a reconstructed state, replacing any existing one.
func (st *Store) Put(broadcasterID string, s *State) {
	st.raffles[broadcasterID] = s
}

// ActiveCount returns the number of broadcasters with an active raffle.
func (st *Store) ActiveCount() int {
	n := 0
	for _, s := range st.raffles {
		if s.Active() {
			n++
		}
	}
	return n
}
