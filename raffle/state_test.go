package raffle

import "testing"

func TestStateLifecycle(t *testing.T) {
	s := NewState()
	if s.Active() || s.Open() {
		t.Fatalf("fresh state should be inactive and closed")
	}
	s.Begin()
	if !s.Active() || !s.Open() {
		t.Fatalf("Begin should open the raffle")
	}
	s.CloseEntries()
	if !s.Active() {
		t.Fatalf("CloseEntries should leave the raffle active")
	}
	if s.Open() {
		t.Fatalf("CloseEntries should stop accepting entries")
	}
	s.Reset()
	if s.Active() || s.Open() || s.Count() != 0 {
		t.Fatalf("Reset should return to the empty no-raffle state")
	}
}

func TestBeginDiscardsPriorEntrants(t *testing.T) {
	s := NewState()
	s.Begin()
	s.AddParticipant("1", "alice")
	s.AddParticipant("2", "bob")
	s.Begin()
	if got := s.Count(); got != 0 {
		t.Fatalf("Begin after a prior raffle kept %d entrants, want 0", got)
	}
}

func TestAddParticipantIdempotent(t *testing.T) {
	s := NewState()
	s.Begin()
	if !s.AddParticipant("42", "alice") {
		t.Fatalf("first join should be accepted")
	}
	if s.AddParticipant("42", "alice") {
		t.Fatalf("repeat join should be rejected")
	}
	if got := s.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestDrawWinner(t *testing.T) {
	s := NewState()
	s.Begin()
	if _, ok := s.DrawWinner(CryptoPick); ok {
		t.Fatalf("draw with no entrants should report absence")
	}

	names := map[string]bool{"alice": true, "bob": true, "carol": true}
	s.AddParticipant("1", "alice")
	s.AddParticipant("2", "bob")
	s.AddParticipant("3", "carol")
	for i := 0; i < 50; i++ {
		winner, ok := s.DrawWinner(CryptoPick)
		if !ok {
			t.Fatalf("draw with entrants should succeed")
		}
		if !names[winner] {
			t.Fatalf("winner %q is not an entrant", winner)
		}
	}
}

func TestDrawWinnerBlankNameFallsBack(t *testing.T) {
	s := NewState()
	s.Begin()
	s.AddParticipant("7", "")
	winner, ok := s.DrawWinner(func(n int) int { return 0 })
	if !ok {
		t.Fatalf("draw should succeed")
	}
	if winner != "Unknown" {
		t.Fatalf("winner = %q, want Unknown", winner)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := NewState()
	s.Begin()
	s.AddParticipant("2", "bob")
	s.AddParticipant("1", "alice")
	s.CloseEntries()

	rec := s.Record()
	if !rec.Active || rec.Open {
		t.Fatalf("record flags = active=%v open=%v, want active closed", rec.Active, rec.Open)
	}
	if len(rec.Participants) != 2 {
		t.Fatalf("record has %d participants, want 2", len(rec.Participants))
	}
	// sorted by user id for stable snapshots
	if rec.Participants[0].UserID != "1" || rec.Participants[1].UserID != "2" {
		t.Fatalf("participants not sorted by user id: %+v", rec.Participants)
	}

	got := FromRecord(rec)
	if !got.Active() || got.Open() {
		t.Fatalf("restored flags differ from record")
	}
	if got.Count() != 2 {
		t.Fatalf("restored count = %d, want 2", got.Count())
	}
	if got.AddParticipant("1", "alice") {
		t.Fatalf("restored state should remember prior entrants")
	}
}
