package raffle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// recorder captures the replies and channel messages one invocation produced.
type recorder struct {
	replies []string
	sends   []string
}

func (r *recorder) invocation(broadcasterID string, chatter Chatter) Invocation {
	return Invocation{
		BroadcasterID: broadcasterID,
		Chatter:       chatter,
		Reply:         func(text string) { r.replies = append(r.replies, text) },
		Send:          func(text string) { r.sends = append(r.sends, text) },
	}
}

func (r *recorder) lastReply(t *testing.T) string {
	t.Helper()
	if len(r.replies) == 0 {
		t.Fatalf("expected a reply, got none (sends: %v)", r.sends)
	}
	return r.replies[len(r.replies)-1]
}

func (r *recorder) lastSend(t *testing.T) string {
	t.Helper()
	if len(r.sends) == 0 {
		t.Fatalf("expected a channel message, got none (replies: %v)", r.replies)
	}
	return r.sends[len(r.sends)-1]
}

// fakePersist records persistence calls and can simulate a broken database.
type fakePersist struct {
	mu      sync.Mutex
	upserts []string
	deletes []string
	last    Record
	err     error
}

func (f *fakePersist) UpsertRaffle(_ context.Context, broadcasterID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, broadcasterID)
	f.last = rec
	return nil
}

func (f *fakePersist) DeleteRaffle(_ context.Context, broadcasterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, broadcasterID)
	return nil
}

var (
	modChatter    = Chatter{ID: "100", DisplayName: "ModUser", Roles: Roles{Moderator: true}}
	subChatter    = Chatter{ID: "200", DisplayName: "SubUser", Roles: Roles{Subscriber: true}}
	vipChatter    = Chatter{ID: "300", DisplayName: "VipUser", Roles: Roles{VIP: true}}
	plebChatter   = Chatter{ID: "400", DisplayName: "PlebUser", Roles: Roles{}}
	ownerChatter  = Chatter{ID: "500", DisplayName: "Owner", Roles: Roles{Broadcaster: true}}
	secondSubUser = Chatter{ID: "201", DisplayName: "OtherSub", Roles: Roles{Subscriber: true}}
)

func newTestComponent() *Component {
	c := NewComponent(NewStore())
	c.Pick = func(n int) int { return 0 } // deterministic draws
	return c
}

func TestStartPermissionsAndDuplicate(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()

	rec := &recorder{}
	c.Start(ctx, rec.invocation("chan1", plebChatter))
	if got := rec.lastReply(t); got != "Only moderators and the broadcaster can start a raffle." {
		t.Fatalf("reply = %q", got)
	}

	rec = &recorder{}
	c.Start(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastSend(t); got != "Raffle started! VIPs, Subscribers, and Moderators can type !enter to enter." {
		t.Fatalf("announcement = %q", got)
	}

	rec = &recorder{}
	c.Start(ctx, rec.invocation("chan1", ownerChatter))
	if got := rec.lastReply(t); got != "A raffle is already in progress." {
		t.Fatalf("reply = %q", got)
	}
}

func TestEnterRules(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()

	// no raffle yet
	rec := &recorder{}
	c.Enter(ctx, rec.invocation("chan1", subChatter))
	if got := rec.lastReply(t); got != "There is no raffle happening right now." {
		t.Fatalf("reply = %q", got)
	}

	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))

	// ineligible viewer
	rec = &recorder{}
	c.Enter(ctx, rec.invocation("chan1", plebChatter))
	if got := rec.lastReply(t); got != "Only VIPs, Subscribers, and Moderators can join." {
		t.Fatalf("reply = %q", got)
	}

	// successful entry is silent
	rec = &recorder{}
	c.Enter(ctx, rec.invocation("chan1", subChatter))
	if len(rec.replies) != 0 || len(rec.sends) != 0 {
		t.Fatalf("successful entry should be silent, got replies=%v sends=%v", rec.replies, rec.sends)
	}

	// duplicate entry
	rec = &recorder{}
	c.Enter(ctx, rec.invocation("chan1", subChatter))
	if got := rec.lastReply(t); got != "SubUser, you have already joined." {
		t.Fatalf("reply = %q", got)
	}

	// entries closed
	c.End(ctx, (&recorder{}).invocation("chan1", modChatter))
	rec = &recorder{}
	c.Enter(ctx, rec.invocation("chan1", vipChatter))
	if got := rec.lastReply(t); got != "Raffle entries are closed." {
		t.Fatalf("reply = %q", got)
	}
}

func TestEnterIgnoresBotItself(t *testing.T) {
	c := newTestComponent()
	c.BotUserID = "999"
	ctx := context.Background()
	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))

	rec := &recorder{}
	bot := Chatter{ID: "999", DisplayName: "RaffleBot", Roles: Roles{Moderator: true}}
	c.Enter(ctx, rec.invocation("chan1", bot))
	if len(rec.replies) != 0 || len(rec.sends) != 0 {
		t.Fatalf("bot self-entry should be a no-op")
	}

	rec = &recorder{}
	c.Participants(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "Status: Open | Participants: 0" {
		t.Fatalf("status = %q", got)
	}
}

func TestEndCountsAndPluralization(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		entrants []Chatter
		want     string
	}{
		{nil, "Entries closed. 0 participants entered."},
		{[]Chatter{subChatter}, "Entries closed. 1 participant entered."},
		{[]Chatter{subChatter, secondSubUser}, "Entries closed. 2 participants entered."},
	}
	for _, tc := range cases {
		c := newTestComponent()
		c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
		for _, ch := range tc.entrants {
			c.Enter(ctx, (&recorder{}).invocation("chan1", ch))
		}
		rec := &recorder{}
		c.End(ctx, rec.invocation("chan1", modChatter))
		if got := rec.lastSend(t); got != tc.want {
			t.Fatalf("announcement = %q, want %q", got, tc.want)
		}
	}
}

func TestEndEdgeCases(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()

	rec := &recorder{}
	c.End(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "There is no raffle to end." {
		t.Fatalf("reply = %q", got)
	}

	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
	c.End(ctx, (&recorder{}).invocation("chan1", modChatter))
	rec = &recorder{}
	c.End(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "Entries are already closed. Use !draw to pick a winner." {
		t.Fatalf("reply = %q", got)
	}
}

func TestDrawFlow(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()

	rec := &recorder{}
	c.Draw(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "No raffle active. Start one with !startraffle" {
		t.Fatalf("reply = %q", got)
	}

	// draw while still open closes entries first
	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
	c.Enter(ctx, (&recorder{}).invocation("chan1", subChatter))
	rec = &recorder{}
	c.Draw(ctx, rec.invocation("chan1", modChatter))
	if len(rec.sends) != 2 {
		t.Fatalf("sends = %v, want closing notice plus winner", rec.sends)
	}
	if rec.sends[0] != "Entries closed." {
		t.Fatalf("first send = %q", rec.sends[0])
	}
	if rec.sends[1] != "The winner is @SubUser !! Congratulations!" {
		t.Fatalf("winner announcement = %q", rec.sends[1])
	}

	// raffle is gone after the draw
	rec = &recorder{}
	c.Participants(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "No raffle happening." {
		t.Fatalf("status after draw = %q", got)
	}
}

func TestDrawEmptyRaffle(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()
	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
	c.End(ctx, (&recorder{}).invocation("chan1", modChatter))

	rec := &recorder{}
	c.Draw(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastSend(t); got != "No one entered the raffle." {
		t.Fatalf("announcement = %q", got)
	}

	// state still resets
	rec = &recorder{}
	c.Start(ctx, rec.invocation("chan1", modChatter))
	if !strings.HasPrefix(rec.lastSend(t), "Raffle started!") {
		t.Fatalf("fresh start rejected after empty draw: %v", rec.replies)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		entrants []Chatter
		want     string
	}{
		{nil, "Raffle cancelled. 0 participants were entered."},
		{[]Chatter{subChatter}, "Raffle cancelled. 1 participant was entered."},
		{[]Chatter{subChatter, secondSubUser}, "Raffle cancelled. 2 participants were entered."},
	}
	for _, tc := range cases {
		c := newTestComponent()
		c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
		for _, ch := range tc.entrants {
			c.Enter(ctx, (&recorder{}).invocation("chan1", ch))
		}
		rec := &recorder{}
		c.Cancel(ctx, rec.invocation("chan1", modChatter))
		if got := rec.lastSend(t); got != tc.want {
			t.Fatalf("announcement = %q, want %q", got, tc.want)
		}
	}

	c := newTestComponent()
	rec := &recorder{}
	c.Cancel(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "There is no raffle to cancel." {
		t.Fatalf("reply = %q", got)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()

	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
	c.Enter(ctx, (&recorder{}).invocation("chan1", subChatter))

	// same user in another channel sees no raffle
	rec := &recorder{}
	c.Enter(ctx, rec.invocation("chan2", subChatter))
	if got := rec.lastReply(t); got != "There is no raffle happening right now." {
		t.Fatalf("reply = %q", got)
	}

	c.Start(ctx, (&recorder{}).invocation("chan2", modChatter))
	rec = &recorder{}
	c.Participants(ctx, rec.invocation("chan2", modChatter))
	if got := rec.lastReply(t); got != "Status: Open | Participants: 0" {
		t.Fatalf("chan2 status = %q", got)
	}
	rec = &recorder{}
	c.Participants(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "Status: Open | Participants: 1" {
		t.Fatalf("chan1 status = %q", got)
	}
}

func TestHelp(t *testing.T) {
	c := newTestComponent()
	rec := &recorder{}
	c.Help(context.Background(), rec.invocation("chan1", plebChatter))
	want := "Commands: !enter, !participants | Mods: !startraffle, !endraffle, !draw, !cancelraffle"
	if got := rec.lastSend(t); got != want {
		t.Fatalf("help = %q, want %q", got, want)
	}
}

func TestPersistenceCalls(t *testing.T) {
	c := newTestComponent()
	fp := &fakePersist{}
	c.Persist = fp
	ctx := context.Background()

	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))
	c.Enter(ctx, (&recorder{}).invocation("chan1", subChatter))
	c.End(ctx, (&recorder{}).invocation("chan1", modChatter))
	if got := len(fp.upserts); got != 3 {
		t.Fatalf("upserts = %d, want 3 (start, enter, end)", got)
	}
	if !fp.last.Active || fp.last.Open {
		t.Fatalf("last snapshot = %+v, want active and closed", fp.last)
	}
	if len(fp.last.Participants) != 1 || fp.last.Participants[0].UserID != "200" {
		t.Fatalf("last snapshot participants = %+v", fp.last.Participants)
	}

	c.Draw(ctx, (&recorder{}).invocation("chan1", modChatter))
	if len(fp.deletes) != 1 || fp.deletes[0] != "chan1" {
		t.Fatalf("deletes = %v, want one for chan1", fp.deletes)
	}
}

func TestPersistenceFailureDoesNotBlockRaffle(t *testing.T) {
	c := newTestComponent()
	c.Persist = &fakePersist{err: errors.New("db down")}
	ctx := context.Background()

	rec := &recorder{}
	c.Start(ctx, rec.invocation("chan1", modChatter))
	if len(rec.sends) != 1 {
		t.Fatalf("raffle start should announce despite persistence failure")
	}
	c.Enter(ctx, (&recorder{}).invocation("chan1", subChatter))
	rec = &recorder{}
	c.Draw(ctx, rec.invocation("chan1", modChatter))
	if got := rec.sends[len(rec.sends)-1]; got != "The winner is @SubUser !! Congratulations!" {
		t.Fatalf("draw should proceed despite persistence failure, got %q", got)
	}
}

func TestRestoreAndSnapshot(t *testing.T) {
	c := newTestComponent()
	c.Restore(map[string]Record{
		"chan2": {Active: true, Open: false, Participants: []Participant{{UserID: "1", DisplayName: "alice"}}},
		"chan1": {Active: true, Open: true, Participants: []Participant{
			{UserID: "1", DisplayName: "alice"},
			{UserID: "2", DisplayName: "bob"},
		}},
	})

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d raffles, want 2", len(snap))
	}
	if snap[0].BroadcasterID != "chan1" || snap[1].BroadcasterID != "chan2" {
		t.Fatalf("snapshot not sorted: %+v", snap)
	}
	if !snap[0].Open || snap[0].Participants != 2 {
		t.Fatalf("chan1 summary = %+v", snap[0])
	}
	if snap[1].Open || snap[1].Participants != 1 {
		t.Fatalf("chan2 summary = %+v", snap[1])
	}

	// restored entrants stay deduplicated
	rec := &recorder{}
	alice := Chatter{ID: "1", DisplayName: "alice", Roles: Roles{Subscriber: true}}
	c.Enter(context.Background(), rec.invocation("chan1", alice))
	if got := rec.lastReply(t); got != "alice, you have already joined." {
		t.Fatalf("reply = %q", got)
	}
}

func TestConcurrentEntries(t *testing.T) {
	c := newTestComponent()
	ctx := context.Background()
	c.Start(ctx, (&recorder{}).invocation("chan1", modChatter))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := Chatter{ID: fmt.Sprintf("u%d", i), DisplayName: fmt.Sprintf("user%d", i), Roles: Roles{Subscriber: true}}
			c.Enter(ctx, Invocation{
				BroadcasterID: "chan1",
				Chatter:       ch,
				Reply:         func(string) {},
				Send:          func(string) {},
			})
		}(i)
	}
	wg.Wait()

	rec := &recorder{}
	c.Participants(ctx, rec.invocation("chan1", modChatter))
	if got := rec.lastReply(t); got != "Status: Open | Participants: 50" {
		t.Fatalf("status = %q", got)
	}
}
