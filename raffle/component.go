package raffle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/rafflebot/telemetry"
)

// Roles are the caller's badge-derived capability flags, decoupled from any
// chat library message type.
type Roles struct {
	Moderator   bool
	Broadcaster bool
	Subscriber  bool
	VIP         bool
}

// CanManage reports whether the caller may start, end, draw, or cancel raffles.
func (r Roles) CanManage() bool { return r.Moderator || r.Broadcaster }

// IsEligible reports whether the caller may enter a raffle.
func (r Roles) IsEligible() bool { return r.VIP || r.Subscriber || r.Moderator || r.Broadcaster }

// Chatter identifies the command caller.
type Chatter struct {
	ID          string
	DisplayName string
	Roles       Roles
}

// Invocation carries one command's context: who called it, in whose channel,
// and how to answer. Reply addresses the caller; Send broadcasts to the channel.
type Invocation struct {
	BroadcasterID string
	Chatter       Chatter
	Reply         func(text string)
	Send          func(text string)
}

// Persistence stores raffle snapshots keyed by broadcaster id. Implementations
// must be safe for concurrent use. Every error is treated as best-effort: the
// component logs it and the in-memory raffle proceeds.
type Persistence interface {
	UpsertRaffle(ctx context.Context, broadcasterID string, rec Record) error
	DeleteRaffle(ctx context.Context, broadcasterID string) error
}

// Component owns the raffle store and implements the chat command semantics.
// A single mutex serializes state transitions: the IRC client delivers
// messages on its read loop, but the HTTP status endpoint and multi-channel
// setups read and write concurrently.
type Component struct {
	Persist   Persistence // optional; nil runs memory-only
	Pick      PickFunc    // winner selection source; nil means CryptoPick
	BotUserID string      // the bot's own user id, to ignore self-entries

	mu    sync.Mutex
	store *Store
}

// NewComponent wraps a store with the command handlers.
func NewComponent(store *Store) *Component {
	return &Component{store: store}
}

func (c *Component) pick(n int) int {
	if c.Pick != nil {
		return c.Pick(n)
	}
	return CryptoPick(n)
}

// Start begins a raffle for the invocation's broadcaster. Moderator or
// broadcaster only; rejected when one is already in progress.
func (c *Component) Start(ctx context.Context, inv Invocation) {
	if !inv.Chatter.Roles.CanManage() {
		inv.Reply("Only moderators and the broadcaster can start a raffle.")
		return
	}

	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	if st.Active() {
		c.mu.Unlock()
		inv.Reply("A raffle is already in progress.")
		return
	}
	st.Begin()
	rec := st.Record()
	active := c.store.ActiveCount()
	c.mu.Unlock()

	inc(telemetry.RafflesStarted)
	telemetry.SetActiveRaffles(active)
	c.save(ctx, inv.BroadcasterID, rec)
	inv.Send("Raffle started! VIPs, Subscribers, and Moderators can type !enter to enter.")
}

// Enter joins the caller into an open raffle. The bot ignores its own id so a
// relayed confirmation can never enter it into the draw.
func (c *Component) Enter(ctx context.Context, inv Invocation) {
	if c.BotUserID != "" && inv.Chatter.ID == c.BotUserID {
		return
	}

	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	switch {
	case !st.Active():
		c.mu.Unlock()
		inc(telemetry.EntriesRejected)
		inv.Reply("There is no raffle happening right now.")
		return
	case !st.Open():
		c.mu.Unlock()
		inc(telemetry.EntriesRejected)
		inv.Reply("Raffle entries are closed.")
		return
	case !inv.Chatter.Roles.IsEligible():
		c.mu.Unlock()
		inc(telemetry.EntriesRejected)
		inv.Reply("Only VIPs, Subscribers, and Moderators can join.")
		return
	}
	added := st.AddParticipant(inv.Chatter.ID, inv.Chatter.DisplayName)
	var rec Record
	if added {
		rec = st.Record()
	}
	c.mu.Unlock()

	if !added {
		inc(telemetry.EntriesRejected)
		inv.Reply(fmt.Sprintf("%s, you have already joined.", inv.Chatter.DisplayName))
		return
	}
	inc(telemetry.EntriesAccepted)
	c.save(ctx, inv.BroadcasterID, rec)
}

// End closes entries while keeping the raffle active for the draw.
func (c *Component) End(ctx context.Context, inv Invocation) {
	if !inv.Chatter.Roles.CanManage() {
		inv.Reply("Only moderators and the broadcaster can end a raffle.")
		return
	}

	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	switch {
	case !st.Active():
		c.mu.Unlock()
		inv.Reply("There is no raffle to end.")
		return
	case !st.Open():
		c.mu.Unlock()
		inv.Reply("Entries are already closed. Use !draw to pick a winner.")
		return
	}
	st.CloseEntries()
	count := st.Count()
	rec := st.Record()
	c.mu.Unlock()

	c.save(ctx, inv.BroadcasterID, rec)
	inv.Send(fmt.Sprintf("Entries closed. %d participant%s entered.", count, plural(count)))
}

// Draw selects a winner and clears the raffle. Entries are closed first when
// still open. The state is reset whether or not anyone entered.
func (c *Component) Draw(ctx context.Context, inv Invocation) {
	if !inv.Chatter.Roles.CanManage() {
		inv.Reply("Only moderators and the broadcaster can draw a winner.")
		return
	}

	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	if !st.Active() {
		c.mu.Unlock()
		inv.Reply("No raffle active. Start one with !startraffle")
		return
	}
	wasOpen := st.Open()
	if wasOpen {
		st.CloseEntries()
	}
	winner, drawn := st.DrawWinner(c.pick)
	st.Reset()
	active := c.store.ActiveCount()
	c.mu.Unlock()

	if wasOpen {
		inv.Send("Entries closed.")
	}
	if drawn {
		inv.Send(fmt.Sprintf("The winner is @%s !! Congratulations!", winner))
	} else {
		inv.Send("No one entered the raffle.")
	}
	inc(telemetry.WinnersDrawn)
	telemetry.SetActiveRaffles(active)
	c.clear(ctx, inv.BroadcasterID)
}

// Cancel discards an active raffle and reports how many entries it had.
func (c *Component) Cancel(ctx context.Context, inv Invocation) {
	if !inv.Chatter.Roles.CanManage() {
		inv.Reply("Only moderators and the broadcaster can cancel a raffle.")
		return
	}

	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	if !st.Active() {
		c.mu.Unlock()
		inv.Reply("There is no raffle to cancel.")
		return
	}
	count := st.Count()
	st.Reset()
	active := c.store.ActiveCount()
	c.mu.Unlock()

	inc(telemetry.RafflesCancelled)
	telemetry.SetActiveRaffles(active)
	c.clear(ctx, inv.BroadcasterID)
	inv.Send(fmt.Sprintf("Raffle cancelled. %d participant%s %s entered.", count, plural(count), wasWere(count)))
}

// Participants replies with the raffle status and live entry count.
func (c *Component) Participants(_ context.Context, inv Invocation) {
	c.mu.Lock()
	st := c.store.Get(inv.BroadcasterID)
	active, open, count := st.Active(), st.Open(), st.Count()
	c.mu.Unlock()

	if !active {
		inv.Reply("No raffle happening.")
		return
	}
	status := "Closed"
	if open {
		status = "Open"
	}
	inv.Reply(fmt.Sprintf("Status: %s | Participants: %d", status, count))
}

// Help broadcasts the command summary.
func (c *Component) Help(_ context.Context, inv Invocation) {
	inv.Send("Commands: !enter, !participants | Mods: !startraffle, !endraffle, !draw, !cancelraffle")
}

// Restore seeds the store from persisted snapshots at startup.
func (c *Component) Restore(recs map[string]Record) {
	c.mu.Lock()
	for broadcasterID, rec := range recs {
		st := FromRecord(rec)
		c.store.Put(broadcasterID, st)
		slog.Info("loaded raffle",
			slog.String("broadcaster_id", broadcasterID),
			slog.Int("participants", st.Count()))
	}
	active := c.store.ActiveCount()
	c.mu.Unlock()
	telemetry.SetActiveRaffles(active)
}

// Summary describes one broadcaster's raffle for the status endpoint.
type Summary struct {
	BroadcasterID string `json:"broadcaster_id"`
	Open          bool   `json:"open"`
	Participants  int    `json:"participants"`
}

// Snapshot lists the active raffles, sorted by broadcaster id.
func (c *Component) Snapshot() []Summary {
	c.mu.Lock()
	out := make([]Summary, 0, len(c.store.raffles))
	for id, st := range c.store.raffles {
		if !st.Active() {
			continue
		}
		out = append(out, Summary{BroadcasterID: id, Open: st.Open(), Participants: st.Count()})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BroadcasterID < out[j].BroadcasterID })
	return out
}

// save writes the snapshot best-effort: a failed upsert is logged and the
// chat-facing effect proceeds anyway.
func (c *Component) save(ctx context.Context, broadcasterID string, rec Record) {
	if c.Persist == nil {
		return
	}
	if err := c.Persist.UpsertRaffle(ctx, broadcasterID, rec); err != nil {
		slog.Error("failed to save raffle state", slog.String("broadcaster_id", broadcasterID), slog.Any("err", err))
		telemetry.CountPersistenceFailure()
	}
}

// clear removes the persisted row after a draw or cancel, best-effort.
func (c *Component) clear(ctx context.Context, broadcasterID string) {
	if c.Persist == nil {
		return
	}
	if err := c.Persist.DeleteRaffle(ctx, broadcasterID); err != nil {
		slog.Error("failed to delete raffle state", slog.String("broadcaster_id", broadcasterID), slog.Any("err", err))
		telemetry.CountPersistenceFailure()
	}
}

// plural returns "s" for any count other than exactly 1.
func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// wasWere returns the verb agreeing with count.
func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
