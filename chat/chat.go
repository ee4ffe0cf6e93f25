// Package chat connects the raffle component to Twitch chat over IRC. It
// parses !commands from incoming messages, derives the caller's role flags
// from IRC badges, and answers through threaded replies or channel broadcasts.
package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/rafflebot/config"
	"github.com/onnwee/rafflebot/raffle"
	"github.com/onnwee/rafflebot/telemetry"
	"github.com/onnwee/rafflebot/twitchapi"
)

// StartRaffleBot connects to Twitch chat, joins the configured channels, and
// dispatches raffle commands until the context is cancelled.
func StartRaffleBot(ctx context.Context, component *raffle.Component, cfg *config.Config, channels []string) {
	if len(channels) == 0 {
		slog.Info("no joinable channels; chat bot not started")
		return
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handleMessage(ctx, component, client, msg)
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(channels...)
	slog.Info("joining channels", slog.Any("channels", channels))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

// ResolveChannels maps channel logins to user ids via Helix so startup can log
// who the bot serves. A login that does not resolve is logged and dropped; the
// rest still join. With helix nil (no API credentials) all logins pass through.
func ResolveChannels(ctx context.Context, helix *twitchapi.HelixClient, logins []string) []string {
	if helix == nil {
		return logins
	}
	joinable := make([]string, 0, len(logins))
	for _, login := range logins {
		id, err := helix.GetUserID(ctx, login)
		if err != nil {
			slog.Error("could not resolve channel; skipping", slog.String("channel", login), slog.Any("err", err))
			continue
		}
		slog.Info("resolved channel", slog.String("channel", login), slog.String("broadcaster_id", id))
		joinable = append(joinable, login)
	}
	return joinable
}

func handleMessage(ctx context.Context, component *raffle.Component, client *twitch.Client, msg twitch.PrivateMessage) {
	cmd, ok := parseCommand(msg.Message)
	if !ok {
		return
	}

	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	inv := raffle.Invocation{
		BroadcasterID: msg.RoomID,
		Chatter: raffle.Chatter{
			ID:          msg.User.ID,
			DisplayName: name,
			Roles:       rolesFromBadges(msg.User.Badges),
		},
		Reply: func(text string) { client.Reply(msg.Channel, msg.ID, text) },
		Send:  func(text string) { client.Say(msg.Channel, text) },
	}

	handler, ok := lookupHandler(component, cmd)
	if !ok {
		return
	}
	if telemetry.CommandsHandled != nil {
		telemetry.CommandsHandled.Inc()
	}
	telemetry.TimeFunc(telemetry.CommandDuration, func() {
		handler(ctx, inv)
	})
}

// parseCommand extracts the lowercased command word from a leading !token.
func parseCommand(message string) (string, bool) {
	fields := strings.Fields(message)
	if len(fields) == 0 || len(fields[0]) < 2 || fields[0][0] != '!' {
		return "", false
	}
	return strings.ToLower(fields[0][1:]), true
}

// lookupHandler routes a command word to its component handler. "join" aliases
// "enter".
func lookupHandler(c *raffle.Component, cmd string) (func(context.Context, raffle.Invocation), bool) {
	switch cmd {
	case "startraffle":
		return c.Start, true
	case "enter", "join":
		return c.Enter, true
	case "endraffle":
		return c.End, true
	case "draw":
		return c.Draw, true
	case "cancelraffle":
		return c.Cancel, true
	case "participants":
		return c.Participants, true
	case "rafflehelp":
		return c.Help, true
	}
	return nil, false
}

// rolesFromBadges derives the capability flags a message carries. Founders are
// subscribers with a different badge.
func rolesFromBadges(badges map[string]int) raffle.Roles {
	has := func(name string) bool {
		_, ok := badges[name]
		return ok
	}
	return raffle.Roles{
		Broadcaster: has("broadcaster"),
		Moderator:   has("moderator"),
		VIP:         has("vip"),
		Subscriber:  has("subscriber") || has("founder"),
	}
}
