// Command rafflebot runs the Twitch chat raffle bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations, and reloads any
//     active raffles so they survive restarts.
//   - Joins the configured channels over IRC and dispatches raffle commands.
//   - Refreshes stored per-user OAuth tokens in the background.
//   - Exposes a minimal HTTP server with health probes, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	twitchendpoint "golang.org/x/oauth2/twitch"

	"github.com/joho/godotenv"
	"github.com/onnwee/rafflebot/chat"
	"github.com/onnwee/rafflebot/config"
	dbpkg "github.com/onnwee/rafflebot/db"
	"github.com/onnwee/rafflebot/oauth"
	"github.com/onnwee/rafflebot/raffle"
	"github.com/onnwee/rafflebot/server"
	"github.com/onnwee/rafflebot/telemetry"
	"github.com/onnwee/rafflebot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config: missing chat identifiers are the one fatal startup error.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("rafflebot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Helix client for channel resolution, when API credentials are present.
	// The app token is NOT used for IRC chat.
	var helix *twitchapi.HelixClient
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		helix = &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := ts.Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}

	// DB (optional: PERSIST_RAFFLES=0 runs memory-only)
	var database *sql.DB
	if cfg.PersistRaffles {
		database, err = dbpkg.Connect(cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		// Versioned migrations first, embedded SQL as the fallback for
		// deployments without the migrations directory.
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := dbpkg.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err), slog.String("component", "db_migrate"))
			if err := dbpkg.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
				os.Exit(1)
			}
		}
	} else {
		slog.Info("raffle persistence disabled; running memory-only")
	}

	// Raffle component
	store := raffle.NewStore()
	component := raffle.NewComponent(store)
	component.BotUserID = cfg.TwitchBotUserID
	if os.Getenv("RAFFLE_PSEUDO_RANDOM") == "1" {
		component.Pick = raffle.PseudoPick
	}
	if database != nil {
		raffleStore := &dbpkg.RaffleStore{DB: database}
		component.Persist = raffleStore

		// Reload active raffles; a failure here degrades to a fresh store.
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if recs, err := raffleStore.ActiveRaffles(loadCtx); err != nil {
			slog.Warn("could not load raffles from database", slog.Any("err", err))
		} else {
			component.Restore(recs)
			slog.Info("loaded active raffles from database", slog.Int("count", len(recs)))
		}
		cancel()
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve channel logins so unknown channels are logged and skipped, then chat.
	resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	channels := chat.ResolveChannels(resolveCtx, helix, cfg.TwitchChannels)
	cancel()
	go chat.StartRaffleBot(ctx, component, cfg, channels)

	// Per-user token refresher (needs DB rows and API credentials)
	if database != nil && cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			Endpoint:     twitchendpoint.Endpoint,
		}
		oauth.StartRefresher(ctx, database, 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
		})
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/oauth)
	go func() {
		if err := server.Start(ctx, database, component, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("rafflebot started",
		slog.Any("channels", cfg.TwitchChannels),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.Bool("persistence", database != nil))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
