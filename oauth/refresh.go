// Package oauth provides background refresh scheduling for the per-user Twitch
// tokens persisted in the twitch_tokens table. It performs jittered checks and
// refreshes rows whose expiry falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	dbpkg "github.com/onnwee/rafflebot/db"
)

// RefreshFunc performs the provider refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically scans twitch_tokens
// and refreshes expiring rows. Failures are logged and the row is left for the
// next pass; a dead refresh token never blocks other users' refreshes.
func StartRefresher(ctx context.Context, db *sql.DB, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			rows, err := dbpkg.ExpiringTwitchTokens(ctx, db, window)
			if err != nil {
				slog.Warn("token refresh scan failed", slog.Any("err", err))
				continue
			}
			for _, row := range rows {
				if row.Refresh == "" {
					continue
				}
				ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
				newAT, newRT, newExp, newScope, err := fn(ctx2, row.Refresh)
				cancel()
				if err != nil {
					slog.Warn("token refresh failed", slog.String("user_id", row.UserID), slog.Any("err", err))
					continue
				}
				if newRT == "" {
					// Providers may omit the refresh token when it is unchanged.
					newRT = row.Refresh
				}
				if newScope == "" {
					newScope = row.Scope
				}
				if err := dbpkg.UpsertTwitchToken(ctx, db, row.UserID, newAT, newRT, newExp, newScope); err != nil {
					slog.Warn("token refresh persist failed", slog.String("user_id", row.UserID), slog.Any("err", err))
					continue
				}
				slog.Info("token refreshed", slog.String("user_id", row.UserID), slog.Time("expires_at", newExp))
			}
		}
	}()
}
