package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/onnwee/rafflebot/raffle"
)

// RaffleStore adapts the raffles table to raffle.Persistence. Participants are
// stored as a JSONB array of {user_id, display_name} records.
type RaffleStore struct{ DB *sql.DB }

// UpsertRaffle writes the snapshot, keyed by broadcaster id.
func (s *RaffleStore) UpsertRaffle(ctx context.Context, broadcasterID string, rec raffle.Record) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	q := `INSERT INTO raffles(broadcaster_id, is_active, is_open, participants, updated_at)
		  VALUES($1,$2,$3,$4,NOW())
		  ON CONFLICT(broadcaster_id) DO UPDATE SET
		    is_active=EXCLUDED.is_active,
		    is_open=EXCLUDED.is_open,
		    participants=EXCLUDED.participants,
		    updated_at=NOW()`
	_, err = s.DB.ExecContext(ctx, q, broadcasterID, rec.Active, rec.Open, participants)
	return err
}

// DeleteRaffle removes the broadcaster's row after a draw or cancel.
func (s *RaffleStore) DeleteRaffle(ctx context.Context, broadcasterID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM raffles WHERE broadcaster_id=$1`, broadcasterID)
	return err
}

// ActiveRaffles loads all persisted active raffles for startup recovery.
func (s *RaffleStore) ActiveRaffles(ctx context.Context) (map[string]raffle.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT broadcaster_id, is_active, is_open, participants FROM raffles WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	out := make(map[string]raffle.Record)
	for rows.Next() {
		var broadcasterID string
		var rec raffle.Record
		var participants []byte
		if err := rows.Scan(&broadcasterID, &rec.Active, &rec.Open, &participants); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(participants, &rec.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants for %s: %w", broadcasterID, err)
		}
		out[broadcasterID] = rec
	}
	return out, rows.Err()
}
