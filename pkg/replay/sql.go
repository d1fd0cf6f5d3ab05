package replay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
)

// Schema for the replay-protection table. The primary key on message_id is
// what makes CheckAndRecord atomic: the database picks exactly one winner
// among concurrent inserts of the same ID.
const Schema = `
CREATE TABLE IF NOT EXISTS saml_message_ids (
	message_id    TEXT NOT NULL PRIMARY KEY,
	expires_at_ms BIGINT NOT NULL
)`

// SQLGuard is a Guard backed by a uniqueness-constrained table. It works
// against PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3); both support
// INSERT ... ON CONFLICT DO NOTHING.
type SQLGuard struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLGuard creates a SQL-backed guard. A nil clock uses the wall clock.
func NewSQLGuard(db *sql.DB, clock clockwork.Clock) *SQLGuard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLGuard{db: db, clock: clock}
}

// Init creates the replay table if it does not exist.
func (g *SQLGuard) Init(ctx context.Context) error {
	if _, err := g.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create replay table: %w", err)
	}
	return nil
}

// CheckAndRecord implements Guard with a conflict-ignoring insert: zero rows
// affected means another request (or an earlier one) already recorded the ID.
func (g *SQLGuard) CheckAndRecord(ctx context.Context, messageID string) (bool, error) {
	expiresAt := g.clock.Now().Add(TTL).UnixMilli()

	res, err := g.db.ExecContext(ctx,
		`INSERT INTO saml_message_ids (message_id, expires_at_ms) VALUES ($1, $2)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to record message ID: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return inserted == 0, nil
}

// DeleteExpired removes records past their TTL and returns how many rows
// were deleted. Run from the reaper, never from the callback hot path.
func (g *SQLGuard) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM saml_message_ids WHERE expires_at_ms <= $1`,
		g.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired message IDs: %w", err)
	}
	return res.RowsAffected()
}
