package db

import (
	"context"
	"database/sql"
	"errors"
)

// AppendHistory writes one immutable audit row. There is no update or
// delete path for consent_history.
func (d *DB) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.ID == "" || e.ConsentID <= 0 || e.Action == "" {
		return errors.New("history id, consent id, and action are required")
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO consent_history(id, consent_id, action, actor_id, actor_role, details, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.ConsentID, e.Action, nullInt64(e.ActorID), e.ActorRole, e.Details, nowUnix())
	return err
}

// ListHistoryByConsent returns a consent's audit trail in insertion
// order. created_at has second resolution, so rowid is the tiebreaker.
func (d *DB) ListHistoryByConsent(ctx context.Context, consentID int64) ([]HistoryEntry, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, consent_id, action, actor_id, actor_role, details, created_at
FROM consent_history WHERE consent_id=? ORDER BY rowid ASC
`, consentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var actor sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ConsentID, &e.Action, &actor, &e.ActorRole, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = fromNullInt64(actor)
		out = append(out, e)
	}
	return out, rows.Err()
}
