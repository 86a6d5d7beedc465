// Package audit records the consent history trail. Every state change and
// every successful access appends exactly one row; nothing ever edits or
// removes one.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"consentdesk/internal/db"
)

// Actions recorded against a consent.
const (
	ActionRequested = "requested"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionAccessed  = "accessed"
)

// Recorder appends consent history rows. Recording failures are logged
// and swallowed: the audit trail is best-effort and must not undo the
// state change it describes.
type Recorder struct {
	store *db.DB
	log   *slog.Logger
}

func NewRecorder(store *db.DB, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record appends one history row for a consent.
func (r *Recorder) Record(ctx context.Context, consentID int64, action string, actorID *int64, actorRole, details string) {
	err := r.store.AppendHistory(ctx, db.HistoryEntry{
		ID:        uuid.NewString(),
		ConsentID: consentID,
		Action:    action,
		ActorID:   actorID,
		ActorRole: actorRole,
		Details:   details,
	})
	if err != nil {
		r.log.Error("audit append failed", "consent_id", consentID, "action", action, "error", err)
	}
}

// Trail returns a consent's history, oldest first.
func (r *Recorder) Trail(ctx context.Context, consentID int64) ([]db.HistoryEntry, error) {
	return r.store.ListHistoryByConsent(ctx, consentID)
}
