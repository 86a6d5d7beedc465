package consent

import (
	"context"
	"log/slog"
	"time"

	"consentdesk/internal/audit"
	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
	"consentdesk/internal/envelope"
)

// Authority runs the consent state machine. Transitions are pending to
// approved or rejected, decided once, never reversed. Expiry and
// exhaustion are never stored as states; the gate evaluates them lazily.
type Authority struct {
	store    *db.DB
	envelope *envelope.Manager
	audit    *audit.Recorder
	log      *slog.Logger
	now      func() time.Time
}

func NewAuthority(store *db.DB, env *envelope.Manager, rec *audit.Recorder, log *slog.Logger) *Authority {
	return &Authority{store: store, envelope: env, audit: rec, log: log, now: time.Now}
}

// Request opens a pending consent for (seeker, item). If an open consent
// already exists for the pair it is returned unchanged with created=false,
// so repeat requests are idempotent. Rejected rows are terminal history; a
// request after a rejection opens a fresh pending row.
func (a *Authority) Request(ctx context.Context, seekerID, dataItemID int64, expiresAt, maxAccessCount *int64) (c *db.Consent, created bool, err error) {
	if expiresAt != nil && *expiresAt <= a.now().Unix() {
		return nil, false, cerr.Validation("expiry must be in the future")
	}
	if maxAccessCount != nil && *maxAccessCount <= 0 {
		return nil, false, cerr.Validation("max access count must be positive")
	}

	item, ok, err := a.store.GetDataItemByID(ctx, dataItemID)
	if err != nil {
		return nil, false, err
	}
	if !ok || !item.IsActive {
		return nil, false, cerr.NotFound("data item not found")
	}

	if existing, ok, err := a.store.GetOpenConsentForPair(ctx, dataItemID, seekerID); err != nil {
		return nil, false, err
	} else if ok {
		return existing, false, nil
	}

	id, err := a.store.CreateConsent(ctx, db.Consent{
		DataItemID:     dataItemID,
		SeekerID:       seekerID,
		ProviderID:     item.ProviderID,
		ExpiresAt:      expiresAt,
		MaxAccessCount: maxAccessCount,
	})
	if err != nil {
		// A concurrent request may have won the unique-index race;
		// return its row instead of surfacing the constraint error.
		if existing, ok, lookupErr := a.store.GetOpenConsentForPair(ctx, dataItemID, seekerID); lookupErr == nil && ok {
			return existing, false, nil
		}
		return nil, false, err
	}

	a.audit.Record(ctx, id, audit.ActionRequested, &seekerID, string(db.RoleSeeker), "")
	a.log.Info("consent requested", "consent_id", id, "item_id", dataItemID, "seeker_id", seekerID)

	fresh, ok, err := a.store.GetConsentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, cerr.NotFound("consent vanished after insert")
	}
	return fresh, true, nil
}

// Approve transitions a pending consent to approved. For encrypted items
// the stored wrapped key is re-wrapped under the seeker's public key, so
// the grant is usable only by that seeker. The status flip is a
// conditional write; a concurrent decision loses with a conflict.
func (a *Authority) Approve(ctx context.Context, providerID, consentID int64) (*db.Consent, error) {
	c, err := a.guardDecision(ctx, providerID, consentID)
	if err != nil {
		return nil, err
	}

	var wrappedForSeeker []byte
	item, ok, err := a.store.GetDataItemByID(ctx, c.DataItemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("data item not found")
	}
	if len(item.WrappedKey) > 0 {
		seeker, ok, err := a.store.GetSeekerByID(ctx, c.SeekerID)
		if err != nil {
			return nil, err
		}
		if !ok || seeker.PublicKey == "" {
			return nil, cerr.Crypto(nil, "seeker has no public key")
		}
		wrappedForSeeker, err = a.envelope.ReEncryptForRecipient(item.WrappedKey, seeker.PublicKey)
		if err != nil {
			return nil, err
		}
	}

	approvedAt := a.now().Unix()
	done, err := a.store.DecideConsent(ctx, consentID, db.ConsentApproved, &approvedAt, wrappedForSeeker)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, cerr.Conflict("consent is no longer pending")
	}

	a.audit.Record(ctx, consentID, audit.ActionApproved, &providerID, string(db.RoleProvider), "")
	a.log.Info("consent approved", "consent_id", consentID, "provider_id", providerID)

	return a.mustGet(ctx, consentID)
}

// Reject transitions a pending consent to rejected. The reason, if any,
// lands in the audit trail, not on the consent row.
func (a *Authority) Reject(ctx context.Context, providerID, consentID int64, reason string) (*db.Consent, error) {
	if _, err := a.guardDecision(ctx, providerID, consentID); err != nil {
		return nil, err
	}

	done, err := a.store.DecideConsent(ctx, consentID, db.ConsentRejected, nil, nil)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, cerr.Conflict("consent is no longer pending")
	}

	a.audit.Record(ctx, consentID, audit.ActionRejected, &providerID, string(db.RoleProvider), reason)
	a.log.Info("consent rejected", "consent_id", consentID, "provider_id", providerID)

	return a.mustGet(ctx, consentID)
}

// guardDecision runs the shared checks for approve and reject: the
// consent exists, the caller owns the item behind it, and it is still
// pending. The pending check here is advisory; the conditional write is
// what actually serializes racing decisions.
func (a *Authority) guardDecision(ctx context.Context, providerID, consentID int64) (*db.Consent, error) {
	c, ok, err := a.store.GetConsentByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("consent not found")
	}
	if c.ProviderID != providerID {
		return nil, cerr.Forbidden("consent concerns another provider's item")
	}
	if c.Status != db.ConsentPending {
		return nil, cerr.Conflict("consent is %s, not pending", c.Status)
	}
	return c, nil
}

func (a *Authority) mustGet(ctx context.Context, consentID int64) (*db.Consent, error) {
	c, ok, err := a.store.GetConsentByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("consent not found")
	}
	return c, nil
}

// Get returns a consent if the caller is a party to it.
func (a *Authority) Get(ctx context.Context, consentID int64, callerID int64, role db.Role) (*db.Consent, error) {
	c, ok, err := a.store.GetConsentByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("consent not found")
	}
	switch role {
	case db.RoleProvider:
		if c.ProviderID != callerID {
			return nil, cerr.Forbidden("consent concerns another provider")
		}
	case db.RoleSeeker:
		if c.SeekerID != callerID {
			return nil, cerr.Forbidden("consent concerns another seeker")
		}
	case db.RoleAdmin:
	default:
		return nil, cerr.Forbidden("unknown role")
	}
	return c, nil
}

// ListForProvider returns a provider's consents in one status.
func (a *Authority) ListForProvider(ctx context.Context, providerID int64, status db.ConsentStatus) ([]db.Consent, error) {
	switch status {
	case db.ConsentPending, db.ConsentApproved, db.ConsentRejected:
	default:
		return nil, cerr.Validation("status must be pending, approved, or rejected")
	}
	return a.store.ListConsentsByProviderAndStatus(ctx, providerID, status)
}

// ListForSeeker returns every consent a seeker has requested.
func (a *Authority) ListForSeeker(ctx context.Context, seekerID int64) ([]db.Consent, error) {
	return a.store.ListConsentsBySeeker(ctx, seekerID)
}

// History returns a consent's audit trail, guarded like Get.
func (a *Authority) History(ctx context.Context, consentID int64, callerID int64, role db.Role) ([]db.HistoryEntry, error) {
	if _, err := a.Get(ctx, consentID, callerID, role); err != nil {
		return nil, err
	}
	return a.audit.Trail(ctx, consentID)
}
