package consent

import (
	"context"
	"log/slog"
	"time"

	"consentdesk/internal/audit"
	"consentdesk/internal/blobstore"
	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
)

// Grant is what an authorized seeker receives: the sealed payload and the
// key wrapped for them. The server never sees the plaintext on this path.
type Grant struct {
	ConsentID   int64
	ItemType    db.ItemType
	Name        string
	Ciphertext  []byte
	WrappedKey  []byte
	AccessCount int64
}

// Gate authorizes accesses against approved consents. Expiry and
// exhaustion are judged here at call time against the stored row; the row
// keeps status approved either way.
type Gate struct {
	store *db.DB
	blobs *blobstore.Store
	audit *audit.Recorder
	log   *slog.Logger
	now   func() time.Time
}

func NewGate(store *db.DB, blobs *blobstore.Store, rec *audit.Recorder, log *slog.Logger) *Gate {
	return &Gate{store: store, blobs: blobs, audit: rec, log: log, now: time.Now}
}

// Authorize releases the item payload to the seeker if their consent is
// approved, unexpired, and below its access limit. The usage increment is
// a single conditional write carrying the same guards, so two concurrent
// calls cannot both consume the last permitted access.
func (g *Gate) Authorize(ctx context.Context, seekerID, dataItemID int64) (*Grant, error) {
	c, ok, err := g.store.GetConsentForPair(ctx, dataItemID, seekerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("no consent for this data item")
	}

	now := g.now().Unix()
	if err := classify(c, now); err != nil {
		return nil, err
	}

	item, ok, err := g.store.GetDataItemByID(ctx, dataItemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("data item not found")
	}
	if !item.IsActive {
		return nil, cerr.NotFound("data item not found")
	}

	bumped, err := g.store.IncrementAccessCount(ctx, c.ID, now)
	if err != nil {
		return nil, err
	}
	if !bumped {
		// A concurrent access or decision changed the row between the
		// read and the increment; re-read and classify what blocked us.
		fresh, ok, err := g.store.GetConsentByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, cerr.NotFound("consent not found")
		}
		if err := classify(fresh, now); err != nil {
			return nil, err
		}
		return nil, cerr.Exhausted("access limit reached")
	}

	// Re-read after the increment: concurrent authorizes may have moved
	// the count past our pre-read snapshot.
	c, ok, err = g.store.GetConsentByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("consent not found")
	}

	grant := &Grant{
		ConsentID:   c.ID,
		ItemType:    item.Type,
		Name:        item.Name,
		WrappedKey:  c.WrappedKeyForSeeker,
		AccessCount: c.AccessCount,
	}
	switch item.Type {
	case db.ItemText:
		grant.Ciphertext = item.Ciphertext
	case db.ItemFile:
		data, ok, err := g.blobs.Get(item.BlobRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, cerr.NotFound("item payload is missing from the blob store")
		}
		grant.Ciphertext = data
	}

	g.audit.Record(ctx, c.ID, audit.ActionAccessed, &seekerID, string(db.RoleSeeker), "")
	g.log.Info("access granted", "consent_id", c.ID, "item_id", dataItemID, "seeker_id", seekerID, "access_count", grant.AccessCount)
	return grant, nil
}

// classify turns a consent row into the gate error it implies, or nil if
// the row permits access.
func classify(c *db.Consent, now int64) error {
	if c.Status != db.ConsentApproved {
		return cerr.NotApproved("consent is %s", c.Status)
	}
	if c.ExpiresAt != nil && now > *c.ExpiresAt {
		return cerr.Expired("consent expired")
	}
	if c.MaxAccessCount != nil && c.AccessCount >= *c.MaxAccessCount {
		return cerr.Exhausted("access limit reached")
	}
	return nil
}
