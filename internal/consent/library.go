// Package consent holds the domain core: the item library providers
// publish into, the consent authority that runs the grant state machine,
// and the access gate that releases ciphertext to approved seekers.
package consent

import (
	"context"
	"log/slog"

	"consentdesk/internal/blobstore"
	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
	"consentdesk/internal/envelope"
)

const maxItemNameLen = 200

// Library manages a provider's published data items. Payloads are sealed
// before they touch storage: text ciphertext inline in the database, file
// ciphertext in the blob store behind a ref.
type Library struct {
	store    *db.DB
	envelope *envelope.Manager
	blobs    *blobstore.Store
	log      *slog.Logger
}

func NewLibrary(store *db.DB, env *envelope.Manager, blobs *blobstore.Store, log *slog.Logger) *Library {
	return &Library{store: store, envelope: env, blobs: blobs, log: log}
}

// Publish seals a payload and stores it as a new active item owned by the
// provider.
func (l *Library) Publish(ctx context.Context, providerID int64, name string, typ db.ItemType, payload []byte) (*db.DataItem, error) {
	if name == "" || len(name) > maxItemNameLen {
		return nil, cerr.Validation("item name must be 1-200 characters")
	}
	if typ != db.ItemText && typ != db.ItemFile {
		return nil, cerr.Validation("item type must be text or file")
	}
	if len(payload) == 0 {
		return nil, cerr.Validation("item payload is empty")
	}

	ciphertext, wrappedKey, err := l.envelope.Seal(payload)
	if err != nil {
		return nil, err
	}

	item := db.DataItem{
		ProviderID: providerID,
		Name:       name,
		Type:       typ,
		WrappedKey: wrappedKey,
	}
	switch typ {
	case db.ItemText:
		item.Ciphertext = ciphertext
	case db.ItemFile:
		ref, err := l.blobs.Put(ciphertext)
		if err != nil {
			return nil, err
		}
		item.BlobRef = ref
	}

	id, err := l.store.CreateDataItem(ctx, item)
	if err != nil {
		return nil, err
	}
	l.log.Info("data item published", "item_id", id, "provider_id", providerID, "type", typ)

	stored, ok, err := l.store.GetDataItemByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NotFound("data item vanished after insert")
	}
	return stored, nil
}

// List returns the provider's own items, active and inactive.
func (l *Library) List(ctx context.Context, providerID int64) ([]db.DataItem, error) {
	return l.store.ListDataItemsByProvider(ctx, providerID, false)
}

// Deactivate soft-deletes an item the provider owns. Existing consents are
// untouched; the access gate refuses inactive items from now on.
func (l *Library) Deactivate(ctx context.Context, providerID, itemID int64) error {
	done, err := l.store.DeactivateDataItem(ctx, itemID, providerID)
	if err != nil {
		return err
	}
	if !done {
		// Distinguish a missing item from someone else's.
		_, ok, err := l.store.GetDataItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.NotFound("data item not found")
		}
		return cerr.Forbidden("data item belongs to another provider")
	}
	l.log.Info("data item deactivated", "item_id", itemID, "provider_id", providerID)
	return nil
}

// Discover lists a provider's active items for a seeker browsing by the
// provider's username. Payload fields are blanked; seekers only learn
// names and types until a consent is approved.
func (l *Library) Discover(ctx context.Context, providerUsername string) ([]db.DataItem, error) {
	p, ok, err := l.store.GetProviderByUsername(ctx, providerUsername)
	if err != nil {
		return nil, err
	}
	if !ok || !p.IsActive {
		return nil, cerr.NotFound("provider not found")
	}
	items, err := l.store.ListDataItemsByProvider(ctx, p.ID, true)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Ciphertext = nil
		items[i].BlobRef = ""
		items[i].WrappedKey = nil
	}
	return items, nil
}
