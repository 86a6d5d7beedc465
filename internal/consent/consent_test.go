// Package consent tests drive the authority and gate against a real
// sqlite store.
package consent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"consentdesk/internal/audit"
	"consentdesk/internal/blobstore"
	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
	"consentdesk/internal/envelope"
	"consentdesk/internal/keys"
)

var (
	keyOnce     sync.Once
	systemKeys  *keys.Custodian
	seekerKeys  *keys.Custodian
	seekerPub   string
	keySetupErr error
)

// sharedKeys generates the RSA pairs once; key generation dominates the
// suite's runtime otherwise.
func sharedKeys(t *testing.T) (*keys.Custodian, *keys.Custodian, string) {
	t.Helper()
	keyOnce.Do(func() {
		systemKeys, keySetupErr = keys.Generate(keys.DefaultKeyBits)
		if keySetupErr != nil {
			return
		}
		seekerKeys, keySetupErr = keys.Generate(keys.DefaultKeyBits)
		if keySetupErr != nil {
			return
		}
		seekerPub, keySetupErr = seekerKeys.PublicKeyString()
	})
	require.NoError(t, keySetupErr)
	return systemKeys, seekerKeys, seekerPub
}

type fixture struct {
	store      *db.DB
	library    *Library
	authority  *Authority
	gate       *Gate
	seekerKeys *keys.Custodian
	providerID int64
	seekerID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	system, seekerPriv, pub := sharedKeys(t)

	store, err := db.Open(ctx, t.TempDir()+"/consent.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, providerID, err := store.CreateProviderWithCredential(ctx, "prov", "hash", db.Provider{
		FirstName: "Ada", LastName: "Lovelace", Email: "prov@example.com",
	})
	require.NoError(t, err)
	_, seekerID, err := store.CreateSeekerWithCredential(ctx, "seek", "hash", db.Seeker{
		Name: "Acme Research", Email: "seek@example.com", PublicKey: pub,
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := blobstore.New(afero.NewMemMapFs(), "/blobs")
	require.NoError(t, err)
	env := envelope.NewManager(system)
	rec := audit.NewRecorder(store, log)

	return &fixture{
		store:      store,
		library:    NewLibrary(store, env, blobs, log),
		authority:  NewAuthority(store, env, rec, log),
		gate:       NewGate(store, blobs, rec, log),
		seekerKeys: seekerPriv,
		providerID: providerID,
		seekerID:   seekerID,
	}
}

func (f *fixture) publishText(t *testing.T, payload string) *db.DataItem {
	t.Helper()
	it, err := f.library.Publish(context.Background(), f.providerID, "record", db.ItemText, []byte(payload))
	require.NoError(t, err)
	return it
}

func TestRequestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "secret")

	c1, created, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, db.ConsentPending, c1.Status)

	c2, created, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c1.ID, c2.ID)

	list, err := f.authority.ListForSeeker(ctx, f.seekerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRequestUnknownOrInactiveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.authority.Request(ctx, f.seekerID, 9999, nil, nil)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))

	item := f.publishText(t, "gone soon")
	require.NoError(t, f.library.Deactivate(ctx, f.providerID, item.ID))
	_, _, err = f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

// TestGrantRoundTrip is the end-to-end scenario: publish "hello", grant
// with one permitted access, access once, decrypt, then exhaust.
func TestGrantRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "hello")

	max := int64(1)
	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, &max)
	require.NoError(t, err)

	approved, err := f.authority.Approve(ctx, f.providerID, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.ConsentApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotEmpty(t, approved.WrappedKeyForSeeker)

	grant, err := f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), grant.AccessCount)

	symKey, err := f.seekerKeys.Unwrap(grant.WrappedKey)
	require.NoError(t, err)
	plain, err := envelope.DecryptWithKey(symKey, grant.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))

	_, err = f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.Equal(t, cerr.KindExhausted, cerr.KindOf(err))

	fresh, ok, err := f.store.GetConsentByID(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), fresh.AccessCount)
	require.Equal(t, db.ConsentApproved, fresh.Status)

	trail, err := f.authority.History(ctx, c.ID, f.seekerID, db.RoleSeeker)
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{audit.ActionRequested, audit.ActionApproved, audit.ActionAccessed}, actions)
}

func TestApproveRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "mine")

	_, otherProvider, err := f.store.CreateProviderWithCredential(ctx, "prov2", "hash", db.Provider{
		FirstName: "Eve", LastName: "Intruder", Email: "eve@example.com",
	})
	require.NoError(t, err)

	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)

	_, err = f.authority.Approve(ctx, otherProvider, c.ID)
	require.Equal(t, cerr.KindForbidden, cerr.KindOf(err))
}

// TestDecisionIsFinal verifies a decided consent never changes again.
func TestDecisionIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "once")

	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	approved, err := f.authority.Approve(ctx, f.providerID, c.ID)
	require.NoError(t, err)

	_, err = f.authority.Reject(ctx, f.providerID, c.ID, "too late")
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))
	_, err = f.authority.Approve(ctx, f.providerID, c.ID)
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))

	fresh, _, err := f.store.GetConsentByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.ConsentApproved, fresh.Status)
	require.Equal(t, approved.ApprovedAt, fresh.ApprovedAt)
	require.Equal(t, approved.WrappedKeyForSeeker, fresh.WrappedKeyForSeeker)
}

// TestRejectThenReRequest checks a rejection is terminal for its row and
// frees the pair for a fresh request.
func TestRejectThenReRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "maybe later")

	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	rejected, err := f.authority.Reject(ctx, f.providerID, c.ID, "not yet")
	require.NoError(t, err)
	require.Equal(t, db.ConsentRejected, rejected.Status)
	require.Nil(t, rejected.ApprovedAt)

	trail, err := f.authority.History(ctx, c.ID, f.providerID, db.RoleProvider)
	require.NoError(t, err)
	require.Equal(t, "not yet", trail[len(trail)-1].Details)

	_, err = f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.Equal(t, cerr.KindNotApproved, cerr.KindOf(err))

	again, created, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, c.ID, again.ID)
	require.Equal(t, db.ConsentPending, again.Status)
}

// TestLazyExpiry drives the gate clock past expiry; the stored status
// must stay approved.
func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "short lived")

	base := time.Now()
	f.authority.now = func() time.Time { return base }
	exp := base.Add(time.Hour).Unix()
	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, &exp, nil)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, f.providerID, c.ID)
	require.NoError(t, err)

	f.gate.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, err = f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.NoError(t, err)

	f.gate.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.Equal(t, cerr.KindExpired, cerr.KindOf(err))

	fresh, _, err := f.store.GetConsentByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.ConsentApproved, fresh.Status)
	require.Equal(t, int64(1), fresh.AccessCount)
}

// TestApproveWithoutSeekerKey fails with a crypto error for encrypted
// items when the seeker never registered a public key.
func TestApproveWithoutSeekerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "locked")

	_, keylessSeeker, err := f.store.CreateSeekerWithCredential(ctx, "nokey", "hash", db.Seeker{
		Name: "Keyless Org", Email: "nokey@example.com",
	})
	require.NoError(t, err)

	c, _, err := f.authority.Request(ctx, keylessSeeker, item.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, f.providerID, c.ID)
	require.Equal(t, cerr.KindCrypto, cerr.KindOf(err))

	// The failure must not half-approve the consent.
	fresh, _, err := f.store.GetConsentByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, db.ConsentPending, fresh.Status)
}

// TestFileItemFlowsThroughBlobstore publishes a file item and accesses
// it end to end.
func TestFileItemFlowsThroughBlobstore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte("PDF bytes, allegedly")

	item, err := f.library.Publish(ctx, f.providerID, "report.pdf", db.ItemFile, payload)
	require.NoError(t, err)
	require.NotEmpty(t, item.BlobRef)
	require.Empty(t, item.Ciphertext)

	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, f.providerID, c.ID)
	require.NoError(t, err)

	grant, err := f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.NoError(t, err)
	require.Equal(t, db.ItemFile, grant.ItemType)
	require.Equal(t, "report.pdf", grant.Name)

	symKey, err := f.seekerKeys.Unwrap(grant.WrappedKey)
	require.NoError(t, err)
	plain, err := envelope.DecryptWithKey(symKey, grant.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}

// TestGrantCountMatchesStoredRow wedges an extra increment between the
// gate's read and its own increment via the clock hook; the grant must
// report the stored count, not the pre-read snapshot plus one.
func TestGrantCountMatchesStoredRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "contended")

	c, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, f.providerID, c.ID)
	require.NoError(t, err)

	f.gate.now = func() time.Time {
		_, _ = f.store.IncrementAccessCount(ctx, c.ID, time.Now().Unix())
		return time.Now()
	}
	grant, err := f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), grant.AccessCount)

	fresh, _, err := f.store.GetConsentByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, grant.AccessCount, fresh.AccessCount)
}

// TestGateRefusesWithoutConsent covers the no-consent path.
func TestGateRefusesWithoutConsent(t *testing.T) {
	f := newFixture(t)
	item := f.publishText(t, "unshared")
	_, err := f.gate.Authorize(context.Background(), f.seekerID, item.ID)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

// TestGateRefusesPending covers the not-approved path.
func TestGateRefusesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "waiting")
	_, _, err := f.authority.Request(ctx, f.seekerID, item.ID, nil, nil)
	require.NoError(t, err)
	_, err = f.gate.Authorize(ctx, f.seekerID, item.ID)
	require.Equal(t, cerr.KindNotApproved, cerr.KindOf(err))
}

// TestDiscoverHidesPayload ensures discovery never leaks ciphertext or
// keys.
func TestDiscoverHidesPayload(t *testing.T) {
	f := newFixture(t)
	f.publishText(t, "hidden")

	items, err := f.library.Discover(context.Background(), "prov")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, items[0].Ciphertext)
	require.Empty(t, items[0].WrappedKey)
	require.Empty(t, items[0].BlobRef)
}

// TestDeactivateOwnership distinguishes missing items from foreign ones.
func TestDeactivateOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.publishText(t, "mine only")

	err := f.library.Deactivate(ctx, f.providerID, 9999)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))

	_, other, err := f.store.CreateProviderWithCredential(ctx, "prov3", "hash", db.Provider{
		FirstName: "Mallory", LastName: "Other", Email: "m@example.com",
	})
	require.NoError(t, err)
	err = f.library.Deactivate(ctx, other, item.ID)
	require.Equal(t, cerr.KindForbidden, cerr.KindOf(err))
}
