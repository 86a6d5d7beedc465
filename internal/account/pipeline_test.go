// Package account tests cover the promotion pipeline against a real
// sqlite store.
package account

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
)

// stubHasher avoids paying for argon2 in every test.
type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func newTestPipeline(t *testing.T) (*Pipeline, *db.DB) {
	t.Helper()
	store, err := db.Open(context.Background(), t.TempDir()+"/account.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(store, stubHasher{}, log), store
}

func providerSignup(username, email string) ProviderSignup {
	return ProviderSignup{
		Username:  username,
		Password:  "correct horse battery",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
	}
}

func seekerSignup(username, email string) SeekerSignup {
	return SeekerSignup{
		Username: username,
		Password: "correct horse battery",
		Name:     "Acme Research",
		Email:    email,
	}
}

// TestSubmitAndPromoteProvider walks the happy path end to end.
func TestSubmitAndPromoteProvider(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.SubmitProvider(ctx, providerSignup("ada", "ada@example.com"))
	require.NoError(t, err)

	// Not promoted yet: no credential exists before the decision.
	_, ok, err := store.GetCredentialByUsername(ctx, "ada")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.DecideProvider(ctx, id, true))

	cred, ok, err := store.GetCredentialByUsername(ctx, "ada")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, db.RoleProvider, cred.Role)
	require.Equal(t, "hashed:correct horse battery", cred.PasswordHash)

	prov, ok, err := store.GetProviderByUsername(ctx, "ada")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, prov.IsActive)
	require.Equal(t, "ada@example.com", prov.Email)

	entry, _, err := store.GetProviderBacklogByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.BacklogApproved, entry.Status)
	require.NotNil(t, entry.DecidedAt)
}

// TestSubmitValidation rejects bad input before anything is staged.
func TestSubmitValidation(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	cases := []ProviderSignup{
		providerSignup("", "a@example.com"),
		providerSignup("has spaces", "a@example.com"),
		providerSignup("ok", "not-an-email"),
		{Username: "ok", Password: "short", FirstName: "A", LastName: "B", Email: "a@example.com"},
		{Username: "ok", Password: "long enough pass", Email: "a@example.com"}, // names missing
	}
	for _, s := range cases {
		_, err := p.SubmitProvider(ctx, s)
		require.Equal(t, cerr.KindValidation, cerr.KindOf(err), "signup %+v", s)
	}

	_, err := p.SubmitProvider(ctx, ProviderSignup{
		Username: "ok", Password: "long enough pass", FirstName: "A", LastName: "B",
		Email: "a@example.com", PublicKey: "not a key",
	})
	require.Equal(t, cerr.KindValidation, cerr.KindOf(err))
}

// TestSubmitDuplicateUsername probes all three username scopes.
func TestSubmitDuplicateUsername(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	// Against a live credential.
	_, err := store.CreateCredential(ctx, "taken", "hash", db.RoleAdmin)
	require.NoError(t, err)
	_, err = p.SubmitProvider(ctx, providerSignup("taken", "x@example.com"))
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))

	// Against a pending provider backlog entry, from a seeker signup.
	_, err = p.SubmitProvider(ctx, providerSignup("staged", "staged@example.com"))
	require.NoError(t, err)
	_, err = p.SubmitSeeker(ctx, seekerSignup("staged", "other@example.com"))
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))
}

// TestSubmitDuplicateEmail probes email within a role including backlog.
func TestSubmitDuplicateEmail(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.SubmitSeeker(ctx, seekerSignup("org1", "shared@example.com"))
	require.NoError(t, err)
	_, err = p.SubmitSeeker(ctx, seekerSignup("org2", "shared@example.com"))
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))

	// Same email in the other role is fine.
	_, err = p.SubmitProvider(ctx, providerSignup("prov1", "shared@example.com"))
	require.NoError(t, err)
}

// TestPromotionCollisionRejectsEntry stages an entry, lets the username
// get taken afterwards, and expects the approval to flip the entry to
// rejected instead of promoting it.
func TestPromotionCollisionRejectsEntry(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.SubmitSeeker(ctx, seekerSignup("contested", "org@example.com"))
	require.NoError(t, err)

	_, err = store.CreateCredential(ctx, "contested", "hash", db.RoleProvider)
	require.NoError(t, err)

	err = p.DecideSeeker(ctx, id, true)
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))

	entry, _, err := store.GetSeekerBacklogByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.BacklogRejected, entry.Status)

	// No seeker profile was created for the entry.
	seekers, err := store.ListSeekersByActive(ctx, true)
	require.NoError(t, err)
	require.Empty(t, seekers)
}

// TestDecideIsSingleShot rejects a second decision on any settled entry.
func TestDecideIsSingleShot(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.SubmitProvider(ctx, providerSignup("once", "once@example.com"))
	require.NoError(t, err)
	require.NoError(t, p.DecideProvider(ctx, id, true))

	err = p.DecideProvider(ctx, id, true)
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))
	err = p.DecideProvider(ctx, id, false)
	require.Equal(t, cerr.KindConflict, cerr.KindOf(err))
}

// TestRejectLeavesNoCredential keeps a rejected signup out of the live
// tables for good.
func TestRejectLeavesNoCredential(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	id, err := p.SubmitProvider(ctx, providerSignup("denied", "denied@example.com"))
	require.NoError(t, err)
	require.NoError(t, p.DecideProvider(ctx, id, false))

	_, ok, err := store.GetCredentialByUsername(ctx, "denied")
	require.NoError(t, err)
	require.False(t, ok)

	entry, _, err := store.GetProviderBacklogByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.BacklogRejected, entry.Status)
}

// TestDecideMissingEntry returns not-found.
func TestDecideMissingEntry(t *testing.T) {
	p, _ := newTestPipeline(t)
	err := p.DecideProvider(context.Background(), 9999, true)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

// TestSetActiveStatusDoesNotCascade deactivates a provider and checks
// that their items and consents are left as they were.
func TestSetActiveStatusDoesNotCascade(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	_, providerID, err := store.CreateProviderWithCredential(ctx, "prov", "hash", db.Provider{
		FirstName: "Ada", LastName: "Lovelace", Email: "p@example.com",
	})
	require.NoError(t, err)
	_, seekerID, err := store.CreateSeekerWithCredential(ctx, "seek", "hash", db.Seeker{
		Name: "Org", Email: "s@example.com",
	})
	require.NoError(t, err)

	itemID, err := store.CreateDataItem(ctx, db.DataItem{
		ProviderID: providerID, Name: "n", Type: db.ItemText, Ciphertext: []byte("c"),
	})
	require.NoError(t, err)
	consentID, err := store.CreateConsent(ctx, db.Consent{
		DataItemID: itemID, SeekerID: seekerID, ProviderID: providerID,
	})
	require.NoError(t, err)

	require.NoError(t, p.SetActiveStatus(ctx, db.RoleProvider, providerID, false))

	item, _, err := store.GetDataItemByID(ctx, itemID)
	require.NoError(t, err)
	require.True(t, item.IsActive)
	c, _, err := store.GetConsentByID(ctx, consentID)
	require.NoError(t, err)
	require.Equal(t, db.ConsentPending, c.Status)

	// Reactivation works and unknown profiles surface as not found.
	require.NoError(t, p.SetActiveStatus(ctx, db.RoleProvider, providerID, true))
	err = p.SetActiveStatus(ctx, db.RoleSeeker, 9999, false)
	require.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
	err = p.SetActiveStatus(ctx, db.RoleAdmin, 1, false)
	require.Equal(t, cerr.KindValidation, cerr.KindOf(err))
}
