// End-to-end test: signup, admin decision, publish, consent, access.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"consentdesk/internal/account"
	"consentdesk/internal/audit"
	"consentdesk/internal/auth"
	"consentdesk/internal/blobstore"
	"consentdesk/internal/consent"
	"consentdesk/internal/db"
	"consentdesk/internal/envelope"
	"consentdesk/internal/keys"
)

// cheapArgon keeps the hashing fast; parameter strength is covered in
// the auth package tests.
func cheapArgon() auth.Argon2Params {
	return auth.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
}

type testEnv struct {
	srv        *httptest.Server
	store      *db.DB
	seekerKeys *keys.Custodian
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(ctx, t.TempDir()+"/api.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	system, err := keys.Generate(keys.DefaultKeyBits)
	require.NoError(t, err)
	seekerPriv, err := keys.Generate(keys.DefaultKeyBits)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := auth.NewHasher(cheapArgon())
	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	blobs, err := blobstore.New(afero.NewMemMapFs(), "/blobs")
	require.NoError(t, err)
	env := envelope.NewManager(system)
	rec := audit.NewRecorder(store, log)

	adminHash, err := hasher.Hash("admin password")
	require.NoError(t, err)
	_, _, err = store.CreateAdminWithCredential(ctx, "admin", adminHash, "Administrator", "admin@example.com")
	require.NoError(t, err)

	s := &Server{
		DB:        store,
		Tokens:    tokens,
		Hasher:    hasher,
		Pipeline:  account.NewPipeline(store, hasher, log),
		Library:   consent.NewLibrary(store, env, blobs, log),
		Authority: consent.NewAuthority(store, env, rec, log),
		Gate:      consent.NewGate(store, blobs, rec, log),
		Logger:    log,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, seekerKeys: seekerPriv}
}

// call sends a JSON request and decodes the JSON response into out when
// out is non-nil.
func (e *testEnv) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	code := e.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": username, "password": password}, &out)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, out.Token)
	return out.Token
}

// TestFullConsentLifecycle drives the whole system over HTTP: two
// signups, admin promotion, item publication, consent request and
// approval, decrypted access, and exhaustion.
func TestFullConsentLifecycle(t *testing.T) {
	e := newTestEnv(t)
	seekerPub, err := e.seekerKeys.PublicKeyString()
	require.NoError(t, err)

	// Signups land in the backlog, not in the live tables.
	var staged struct {
		BacklogID int64  `json:"backlog_id"`
		Status    string `json:"status"`
	}
	code := e.call(t, http.MethodPost, "/api/signup/provider", "", map[string]string{
		"username": "ada", "password": "provider password",
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com",
	}, &staged)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "pending", staged.Status)
	providerBacklog := staged.BacklogID

	code = e.call(t, http.MethodPost, "/api/signup/seeker", "", map[string]string{
		"username": "acme", "password": "seeker password",
		"name": "Acme Research", "email": "acme@example.com", "public_key": seekerPub,
	}, &staged)
	require.Equal(t, http.StatusCreated, code)
	seekerBacklog := staged.BacklogID

	// No login before promotion.
	code = e.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": "ada", "password": "provider password"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	// Admin sees and settles the backlog.
	adminTok := e.login(t, "admin", "admin password")
	var backlog struct {
		Backlog []struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"backlog"`
	}
	code = e.call(t, http.MethodGet, "/api/admin/backlog/providers", adminTok, nil, &backlog)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, backlog.Backlog, 1)
	require.Equal(t, "ada", backlog.Backlog[0].Username)

	code = e.call(t, http.MethodPost, "/api/admin/backlog/providers/"+itoa(providerBacklog)+"/decide",
		adminTok, map[string]bool{"approve": true}, nil)
	require.Equal(t, http.StatusOK, code)
	code = e.call(t, http.MethodPost, "/api/admin/backlog/seekers/"+itoa(seekerBacklog)+"/decide",
		adminTok, map[string]bool{"approve": true}, nil)
	require.Equal(t, http.StatusOK, code)

	// Provider publishes a text item.
	provTok := e.login(t, "ada", "provider password")
	var item struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	code = e.call(t, http.MethodPost, "/api/items", provTok, map[string]any{
		"name": "greeting", "type": "text", "payload": []byte("hello"),
	}, &item)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "text", item.Type)

	// Seeker discovers it and requests consent; the repeat request is
	// answered with the same consent.
	seekTok := e.login(t, "acme", "seeker password")
	var listing struct {
		Items []itemView `json:"items"`
	}
	code = e.call(t, http.MethodGet, "/api/providers/ada/items", seekTok, nil, &listing)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listing.Items, 1)

	var c consentView
	reqBody := map[string]any{"data_item_id": item.ID, "max_access_count": 1}
	code = e.call(t, http.MethodPost, "/api/consents", seekTok, reqBody, &c)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "pending", c.Status)
	var c2 consentView
	code = e.call(t, http.MethodPost, "/api/consents", seekTok, reqBody, &c2)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, c.ID, c2.ID)

	// Access before approval is refused.
	code = e.call(t, http.MethodPost, "/api/items/"+itoa(item.ID)+"/access", seekTok,
		map[string]string{}, nil)
	require.Equal(t, http.StatusForbidden, code)

	// Provider approves from their pending list.
	var pending struct {
		Consents []consentView `json:"consents"`
	}
	code = e.call(t, http.MethodGet, "/api/consents", provTok, nil, &pending)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pending.Consents, 1)
	code = e.call(t, http.MethodPost, "/api/consents/"+itoa(c.ID)+"/approve", provTok,
		map[string]string{}, nil)
	require.Equal(t, http.StatusOK, code)

	// First access succeeds and decrypts to the original payload.
	var grant struct {
		ConsentID   int64  `json:"consent_id"`
		Ciphertext  []byte `json:"ciphertext"`
		WrappedKey  []byte `json:"wrapped_key"`
		AccessCount int64  `json:"access_count"`
	}
	code = e.call(t, http.MethodPost, "/api/items/"+itoa(item.ID)+"/access", seekTok,
		map[string]string{}, &grant)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, c.ID, grant.ConsentID)
	require.Equal(t, int64(1), grant.AccessCount)

	symKey, err := e.seekerKeys.Unwrap(grant.WrappedKey)
	require.NoError(t, err)
	plain, err := envelope.DecryptWithKey(symKey, grant.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))

	// The single permitted access is spent.
	var failure struct {
		Kind string `json:"kind"`
	}
	code = e.call(t, http.MethodPost, "/api/items/"+itoa(item.ID)+"/access", seekTok,
		map[string]string{}, &failure)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "exhausted", failure.Kind)

	// Both parties can read the trail.
	var trail struct {
		History []struct {
			Action string `json:"action"`
		} `json:"history"`
	}
	code = e.call(t, http.MethodGet, "/api/consents/"+itoa(c.ID)+"/history", seekTok, nil, &trail)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, trail.History, 3)
	require.Equal(t, "requested", trail.History[0].Action)
	require.Equal(t, "accessed", trail.History[2].Action)
}

// TestRoleBoundaries checks cross-role and unauthenticated access.
func TestRoleBoundaries(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.login(t, "admin", "admin password")

	// Unauthenticated.
	code := e.call(t, http.MethodGet, "/api/items", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	// Wrong role: an admin is not a provider.
	code = e.call(t, http.MethodGet, "/api/items", adminTok, nil, nil)
	require.Equal(t, http.StatusForbidden, code)

	// Admin endpoints refuse garbage roles.
	code = e.call(t, http.MethodGet, "/api/admin/principals?role=admin", adminTok, nil, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

// TestDeactivationLocksOut flips a provider inactive and checks both the
// existing token and a fresh login stop working.
func TestDeactivationLocksOut(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	hasher := auth.NewHasher(cheapArgon())
	hash, err := hasher.Hash("provider password")
	require.NoError(t, err)
	_, providerID, err := e.store.CreateProviderWithCredential(ctx, "ada", hash, db.Provider{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
	})
	require.NoError(t, err)

	provTok := e.login(t, "ada", "provider password")
	code := e.call(t, http.MethodGet, "/api/items", provTok, nil, nil)
	require.Equal(t, http.StatusOK, code)

	adminTok := e.login(t, "admin", "admin password")
	code = e.call(t, http.MethodPost, "/api/admin/principals/provider/"+itoa(providerID)+"/active",
		adminTok, map[string]bool{"active": false}, nil)
	require.Equal(t, http.StatusOK, code)

	code = e.call(t, http.MethodGet, "/api/items", provTok, nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	code = e.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": "ada", "password": "provider password"}, nil)
	require.Equal(t, http.StatusForbidden, code)
}

// TestMeMissingProfile exercises handleMe with a principal whose profile
// row no longer exists; that is an auth failure, not a server error.
func TestMeMissingProfile(t *testing.T) {
	e := newTestEnv(t)
	s := &Server{
		DB:     e.store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	p := principal{CredentialID: 1, ProfileID: 9999, Role: db.RoleProvider, Username: "ghost"}
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxPrincipal, p))
	rr := httptest.NewRecorder()
	s.handleMe(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
