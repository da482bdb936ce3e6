package authn_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/tokens"
)

type fakeAuthStore struct {
	tenants  map[uuid.UUID]*core.Tenant
	branches map[uuid.UUID]*core.Branch
	keysets  map[uuid.UUID]*core.KeySet
	users    map[uuid.UUID]*core.User
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		tenants:  map[uuid.UUID]*core.Tenant{},
		branches: map[uuid.UUID]*core.Branch{},
		keysets:  map[uuid.UUID]*core.KeySet{},
		users:    map[uuid.UUID]*core.User{},
	}
}

func sha(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func (f *fakeAuthStore) addTenant(production bool) *core.Tenant {
	t := &core.Tenant{ID: uuid.New(), DisplayName: "acme", Production: production}
	f.tenants[t.ID] = t
	f.branches[t.ID] = &core.Branch{ID: uuid.New(), TenantID: t.ID, Name: "main", IsDefault: true}
	f.keysets[t.ID] = &core.KeySet{
		TenantID:            t.ID,
		PublishableKey:      "pk_live_abc",
		SecretServerKeyHash: sha("sk_live_abc"),
		AdminKeyHash:        sha("ak_live_abc"),
	}
	return t
}

func (f *fakeAuthStore) addUser(t *core.Tenant, managed ...uuid.UUID) *core.User {
	u := &core.User{ID: uuid.New(), TenantID: t.ID, BranchID: f.branches[t.ID].ID, ManagedTenantIDs: managed}
	f.users[u.ID] = u
	return u
}

func (f *fakeAuthStore) GetTenant(_ context.Context, id uuid.UUID) (*core.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, core.ErrTenantNotFound
}

func (f *fakeAuthStore) CreateTenant(context.Context, *core.Tenant) (*core.Branch, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAuthStore) UpdateTenant(context.Context, *core.Tenant) error {
	return errors.New("not implemented")
}

func (f *fakeAuthStore) GetDefaultBranch(_ context.Context, tenantID uuid.UUID) (*core.Branch, error) {
	if b, ok := f.branches[tenantID]; ok {
		return b, nil
	}
	return nil, core.ErrTenantNotFound
}

func (f *fakeAuthStore) GetKeySet(_ context.Context, tenantID uuid.UUID) (*core.KeySet, error) {
	if ks, ok := f.keysets[tenantID]; ok {
		return ks, nil
	}
	return nil, core.ErrNotFound
}

func (f *fakeAuthStore) GetUser(_ context.Context, tenantID, userID uuid.UUID) (*core.User, error) {
	if u, ok := f.users[userID]; ok && u.TenantID == tenantID {
		return u, nil
	}
	return nil, core.ErrUserNotFound
}

const testIssuer = "https://id.example.com"

type fixture struct {
	st       *fakeAuthStore
	codec    *tokens.Codec
	auth     *authn.Authenticator
	internal *core.Tenant
}

func newFixture(devKey string) *fixture {
	st := newFakeAuthStore()
	internal := st.addTenant(true)
	codec := tokens.NewCodec([]byte("test-secret"), 15*time.Minute)
	return &fixture{
		st:    st,
		codec: codec,
		auth: authn.New(authn.Deps{
			Store:            st,
			Codec:            codec,
			Issuer:           testIssuer,
			InternalTenantID: internal.ID,
			DevOverrideKey:   devKey,
		}),
		internal: internal,
	}
}

func (fx *fixture) accessToken(t *testing.T, tenant *core.Tenant, user *core.User) string {
	t.Helper()
	branch := fx.st.branches[tenant.ID]
	tok, err := fx.codec.Sign(testIssuer, tenant.ID.String(), user.ID.String(),
		map[string]any{tokens.ClaimBranchID: branch.ID.String()}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestAuthenticate_AnonymousAndTierRules(t *testing.T) {
	fx := newFixture("")
	tn := fx.st.addTenant(false)

	// Sin tier y sin credenciales: anónimo.
	id, err := fx.auth.Authenticate(context.Background(), authn.Credentials{})
	if err != nil || id != nil {
		t.Fatalf("expected anonymous, got id=%v err=%v", id, err)
	}

	// Credencial sin tier: siempre error.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{PublishableKey: "pk_live_abc"})
	if !errors.Is(err, authn.ErrKeyWithoutTier) {
		t.Fatalf("expected ErrKeyWithoutTier, got %v", err)
	}

	// Tier desconocido.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{AccessTier: "root", TenantID: tn.ID.String()})
	if !errors.Is(err, authn.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}

	// Tier sin tenant.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{AccessTier: "client"})
	if !errors.Is(err, authn.ErrTierWithoutTenant) {
		t.Fatalf("expected ErrTierWithoutTenant, got %v", err)
	}

	// Tenant id malformado.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{AccessTier: "client", TenantID: "not-a-uuid"})
	if !errors.Is(err, authn.ErrMalformedTenantID) {
		t.Fatalf("expected ErrMalformedTenantID, got %v", err)
	}
}

func TestAuthenticate_TenantNotFoundIsDistinct(t *testing.T) {
	fx := newFixture("")
	_, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "client", TenantID: uuid.NewString(), PublishableKey: "pk_live_abc",
	})
	if !errors.Is(err, authn.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if errors.Is(err, authn.ErrInvalidKey) {
		t.Fatal("tenant-not-found must not be a credential error")
	}
}

func TestAuthenticate_TierKeys(t *testing.T) {
	fx := newFixture("")
	tn := fx.st.addTenant(false)

	cases := []struct {
		tier  string
		creds authn.Credentials
	}{
		{"client", authn.Credentials{PublishableKey: "pk_live_abc"}},
		{"server", authn.Credentials{SecretServerKey: "sk_live_abc"}},
		{"admin", authn.Credentials{AdminKey: "ak_live_abc"}},
	}
	for _, tc := range cases {
		c := tc.creds
		c.AccessTier = tc.tier
		c.TenantID = tn.ID.String()
		id, err := fx.auth.Authenticate(context.Background(), c)
		if err != nil {
			t.Fatalf("tier %s: %v", tc.tier, err)
		}
		if id.Tier != authn.Tier(tc.tier) || id.Tenant.ID != tn.ID || id.Branch == nil {
			t.Fatalf("tier %s: unexpected identity %+v", tc.tier, id)
		}
	}

	// Key del tier ausente.
	_, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "server", TenantID: tn.ID.String(),
	})
	if !errors.Is(err, authn.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}

	// Key inválida.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "server", TenantID: tn.ID.String(), SecretServerKey: "sk_wrong",
	})
	if !errors.Is(err, authn.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAuthenticate_ExpiredKeySet(t *testing.T) {
	fx := newFixture("")
	tn := fx.st.addTenant(false)
	past := time.Now().Add(-time.Hour)
	fx.st.keysets[tn.ID].ExpiresAt = &past

	_, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "client", TenantID: tn.ID.String(), PublishableKey: "pk_live_abc",
	})
	if !errors.Is(err, authn.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for expired key set, got %v", err)
	}
}

func TestAuthenticate_BearerSetsCurrentUser(t *testing.T) {
	fx := newFixture("")
	tn := fx.st.addTenant(false)
	user := fx.st.addUser(tn)
	tok := fx.accessToken(t, tn, user)

	id, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "client", TenantID: tn.ID.String(),
		PublishableKey: "pk_live_abc", AccessToken: tok,
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.User == nil || id.User.ID != user.ID {
		t.Fatalf("expected current user %s, got %+v", user.ID, id.User)
	}

	// Token de OTRO tenant no setea current user, pero la key sigue valiendo.
	other := fx.st.addTenant(false)
	otherUser := fx.st.addUser(other)
	foreign := fx.accessToken(t, other, otherUser)
	id, err = fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "client", TenantID: tn.ID.String(),
		PublishableKey: "pk_live_abc", AccessToken: foreign,
	})
	if err != nil {
		t.Fatalf("authenticate with foreign bearer: %v", err)
	}
	if id.User != nil {
		t.Fatalf("foreign bearer must not resolve a current user, got %+v", id.User)
	}
}

func TestAuthenticate_AdminImpersonation(t *testing.T) {
	fx := newFixture("")
	target := fx.st.addTenant(false)

	// Usuario interno que administra el tenant target.
	operator := fx.st.addUser(fx.internal, target.ID)
	tok := fx.accessToken(t, fx.internal, operator)

	id, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: target.ID.String(), AdminAccessToken: tok,
	})
	if err != nil {
		t.Fatalf("impersonation: %v", err)
	}
	if id.Tier != authn.TierAdmin || id.Tenant.ID != target.ID {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// Usuario interno que NO administra el target: rechazo.
	outsider := fx.st.addUser(fx.internal)
	badTok := fx.accessToken(t, fx.internal, outsider)
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: target.ID.String(), AdminAccessToken: badTok,
	})
	if !errors.Is(err, authn.ErrInvalidAdminToken) {
		t.Fatalf("expected ErrInvalidAdminToken, got %v", err)
	}

	// Token de un tenant común (no interno): rechazo.
	normalUser := fx.st.addUser(target)
	normalTok := fx.accessToken(t, target, normalUser)
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: target.ID.String(), AdminAccessToken: normalTok,
	})
	if !errors.Is(err, authn.ErrInvalidAdminToken) {
		t.Fatalf("expected ErrInvalidAdminToken for non-internal token, got %v", err)
	}
}

func TestAuthenticate_DevOverride(t *testing.T) {
	fx := newFixture("dev-override-secret")
	dev := fx.st.addTenant(false)
	prod := fx.st.addTenant(true)

	// Válido fuera de production, sin necesidad de otra credencial.
	id, err := fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: dev.ID.String(), DevOverrideKey: "dev-override-secret",
	})
	if err != nil {
		t.Fatalf("dev override: %v", err)
	}
	if id.Tier != authn.TierAdmin {
		t.Fatalf("unexpected tier %s", id.Tier)
	}

	// Nunca contra un tenant en production.
	_, err = fx.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: prod.ID.String(), DevOverrideKey: "dev-override-secret",
	})
	if !errors.Is(err, authn.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey in production, got %v", err)
	}

	// Deshabilitado por config: rechazo aunque el valor coincida.
	off := newFixture("")
	tn := off.st.addTenant(false)
	_, err = off.auth.Authenticate(context.Background(), authn.Credentials{
		AccessTier: "admin", TenantID: tn.ID.String(), DevOverrideKey: "dev-override-secret",
	})
	if !errors.Is(err, authn.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey when disabled, got %v", err)
	}
}

func TestFromRequest_ParsesHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(authn.HeaderTenantID, " tid ")
	r.Header.Set(authn.HeaderAccessTier, "server")
	r.Header.Set(authn.HeaderSecretServerKey, "sk")
	r.Header.Set("Authorization", "bearer tok123")

	c := authn.FromRequest(r)
	if c.TenantID != "tid" || c.AccessTier != "server" || c.SecretServerKey != "sk" {
		t.Fatalf("unexpected credentials: %+v", c)
	}
	if c.AccessToken != "tok123" {
		t.Fatalf("bearer not parsed: %q", c.AccessToken)
	}
}
