package http_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/authn"
	mphttp "github.com/dropDatabas3/multipass/internal/http"
	"github.com/dropDatabas3/multipass/internal/oauth"
	"github.com/dropDatabas3/multipass/internal/permissions"
	"github.com/dropDatabas3/multipass/internal/rate"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/tokens"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// memStore implementa core.Repository en memoria para ejercitar el router
// completo sin Postgres.
type memStore struct {
	tenants  map[uuid.UUID]*core.Tenant
	branches map[uuid.UUID]*core.Branch
	keysets  map[uuid.UUID]*core.KeySet
	users    map[uuid.UUID]*core.User
	defs     []core.PermissionDef
	teams    map[uuid.UUID]*core.Team
	members  map[uuid.UUID]map[uuid.UUID]*core.TeamMember
	codes    map[string]*core.AuthorizationCode
	refresh  map[string]*core.RefreshToken
	vcodes   map[uuid.UUID]*core.VerificationCode
}

func newMemStore() *memStore {
	return &memStore{
		tenants:  map[uuid.UUID]*core.Tenant{},
		branches: map[uuid.UUID]*core.Branch{},
		keysets:  map[uuid.UUID]*core.KeySet{},
		users:    map[uuid.UUID]*core.User{},
		teams:    map[uuid.UUID]*core.Team{},
		members:  map[uuid.UUID]map[uuid.UUID]*core.TeamMember{},
		codes:    map[string]*core.AuthorizationCode{},
		refresh:  map[string]*core.RefreshToken{},
		vcodes:   map[uuid.UUID]*core.VerificationCode{},
	}
}

func (m *memStore) GetTenant(_ context.Context, id uuid.UUID) (*core.Tenant, error) {
	if t, ok := m.tenants[id]; ok {
		return t, nil
	}
	return nil, core.ErrTenantNotFound
}

func (m *memStore) CreateTenant(_ context.Context, t *core.Tenant) (*core.Branch, error) {
	m.tenants[t.ID] = t
	b := &core.Branch{ID: uuid.New(), TenantID: t.ID, Name: "main", IsDefault: true}
	m.branches[t.ID] = b
	return b, nil
}

func (m *memStore) UpdateTenant(_ context.Context, t *core.Tenant) error {
	m.tenants[t.ID] = t
	return nil
}

func (m *memStore) GetDefaultBranch(_ context.Context, tenantID uuid.UUID) (*core.Branch, error) {
	if b, ok := m.branches[tenantID]; ok {
		return b, nil
	}
	return nil, core.ErrTenantNotFound
}

func (m *memStore) GetKeySet(_ context.Context, tenantID uuid.UUID) (*core.KeySet, error) {
	if ks, ok := m.keysets[tenantID]; ok {
		return ks, nil
	}
	return nil, core.ErrNotFound
}

func (m *memStore) GetUser(_ context.Context, tenantID, userID uuid.UUID) (*core.User, error) {
	if u, ok := m.users[userID]; ok && u.TenantID == tenantID {
		return u, nil
	}
	return nil, core.ErrUserNotFound
}

func (m *memStore) ListPermissionDefs(_ context.Context, tenantID uuid.UUID) ([]core.PermissionDef, error) {
	var out []core.PermissionDef
	for _, d := range m.defs {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) ListPermissionDefsScoped(_ context.Context, tenantID uuid.UUID, scope core.ScopeKind, teamID *uuid.UUID) ([]core.PermissionDef, error) {
	var out []core.PermissionDef
	for _, d := range m.defs {
		if d.TenantID != tenantID || d.Scope != scope {
			continue
		}
		if scope == core.ScopeTeam && (d.TeamID == nil || teamID == nil || *d.TeamID != *teamID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) CreatePermissionDef(_ context.Context, def *core.PermissionDef) error {
	m.defs = append(m.defs, *def)
	return nil
}

func (m *memStore) UpdatePermissionDef(_ context.Context, def *core.PermissionDef) error {
	for i := range m.defs {
		if m.defs[i].TenantID == def.TenantID && m.defs[i].QueryableID == def.QueryableID {
			m.defs[i] = *def
			return nil
		}
	}
	return core.ErrPermissionNotFound
}

func (m *memStore) DeletePermissionDef(_ context.Context, tenantID uuid.UUID, queryableID string, scope core.ScopeKind, teamID *uuid.UUID) (int64, error) {
	for i := range m.defs {
		if m.defs[i].TenantID == tenantID && m.defs[i].QueryableID == queryableID && m.defs[i].Scope == scope {
			m.defs = append(m.defs[:i], m.defs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memStore) GetTeam(_ context.Context, tenantID, teamID uuid.UUID) (*core.Team, error) {
	if t, ok := m.teams[teamID]; ok && t.TenantID == tenantID {
		return t, nil
	}
	return nil, core.ErrTeamNotFound
}

func (m *memStore) GetTeamMember(_ context.Context, teamID, userID uuid.UUID) (*core.TeamMember, error) {
	if tm, ok := m.members[teamID][userID]; ok {
		return tm, nil
	}
	return nil, core.ErrNotFound
}

func (m *memStore) SaveAuthorizationCode(_ context.Context, ac *core.AuthorizationCode) error {
	m.codes[ac.Code] = ac
	return nil
}

func (m *memStore) GetAuthorizationCode(_ context.Context, code string) (*core.AuthorizationCode, error) {
	if ac, ok := m.codes[code]; ok {
		return ac, nil
	}
	return nil, core.ErrNotFound
}

func (m *memStore) DeleteAuthorizationCode(_ context.Context, code string) (bool, error) {
	if _, ok := m.codes[code]; !ok {
		return false, nil
	}
	delete(m.codes, code)
	return true, nil
}

func (m *memStore) SaveRefreshToken(_ context.Context, rt *core.RefreshToken) error {
	m.refresh[rt.Token] = rt
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, tenantID uuid.UUID, token string) (*core.RefreshToken, error) {
	if rt, ok := m.refresh[token]; ok && rt.TenantID == tenantID {
		return rt, nil
	}
	return nil, core.ErrNotFound
}

func (m *memStore) DeleteRefreshToken(_ context.Context, tenantID uuid.UUID, token string) (bool, error) {
	if rt, ok := m.refresh[token]; ok && rt.TenantID == tenantID {
		delete(m.refresh, token)
		return true, nil
	}
	return false, nil
}

func (m *memStore) CreateVerificationCode(_ context.Context, vc *core.VerificationCode) error {
	m.vcodes[vc.ID] = vc
	return nil
}

func (m *memStore) ListVerificationCodes(_ context.Context, tenantID uuid.UUID, codeType string, now time.Time) ([]core.VerificationCode, error) {
	var out []core.VerificationCode
	for _, vc := range m.vcodes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.UsedAt == nil && now.Before(vc.ExpiresAt) {
			out = append(out, *vc)
		}
	}
	return out, nil
}

func (m *memStore) IncrementAttemptsByPrefix(_ context.Context, tenantID uuid.UUID, codeType, prefix string) (int64, error) {
	var n int64
	now := time.Now()
	for _, vc := range m.vcodes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.Prefix == prefix &&
			vc.UsedAt == nil && now.Before(vc.ExpiresAt) {
			vc.AttemptCount++
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetVerificationCode(_ context.Context, tenantID uuid.UUID, codeType, code string) (*core.VerificationCode, error) {
	for _, vc := range m.vcodes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.Code == code {
			return vc, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memStore) MarkVerificationCodeUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	vc, ok := m.vcodes[id]
	if !ok || vc.UsedAt != nil {
		return false, nil
	}
	vc.UsedAt = &at
	return true, nil
}

func (m *memStore) DeleteVerificationCode(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error) {
	if vc, ok := m.vcodes[id]; ok && vc.TenantID == tenantID {
		delete(m.vcodes, id)
		return true, nil
	}
	return false, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

type env struct {
	store  *memStore
	tenant *core.Tenant
	server *httptest.Server
}

func newEnv(t *testing.T, opts ...func(*mphttp.Deps)) *env {
	t.Helper()
	st := newMemStore()

	tenant := &core.Tenant{ID: uuid.New(), DisplayName: "acme", AllowLocalhost: true}
	if _, err := st.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	st.keysets[tenant.ID] = &core.KeySet{
		TenantID:            tenant.ID,
		PublishableKey:      "pk_test",
		SecretServerKeyHash: shaSum("sk_test"),
		AdminKeyHash:        shaSum("ak_test"),
	}

	codec := tokens.NewCodec([]byte("router-test-secret"), 15*time.Minute)
	const issuer = "https://id.test"

	codes := map[string]*verifycode.Handler{
		"magic-link": verifycode.NewHandler(verifycode.UseCase{Type: "magic-link", TTL: 10 * time.Minute}, st),
	}

	deps := mphttp.Deps{
		Auth: authn.New(authn.Deps{
			Store:  st,
			Codec:  codec,
			Issuer: issuer,
		}),
		OAuth: oauth.NewModel(oauth.Deps{Store: st, Codec: codec, Issuer: issuer}),
		Perms: permissions.NewService(st),
		Codes: codes,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := mphttp.NewRouter(deps)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{store: st, tenant: tenant, server: srv}
}

func shaSum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func (e *env) request(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *env) headers(tier, key string) map[string]string {
	h := map[string]string{
		"Content-Type":          "application/json",
		authn.HeaderTenantID:    e.tenant.ID.String(),
		authn.HeaderAccessTier:  tier,
	}
	switch tier {
	case "client":
		h[authn.HeaderPublishableKey] = key
	case "server":
		h[authn.HeaderSecretServerKey] = key
	case "admin":
		h[authn.HeaderAdminKey] = key
	}
	return h
}

func TestRouter_Healthz(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
}

func TestRouter_AnonymousIsRejectedOnAPI(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodGet, "/v1/permissions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_ListPermissionsIncludesSystem(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodGet, "/v1/permissions", "", e.headers("client", "pk_test"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}
	perms, _ := body["permissions"].([]any)
	var found bool
	for _, p := range perms {
		if m, ok := p.(map[string]any); ok && m["id"] == "$update_team" {
			found = true
		}
	}
	if !found {
		t.Fatalf("system permission missing from listing: %v", body)
	}
}

func TestRouter_CreatePermission_AdminVariant(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodPost, "/v1/permissions",
		`{"id":"billing:read","scope":"global","description":"read billing"}`,
		e.headers("admin", "ak_test"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	p, _ := body["permission"].(map[string]any)
	if p["id"] != "billing:read" || p["scope"] != "global" {
		t.Fatalf("unexpected permission: %v", p)
	}
}

func TestRouter_CreatePermission_MergedErrorWhenNoVariantMatches(t *testing.T) {
	e := newEnv(t)
	// Server sin team_id: su variante falla por campo, la admin por tier.
	// Al caller le llega UN error, el accionable (campo faltante).
	resp, body := e.request(t, http.MethodPost, "/v1/permissions",
		`{"id":"billing:read"}`, e.headers("server", "sk_test"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %v", resp.StatusCode, body)
	}
	if body["code"] != "no_variant_matched" {
		t.Fatalf("expected merged dispatch error, got %v", body)
	}
	detail, _ := body["detail"].(string)
	if !strings.Contains(detail, "team_id") || strings.Contains(detail, "tier") {
		t.Fatalf("detail should surface only the field cause: %q", detail)
	}
}

func TestRouter_CodeLifecycle_ServerCreateThenRedeem(t *testing.T) {
	e := newEnv(t)

	resp, body := e.request(t, http.MethodPost, "/v1/codes/magic-link",
		`{"payload":{"email":"user@example.com"}}`, e.headers("server", "sk_test"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %v", resp.StatusCode, body)
	}
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatalf("server create must return the code value: %v", body)
	}

	resp, body = e.request(t, http.MethodPost, "/v1/codes/magic-link/redeem",
		`{"code":"`+code+`"}`, e.headers("client", "pk_test"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d %v", resp.StatusCode, body)
	}
	payload, _ := body["payload"].(map[string]any)
	if payload["email"] != "user@example.com" {
		t.Fatalf("redeem should return the payload: %v", body)
	}

	// Un código es one-shot: la segunda redención falla como already-used.
	resp, body = e.request(t, http.MethodPost, "/v1/codes/magic-link/redeem",
		`{"code":"`+code+`"}`, e.headers("client", "pk_test"))
	if resp.StatusCode != http.StatusConflict || body["code"] != "code_already_used" {
		t.Fatalf("second redeem: expected 409 code_already_used, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_ClientCreateDoesNotLeakCode(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodPost, "/v1/codes/magic-link",
		`{"email":"user@example.com"}`, e.headers("client", "pk_test"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	if _, leaked := body["code"]; leaked {
		t.Fatalf("client variant must not expose the code value: %v", body)
	}
}

func TestRouter_UnknownCodeTypeIs404(t *testing.T) {
	e := newEnv(t)
	resp, body := e.request(t, http.MethodPost, "/v1/codes/unknown-type/redeem",
		`{"code":"whatever"}`, e.headers("client", "pk_test"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_OAuthTokenErrors(t *testing.T) {
	e := newEnv(t)

	// Client desconocido.
	form := "grant_type=authorization_code&client_id=not-a-uuid&code=x"
	resp, body := e.request(t, http.MethodPost, "/oauth2/token", form,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid_client" {
		t.Fatalf("expected invalid_client 401, got %d %v", resp.StatusCode, body)
	}

	// Grant type desconocido.
	form = "grant_type=password&client_id=" + e.tenant.ID.String()
	resp, body = e.request(t, http.MethodPost, "/oauth2/token", form,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "unsupported_grant_type" {
		t.Fatalf("expected unsupported_grant_type 400, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_TenantNotFoundIsDistinctFrom401(t *testing.T) {
	e := newEnv(t)
	h := e.headers("client", "pk_test")
	h[authn.HeaderTenantID] = uuid.NewString()
	resp, body := e.request(t, http.MethodGet, "/v1/permissions", "", h)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "tenant_not_found" {
		t.Fatalf("expected 404 tenant_not_found, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_FederatedStartRejectsDisabledProvider(t *testing.T) {
	e := newEnv(t)

	// Tenant sin "oauth:github" en auth methods: el endpoint existe pero el
	// provider está apagado.
	path := "/oauth2/providers/github/start?client_id=" + e.tenant.ID.String() +
		"&redirect_uri=http%3A%2F%2Flocalhost%3A3000%2Fhandler&code_challenge=abc"
	resp, body := e.request(t, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_request" {
		t.Fatalf("expected 400 invalid_request, got %d %v", resp.StatusCode, body)
	}

	// Client desconocido: invalid_client antes de mirar el provider.
	resp, body = e.request(t, http.MethodGet,
		"/oauth2/providers/github/start?client_id="+uuid.NewString(), "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid_client" {
		t.Fatalf("expected 401 invalid_client, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_FederatedCallbackRejectsGarbageState(t *testing.T) {
	e := newEnv(t)

	resp, body := e.request(t, http.MethodGet,
		"/oauth2/providers/github/callback?state=garbage&code=x", "", nil)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Fatalf("expected 400 invalid_grant, got %d %v", resp.StatusCode, body)
	}

	// Error del provider: se reporta sin tocar el modelo.
	resp, body = e.request(t, http.MethodGet,
		"/oauth2/providers/github/callback?error=access_denied", "", nil)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "access_denied" {
		t.Fatalf("expected 400 access_denied, got %d %v", resp.StatusCode, body)
	}
}

func TestRouter_RateLimitOnTokenEndpoint(t *testing.T) {
	e := newEnv(t, func(d *mphttp.Deps) {
		d.Limit = rate.NewMemoryLimiter(1, time.Hour)
	})

	form := "grant_type=client_credentials&client_id=" + e.tenant.ID.String() + "&client_secret=sk_test"
	hdr := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	resp, _ := e.request(t, http.MethodPost, "/oauth2/token", form, hdr)
	if resp.StatusCode == http.StatusTooManyRequests {
		t.Fatalf("first request should not be limited")
	}

	resp, body := e.request(t, http.MethodPost, "/oauth2/token", form, hdr)
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
