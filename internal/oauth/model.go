// Package oauth implementa el authorization server model: lookup de client,
// validación de scope/redirect, issuance y redención de authorization codes
// (PKCE S256) y emisión de access+refresh tokens contra el token codec.
//
// Máquina de estados: client validado -> authorization code emitido ->
// code redimido exactamente una vez -> par access+refresh emitido.
// Estados terminales de falla: code expirado, code ya usado, redirect
// inválido, scope inválido, MFA requerido.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/oauth/providers"
	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/redirecturl"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/tokens"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// ScopeLegacy es el único scope del vocabulario cerrado actual.
const ScopeLegacy = "legacy"

// Store es el subconjunto del DAL que usa el modelo.
type Store interface {
	core.TenantRepository
	core.UserRepository
	core.AuthCodeRepository
	core.RefreshTokenRepository
}

// Model implementa el authorization server sobre el DAL y el token codec.
type Model struct {
	store           Store
	codec           *tokens.Codec
	mfaCodes        *verifycode.Handler
	directory       Directory
	providerFactory providers.Factory
	issuer          string
	codeTTL         time.Duration
	accessTTL       time.Duration
	refreshTTL      time.Duration
}

type Deps struct {
	Store  Store
	Codec  *tokens.Codec
	Issuer string
	// MFACodes emite el attempt code del challenge MFA. Opcional en tests.
	MFACodes *verifycode.Handler
	// Directory habilita el login federado. Nil lo deja apagado.
	Directory Directory
	// ProviderFactory reemplaza los clients reales en tests.
	ProviderFactory providers.Factory
	CodeTTL         time.Duration
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
}

func NewModel(d Deps) *Model {
	if d.CodeTTL <= 0 {
		d.CodeTTL = 5 * time.Minute
	}
	if d.AccessTTL <= 0 {
		d.AccessTTL = 15 * time.Minute
	}
	if d.RefreshTTL <= 0 {
		d.RefreshTTL = 365 * 24 * time.Hour
	}
	if d.ProviderFactory == nil {
		d.ProviderFactory = providers.New
	}
	return &Model{
		store:           d.Store,
		codec:           d.Codec,
		mfaCodes:        d.MFACodes,
		directory:       d.Directory,
		providerFactory: d.ProviderFactory,
		issuer:          d.Issuer,
		codeTTL:         d.CodeTTL,
		accessTTL:       d.AccessTTL,
		refreshTTL:      d.RefreshTTL,
	}
}

// Client es el tenant actuando como OAuth client, con sus redirect URIs ya
// derivados del domain allow-list.
type Client struct {
	Tenant       *core.Tenant
	RedirectURIs []string
}

// GetClient busca el tenant por client id y, si hay secret, lo valida como
// publishable key. Los redirect URIs salen del allow-list; con cero dominios
// el fallback localhost aplica solo si el tenant lo permite.
func (m *Model) GetClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	tenantID, err := uuid.Parse(clientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	t, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		if core.IsTenantNotFound(err) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}

	if clientSecret != "" {
		ks, err := m.store.GetKeySet(ctx, tenantID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil, ErrInvalidClient
			}
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(ks.PublishableKey), []byte(clientSecret)) != 1 {
			return nil, ErrInvalidClient
		}
	}

	return &Client{Tenant: t, RedirectURIs: redirecturl.Destinations(t)}, nil
}

// ValidateScope chequea cada scope contra el vocabulario cerrado.
func (m *Model) ValidateScope(scopes []string) error {
	for _, s := range scopes {
		if s != ScopeLegacy {
			return scopeError(s)
		}
	}
	return nil
}

// VerifyScope chequea que todo requested esté dentro de granted.
func (m *Model) VerifyScope(granted, requested []string) error {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return scopeError(s)
		}
	}
	return nil
}

// ValidateRedirectURI: match exacto contra dominio+handler path normalizados.
// Usa las mismas reglas que la derivación de GetClient; si divergieran, un
// authorize podría aceptar lo que token rechaza.
func (m *Model) ValidateRedirectURI(t *core.Tenant, uri string) error {
	if err := redirecturl.Validate(t, uri); err != nil {
		return ErrInvalidRedirectURI
	}
	return nil
}

func randomOpaque() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// AuthorizeInput es el request validado del endpoint authorize.
type AuthorizeInput struct {
	Client          *Client
	UserID          uuid.UUID
	RedirectURI     string
	Scope           []string
	CodeChallenge   string
	ChallengeMethod string
}

// SaveAuthorizationCode valida scope/redirect/PKCE y emite el código one-shot.
func (m *Model) SaveAuthorizationCode(ctx context.Context, in AuthorizeInput) (*core.AuthorizationCode, error) {
	if err := m.ValidateScope(in.Scope); err != nil {
		return nil, err
	}
	if err := m.ValidateRedirectURI(in.Client.Tenant, in.RedirectURI); err != nil {
		return nil, err
	}
	if !strings.EqualFold(in.ChallengeMethod, "S256") || in.CodeChallenge == "" {
		return nil, ErrInvalidGrant
	}

	value, err := randomOpaque()
	if err != nil {
		return nil, err
	}
	ac := &core.AuthorizationCode{
		Code:            value,
		TenantID:        in.Client.Tenant.ID,
		UserID:          in.UserID,
		RedirectURI:     in.RedirectURI,
		CodeChallenge:   in.CodeChallenge,
		ChallengeMethod: "S256",
		Scope:           in.Scope,
		ExpiresAt:       time.Now().Add(m.codeTTL),
	}
	if err := m.store.SaveAuthorizationCode(ctx, ac); err != nil {
		return nil, err
	}
	return ac, nil
}

// GetAuthorizationCode expone el lookup por valor (introspección/tests).
func (m *Model) GetAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	ac, err := m.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	return ac, nil
}

// RevokeAuthorizationCode borra el código. "Ya no existe" es false normal,
// no error: tolera double-submit concurrente.
func (m *Model) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	return m.store.DeleteAuthorizationCode(ctx, code)
}

// TokenPair es la salida del grant completo.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        []string
}

// RedeemAuthorizationCode consume el código exactamente una vez y emite el
// par de tokens. La redención atómica la decide el delete por filas
// afectadas: de dos redenciones concurrentes una pierde acá.
func (m *Model) RedeemAuthorizationCode(ctx context.Context, client *Client, code, redirectURI, codeVerifier string) (*TokenPair, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.authcode"))

	ac, err := m.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if time.Now().After(ac.ExpiresAt) {
		log.Warn("authorization code expired", logger.TenantID(ac.TenantID.String()))
		// Limpieza best-effort; el estado terminal ya es expired.
		_, _ = m.store.DeleteAuthorizationCode(ctx, code)
		return nil, ErrInvalidGrant
	}
	if ac.TenantID != client.Tenant.ID || ac.RedirectURI != redirectURI {
		log.Warn("client/redirect_uri mismatch")
		return nil, ErrInvalidGrant
	}

	// PKCE S256.
	sum := sha256.Sum256([]byte(codeVerifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != ac.CodeChallenge {
		log.Warn("PKCE verification failed")
		return nil, ErrInvalidGrant
	}

	deleted, err := m.store.DeleteAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// Otro request lo redimió entre el get y el delete.
		log.Warn("authorization code already consumed")
		return nil, ErrInvalidGrant
	}

	return m.SaveToken(ctx, client.Tenant, ac.UserID, ac.Scope)
}

// SaveToken emite y persiste el par access+refresh. Si el usuario tiene
// segundo factor obligatorio el grant aborta con el challenge MFA en vez de
// completarse.
func (m *Model) SaveToken(ctx context.Context, t *core.Tenant, userID uuid.UUID, scope []string) (*TokenPair, error) {
	user, err := m.store.GetUser(ctx, t.ID, userID)
	if err != nil {
		return nil, err
	}
	if user.RequiresMFA {
		return nil, m.mfaChallenge(ctx, t, user)
	}

	access, expiresAt, err := m.GenerateAccessToken(ctx, t, userID)
	if err != nil {
		return nil, err
	}
	refresh, err := m.GenerateRefreshToken(ctx, t, userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresAt:    expiresAt,
		Scope:        scope,
	}, nil
}

func (m *Model) mfaChallenge(ctx context.Context, t *core.Tenant, user *core.User) error {
	attempt := ""
	if m.mfaCodes != nil {
		payload, _ := json.Marshal(map[string]string{"user_id": user.ID.String()})
		vc, err := m.mfaCodes.CreateCode(ctx, verifycode.CreateCodeInput{
			Tenant:   t,
			BranchID: user.BranchID,
			Payload:  payload,
		})
		if err != nil {
			return err
		}
		attempt = vc.Code
	}
	return &MFARequiredError{AttemptCode: attempt}
}

// GenerateAccessToken emite el access token atado a la única branch default
// del tenant via el custom claim de branch.
func (m *Model) GenerateAccessToken(ctx context.Context, t *core.Tenant, userID uuid.UUID) (string, time.Time, error) {
	branch, err := m.store.GetDefaultBranch(ctx, t.ID)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(m.accessTTL)
	signed, err := m.codec.Sign(m.issuer, t.ID.String(), userID.String(),
		map[string]any{tokens.ClaimBranchID: branch.ID.String()}, m.accessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GenerateRefreshToken emite y persiste el opaco de larga vida.
func (m *Model) GenerateRefreshToken(ctx context.Context, t *core.Tenant, userID uuid.UUID) (*core.RefreshToken, error) {
	branch, err := m.store.GetDefaultBranch(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	value, err := randomOpaque()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(m.refreshTTL)
	rt := &core.RefreshToken{
		ID:        uuid.New(),
		TenantID:  t.ID,
		BranchID:  branch.ID,
		UserID:    userID,
		Token:     value,
		ExpiresAt: &exp,
	}
	if err := m.store.SaveRefreshToken(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// RefreshGrant emite un access token nuevo a partir de un refresh token.
// El refresh NO se rota ni se invalida al usarse (decisión explícita;
// ver DESIGN.md antes de cambiarla).
func (m *Model) RefreshGrant(ctx context.Context, client *Client, refreshToken string) (*TokenPair, error) {
	rt, err := m.store.GetRefreshToken(ctx, client.Tenant.ID, refreshToken)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if rt.ExpiresAt != nil && time.Now().After(*rt.ExpiresAt) {
		return nil, ErrInvalidGrant
	}

	access, expiresAt, err := m.GenerateAccessToken(ctx, client.Tenant, rt.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: rt.Token,
		ExpiresAt:    expiresAt,
		Scope:        []string{ScopeLegacy},
	}, nil
}

// RevokeRefreshToken borra el refresh. Sin efecto de rotación: re-emitir es
// una operación aparte.
func (m *Model) RevokeRefreshToken(ctx context.Context, tenantID uuid.UUID, token string) (bool, error) {
	return m.store.DeleteRefreshToken(ctx, tenantID, token)
}
