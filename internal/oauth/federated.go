package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/oauth/providers"
	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/util"
)

// Login federado: el tenant habilita providers third-party ("oauth:google",
// "oauth:github") y el servicio brokerea el code flow contra el provider.
// El resultado reentra al flujo propio: emite un authorization code local
// con el PKCE del cliente, canjeable en /oauth2/token como cualquier otro.
//
// El state que viaja al provider es un JWT firmado por el codec con
// audience propia: lleva tenant, provider, nonce, redirect y challenge, y
// no requiere estado server-side.

const (
	audFederated      = "federated-login"
	federatedStateTTL = 10 * time.Minute
	authMethodPrefix  = "oauth:"
)

// Directory resuelve y aprovisiona usuarios por email para el login
// federado. Separado del Store porque solo este flujo crea usuarios.
type Directory interface {
	GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*core.User, error)
	CreateUser(ctx context.Context, u *core.User) error
}

// FederatedStart es el request validado del endpoint de arranque.
type FederatedStart struct {
	Client        *Client
	Provider      string
	RedirectURI   string
	ClientState   string
	CodeChallenge string
}

// StartFederatedLogin valida provider y redirect, firma el state y retorna
// la URL de autorización del provider.
func (m *Model) StartFederatedLogin(ctx context.Context, in FederatedStart) (string, error) {
	t := in.Client.Tenant
	cfg, err := providerConfig(t, in.Provider)
	if err != nil {
		return "", err
	}
	if err := m.ValidateRedirectURI(t, in.RedirectURI); err != nil {
		return "", err
	}
	// El PKCE se pacta acá y se exige en la redención del code local.
	if in.CodeChallenge == "" {
		return "", ErrInvalidGrant
	}

	nonce, err := randomOpaque()
	if err != nil {
		return "", err
	}
	state, err := m.codec.Sign(m.issuer, audFederated, t.ID.String(), map[string]any{
		"provider":       in.Provider,
		"nonce":          nonce,
		"redirect_uri":   in.RedirectURI,
		"client_state":   in.ClientState,
		"code_challenge": in.CodeChallenge,
	}, federatedStateTTL)
	if err != nil {
		return "", err
	}

	p, err := m.provider(cfg, in.Provider)
	if err != nil {
		return "", err
	}
	return p.AuthURL(ctx, state, nonce)
}

// FederatedResult es la salida del callback: la capa HTTP arma la
// redirección final al cliente.
type FederatedResult struct {
	RedirectURI string
	Code        string
	ClientState string
}

// CompleteFederatedLogin procesa el retorno del provider: verifica el
// state, canjea el code remoto, resuelve (o aprovisiona) al usuario por su
// email verificado y emite el authorization code local.
func (m *Model) CompleteFederatedLogin(ctx context.Context, providerName, stateToken, code string) (*FederatedResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.federated"))

	dec, err := m.codec.Verify(m.issuer, stateToken)
	if err != nil || dec.Audience != audFederated {
		log.Warn("federated state rejected")
		return nil, ErrInvalidGrant
	}
	if got, _ := dec.Claims["provider"].(string); got != providerName {
		log.Warn("federated state provider mismatch")
		return nil, ErrInvalidGrant
	}
	tenantID, err := uuid.Parse(dec.Subject)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	nonce, _ := dec.Claims["nonce"].(string)
	redirectURI, _ := dec.Claims["redirect_uri"].(string)
	clientState, _ := dec.Claims["client_state"].(string)
	challenge, _ := dec.Claims["code_challenge"].(string)

	t, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		if core.IsTenantNotFound(err) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	cfg, err := providerConfig(t, providerName)
	if err != nil {
		return nil, err
	}
	p, err := m.provider(cfg, providerName)
	if err != nil {
		return nil, err
	}

	ident, err := p.Authenticate(ctx, code, nonce)
	if err != nil {
		log.Warn("provider authentication failed", logger.Err(err))
		return nil, ErrInvalidGrant
	}
	// Solo emails verificados por el provider pueden mapear a una cuenta:
	// un email sin verificar permitiría tomar la cuenta de otro usuario.
	if ident.Email == "" || !ident.EmailVerified {
		log.Warn("provider identity without verified email",
			logger.TenantID(t.ID.String()))
		return nil, ErrInvalidGrant
	}

	user, err := m.federatedUser(ctx, t, ident)
	if err != nil {
		return nil, err
	}

	ac, err := m.SaveAuthorizationCode(ctx, AuthorizeInput{
		Client:          &Client{Tenant: t},
		UserID:          user.ID,
		RedirectURI:     redirectURI,
		Scope:           []string{ScopeLegacy},
		CodeChallenge:   challenge,
		ChallengeMethod: "S256",
	})
	if err != nil {
		return nil, err
	}

	log.Info("federated login completed",
		logger.TenantID(t.ID.String()),
		logger.String("provider", providerName),
		logger.String("email", util.MaskEmail(ident.Email)))
	return &FederatedResult{
		RedirectURI: redirectURI,
		Code:        ac.Code,
		ClientState: clientState,
	}, nil
}

// federatedUser busca al usuario por email y lo aprovisiona en la branch
// default si no existe (JIT provisioning).
func (m *Model) federatedUser(ctx context.Context, t *core.Tenant, ident *providers.Identity) (*core.User, error) {
	if m.directory == nil {
		return nil, ErrProviderNotEnabled
	}
	user, err := m.directory.GetUserByEmail(ctx, t.ID, ident.Email)
	if err == nil {
		return user, nil
	}
	if !core.IsNotFound(err) {
		return nil, err
	}

	branch, err := m.store.GetDefaultBranch(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	user = &core.User{
		TenantID:    t.ID,
		BranchID:    branch.ID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
	}
	if err := m.directory.CreateUser(ctx, user); err != nil {
		// Carrera con otro callback del mismo email: el perdedor relee.
		if errors.Is(err, core.ErrConflict) {
			return m.directory.GetUserByEmail(ctx, t.ID, ident.Email)
		}
		return nil, err
	}
	return user, nil
}

// providerConfig exige el auth method "oauth:<provider>" y la entrada en la
// config del tenant.
func providerConfig(t *core.Tenant, name string) (core.OAuthProviderConfig, error) {
	enabled := false
	for _, method := range t.AuthMethods {
		if method == authMethodPrefix+name {
			enabled = true
			break
		}
	}
	if !enabled {
		return core.OAuthProviderConfig{}, ErrProviderNotEnabled
	}
	for _, cfg := range t.OAuthProviders {
		if cfg.ID == name {
			return cfg, nil
		}
	}
	return core.OAuthProviderConfig{}, ErrProviderNotEnabled
}

func (m *Model) provider(cfg core.OAuthProviderConfig, name string) (providers.Provider, error) {
	callback := strings.TrimRight(m.issuer, "/") + "/oauth2/providers/" + name + "/callback"
	p, err := m.providerFactory(cfg, callback)
	if err != nil {
		return nil, ErrProviderNotEnabled
	}
	return p, nil
}
