// Package providers implementa los clients contra identity providers
// third-party para el login federado. Todos exponen el mismo contrato:
// armar la URL de autorización y canjear el authorization code remoto por
// una identidad normalizada.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

// Identity es el resultado normalizado del login contra el provider.
type Identity struct {
	// Subject es el identificador estable del usuario dentro del provider.
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Provider es el contrato común de los clients federados.
type Provider interface {
	// AuthURL arma la URL de autorización del provider. El nonce solo lo
	// honran los providers OIDC; los OAuth2 planos lo ignoran.
	AuthURL(ctx context.Context, state, nonce string) (string, error)

	// Authenticate canjea el code del provider y retorna la identidad con
	// el email resuelto.
	Authenticate(ctx context.Context, code, nonce string) (*Identity, error)
}

// Factory construye el provider a partir de la config del tenant.
type Factory func(cfg core.OAuthProviderConfig, redirectURL string) (Provider, error)

var (
	ErrUnknownProvider = errors.New("providers: unknown provider")
	ErrNoCredentials   = errors.New("providers: missing client credentials")
)

// New es la factory default: resuelve el client por el id de la config.
func New(cfg core.OAuthProviderConfig, redirectURL string) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoCredentials, cfg.ID)
	}
	switch cfg.ID {
	case "github":
		return NewGitHub(cfg.ClientID, cfg.ClientSecret, redirectURL), nil
	case "google":
		return NewGoogle(cfg.ClientID, cfg.ClientSecret, redirectURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.ID)
	}
}
