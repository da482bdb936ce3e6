package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/oauth"
	"github.com/dropDatabas3/multipass/internal/permissions"
	"github.com/dropDatabas3/multipass/internal/rate"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// Deps son las dependencias del router.
type Deps struct {
	Auth  *authn.Authenticator
	OAuth *oauth.Model
	Perms *permissions.Service
	// Codes mapea cada use-case type a su handler ("magic-link",
	// "password-reset", "mfa", ...).
	Codes map[string]*verifycode.Handler

	// Limit protege los endpoints de emisión (token, códigos). Nil desactiva.
	Limit rate.Limiter

	CORSAllowedOrigins []string
}

// NewRouter arma el router completo del servicio.
func NewRouter(d Deps) http.Handler {
	oauthH := NewOAuthHandlers(d.OAuth)
	permsH := NewPermissionHandlers(d.Perms)
	codesH := NewCodeHandlers(d.Codes)

	base := []Middleware{
		WithRecover(),
		WithRequestID(),
		WithSecurityHeaders(),
		WithCORS(d.CORSAllowedOrigins),
		WithLogging(),
	}
	authed := append(append([]Middleware{}, base...), WithIdentity(d.Auth), RequireIdentity())

	r := chi.NewRouter()

	r.Method(http.MethodGet, "/healthz", Chain(http.HandlerFunc(healthz), base...))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// OAuth2: el token/revoke autentican al client por sí mismos (Basic o
	// form); authorize sí necesita al resource owner resuelto.
	oauthMW := append(append([]Middleware{}, base...), WithNoStore())
	r.Method(http.MethodGet, "/oauth2/authorize",
		Chain(http.HandlerFunc(oauthH.Authorize), append(oauthMW, WithIdentity(d.Auth))...))
	r.Method(http.MethodPost, "/oauth2/token",
		Chain(http.HandlerFunc(oauthH.Token), append(oauthMW, WithRateLimit(d.Limit))...))
	r.Method(http.MethodPost, "/oauth2/revoke",
		Chain(http.HandlerFunc(oauthH.Revoke), oauthMW...))
	// Login federado: el provider third-party autentica al usuario y el
	// callback reentra al code flow propio.
	r.Method(http.MethodGet, "/oauth2/providers/{provider}/start",
		Chain(http.HandlerFunc(oauthH.ProviderStart), append(oauthMW, WithRateLimit(d.Limit))...))
	r.Method(http.MethodGet, "/oauth2/providers/{provider}/callback",
		Chain(http.HandlerFunc(oauthH.ProviderCallback), oauthMW...))

	handle := func(method, pattern string, h http.HandlerFunc, extra ...Middleware) {
		r.Method(method, pattern, Chain(h, append(append([]Middleware{}, authed...), extra...)...))
	}

	handle(http.MethodGet, "/v1/permissions", permsH.List)
	handle(http.MethodPost, "/v1/permissions", permsH.Create)
	handle(http.MethodPut, "/v1/permissions/{id}", permsH.Update)
	handle(http.MethodDelete, "/v1/permissions/{id}", permsH.Delete)
	handle(http.MethodGet, "/v1/teams/{teamID}/members/{userID}/permissions", permsH.UserPermissions)

	handle(http.MethodPost, "/v1/codes/{type}", codesH.Create, WithNoStore(), WithRateLimit(d.Limit))
	handle(http.MethodPost, "/v1/codes/{type}/send", codesH.Send, WithNoStore(), WithRateLimit(d.Limit))
	handle(http.MethodGet, "/v1/codes/{type}", codesH.List, WithNoStore())
	handle(http.MethodPost, "/v1/codes/{type}/redeem", codesH.Redeem, WithNoStore(), WithRateLimit(d.Limit))
	handle(http.MethodPost, "/v1/codes/{type}/check", codesH.Check, WithNoStore())
	handle(http.MethodGet, "/v1/codes/{type}/details", codesH.Details, WithNoStore())
	handle(http.MethodDelete, "/v1/codes/{type}/{id}", codesH.Revoke)

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
