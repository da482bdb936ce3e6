package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/multipass/internal/metrics"
	"github.com/dropDatabas3/multipass/internal/oauth"
)

// OAuthHandlers expone los endpoints del authorization server.
type OAuthHandlers struct {
	model *oauth.Model
}

func NewOAuthHandlers(m *oauth.Model) *OAuthHandlers {
	return &OAuthHandlers{model: m}
}

// oauthError es el body RFC 6749 §5.2.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	// MFAAttemptCode viaja solo en el challenge de segundo factor.
	MFAAttemptCode string `json:"mfa_attempt_code,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	WriteJSON(w, status, oauthError{Error: code, Description: desc})
}

// writeOAuthModelError traduce los sentinels del modelo a errores wire RFC.
func writeOAuthModelError(w http.ResponseWriter, err error) {
	var mfa *oauth.MFARequiredError
	switch {
	case errors.As(err, &mfa):
		WriteJSON(w, http.StatusForbidden, oauthError{
			Error:          "mfa_required",
			Description:    "multi-factor authentication required",
			MFAAttemptCode: mfa.AttemptCode,
		})
	case errors.Is(err, oauth.ErrInvalidClient):
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
	case errors.Is(err, oauth.ErrInvalidGrant):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant is invalid, expired or already used")
	case errors.Is(err, oauth.ErrInvalidScope):
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope", err.Error())
	case errors.Is(err, oauth.ErrInvalidRedirectURI):
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not allowed for this client")
	case errors.Is(err, oauth.ErrUnsupportedGrant):
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	case errors.Is(err, oauth.ErrProviderNotEnabled):
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "provider not enabled for this client")
	default:
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
	}
}

// Authorize implementa GET /oauth2/authorize: emite el authorization code y
// redirige al cliente. El resource owner ya viene autenticado (bearer).
func (h *OAuthHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	id := IdentityFrom(ctx)
	if id == nil || id.User == nil {
		WriteError(w, r, ErrUnauthorized.WithDetail("authorize requires an authenticated user"))
		return
	}

	client, err := h.model.GetClient(ctx, q.Get("client_id"), "")
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	redirectURI := q.Get("redirect_uri")
	// Hasta no validar el redirect uri, los errores salen como JSON; después,
	// como params en la redirección (RFC 6749 §4.1.2.1).
	if err := h.model.ValidateRedirectURI(client.Tenant, redirectURI); err != nil {
		writeOAuthModelError(w, err)
		return
	}

	state := q.Get("state")
	if rt := q.Get("response_type"); rt != "code" {
		redirectError(w, r, redirectURI, state, "unsupported_response_type")
		return
	}

	var scope []string
	if raw := strings.TrimSpace(q.Get("scope")); raw != "" {
		scope = strings.Fields(raw)
	}

	ac, err := h.model.SaveAuthorizationCode(ctx, oauth.AuthorizeInput{
		Client:          client,
		UserID:          id.User.ID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   q.Get("code_challenge"),
		ChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrInvalidScope):
			redirectError(w, r, redirectURI, state, "invalid_scope")
		case errors.Is(err, oauth.ErrInvalidGrant):
			// PKCE ausente o method distinto de S256
			redirectError(w, r, redirectURI, state, "invalid_request")
		default:
			writeOAuthModelError(w, err)
		}
		return
	}

	dest, _ := url.Parse(redirectURI)
	dq := dest.Query()
	dq.Set("code", ac.Code)
	if state != "" {
		dq.Set("state", state)
	}
	dest.RawQuery = dq.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code string) {
	dest, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed redirect_uri")
		return
	}
	dq := dest.Query()
	dq.Set("error", code)
	if state != "" {
		dq.Set("state", state)
	}
	dest.RawQuery = dq.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// tokenResponse es el body RFC 6749 §5.1.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token implementa POST /oauth2/token: authorization_code y refresh_token.
func (h *OAuthHandlers) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "cannot parse form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.model.GetClient(ctx, clientID, clientSecret)
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	var pair *oauth.TokenPair
	switch gt := r.PostFormValue("grant_type"); gt {
	case "authorization_code":
		pair, err = h.model.RedeemAuthorizationCode(ctx, client,
			r.PostFormValue("code"),
			r.PostFormValue("redirect_uri"),
			r.PostFormValue("code_verifier"))
	case "refresh_token":
		token := r.PostFormValue("refresh_token")
		if token == "" {
			token = r.Header.Get("X-Refresh-Token")
		}
		pair, err = h.model.RefreshGrant(ctx, client, token)
	default:
		err = oauth.ErrUnsupportedGrant
	}
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()
	if pair.RefreshToken != "" {
		metrics.TokensIssued.WithLabelValues("refresh").Inc()
	}
	WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.ExpiresAt).Seconds()),
		RefreshToken: pair.RefreshToken,
		Scope:        strings.Join(pair.Scope, " "),
	})
}

// Revoke implementa POST /oauth2/revoke (RFC 7009): revocar un refresh
// token. Un token inexistente igual responde 200.
func (h *OAuthHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "cannot parse form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.model.GetClient(ctx, clientID, clientSecret)
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	if _, err := h.model.RevokeRefreshToken(ctx, client.Tenant.ID, r.PostFormValue("token")); err != nil {
		writeOAuthModelError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ProviderStart implementa GET /oauth2/providers/{provider}/start: valida
// el client y redirige al identity provider third-party. El code_challenge
// del cliente viaja en el state y se exige al canjear el code local.
func (h *OAuthHandlers) ProviderStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	client, err := h.model.GetClient(ctx, q.Get("client_id"), "")
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	dest, err := h.model.StartFederatedLogin(ctx, oauth.FederatedStart{
		Client:        client,
		Provider:      chi.URLParam(r, "provider"),
		RedirectURI:   q.Get("redirect_uri"),
		ClientState:   q.Get("state"),
		CodeChallenge: q.Get("code_challenge"),
	})
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// ProviderCallback procesa el retorno del provider: canjea el code remoto
// y redirige al cliente con el authorization code local.
func (h *OAuthHandlers) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		writeOAuthError(w, http.StatusBadRequest, "access_denied", e)
		return
	}

	res, err := h.model.CompleteFederatedLogin(ctx,
		chi.URLParam(r, "provider"), q.Get("state"), q.Get("code"))
	if err != nil {
		writeOAuthModelError(w, err)
		return
	}

	dest, err := url.Parse(res.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed redirect_uri")
		return
	}
	dq := dest.Query()
	dq.Set("code", res.Code)
	if res.ClientState != "" {
		dq.Set("state", res.ClientState)
	}
	dest.RawQuery = dq.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// clientCredentials admite Basic auth o campos del form.
func clientCredentials(r *http.Request) (id, secret string) {
	if u, p, ok := r.BasicAuth(); ok {
		return u, p
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}
