package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GitHub habla OAuth2 plano contra la API v3. GitHub no es OIDC: no hay
// id_token, y el email verificado hay que buscarlo aparte en /user/emails
// porque el del perfil público puede estar vacío o sin verificar.
type GitHub struct {
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string

	// bases separadas porque el exchange vive en github.com y el resto en
	// api.github.com; los tests las apuntan a un server local.
	oauthBase string
	apiBase   string
	hc        *http.Client
}

func NewGitHub(clientID, clientSecret, redirectURL string) *GitHub {
	return &GitHub{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		scopes:       []string{"read:user", "user:email"},
		oauthBase:    "https://github.com/login/oauth",
		apiBase:      "https://api.github.com",
		hc:           &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL arma la URL de autorización. GitHub no soporta nonce.
func (g *GitHub) AuthURL(_ context.Context, state, _ string) (string, error) {
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", g.redirectURL)
	q.Set("scope", strings.Join(g.scopes, " "))
	q.Set("state", state)
	return g.oauthBase + "/authorize?" + q.Encode(), nil
}

// Authenticate canjea el code, busca el perfil y resuelve el mejor email
// disponible: primary+verified, después cualquier verified, después el del
// perfil público (sin garantía de verificación).
func (g *GitHub) Authenticate(ctx context.Context, code, _ string) (*Identity, error) {
	token, err := g.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := g.fetchUser(ctx, token)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Subject:     strconv.FormatInt(user.ID, 10),
		Email:       user.Email,
		DisplayName: user.Name,
	}
	if id.DisplayName == "" {
		id.DisplayName = user.Login
	}

	if email, verified, err := g.fetchEmail(ctx, token); err == nil && email != "" {
		id.Email = email
		id.EmailVerified = verified
	}
	return id, nil
}

type ghToken struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

func (g *GitHub) exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", g.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.oauthBase+"/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Sin este header GitHub responde query-string en vez de JSON.
	req.Header.Set("Accept", "application/json")

	var tok ghToken
	if err := g.doJSON(req, &tok); err != nil {
		return "", err
	}
	if tok.Error != "" {
		return "", fmt.Errorf("providers: github exchange: %s (%s)", tok.Error, tok.ErrorDesc)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("providers: github exchange: empty access token")
	}
	return tok.AccessToken, nil
}

type ghUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (g *GitHub) fetchUser(ctx context.Context, token string) (*ghUser, error) {
	req, err := g.apiGet(ctx, "/user", token)
	if err != nil {
		return nil, err
	}
	var u ghUser
	if err := g.doJSON(req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type ghEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GitHub) fetchEmail(ctx context.Context, token string) (string, bool, error) {
	req, err := g.apiGet(ctx, "/user/emails", token)
	if err != nil {
		return "", false, err
	}
	var emails []ghEmail
	if err := g.doJSON(req, &emails); err != nil {
		return "", false, err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, false, nil
	}
	return "", false, nil
}

func (g *GitHub) apiGet(ctx context.Context, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	return req, nil
}

func (g *GitHub) doJSON(req *http.Request, out any) error {
	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("providers: github %s: status %d: %s", req.URL.Path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
