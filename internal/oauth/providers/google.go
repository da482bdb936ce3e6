package providers

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Google implementa el code flow OIDC: discovery document cacheado, JWKS
// con revalidación por ETag y verificación local del id_token. No hay
// round-trip a Google por request una vez calientes los caches.
type Google struct {
	clientID     string
	clientSecret string
	redirectURL  string

	discoveryURL string
	hc           *http.Client

	mu      sync.RWMutex
	disc    *oidcDiscovery
	discAt  time.Time
	keys    map[string]*rsa.PublicKey
	keysAt  time.Time
	keysTag string
}

const (
	googleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"
	discoveryTTL       = 24 * time.Hour
	jwksTTL            = time.Hour
	idTokenLeeway      = 30 * time.Second
)

func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		discoveryURL: googleDiscoveryURL,
		hc:           &http.Client{Timeout: 10 * time.Second},
	}
}

type oidcDiscovery struct {
	Issuer   string `json:"issuer"`
	AuthURL  string `json:"authorization_endpoint"`
	TokenURL string `json:"token_endpoint"`
	JWKSURL  string `json:"jwks_uri"`
}

// AuthURL arma la URL de autorización OIDC. El nonce vuelve dentro del
// id_token y se verifica en Authenticate.
func (g *Google) AuthURL(ctx context.Context, state, nonce string) (string, error) {
	disc, err := g.discovery(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", g.redirectURL)
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("nonce", nonce)
	return disc.AuthURL + "?" + q.Encode(), nil
}

// Authenticate canjea el code y verifica el id_token localmente contra el
// JWKS: firma RS256, issuer, audience, expiración y nonce.
func (g *Google) Authenticate(ctx context.Context, code, nonce string) (*Identity, error) {
	disc, err := g.discovery(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := g.exchange(ctx, disc.TokenURL, code)
	if err != nil {
		return nil, err
	}
	return g.verifyIDToken(ctx, idToken, nonce)
}

func (g *Google) exchange(ctx context.Context, tokenURL, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("redirect_uri", g.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("providers: google exchange: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.IDToken == "" {
		return "", fmt.Errorf("providers: google exchange: response without id_token")
	}
	return out.IDToken, nil
}

func (g *Google) verifyIDToken(ctx context.Context, raw, nonce string) (*Identity, error) {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithAudience(g.clientID),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithLeeway(idTokenLeeway),
	)

	claims := jwtv5.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("providers: google id_token without kid")
		}
		return g.keyForKid(ctx, kid)
	}); err != nil {
		return nil, fmt.Errorf("providers: google id_token: %w", err)
	}

	// Google emite iss con y sin scheme según el flujo.
	if iss, _ := claims["iss"].(string); iss != "https://accounts.google.com" && iss != "accounts.google.com" {
		return nil, fmt.Errorf("providers: google id_token: unexpected issuer %q", iss)
	}
	if got, _ := claims["nonce"].(string); got != nonce {
		return nil, fmt.Errorf("providers: google id_token: nonce mismatch")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("providers: google id_token: missing sub")
	}
	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)
	name, _ := claims["name"].(string)

	return &Identity{
		Subject:       sub,
		Email:         email,
		EmailVerified: verified,
		DisplayName:   name,
	}, nil
}

// keyForKid resuelve la clave RSA del kid; si no está en cache refresca el
// JWKS una vez antes de fallar (rotación de claves de Google).
func (g *Google) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	g.mu.RLock()
	key, ok := g.keys[kid]
	fresh := time.Since(g.keysAt) < jwksTTL
	g.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := g.refreshJWKS(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	key, ok = g.keys[kid]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: google jwks: unknown kid %q", kid)
	}
	return key, nil
}

type jwksDoc struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (g *Google) refreshJWKS(ctx context.Context) error {
	disc, err := g.discovery(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, disc.JWKSURL, nil)
	if err != nil {
		return err
	}
	if g.keysTag != "" {
		req.Header.Set("If-None-Match", g.keysTag)
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 304: el set actual sigue vigente, solo renueva el reloj del cache.
	if resp.StatusCode == http.StatusNotModified && g.keys != nil {
		g.keysAt = time.Now()
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("providers: google jwks: status %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("providers: google jwks: no usable keys")
	}

	g.keys = keys
	g.keysAt = time.Now()
	g.keysTag = resp.Header.Get("ETag")
	return nil
}

func rsaFromJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	exp := 0
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	if exp <= 0 {
		return nil, fmt.Errorf("providers: invalid jwk exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}

func (g *Google) discovery(ctx context.Context) (*oidcDiscovery, error) {
	g.mu.RLock()
	disc := g.disc
	fresh := time.Since(g.discAt) < discoveryTTL
	g.mu.RUnlock()
	if disc != nil && fresh {
		return disc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("providers: google discovery: status %d", resp.StatusCode)
	}

	var d oidcDiscovery
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.disc = &d
	g.discAt = time.Now()
	g.mu.Unlock()
	return &d, nil
}
