package providers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// googleStub simula discovery + jwks + token endpoint y firma id_tokens con
// una clave RSA propia.
type googleStub struct {
	key      *rsa.PrivateKey
	srv      *httptest.Server
	jwksHits atomic.Int64
	jwks304s atomic.Int64

	// claims del próximo id_token a emitir.
	claims jwtv5.MapClaims
}

const testKid = "test-kid-1"

func newGoogleStub(t *testing.T) *googleStub {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	s := &googleStub{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 "https://accounts.google.com",
			"authorization_endpoint": s.srv.URL + "/auth",
			"token_endpoint":         s.srv.URL + "/token",
			"jwks_uri":               s.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		s.jwksHits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			s.jwks304s.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		pub := s.key.Public().(*rsa.PublicKey)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": testKid,
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostFormValue("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id_token": s.signIDToken(t)})
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *googleStub) signIDToken(t *testing.T) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, s.claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	return signed
}

func (s *googleStub) client() *Google {
	g := NewGoogle("cid", "csecret", "https://id.example.com/cb")
	g.discoveryURL = s.srv.URL + "/.well-known/openid-configuration"
	return g
}

func baseClaims() jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "cid",
		"sub":            "google-sub-9",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"nonce":          "nonce-1",
		"email":          "user@example.com",
		"email_verified": true,
		"name":           "User Example",
	}
}

func TestGoogle_AuthenticateVerifiesIDToken(t *testing.T) {
	stub := newGoogleStub(t)
	stub.claims = baseClaims()
	g := stub.client()

	id, err := g.Authenticate(context.Background(), "good-code", "nonce-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.Subject != "google-sub-9" || id.Email != "user@example.com" || !id.EmailVerified {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestGoogle_AuthenticateRejectsNonceMismatch(t *testing.T) {
	stub := newGoogleStub(t)
	stub.claims = baseClaims()
	g := stub.client()

	if _, err := g.Authenticate(context.Background(), "good-code", "other-nonce"); err == nil ||
		!strings.Contains(err.Error(), "nonce") {
		t.Fatalf("expected nonce mismatch, got %v", err)
	}
}

func TestGoogle_AuthenticateRejectsWrongAudience(t *testing.T) {
	stub := newGoogleStub(t)
	stub.claims = baseClaims()
	stub.claims["aud"] = "someone-else"
	g := stub.client()

	if _, err := g.Authenticate(context.Background(), "good-code", "nonce-1"); err == nil {
		t.Fatal("expected audience rejection")
	}
}

func TestGoogle_AuthenticateRejectsExpiredToken(t *testing.T) {
	stub := newGoogleStub(t)
	stub.claims = baseClaims()
	stub.claims["exp"] = time.Now().Add(-time.Hour).Unix()
	g := stub.client()

	if _, err := g.Authenticate(context.Background(), "good-code", "nonce-1"); err == nil {
		t.Fatal("expected expired token rejection")
	}
}

func TestGoogle_JWKSRevalidatesWithETag(t *testing.T) {
	stub := newGoogleStub(t)
	stub.claims = baseClaims()
	g := stub.client()

	if _, err := g.Authenticate(context.Background(), "good-code", "nonce-1"); err != nil {
		t.Fatalf("first authenticate: %v", err)
	}

	// Cache vencido: el refresh manda If-None-Match y el 304 conserva las
	// claves vigentes.
	g.mu.Lock()
	g.keysAt = time.Time{}
	g.mu.Unlock()

	if _, err := g.Authenticate(context.Background(), "good-code", "nonce-1"); err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	if stub.jwks304s.Load() == 0 {
		t.Fatalf("expected a 304 revalidation, jwks hits=%d", stub.jwksHits.Load())
	}
}

func TestRSAFromJWK_RejectsZeroExponent(t *testing.T) {
	if _, err := rsaFromJWK(base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}), ""); err == nil {
		t.Fatal("expected error for empty exponent")
	}
}
