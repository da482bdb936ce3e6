package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newTestGitHub apunta ambas bases del client al server de prueba.
func newTestGitHub(t *testing.T, h http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	g := NewGitHub("cid", "csecret", "https://id.example.com/cb")
	g.oauthBase = srv.URL
	g.apiBase = srv.URL
	return g
}

func githubMux(t *testing.T, emails string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("exchange sin Accept: application/json")
		}
		if err := r.ParseForm(); err != nil || r.PostFormValue("code") != "good-code" {
			w.Write([]byte(`{"error":"bad_verification_code","error_description":"nope"}`))
			return
		}
		w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":42,"login":"octo","name":"Octo Cat","email":"public@example.com"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(emails))
	})
	return mux
}

func TestGitHub_AuthenticatePrefersPrimaryVerifiedEmail(t *testing.T) {
	g := newTestGitHub(t, githubMux(t, `[
		{"email":"old@example.com","primary":false,"verified":true},
		{"email":"main@example.com","primary":true,"verified":true}
	]`))

	id, err := g.Authenticate(context.Background(), "good-code", "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.Subject != "42" || id.DisplayName != "Octo Cat" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.Email != "main@example.com" || !id.EmailVerified {
		t.Fatalf("expected primary verified email, got %q (verified=%v)", id.Email, id.EmailVerified)
	}
}

func TestGitHub_AuthenticateFallsBackToAnyVerified(t *testing.T) {
	g := newTestGitHub(t, githubMux(t, `[
		{"email":"main@example.com","primary":true,"verified":false},
		{"email":"alt@example.com","primary":false,"verified":true}
	]`))

	id, err := g.Authenticate(context.Background(), "good-code", "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.Email != "alt@example.com" || !id.EmailVerified {
		t.Fatalf("expected verified fallback, got %q (verified=%v)", id.Email, id.EmailVerified)
	}
}

func TestGitHub_AuthenticateUnverifiedEmailStaysUnverified(t *testing.T) {
	g := newTestGitHub(t, githubMux(t, `[
		{"email":"main@example.com","primary":true,"verified":false}
	]`))

	id, err := g.Authenticate(context.Background(), "good-code", "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.EmailVerified {
		t.Fatalf("email %q should not be marked verified", id.Email)
	}
}

func TestGitHub_ExchangeErrorPropagated(t *testing.T) {
	g := newTestGitHub(t, githubMux(t, `[]`))

	if _, err := g.Authenticate(context.Background(), "bad-code", ""); err == nil ||
		!strings.Contains(err.Error(), "bad_verification_code") {
		t.Fatalf("expected exchange error, got %v", err)
	}
}

func TestGitHub_AuthURLCarriesStateAndScopes(t *testing.T) {
	g := NewGitHub("cid", "csecret", "https://id.example.com/cb")

	raw, err := g.AuthURL(context.Background(), "state-123", "ignored-nonce")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("client_id") != "cid" {
		t.Fatalf("unexpected query: %v", q)
	}
	if !strings.Contains(q.Get("scope"), "user:email") {
		t.Fatalf("scope missing user:email: %q", q.Get("scope"))
	}
}
