package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/metrics"
	"github.com/dropDatabas3/multipass/internal/observability/logger"
)

type identityKey struct{}

// WithIdentity resuelve las credenciales del request con el authenticator.
// Anónimo sigue con identity nil; cualquier error de credenciales corta acá.
func WithIdentity(auth *authn.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := authn.FromRequest(r)
			id, err := auth.Authenticate(r.Context(), creds)
			if err != nil {
				metrics.AuthAttempts.WithLabelValues(creds.AccessTier, authResult(err)).Inc()
				WriteError(w, r, err)
				return
			}

			ctx := r.Context()
			if id == nil {
				metrics.AuthAttempts.WithLabelValues("", "anonymous").Inc()
			} else {
				metrics.AuthAttempts.WithLabelValues(string(id.Tier), "ok").Inc()
				log := logger.From(ctx).With(
					logger.TenantID(id.Tenant.ID.String()),
					logger.Tier(string(id.Tier)))
				ctx = logger.ToContext(ctx, log)
				ctx = context.WithValue(ctx, identityKey{}, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authResult(err error) string {
	if errors.Is(err, authn.ErrTenantNotFound) {
		return "not_found"
	}
	return "invalid"
}

// IdentityFrom extrae la identidad autenticada del contexto. nil = anónimo.
func IdentityFrom(ctx context.Context) *authn.Identity {
	id, _ := ctx.Value(identityKey{}).(*authn.Identity)
	return id
}

// tierOf es el discriminador que alimenta al dispatcher de variantes.
func tierOf(id *authn.Identity) string {
	if id == nil {
		return ""
	}
	return string(id.Tier)
}

// RequireIdentity corta con 401 los requests anónimos.
func RequireIdentity() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IdentityFrom(r.Context()) == nil {
				WriteError(w, r, ErrUnauthorized.WithDetail("authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
