package http

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/overload"
	"github.com/dropDatabas3/multipass/internal/permissions"
	"github.com/dropDatabas3/multipass/internal/redirecturl"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// Respuestas de error estándar de la API.
var (
	ErrInvalidJSON         = &HTTPError{Code: "invalid_json", Message: "Invalid JSON format", Status: http.StatusBadRequest}
	ErrBadRequest          = &HTTPError{Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized        = &HTTPError{Code: "unauthorized", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden           = &HTTPError{Code: "forbidden", Message: "Forbidden", Status: http.StatusForbidden}
	ErrNotFound            = &HTTPError{Code: "not_found", Message: "Not found", Status: http.StatusNotFound}
	ErrRateLimited         = &HTTPError{Code: "rate_limited", Message: "Too many requests", Status: http.StatusTooManyRequests}
	ErrInternalServerError = &HTTPError{Code: "internal_error", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// HTTPError es el envelope estándar de error de la API.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"-"`
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// WithDetail retorna una copia con detail específico.
func (e *HTTPError) WithDetail(detail string) *HTTPError {
	return &HTTPError{Code: e.Code, Message: e.Message, Detail: detail, Status: e.Status}
}

// mapError traduce errores de dominio al envelope HTTP. Los errores de
// consistencia interna ya se loguearon con contexto en la capa que los
// detectó; acá salen opacos.
func mapError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	// authn
	case errors.Is(err, authn.ErrTenantNotFound):
		return &HTTPError{Code: "tenant_not_found", Message: "Tenant not found", Status: http.StatusNotFound}
	case errors.Is(err, authn.ErrKeyWithoutTier),
		errors.Is(err, authn.ErrUnknownTier),
		errors.Is(err, authn.ErrTierWithoutTenant),
		errors.Is(err, authn.ErrMalformedTenantID):
		return ErrBadRequest.WithDetail(err.Error())
	case errors.Is(err, authn.ErrMissingKey),
		errors.Is(err, authn.ErrInvalidKey),
		errors.Is(err, authn.ErrInvalidAccessToken),
		errors.Is(err, authn.ErrInvalidAdminToken):
		return ErrUnauthorized.WithDetail(err.Error())

	// permissions
	case errors.Is(err, permissions.ErrInvalidPermissionID):
		return &HTTPError{Code: "invalid_permission_id", Message: "Invalid permission id", Status: http.StatusBadRequest}
	case errors.Is(err, permissions.ErrPermissionNotFound):
		return &HTTPError{Code: "permission_not_found", Message: "Permission not found", Status: http.StatusNotFound}
	case errors.Is(err, permissions.ErrTeamNotFound):
		return &HTTPError{Code: "team_not_found", Message: "Team not found", Status: http.StatusNotFound}
	case errors.Is(err, permissions.ErrMembershipNotFound):
		return &HTTPError{Code: "membership_not_found", Message: "Team membership not found", Status: http.StatusNotFound}
	case permissions.IsConsistencyError(err):
		return ErrInternalServerError

	// verification codes
	case errors.Is(err, verifycode.ErrCodeNotFound):
		return &HTTPError{Code: "code_not_found", Message: "Verification code not found", Status: http.StatusNotFound}
	case errors.Is(err, verifycode.ErrCodeExpired):
		return &HTTPError{Code: "code_expired", Message: "Verification code expired", Status: http.StatusGone}
	case errors.Is(err, verifycode.ErrCodeAlreadyUsed):
		return &HTTPError{Code: "code_already_used", Message: "Verification code already used", Status: http.StatusConflict}
	case errors.Is(err, verifycode.ErrMaxAttempts):
		return &HTTPError{Code: "too_many_attempts", Message: "Too many attempts for this code", Status: http.StatusTooManyRequests}
	case errors.Is(err, verifycode.ErrCallbackNotAllowed),
		errors.Is(err, redirecturl.ErrNotAllowed):
		return &HTTPError{Code: "callback_not_allowed", Message: "Callback URL not in tenant allow-list", Status: http.StatusBadRequest}

	// overload dispatch
	case errors.Is(err, overload.ErrTooManyOverloads),
		errors.Is(err, overload.ErrBadResponse):
		return ErrInternalServerError

	// store
	case core.IsNotFound(err):
		return ErrNotFound.WithDetail(err.Error())
	}

	if me, ok := overload.IsMatchError(err); ok {
		return &HTTPError{Code: "no_variant_matched", Message: "Request matched no variant of this endpoint", Detail: me.Error(), Status: http.StatusBadRequest}
	}

	return ErrInternalServerError
}
