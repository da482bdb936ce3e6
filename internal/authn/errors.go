package authn

import "errors"

// Errores de autenticación, todos con kind estable para el caller.
// No se reintenta ninguno.
var (
	// ErrKeyWithoutTier: vino una credencial pero ningún access tier.
	// Siempre es error, nunca anónimo.
	ErrKeyWithoutTier = errors.New("authn: project key provided without access tier")

	// ErrUnknownTier: el tier declarado no es client/server/admin.
	ErrUnknownTier = errors.New("authn: unknown access tier")

	// ErrTierWithoutTenant: tier declarado sin tenant id.
	ErrTierWithoutTenant = errors.New("authn: access tier declared without tenant id")

	// ErrMalformedTenantID: el tenant id no parsea.
	ErrMalformedTenantID = errors.New("authn: malformed tenant id")

	// ErrMissingKey: el tier declarado exige su credencial y no vino.
	ErrMissingKey = errors.New("authn: missing key for declared tier")

	// ErrInvalidKey: la credencial del tier declarado no valida.
	ErrInvalidKey = errors.New("authn: invalid key for declared tier")

	// ErrInvalidAccessToken: bearer token que no verifica o de otro tenant.
	ErrInvalidAccessToken = errors.New("authn: invalid access token")

	// ErrInvalidAdminToken: el admin access token no decodifica a un usuario
	// del tenant interno que administre el tenant target.
	ErrInvalidAdminToken = errors.New("authn: invalid admin access token")

	// ErrTenantNotFound: el tenant del request no existe (ej. borrado después
	// de emitir un token). Distinto de credencial inválida.
	ErrTenantNotFound = errors.New("authn: tenant not found")
)
