package verifycode

import "errors"

// Errores de redención, en orden de prioridad: not-found gana a expired,
// expired a already-used, already-used a max-attempts.
var (
	ErrCodeNotFound    = errors.New("verifycode: code not found")
	ErrCodeExpired     = errors.New("verifycode: code expired")
	ErrCodeAlreadyUsed = errors.New("verifycode: code already used")
	ErrMaxAttempts     = errors.New("verifycode: max attempts exceeded")

	// ErrCallbackNotAllowed: el callback URL no pasa el allow-list del tenant.
	ErrCallbackNotAllowed = errors.New("verifycode: callback url not allowed")
)

// MaxAttemptsPerCode es el tope de intentos de lookup por código. Cada
// intento castiga a todos los códigos que comparten prefijo.
const MaxAttemptsPerCode = 20
