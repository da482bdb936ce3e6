package tokens

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnparsable: token malformado o firma inválida.
var ErrUnparsable = errors.New("tokens: unparsable token")

// ExpiredError: firma válida pero expiry pasado. Lleva el exp del propio
// token para mensajes precisos.
type ExpiredError struct {
	ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	if e.ExpiresAt.IsZero() {
		return "tokens: token expired"
	}
	return fmt.Sprintf("tokens: token expired at %s", e.ExpiresAt.UTC().Format(time.RFC3339))
}

// IsExpired es true si err es un ExpiredError.
func IsExpired(err error) bool {
	var ee *ExpiredError
	return errors.As(err, &ee)
}
