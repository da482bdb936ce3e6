package oauth

import (
	"errors"
	"fmt"
)

// Errores RFC 6749. Los códigos wire ("invalid_grant", etc.) los mapea la
// capa HTTP; acá viven como sentinels del modelo.
var (
	ErrInvalidClient      = errors.New("oauth: invalid client")
	ErrInvalidGrant       = errors.New("oauth: invalid grant")
	ErrInvalidScope       = errors.New("oauth: invalid scope")
	ErrInvalidRedirectURI = errors.New("oauth: invalid redirect uri")
	ErrUnsupportedGrant   = errors.New("oauth: unsupported grant type")

	// ErrProviderNotEnabled: el tenant no habilitó ese provider federado
	// (falta "oauth:<provider>" en auth methods o falta la config).
	ErrProviderNotEnabled = errors.New("oauth: provider not enabled")
)

// MFARequiredError aborta el grant cuando el usuario tiene segundo factor
// obligatorio. Lleva el attempt code que el cliente usa para completar el
// challenge; NO es un error de credenciales.
type MFARequiredError struct {
	AttemptCode string
}

func (e *MFARequiredError) Error() string {
	return "oauth: multi-factor authentication required"
}

// IsMFARequired reporta si err es el challenge de MFA.
func IsMFARequired(err error) bool {
	var me *MFARequiredError
	return errors.As(err, &me)
}

// scopeError agrega el scope ofensor al mensaje sin perder errors.Is.
func scopeError(scope string) error {
	return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}
