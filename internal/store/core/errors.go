package core

import "errors"

// Errores comunes del DAL.
var (
	// ErrNotFound indica que la fila buscada no existe.
	ErrNotFound = errors.New("store: not found")

	// ErrTenantNotFound indica que el tenant no existe.
	ErrTenantNotFound = errors.New("store: tenant not found")

	// ErrTeamNotFound indica que el team no existe en el tenant.
	ErrTeamNotFound = errors.New("store: team not found")

	// ErrUserNotFound indica que el usuario no existe en el tenant.
	ErrUserNotFound = errors.New("store: user not found")

	// ErrPermissionNotFound indica que el permission definition no existe.
	ErrPermissionNotFound = errors.New("store: permission not found")

	// ErrConflict indica violación de unicidad (ej. código ya existente).
	ErrConflict = errors.New("store: conflict")
)

// IsNotFound es true para cualquier variante de not-found del DAL.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPermissionNotFound)
}

// IsTenantNotFound helper para distinguir tenant borrado de credencial inválida.
func IsTenantNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}
