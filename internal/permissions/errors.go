package permissions

import (
	"errors"
	"fmt"
)

var (
	// ErrTeamNotFound: el team del scope specific-team no existe.
	ErrTeamNotFound = errors.New("permissions: team not found")

	// ErrPermissionNotFound: definition inexistente (create con parent que
	// no resuelve, update/delete sin filas).
	ErrPermissionNotFound = errors.New("permissions: permission not found")

	// ErrMembershipNotFound: el usuario no es miembro del team.
	ErrMembershipNotFound = errors.New("permissions: team membership not found")

	// ErrInvalidPermissionID: queryable id que no cumple el formato custom.
	ErrInvalidPermissionID = errors.New("permissions: invalid permission id")
)

// ConsistencyError indica que el grafo referencia un nodo que no existe en el
// snapshot: un bug de consistencia del store, no un error de usuario. Se
// loguea con contexto completo y al caller solo le llega un error interno
// opaco.
type ConsistencyError struct {
	Ref string // id que no resolvió
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("permissions: graph references unknown permission %q", e.Ref)
}

// IsConsistencyError reporta si err es una violación de invariante interna.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
