package validation

import "regexp"

// Reglas para queryable ids de permisos custom:
// - Minúsculas solamente.
// - Empieza y termina con [a-z0-9].
// - En el medio admite [a-z0-9:_.-].
// - Largo 1..64.
// - El prefijo "$" queda reservado para system permissions; un id custom
//   nunca lo lleva.
//
// Válidos: admin, team:moderator, read_reports, a
// Inválidos: $admin, UPPER, "con espacio", :lead, trailer:, "", 65+ chars.
var permissionIDRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidPermissionID retorna true si el id cumple el patrón de ids custom.
func ValidPermissionID(id string) bool {
	return permissionIDRe.MatchString(id)
}
