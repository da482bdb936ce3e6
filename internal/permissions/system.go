package permissions

import "strings"

// System permissions: fijas, definidas en código, sin parents. Todo tenant
// las tiene por defecto en scope any-team. Tabla read-only construida una
// vez al cargar el proceso; nunca se muta.

const systemPrefix = "$"

var systemPermissions = []Permission{
	{ID: "$update_team", System: true, Scope: AnyTeamScope(), Description: "Update the team information"},
	{ID: "$delete_team", System: true, Scope: AnyTeamScope(), Description: "Delete the team"},
	{ID: "$read_members", System: true, Scope: AnyTeamScope(), Description: "Read and list the team members"},
	{ID: "$remove_members", System: true, Scope: AnyTeamScope(), Description: "Remove members from the team"},
	{ID: "$invite_members", System: true, Scope: AnyTeamScope(), Description: "Invite users to the team"},
}

var systemByID = func() map[string]Permission {
	m := make(map[string]Permission, len(systemPermissions))
	for _, p := range systemPermissions {
		m[p.ID] = p
	}
	return m
}()

// IsSystemID reporta si el queryable id pertenece al esquema reservado "$".
func IsSystemID(id string) bool {
	return strings.HasPrefix(id, systemPrefix)
}

// SystemPermission busca una system permission por id.
func SystemPermission(id string) (Permission, bool) {
	p, ok := systemByID[id]
	return p, ok
}

// SystemPermissions retorna una copia de la tabla (el orden es estable).
func SystemPermissions() []Permission {
	out := make([]Permission, len(systemPermissions))
	copy(out, systemPermissions)
	return out
}
