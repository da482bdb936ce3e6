// Package permissions resuelve el grafo jerárquico de permisos por tenant.
// Las definitions forman un DAG (custom) más hojas fijas del sistema; la
// resolución recursiva se hace con un walk iterativo sobre un snapshot.
package permissions

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

// Scope es el dominio de aplicabilidad de un permiso: global, cualquier
// team, o un team específico. Union discriminada; matchear con switch
// sobre Kind.
type Scope struct {
	Kind   core.ScopeKind
	TeamID uuid.UUID // solo válido para core.ScopeTeam
}

func GlobalScope() Scope  { return Scope{Kind: core.ScopeGlobal} }
func AnyTeamScope() Scope { return Scope{Kind: core.ScopeAnyTeam} }
func TeamScope(teamID uuid.UUID) Scope {
	return Scope{Kind: core.ScopeTeam, TeamID: teamID}
}

func (s Scope) String() string {
	switch s.Kind {
	case core.ScopeGlobal:
		return "global"
	case core.ScopeAnyTeam:
		return "any-team"
	case core.ScopeTeam:
		return fmt.Sprintf("specific-team:%s", s.TeamID)
	default:
		return fmt.Sprintf("unknown(%q)", string(s.Kind))
	}
}

// Permission es un nodo resuelto del grafo, system o custom.
type Permission struct {
	ID          string // queryable id; los system llevan prefijo "$"
	Scope       Scope
	System      bool
	Description string
	ParentIDs   []string
}
