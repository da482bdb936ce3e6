package permissions

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/validation"
)

// Store es el subconjunto del DAL que necesita el resolver.
type Store interface {
	core.PermissionRepository
	core.TeamRepository
}

// Service expone las operaciones del grafo de permisos de un tenant.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// fromDef convierte una definition persistida en Permission, validando el
// invariante de ownership (config XOR team). Una fila que lo viole es
// corrupción del store, no input de usuario.
func fromDef(d *core.PermissionDef) (Permission, error) {
	if d.ConfigOwned == (d.TeamID != nil) {
		return Permission{}, &ConsistencyError{Ref: d.QueryableID}
	}
	if d.Scope == core.ScopeGlobal && d.TeamID != nil {
		return Permission{}, &ConsistencyError{Ref: d.QueryableID}
	}

	s := Scope{Kind: d.Scope}
	if d.TeamID != nil {
		s.TeamID = *d.TeamID
	}
	return Permission{
		ID:          d.QueryableID,
		Scope:       s,
		Description: d.Description,
		ParentIDs:   append([]string(nil), d.ParentIDs...),
	}, nil
}

func fromDefs(defs []core.PermissionDef) ([]Permission, error) {
	out := make([]Permission, 0, len(defs))
	for i := range defs {
		p, err := fromDef(&defs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListDefinitions lista las definitions de un scope. scope nil retorna la
// unión de todos los scopes. Las system permissions se agregan siempre para
// any-team, specific-team y sin scope; nunca para global.
func (s *Service) ListDefinitions(ctx context.Context, tenantID uuid.UUID, scope *Scope) ([]Permission, error) {
	if scope == nil {
		defs, err := s.store.ListPermissionDefs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out, err := fromDefs(defs)
		if err != nil {
			return nil, err
		}
		return append(out, SystemPermissions()...), nil
	}

	switch scope.Kind {
	case core.ScopeGlobal:
		defs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeGlobal, nil)
		if err != nil {
			return nil, err
		}
		return fromDefs(defs)

	case core.ScopeAnyTeam:
		defs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeAnyTeam, nil)
		if err != nil {
			return nil, err
		}
		out, err := fromDefs(defs)
		if err != nil {
			return nil, err
		}
		return append(out, SystemPermissions()...), nil

	case core.ScopeTeam:
		if _, err := s.store.GetTeam(ctx, tenantID, scope.TeamID); err != nil {
			if errors.Is(err, core.ErrTeamNotFound) {
				return nil, ErrTeamNotFound
			}
			return nil, err
		}
		defs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeTeam, &scope.TeamID)
		if err != nil {
			return nil, err
		}
		out, err := fromDefs(defs)
		if err != nil {
			return nil, err
		}
		return append(out, SystemPermissions()...), nil

	default:
		return nil, errors.New("permissions: unknown scope kind")
	}
}

// definitionMap arma el snapshot completo usado por el walk de contención:
// customs any-team + customs del team + system permissions. Se consulta una
// sola vez por llamada; ningún lock se sostiene durante la traversal.
func (s *Service) definitionMap(ctx context.Context, tenantID, teamID uuid.UUID) (map[string]Permission, error) {
	m := make(map[string]Permission)

	anyTeam, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeAnyTeam, nil)
	if err != nil {
		return nil, err
	}
	teamDefs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeTeam, &teamID)
	if err != nil {
		return nil, err
	}
	for _, defs := range [][]core.PermissionDef{anyTeam, teamDefs} {
		perms, err := fromDefs(defs)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			m[p.ID] = p
		}
	}
	for _, p := range SystemPermissions() {
		m[p.ID] = p
	}
	return m, nil
}

// ListUserPermissionsRecursive resuelve los grants directos del miembro y
// despliega la contención con un walk iterativo (work queue + set de
// visitados). Terminación garantizada: el snapshot es finito y cada id se
// colecta a lo sumo una vez, incluso si el grafo trae un ciclo accidental.
func (s *Service) ListUserPermissionsRecursive(ctx context.Context, tenantID, teamID, userID uuid.UUID, directOnly bool) ([]Permission, error) {
	if _, err := s.store.GetTeam(ctx, tenantID, teamID); err != nil {
		if errors.Is(err, core.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	member, err := s.store.GetTeamMember(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}

	defs, err := s.definitionMap(ctx, tenantID, teamID)
	if err != nil {
		return nil, err
	}

	lookup := func(id string) (Permission, error) {
		p, ok := defs[id]
		if !ok {
			// Grant que apunta a una definition inexistente: el store está
			// corrupto. No es un not-found de usuario.
			logger.From(ctx).Error("permission graph references missing node",
				logger.TenantID(tenantID.String()),
				logger.TeamID(teamID.String()),
				logger.UserID(userID.String()),
				logger.Op("permissions.resolve"))
			return Permission{}, &ConsistencyError{Ref: id}
		}
		return p, nil
	}

	collected := make(map[string]Permission, len(member.DirectPermissionIDs))
	order := make([]string, 0, len(member.DirectPermissionIDs))
	queue := append([]string(nil), member.DirectPermissionIDs...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := collected[id]; ok {
			continue
		}
		p, err := lookup(id)
		if err != nil {
			return nil, err
		}
		collected[id] = p
		order = append(order, id)
		if !directOnly {
			queue = append(queue, p.ParentIDs...)
		}
	}

	out := make([]Permission, 0, len(order))
	for _, id := range order {
		out = append(out, collected[id])
	}
	return out, nil
}

// NewDefinition es el input de CreateDefinition.
type NewDefinition struct {
	ID          string
	Description string
	ParentIDs   []string
}

// potentialParents arma el conjunto contra el que se resuelven parents al
// crear/actualizar, según el scope de la definition nueva.
func (s *Service) potentialParents(ctx context.Context, tenantID uuid.UUID, scope Scope) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	add := func(defs []core.PermissionDef) {
		for i := range defs {
			set[defs[i].QueryableID] = struct{}{}
		}
	}

	switch scope.Kind {
	case core.ScopeGlobal:
		defs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeGlobal, nil)
		if err != nil {
			return nil, err
		}
		add(defs)
		return set, nil

	case core.ScopeAnyTeam, core.ScopeTeam:
		anyTeam, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeAnyTeam, nil)
		if err != nil {
			return nil, err
		}
		add(anyTeam)
		if scope.Kind == core.ScopeTeam {
			teamDefs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, core.ScopeTeam, &scope.TeamID)
			if err != nil {
				return nil, err
			}
			add(teamDefs)
		}
		for _, p := range SystemPermissions() {
			set[p.ID] = struct{}{}
		}
		return set, nil

	default:
		return nil, errors.New("permissions: unknown scope kind")
	}
}

// CreateDefinition crea una definition custom. Todos los parents deben
// resolver contra los potential parents del scope; si alguno no existe la
// operación se rechaza completa. El write NO detecta ciclos: la traversal
// es quien garantiza terminación (ver ListUserPermissionsRecursive).
func (s *Service) CreateDefinition(ctx context.Context, tenantID uuid.UUID, scope Scope, in NewDefinition) (*Permission, error) {
	if IsSystemID(in.ID) || !validation.ValidPermissionID(in.ID) {
		return nil, ErrInvalidPermissionID
	}
	if scope.Kind == core.ScopeTeam {
		if _, err := s.store.GetTeam(ctx, tenantID, scope.TeamID); err != nil {
			if errors.Is(err, core.ErrTeamNotFound) {
				return nil, ErrTeamNotFound
			}
			return nil, err
		}
	}

	parents, err := s.potentialParents(ctx, tenantID, scope)
	if err != nil {
		return nil, err
	}
	for _, pid := range in.ParentIDs {
		if _, ok := parents[pid]; !ok {
			return nil, ErrPermissionNotFound
		}
	}

	def := &core.PermissionDef{
		ID:          uuid.New(),
		TenantID:    tenantID,
		QueryableID: in.ID,
		Description: in.Description,
		Scope:       scope.Kind,
		ConfigOwned: scope.Kind != core.ScopeTeam,
		ParentIDs:   append([]string(nil), in.ParentIDs...),
	}
	if scope.Kind == core.ScopeTeam {
		teamID := scope.TeamID
		def.TeamID = &teamID
	}
	if err := s.store.CreatePermissionDef(ctx, def); err != nil {
		return nil, err
	}

	p, err := fromDef(def)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateDefinition actualiza description y parents de una definition.
func (s *Service) UpdateDefinition(ctx context.Context, tenantID uuid.UUID, scope Scope, queryableID string, description string, parentIDs []string) (*Permission, error) {
	var teamID *uuid.UUID
	if scope.Kind == core.ScopeTeam {
		id := scope.TeamID
		teamID = &id
	}
	defs, err := s.store.ListPermissionDefsScoped(ctx, tenantID, scope.Kind, teamID)
	if err != nil {
		return nil, err
	}
	var target *core.PermissionDef
	for i := range defs {
		if defs[i].QueryableID == queryableID {
			target = &defs[i]
			break
		}
	}
	if target == nil {
		return nil, ErrPermissionNotFound
	}

	parents, err := s.potentialParents(ctx, tenantID, scope)
	if err != nil {
		return nil, err
	}
	for _, pid := range parentIDs {
		if _, ok := parents[pid]; !ok {
			return nil, ErrPermissionNotFound
		}
	}

	target.Description = description
	target.ParentIDs = append([]string(nil), parentIDs...)
	if err := s.store.UpdatePermissionDef(ctx, target); err != nil {
		if errors.Is(err, core.ErrPermissionNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, err
	}
	p, err := fromDef(target)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteDefinition borra por queryable id con scope desambiguado.
// Cero filas afectadas es ErrPermissionNotFound.
func (s *Service) DeleteDefinition(ctx context.Context, tenantID uuid.UUID, scope Scope, queryableID string) error {
	var teamID *uuid.UUID
	if scope.Kind == core.ScopeTeam {
		id := scope.TeamID
		teamID = &id
	}
	rows, err := s.store.DeletePermissionDef(ctx, tenantID, queryableID, scope.Kind, teamID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPermissionNotFound
	}
	return nil
}
