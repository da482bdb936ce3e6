package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/overload"
	"github.com/dropDatabas3/multipass/internal/permissions"
)

// PermissionHandlers expone el grafo de permisos. Los writes van por el
// dispatcher de variantes: admin maneja cualquier scope, server solo
// permisos de team.
type PermissionHandlers struct {
	perms  *permissions.Service
	create *overload.Endpoint
	update *overload.Endpoint
}

func NewPermissionHandlers(perms *permissions.Service) *PermissionHandlers {
	h := &PermissionHandlers{perms: perms}

	adminFields := []overload.Field{
		{Name: "id", Kind: overload.KindString, Required: true},
		{Name: "scope", Kind: overload.KindString, Required: true},
		{Name: "team_id", Kind: overload.KindString},
		{Name: "description", Kind: overload.KindString},
		{Name: "parent_ids", Kind: overload.KindArray},
	}
	serverFields := []overload.Field{
		{Name: "id", Kind: overload.KindString, Required: true},
		{Name: "team_id", Kind: overload.KindString, Required: true},
		{Name: "description", Kind: overload.KindString},
		{Name: "parent_ids", Kind: overload.KindArray},
	}
	respSchema := overload.Schema{Fields: []overload.Field{
		{Name: "permission", Kind: overload.KindObject, Required: true},
	}}

	h.create = overload.NewEndpoint("permissions.create",
		overload.Overload{
			Key:      "admin",
			Request:  overload.Schema{Tiers: []string{string(authn.TierAdmin)}, Fields: adminFields},
			Response: respSchema,
			Handler:  h.doCreate(false),
		},
		overload.Overload{
			Key:      "server",
			Request:  overload.Schema{Tiers: []string{string(authn.TierServer)}, Fields: serverFields},
			Response: respSchema,
			Handler:  h.doCreate(true),
		},
	)
	h.update = overload.NewEndpoint("permissions.update",
		overload.Overload{
			Key:      "admin",
			Request:  overload.Schema{Tiers: []string{string(authn.TierAdmin)}, Fields: adminFields},
			Response: respSchema,
			Handler:  h.doUpdate(false),
		},
		overload.Overload{
			Key:      "server",
			Request:  overload.Schema{Tiers: []string{string(authn.TierServer)}, Fields: serverFields},
			Response: respSchema,
			Handler:  h.doUpdate(true),
		},
	)
	return h
}

// parseScope arma el Scope desde los valores wire. teamOnly fuerza scope de
// team (la variante server no puede tocar permisos config-owned).
func parseScope(kind, teamID string, teamOnly bool) (permissions.Scope, error) {
	if teamOnly || kind == "team" {
		id, err := uuid.Parse(teamID)
		if err != nil {
			return permissions.Scope{}, ErrBadRequest.WithDetail("team_id must be a valid uuid")
		}
		return permissions.TeamScope(id), nil
	}
	switch kind {
	case "global":
		return permissions.GlobalScope(), nil
	case "any-team":
		return permissions.AnyTeamScope(), nil
	default:
		return permissions.Scope{}, ErrBadRequest.WithDetail("scope must be global, any-team or team")
	}
}

func permissionToMap(p *permissions.Permission) map[string]any {
	m := map[string]any{
		"id":          p.ID,
		"scope":       string(p.Scope.Kind),
		"system":      p.System,
		"description": p.Description,
	}
	if p.Scope.TeamID != uuid.Nil {
		m["team_id"] = p.Scope.TeamID.String()
	}
	parents := make([]any, len(p.ParentIDs))
	for i, id := range p.ParentIDs {
		parents[i] = id
	}
	m["parent_ids"] = parents
	return m
}

func strField(body map[string]any, k string) string {
	s, _ := body[k].(string)
	return s
}

func strSlice(body map[string]any, k string) []string {
	raw, _ := body[k].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *PermissionHandlers) doCreate(teamOnly bool) overload.Handler {
	return func(ctx context.Context, req overload.Request) (map[string]any, error) {
		id := IdentityFrom(ctx)
		scope, err := parseScope(strField(req.Body, "scope"), strField(req.Body, "team_id"), teamOnly)
		if err != nil {
			return nil, err
		}
		p, err := h.perms.CreateDefinition(ctx, id.Tenant.ID, scope, permissions.NewDefinition{
			ID:          strField(req.Body, "id"),
			Description: strField(req.Body, "description"),
			ParentIDs:   strSlice(req.Body, "parent_ids"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"permission": permissionToMap(p)}, nil
	}
}

func (h *PermissionHandlers) doUpdate(teamOnly bool) overload.Handler {
	return func(ctx context.Context, req overload.Request) (map[string]any, error) {
		id := IdentityFrom(ctx)
		scope, err := parseScope(strField(req.Body, "scope"), strField(req.Body, "team_id"), teamOnly)
		if err != nil {
			return nil, err
		}
		p, err := h.perms.UpdateDefinition(ctx, id.Tenant.ID, scope,
			strField(req.Body, "id"),
			strField(req.Body, "description"),
			strSlice(req.Body, "parent_ids"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"permission": permissionToMap(p)}, nil
	}
}

// List implementa GET /v1/permissions?scope=&team_id=. Sin scope lista todos.
func (h *PermissionHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)

	var scope *permissions.Scope
	if kind := r.URL.Query().Get("scope"); kind != "" {
		s, err := parseScope(kind, r.URL.Query().Get("team_id"), false)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		scope = &s
	}

	perms, err := h.perms.ListDefinitions(ctx, id.Tenant.ID, scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]map[string]any, len(perms))
	for i := range perms {
		out[i] = permissionToMap(&perms[i])
	}
	WriteJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

// Create implementa POST /v1/permissions via dispatcher.
func (h *PermissionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	dispatchEndpoint(w, r, "permissions.create", h.create, http.StatusCreated, nil)
}

// Update implementa PUT /v1/permissions/{id} via dispatcher. El id de la
// URL manda sobre el del body.
func (h *PermissionHandlers) Update(w http.ResponseWriter, r *http.Request) {
	dispatchEndpoint(w, r, "permissions.update", h.update, http.StatusOK, func(body map[string]any) {
		body["id"] = chi.URLParam(r, "id")
	})
}

// Delete implementa DELETE /v1/permissions/{id}?scope=&team_id=.
func (h *PermissionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if id.Tier != authn.TierAdmin && id.Tier != authn.TierServer {
		WriteError(w, r, ErrForbidden.WithDetail("permission writes require server or admin tier"))
		return
	}

	teamOnly := id.Tier == authn.TierServer
	scope, err := parseScope(r.URL.Query().Get("scope"), r.URL.Query().Get("team_id"), teamOnly)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.perms.DeleteDefinition(ctx, id.Tenant.ID, scope, chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserPermissions implementa
// GET /v1/teams/{teamID}/members/{userID}/permissions?direct=true.
func (h *PermissionHandlers) UserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)

	teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		WriteError(w, r, ErrBadRequest.WithDetail("teamID must be a valid uuid"))
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		WriteError(w, r, ErrBadRequest.WithDetail("userID must be a valid uuid"))
		return
	}
	directOnly, _ := strconv.ParseBool(r.URL.Query().Get("direct"))

	perms, err := h.perms.ListUserPermissionsRecursive(ctx, id.Tenant.ID, teamID, userID, directOnly)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]map[string]any, len(perms))
	for i := range perms {
		out[i] = permissionToMap(&perms[i])
	}
	WriteJSON(w, http.StatusOK, map[string]any{"permissions": out})
}
