package pg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

const permDefCols = `id, tenant_id, queryable_id, description, scope, team_id,
       config_owned, parent_ids, created_at`

func scanPermissionDef(row pgx.Row) (*core.PermissionDef, error) {
	var d core.PermissionDef
	err := row.Scan(&d.ID, &d.TenantID, &d.QueryableID, &d.Description,
		&d.Scope, &d.TeamID, &d.ConfigOwned, &d.ParentIDs, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectPermissionDefs(rows pgx.Rows) ([]core.PermissionDef, error) {
	defer rows.Close()
	var out []core.PermissionDef
	for rows.Next() {
		d, err := scanPermissionDef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ListPermissionDefs(ctx context.Context, tenantID uuid.UUID) ([]core.PermissionDef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+permDefCols+`
		  FROM permission_def
		 WHERE tenant_id = $1
		 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectPermissionDefs(rows)
}

func (s *Store) ListPermissionDefsScoped(ctx context.Context, tenantID uuid.UUID, scope core.ScopeKind, teamID *uuid.UUID) ([]core.PermissionDef, error) {
	if scope == core.ScopeTeam {
		rows, err := s.pool.Query(ctx, `
			SELECT `+permDefCols+`
			  FROM permission_def
			 WHERE tenant_id = $1 AND scope = $2 AND team_id = $3
			 ORDER BY created_at`, tenantID, scope, teamID)
		if err != nil {
			return nil, err
		}
		return collectPermissionDefs(rows)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+permDefCols+`
		  FROM permission_def
		 WHERE tenant_id = $1 AND scope = $2
		 ORDER BY created_at`, tenantID, scope)
	if err != nil {
		return nil, err
	}
	return collectPermissionDefs(rows)
}

func (s *Store) CreatePermissionDef(ctx context.Context, def *core.PermissionDef) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO permission_def
		    (id, tenant_id, queryable_id, description, scope, team_id,
		     config_owned, parent_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at`,
		def.ID, def.TenantID, def.QueryableID, def.Description, def.Scope,
		def.TeamID, def.ConfigOwned, def.ParentIDs,
	).Scan(&def.CreatedAt)
}

func (s *Store) UpdatePermissionDef(ctx context.Context, def *core.PermissionDef) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE permission_def
		   SET description = $2, parent_ids = $3
		 WHERE id = $1`,
		def.ID, def.Description, def.ParentIDs,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrPermissionNotFound
	}
	return nil
}

// DeletePermissionDef exige scope desambiguado: para ScopeTeam el team_id debe
// matchear, para los demás scopes team_id es NULL por invariante.
func (s *Store) DeletePermissionDef(ctx context.Context, tenantID uuid.UUID, queryableID string, scope core.ScopeKind, teamID *uuid.UUID) (int64, error) {
	if scope == core.ScopeTeam {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM permission_def
			 WHERE tenant_id = $1 AND queryable_id = $2 AND scope = $3 AND team_id = $4`,
			tenantID, queryableID, scope, teamID)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM permission_def
		 WHERE tenant_id = $1 AND queryable_id = $2 AND scope = $3`,
		tenantID, queryableID, scope)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetTeam(ctx context.Context, tenantID, teamID uuid.UUID) (*core.Team, error) {
	var t core.Team
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, branch_id, display_name, created_at
		  FROM team
		 WHERE tenant_id = $1 AND id = $2`, tenantID, teamID,
	).Scan(&t.ID, &t.TenantID, &t.BranchID, &t.DisplayName, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrTeamNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTeamMember(ctx context.Context, teamID, userID uuid.UUID) (*core.TeamMember, error) {
	var m core.TeamMember
	err := s.pool.QueryRow(ctx, `
		SELECT team_id, user_id, direct_permission_ids, created_at
		  FROM team_member
		 WHERE team_id = $1 AND user_id = $2`, teamID, userID,
	).Scan(&m.TeamID, &m.UserID, &m.DirectPermissionIDs, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
