package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error) {
	var (
		t             core.Tenant
		domainsJSON   []byte
		providersJSON []byte
		emailJSON     []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, production, allow_localhost,
		       domains, auth_methods, oauth_providers, email_config,
		       default_team_permission_ids, created_at
		  FROM tenant
		 WHERE id = $1`, id,
	).Scan(&t.ID, &t.DisplayName, &t.Production, &t.AllowLocalhost,
		&domainsJSON, &t.AuthMethods, &providersJSON, &emailJSON,
		&t.DefaultTeamPermissionIDs, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrTenantNotFound
		}
		return nil, err
	}
	if err := unmarshalTenantJSON(&t, domainsJSON, providersJSON, emailJSON); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, err)
	}
	return &t, nil
}

func unmarshalTenantJSON(t *core.Tenant, domains, providers, email []byte) error {
	if len(domains) > 0 {
		if err := json.Unmarshal(domains, &t.Domains); err != nil {
			return fmt.Errorf("domains: %w", err)
		}
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &t.OAuthProviders); err != nil {
			return fmt.Errorf("oauth_providers: %w", err)
		}
	}
	if len(email) > 0 && string(email) != "null" {
		t.Email = &core.EmailConfig{}
		if err := json.Unmarshal(email, t.Email); err != nil {
			return fmt.Errorf("email_config: %w", err)
		}
	}
	return nil
}

// CreateTenant inserta el tenant y su branch default en una sola tx.
// El caller decide el retry boundary; acá no se reintenta.
func (s *Store) CreateTenant(ctx context.Context, t *core.Tenant) (*core.Branch, error) {
	domainsJSON, err := json.Marshal(t.Domains)
	if err != nil {
		return nil, err
	}
	providersJSON, err := json.Marshal(t.OAuthProviders)
	if err != nil {
		return nil, err
	}
	emailJSON, err := json.Marshal(t.Email)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tenant
		    (id, display_name, production, allow_localhost, domains,
		     auth_methods, oauth_providers, email_config,
		     default_team_permission_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		t.ID, t.DisplayName, t.Production, t.AllowLocalhost, domainsJSON,
		t.AuthMethods, providersJSON, emailJSON, t.DefaultTeamPermissionIDs,
	)
	if err != nil {
		return nil, err
	}

	b := &core.Branch{ID: uuid.New(), TenantID: t.ID, Name: "main", IsDefault: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO tenant_branch (id, tenant_id, name, is_default, created_at)
		VALUES ($1, $2, $3, TRUE, now())
		RETURNING created_at`,
		b.ID, b.TenantID, b.Name,
	).Scan(&b.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t *core.Tenant) error {
	domainsJSON, err := json.Marshal(t.Domains)
	if err != nil {
		return err
	}
	providersJSON, err := json.Marshal(t.OAuthProviders)
	if err != nil {
		return err
	}
	emailJSON, err := json.Marshal(t.Email)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant
		   SET display_name = $2, production = $3, allow_localhost = $4,
		       domains = $5, auth_methods = $6, oauth_providers = $7,
		       email_config = $8, default_team_permission_ids = $9
		 WHERE id = $1`,
		t.ID, t.DisplayName, t.Production, t.AllowLocalhost, domainsJSON,
		t.AuthMethods, providersJSON, emailJSON, t.DefaultTeamPermissionIDs,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTenantNotFound
	}
	return nil
}

func (s *Store) GetDefaultBranch(ctx context.Context, tenantID uuid.UUID) (*core.Branch, error) {
	var b core.Branch
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, is_default, created_at
		  FROM tenant_branch
		 WHERE tenant_id = $1 AND is_default`, tenantID,
	).Scan(&b.ID, &b.TenantID, &b.Name, &b.IsDefault, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrTenantNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetKeySet(ctx context.Context, tenantID uuid.UUID) (*core.KeySet, error) {
	var ks core.KeySet
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, publishable_key, secret_server_key_hash,
		       admin_key_hash, expires_at, created_at
		  FROM project_key_set
		 WHERE tenant_id = $1`, tenantID,
	).Scan(&ks.TenantID, &ks.PublishableKey, &ks.SecretServerKeyHash,
		&ks.AdminKeyHash, &ks.ExpiresAt, &ks.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &ks, nil
}

// CreateKeySet registra las credenciales de proyecto. Un tenant tiene un solo
// key set; regenerar es reemplazar la fila.
func (s *Store) CreateKeySet(ctx context.Context, ks *core.KeySet) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO project_key_set
		    (tenant_id, publishable_key, secret_server_key_hash,
		     admin_key_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO UPDATE
		   SET publishable_key = EXCLUDED.publishable_key,
		       secret_server_key_hash = EXCLUDED.secret_server_key_hash,
		       admin_key_hash = EXCLUDED.admin_key_hash,
		       expires_at = EXCLUDED.expires_at
		RETURNING created_at`,
		ks.TenantID, ks.PublishableKey, ks.SecretServerKeyHash,
		ks.AdminKeyHash, ks.ExpiresAt,
	).Scan(&ks.CreatedAt)
}

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO app_user
		    (id, tenant_id, branch_id, email, display_name,
		     requires_mfa, managed_tenant_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at`,
		u.ID, u.TenantID, u.BranchID, u.Email, u.DisplayName,
		u.RequiresMFA, u.ManagedTenantIDs,
	).Scan(&u.CreatedAt)
	if err != nil {
		// unique (tenant_id, email): el caller decide si releer o fallar.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, tenantID, userID uuid.UUID) (*core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, branch_id, email, display_name,
		       requires_mfa, managed_tenant_ids, created_at
		  FROM app_user
		 WHERE tenant_id = $1 AND id = $2`, tenantID, userID,
	).Scan(&u.ID, &u.TenantID, &u.BranchID, &u.Email, &u.DisplayName,
		&u.RequiresMFA, &u.ManagedTenantIDs, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail resuelve por el unique (tenant_id, email); lo usa el
// login federado para mapear la identidad del provider a la cuenta local.
func (s *Store) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, branch_id, email, display_name,
		       requires_mfa, managed_tenant_ids, created_at
		  FROM app_user
		 WHERE tenant_id = $1 AND email = $2`, tenantID, email,
	).Scan(&u.ID, &u.TenantID, &u.BranchID, &u.Email, &u.DisplayName,
		&u.RequiresMFA, &u.ManagedTenantIDs, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
