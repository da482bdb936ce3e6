package pg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

func (s *Store) SaveAuthorizationCode(ctx context.Context, ac *core.AuthorizationCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authorization_code
		    (code, tenant_id, user_id, redirect_uri, code_challenge,
		     challenge_method, scope, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		ac.Code, ac.TenantID, ac.UserID, ac.RedirectURI, ac.CodeChallenge,
		ac.ChallengeMethod, ac.Scope, ac.ExpiresAt,
	)
	return err
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	var ac core.AuthorizationCode
	err := s.pool.QueryRow(ctx, `
		SELECT code, tenant_id, user_id, redirect_uri, code_challenge,
		       challenge_method, scope, expires_at, created_at
		  FROM authorization_code
		 WHERE code = $1`, code,
	).Scan(&ac.Code, &ac.TenantID, &ac.UserID, &ac.RedirectURI,
		&ac.CodeChallenge, &ac.ChallengeMethod, &ac.Scope, &ac.ExpiresAt,
		&ac.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &ac, nil
}

// DeleteAuthorizationCode: dos redenciones concurrentes del mismo código se
// resuelven acá; solo una ve filas afectadas > 0. "Ya no existe" no es error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authorization_code WHERE code = $1`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, rt *core.RefreshToken) error {
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO refresh_token
		    (id, tenant_id, branch_id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at`,
		rt.ID, rt.TenantID, rt.BranchID, rt.UserID, rt.Token, rt.ExpiresAt,
	).Scan(&rt.CreatedAt)
}

func (s *Store) GetRefreshToken(ctx context.Context, tenantID uuid.UUID, token string) (*core.RefreshToken, error) {
	var rt core.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, branch_id, user_id, token, expires_at, created_at
		  FROM refresh_token
		 WHERE tenant_id = $1 AND token = $2`, tenantID, token,
	).Scan(&rt.ID, &rt.TenantID, &rt.BranchID, &rt.UserID, &rt.Token,
		&rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, tenantID uuid.UUID, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_token WHERE tenant_id = $1 AND token = $2`,
		tenantID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
