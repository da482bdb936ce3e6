package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

func (s *Store) CreateVerificationCode(ctx context.Context, vc *core.VerificationCode) error {
	if vc.ID == uuid.Nil {
		vc.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO verification_code
		    (id, tenant_id, branch_id, code_type, code, prefix, payload,
		     method, redirect_url, attempt_count, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, now())
		RETURNING created_at`,
		vc.ID, vc.TenantID, vc.BranchID, vc.Type, vc.Code, vc.Prefix,
		vc.Payload, vc.Method, vc.RedirectURL, vc.ExpiresAt,
	).Scan(&vc.CreatedAt)
}

func (s *Store) ListVerificationCodes(ctx context.Context, tenantID uuid.UUID, codeType string, now time.Time) ([]core.VerificationCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, branch_id, code_type, code, prefix, payload,
		       method, redirect_url, attempt_count, expires_at, used_at, created_at
		  FROM verification_code
		 WHERE tenant_id = $1 AND code_type = $2
		   AND used_at IS NULL AND expires_at > $3
		 ORDER BY created_at`, tenantID, codeType, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.VerificationCode
	for rows.Next() {
		var vc core.VerificationCode
		if err := rows.Scan(&vc.ID, &vc.TenantID, &vc.BranchID, &vc.Type,
			&vc.Code, &vc.Prefix, &vc.Payload, &vc.Method, &vc.RedirectURL,
			&vc.AttemptCount, &vc.ExpiresAt, &vc.UsedAt, &vc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// IncrementAttemptsByPrefix castiga a todos los códigos vivos que comparten
// prefijo, antes de mirar el código exacto. Así un atacante que adivina
// sufijos quema los intentos del código legítimo. El filtro por used_at
// deja afuera a los ya canjeados y es el predicado del índice parcial.
func (s *Store) IncrementAttemptsByPrefix(ctx context.Context, tenantID uuid.UUID, codeType, prefix string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_code
		   SET attempt_count = attempt_count + 1
		 WHERE tenant_id = $1 AND code_type = $2 AND prefix = $3
		   AND used_at IS NULL AND expires_at > now()`,
		tenantID, codeType, prefix)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetVerificationCode(ctx context.Context, tenantID uuid.UUID, codeType, code string) (*core.VerificationCode, error) {
	var vc core.VerificationCode
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, branch_id, code_type, code, prefix, payload,
		       method, redirect_url, attempt_count, expires_at, used_at, created_at
		  FROM verification_code
		 WHERE tenant_id = $1 AND code_type = $2 AND code = $3`,
		tenantID, codeType, code,
	).Scan(&vc.ID, &vc.TenantID, &vc.BranchID, &vc.Type, &vc.Code, &vc.Prefix,
		&vc.Payload, &vc.Method, &vc.RedirectURL, &vc.AttemptCount,
		&vc.ExpiresAt, &vc.UsedAt, &vc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &vc, nil
}

// MarkVerificationCodeUsed: el WHERE used_at IS NULL decide la carrera entre
// redenciones concurrentes; gana quien afecta la fila.
func (s *Store) MarkVerificationCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_code
		   SET used_at = $2
		 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteVerificationCode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM verification_code WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
