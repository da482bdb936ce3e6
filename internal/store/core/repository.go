package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Interfaces del DAL. Los paquetes de dominio dependen del subconjunto que
// usan; pg.Store implementa Repository completo. Las mutaciones de tenant se
// asumen dentro de una boundary transaccional provista por el caller (el core
// no reintenta).

type TenantRepository interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	CreateTenant(ctx context.Context, t *Tenant) (*Branch, error)
	UpdateTenant(ctx context.Context, t *Tenant) error

	// GetDefaultBranch retorna la única branch default del tenant.
	GetDefaultBranch(ctx context.Context, tenantID uuid.UUID) (*Branch, error)

	GetKeySet(ctx context.Context, tenantID uuid.UUID) (*KeySet, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, tenantID, userID uuid.UUID) (*User, error)
}

type PermissionRepository interface {
	// ListPermissionDefs retorna todas las definitions custom del tenant.
	ListPermissionDefs(ctx context.Context, tenantID uuid.UUID) ([]PermissionDef, error)

	// ListPermissionDefsScoped filtra por scope; teamID solo aplica a ScopeTeam.
	ListPermissionDefsScoped(ctx context.Context, tenantID uuid.UUID, scope ScopeKind, teamID *uuid.UUID) ([]PermissionDef, error)

	CreatePermissionDef(ctx context.Context, def *PermissionDef) error
	UpdatePermissionDef(ctx context.Context, def *PermissionDef) error

	// DeletePermissionDef borra por queryable id + scope desambiguado.
	// Retorna filas afectadas; cero filas es decisión del caller.
	DeletePermissionDef(ctx context.Context, tenantID uuid.UUID, queryableID string, scope ScopeKind, teamID *uuid.UUID) (int64, error)
}

type TeamRepository interface {
	GetTeam(ctx context.Context, tenantID, teamID uuid.UUID) (*Team, error)
	GetTeamMember(ctx context.Context, teamID, userID uuid.UUID) (*TeamMember, error)
}

type AuthCodeRepository interface {
	SaveAuthorizationCode(ctx context.Context, ac *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode retorna false (sin error) si el código ya no
	// existe: redenciones dobles concurrentes se resuelven por filas afectadas.
	DeleteAuthorizationCode(ctx context.Context, code string) (bool, error)
}

type RefreshTokenRepository interface {
	SaveRefreshToken(ctx context.Context, rt *RefreshToken) error
	GetRefreshToken(ctx context.Context, tenantID uuid.UUID, token string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tenantID uuid.UUID, token string) (bool, error)
}

type VerificationCodeRepository interface {
	CreateVerificationCode(ctx context.Context, vc *VerificationCode) error

	// ListVerificationCodes: no expirados y no usados, por tipo.
	ListVerificationCodes(ctx context.Context, tenantID uuid.UUID, codeType string, now time.Time) ([]VerificationCode, error)

	// IncrementAttemptsByPrefix suma 1 al contador de TODOS los códigos no
	// expirados que comparten prefijo. Retorna cuántos tocó.
	IncrementAttemptsByPrefix(ctx context.Context, tenantID uuid.UUID, codeType, prefix string) (int64, error)

	GetVerificationCode(ctx context.Context, tenantID uuid.UUID, codeType, code string) (*VerificationCode, error)

	// MarkVerificationCodeUsed setea used_at solo si sigue sin usar.
	// Retorna true únicamente para el ganador de la carrera.
	MarkVerificationCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	DeleteVerificationCode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error)
}

// Repository compone el DAL completo.
type Repository interface {
	TenantRepository
	UserRepository
	PermissionRepository
	TeamRepository
	AuthCodeRepository
	RefreshTokenRepository
	VerificationCodeRepository

	Ping(ctx context.Context) error
}
