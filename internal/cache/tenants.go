package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
)

// DefaultTenantTTL es corto a propósito: el authenticator lee tenant, branch
// y key set en cada request, pero una revocación de keys tiene que pegar
// rápido.
const DefaultTenantTTL = 30 * time.Second

// TenantRepository decora un core.TenantRepository con read-through cache.
// El cache es advisory: cualquier falla del backend degrada al store.
type TenantRepository struct {
	inner core.TenantRepository
	c     Client
	ttl   time.Duration
}

// NewTenantRepository crea el decorador. ttl 0 usa DefaultTenantTTL.
func NewTenantRepository(inner core.TenantRepository, c Client, ttl time.Duration) *TenantRepository {
	if ttl == 0 {
		ttl = DefaultTenantTTL
	}
	return &TenantRepository{inner: inner, c: c, ttl: ttl}
}

func tenantKey(id uuid.UUID) string { return "tenant:" + id.String() }
func branchKey(id uuid.UUID) string { return "tenant:" + id.String() + ":branch" }
func keySetKey(id uuid.UUID) string { return "tenant:" + id.String() + ":keyset" }

func (r *TenantRepository) GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error) {
	var t core.Tenant
	if r.getJSON(ctx, tenantKey(id), &t) {
		return &t, nil
	}
	got, err := r.inner.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	r.setJSON(ctx, tenantKey(id), got)
	return got, nil
}

func (r *TenantRepository) GetDefaultBranch(ctx context.Context, tenantID uuid.UUID) (*core.Branch, error) {
	var b core.Branch
	if r.getJSON(ctx, branchKey(tenantID), &b) {
		return &b, nil
	}
	got, err := r.inner.GetDefaultBranch(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.setJSON(ctx, branchKey(tenantID), got)
	return got, nil
}

func (r *TenantRepository) GetKeySet(ctx context.Context, tenantID uuid.UUID) (*core.KeySet, error) {
	var ks core.KeySet
	if r.getJSON(ctx, keySetKey(tenantID), &ks) {
		return &ks, nil
	}
	got, err := r.inner.GetKeySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.setJSON(ctx, keySetKey(tenantID), got)
	return got, nil
}

func (r *TenantRepository) CreateTenant(ctx context.Context, t *core.Tenant) (*core.Branch, error) {
	return r.inner.CreateTenant(ctx, t)
}

// UpdateTenant escribe al store e invalida las entradas del tenant. La
// invalidación corre después del write: una lectura concurrente puede
// repoblar con el valor nuevo, nunca resucitar el viejo más allá del TTL.
func (r *TenantRepository) UpdateTenant(ctx context.Context, t *core.Tenant) error {
	if err := r.inner.UpdateTenant(ctx, t); err != nil {
		return err
	}
	r.invalidate(ctx, t.ID)
	return nil
}

func (r *TenantRepository) invalidate(ctx context.Context, id uuid.UUID) {
	for _, k := range []string{tenantKey(id), branchKey(id), keySetKey(id)} {
		if err := r.c.Delete(ctx, k); err != nil {
			logger.From(ctx).Warn("cache invalidation failed",
				logger.TenantID(id.String()), logger.Err(err))
		}
	}
}

func (r *TenantRepository) getJSON(ctx context.Context, key string, dst any) bool {
	raw, err := r.c.Get(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			logger.From(ctx).Warn("cache read failed", logger.Err(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		// Entrada corrupta: se descarta y se relee del store.
		_ = r.c.Delete(ctx, key)
		return false
	}
	return true
}

func (r *TenantRepository) setJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.c.Set(ctx, key, string(raw), r.ttl); err != nil {
		logger.From(ctx).Warn("cache write failed", logger.Err(err))
	}
}
