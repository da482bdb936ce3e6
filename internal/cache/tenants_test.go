package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/cache"
	"github.com/dropDatabas3/multipass/internal/store/core"
)

type countingTenantRepo struct {
	tenant *core.Tenant
	branch *core.Branch
	keySet *core.KeySet

	tenantCalls int
	updateCalls int
}

func (r *countingTenantRepo) GetTenant(_ context.Context, id uuid.UUID) (*core.Tenant, error) {
	r.tenantCalls++
	if r.tenant == nil || r.tenant.ID != id {
		return nil, core.ErrTenantNotFound
	}
	return r.tenant, nil
}

func (r *countingTenantRepo) CreateTenant(_ context.Context, t *core.Tenant) (*core.Branch, error) {
	return nil, errors.New("not implemented")
}

func (r *countingTenantRepo) UpdateTenant(_ context.Context, t *core.Tenant) error {
	r.updateCalls++
	r.tenant = t
	return nil
}

func (r *countingTenantRepo) GetDefaultBranch(_ context.Context, tenantID uuid.UUID) (*core.Branch, error) {
	if r.branch == nil {
		return nil, core.ErrTenantNotFound
	}
	return r.branch, nil
}

func (r *countingTenantRepo) GetKeySet(_ context.Context, tenantID uuid.UUID) (*core.KeySet, error) {
	if r.keySet == nil {
		return nil, core.ErrNotFound
	}
	return r.keySet, nil
}

func TestTenantRepository_ReadThrough(t *testing.T) {
	id := uuid.New()
	repo := &countingTenantRepo{tenant: &core.Tenant{ID: id, DisplayName: "acme"}}
	cached := cache.NewTenantRepository(repo, cache.NewMemory("t"), time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := cached.GetTenant(ctx, id)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.DisplayName != "acme" {
			t.Fatalf("get %d: unexpected tenant %+v", i, got)
		}
	}
	if repo.tenantCalls != 1 {
		t.Fatalf("expected a single store round trip, got %d", repo.tenantCalls)
	}
}

func TestTenantRepository_NotFoundPassesThrough(t *testing.T) {
	repo := &countingTenantRepo{}
	cached := cache.NewTenantRepository(repo, cache.NewMemory("t"), time.Minute)

	_, err := cached.GetTenant(context.Background(), uuid.New())
	if !core.IsTenantNotFound(err) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}

func TestTenantRepository_UpdateInvalidates(t *testing.T) {
	id := uuid.New()
	repo := &countingTenantRepo{tenant: &core.Tenant{ID: id, DisplayName: "before"}}
	cached := cache.NewTenantRepository(repo, cache.NewMemory("t"), time.Minute)
	ctx := context.Background()

	if _, err := cached.GetTenant(ctx, id); err != nil {
		t.Fatalf("prime: %v", err)
	}

	updated := &core.Tenant{ID: id, DisplayName: "after"}
	if err := cached.UpdateTenant(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := cached.GetTenant(ctx, id)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if got.DisplayName != "after" {
		t.Fatalf("stale tenant after update: %+v", got)
	}
	if repo.tenantCalls != 2 {
		t.Fatalf("expected reread to hit the store, calls=%d", repo.tenantCalls)
	}
}

func TestMemoryClient_TTLAndDelete(t *testing.T) {
	c := cache.NewMemory("x")
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := c.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("get: %q %v", v, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := c.Set(ctx, "ttl", "v", time.Millisecond); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "ttl"); !cache.IsNotFound(err) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
