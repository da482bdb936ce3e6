package authn

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/tokens"
)

// Store es el subconjunto del DAL que usa el authenticator.
type Store interface {
	core.TenantRepository
	core.UserRepository
}

// Identity es el registro de identidad autenticada. Se pasa por el resto del
// call, nunca se reconstruye.
type Identity struct {
	Tenant *core.Tenant
	Branch *core.Branch
	User   *core.User // opcional: solo con bearer token válido
	Tier   Tier
}

// Authenticator resuelve credenciales entrantes contra el DAL y el codec.
type Authenticator struct {
	store  Store
	codec  *tokens.Codec
	issuer string

	// internalTenantID es el tenant privilegiado cuyos usuarios pueden
	// impersonar tenants que administran.
	internalTenantID uuid.UUID

	// devOverrideKey habilita el bypass de desarrollo. Vacío = deshabilitado.
	// Nunca válido contra un tenant en production.
	devOverrideKey string
}

type Deps struct {
	Store            Store
	Codec            *tokens.Codec
	Issuer           string
	InternalTenantID uuid.UUID
	DevOverrideKey   string
}

func New(d Deps) *Authenticator {
	return &Authenticator{
		store:            d.Store,
		codec:            d.Codec,
		issuer:           d.Issuer,
		internalTenantID: d.InternalTenantID,
		devOverrideKey:   d.DevOverrideKey,
	}
}

// batch junta todo lo que el request PODRÍA necesitar, resuelto en una sola
// ola concurrente. Existe para no pagar N round trips secuenciales al store
// en cada request. Un not-found acá es valor nil, no aborto.
type batch struct {
	tenant      *core.Tenant
	branch      *core.Branch
	keySet      *core.KeySet
	currentUser *core.User
	imperUser   *core.User // usuario del tenant interno (impersonation)
}

func (a *Authenticator) fetchBatch(ctx context.Context, tenantID uuid.UUID, c Credentials) (*batch, error) {
	var b batch
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := a.store.GetTenant(gctx, tenantID)
		if err != nil {
			if core.IsTenantNotFound(err) {
				return nil
			}
			return err
		}
		b.tenant = t
		br, err := a.store.GetDefaultBranch(gctx, tenantID)
		if err != nil {
			if core.IsTenantNotFound(err) {
				return nil
			}
			return err
		}
		b.branch = br
		return nil
	})

	g.Go(func() error {
		ks, err := a.store.GetKeySet(gctx, tenantID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			return err
		}
		b.keySet = ks
		return nil
	})

	if c.AccessToken != "" {
		g.Go(func() error {
			u, err := a.verifyAccessToken(gctx, c.AccessToken, tenantID)
			if err != nil {
				return nil // token inválido = sin current user; el branch decide
			}
			b.currentUser = u
			return nil
		})
	}

	if c.AdminAccessToken != "" {
		g.Go(func() error {
			u, err := a.verifyAccessToken(gctx, c.AdminAccessToken, a.internalTenantID)
			if err != nil {
				return nil
			}
			b.imperUser = u
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &b, nil
}

// verifyAccessToken es la rutina única de verificación de access tokens:
// el bearer común y el de impersonation pasan por acá con el mismo rigor,
// solo cambia el tenant esperado.
func (a *Authenticator) verifyAccessToken(ctx context.Context, token string, expectedTenant uuid.UUID) (*core.User, error) {
	dec, err := a.codec.Verify(a.issuer, token)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	if dec.Audience != expectedTenant.String() {
		return nil, ErrInvalidAccessToken
	}
	userID, err := uuid.Parse(dec.Subject)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	u, err := a.store.GetUser(ctx, expectedTenant, userID)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, err
	}
	return u, nil
}

func hashKey(k string) []byte {
	sum := sha256.Sum256([]byte(k))
	return sum[:]
}

func keysEqual(hash []byte, candidate string) bool {
	return subtle.ConstantTimeCompare(hash, hashKey(candidate)) == 1
}

// Authenticate aplica las reglas de resolución:
//  1. sin tier: anónimo, salvo que haya venido una credencial (error).
//  2. tier desconocido: error.
//  3. tier sin tenant id: error.
//  4. batch de lookups en una ola.
//  5. precedencia: dev override > impersonation > key del tier declarado.
//  6. tenant inexistente: not-found, distinto de credencial inválida.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	if c.AccessTier == "" {
		if c.hasAnyKey() {
			return nil, ErrKeyWithoutTier
		}
		return nil, nil // anónimo
	}

	tier, ok := ParseTier(c.AccessTier)
	if !ok {
		return nil, ErrUnknownTier
	}
	if c.TenantID == "" {
		return nil, ErrTierWithoutTenant
	}
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil {
		return nil, ErrMalformedTenantID
	}

	b, err := a.fetchBatch(ctx, tenantID, c)
	if err != nil {
		return nil, err
	}
	if b.tenant == nil || b.branch == nil {
		return nil, ErrTenantNotFound
	}

	id := &Identity{Tenant: b.tenant, Branch: b.branch, User: b.currentUser, Tier: tier}

	// Dev override: cortocircuita todo lo demás. Gated por entorno y nunca
	// contra un tenant en production.
	if c.DevOverrideKey != "" {
		if a.devOverrideKey == "" || b.tenant.Production ||
			subtle.ConstantTimeCompare([]byte(a.devOverrideKey), []byte(c.DevOverrideKey)) != 1 {
			return nil, ErrInvalidKey
		}
		logger.From(ctx).Warn("dev override key accepted",
			logger.TenantID(tenantID.String()), logger.Tier(string(tier)))
		return id, nil
	}

	// Impersonation: el token debe decodificar a un usuario del tenant
	// interno que administre el tenant target.
	if c.AdminAccessToken != "" {
		if b.imperUser == nil || !managesTenant(b.imperUser, tenantID) {
			return nil, ErrInvalidAdminToken
		}
		return id, nil
	}

	// Camino normal: la key específica del tier declarado.
	key := c.keyForTier(tier)
	if key == "" {
		return nil, ErrMissingKey
	}
	if b.keySet == nil || keySetExpired(b.keySet) {
		return nil, ErrInvalidKey
	}
	switch tier {
	case TierClient:
		if subtle.ConstantTimeCompare([]byte(b.keySet.PublishableKey), []byte(key)) != 1 {
			return nil, ErrInvalidKey
		}
	case TierServer:
		if !keysEqual(b.keySet.SecretServerKeyHash, key) {
			return nil, ErrInvalidKey
		}
	case TierAdmin:
		if !keysEqual(b.keySet.AdminKeyHash, key) {
			return nil, ErrInvalidKey
		}
	}
	return id, nil
}

func managesTenant(u *core.User, tenantID uuid.UUID) bool {
	for _, id := range u.ManagedTenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

func keySetExpired(ks *core.KeySet) bool {
	return ks.ExpiresAt != nil && time.Now().After(*ks.ExpiresAt)
}
