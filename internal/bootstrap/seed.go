// Package bootstrap siembra el tenant interno y su primer operador. Corre una
// sola vez por instalación; si el tenant ya existe no toca nada.
package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/store/pg"
)

// Input parametriza el seed. TenantID vacío genera uno nuevo.
type Input struct {
	TenantID      uuid.UUID
	DisplayName   string
	OperatorEmail string
}

// Result trae las credenciales generadas. Las claves secretas se muestran una
// única vez; solo sus hashes quedan persistidos.
type Result struct {
	TenantID        uuid.UUID
	OperatorID      uuid.UUID
	PublishableKey  string
	SecretServerKey string
	AdminKey        string
}

var ErrAlreadySeeded = fmt.Errorf("bootstrap: internal tenant already exists")

// Seed crea el tenant interno, sus credenciales de proyecto y el primer
// operador. Idempotencia por chequeo previo: si el tenant existe, falla con
// ErrAlreadySeeded en vez de regenerar claves en silencio.
func Seed(ctx context.Context, st *pg.Store, in Input) (*Result, error) {
	if in.TenantID == uuid.Nil {
		in.TenantID = uuid.New()
	}
	if in.DisplayName == "" {
		in.DisplayName = "Internal"
	}
	if in.OperatorEmail == "" {
		return nil, fmt.Errorf("bootstrap: operator email is required")
	}

	if _, err := st.GetTenant(ctx, in.TenantID); err == nil {
		return nil, ErrAlreadySeeded
	}

	tenant := &core.Tenant{
		ID:             in.TenantID,
		DisplayName:    in.DisplayName,
		AllowLocalhost: true,
		AuthMethods:    []string{"otp"},
	}
	branch, err := st.CreateTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create tenant: %w", err)
	}

	pk, err := generateKey("pk_live_")
	if err != nil {
		return nil, err
	}
	sk, err := generateKey("sk_live_")
	if err != nil {
		return nil, err
	}
	ak, err := generateKey("ak_live_")
	if err != nil {
		return nil, err
	}

	if err := st.CreateKeySet(ctx, &core.KeySet{
		TenantID:            tenant.ID,
		PublishableKey:      pk,
		SecretServerKeyHash: hashKey(sk),
		AdminKeyHash:        hashKey(ak),
	}); err != nil {
		return nil, fmt.Errorf("bootstrap: create key set: %w", err)
	}

	operator := &core.User{
		TenantID:    tenant.ID,
		BranchID:    branch.ID,
		Email:       in.OperatorEmail,
		DisplayName: "Operator",
	}
	if err := st.CreateUser(ctx, operator); err != nil {
		return nil, fmt.Errorf("bootstrap: create operator: %w", err)
	}

	return &Result{
		TenantID:        tenant.ID,
		OperatorID:      operator.ID,
		PublishableKey:  pk,
		SecretServerKey: sk,
		AdminKey:        ak,
	}, nil
}

func generateKey(prefix string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func hashKey(k string) []byte {
	sum := sha256.Sum256([]byte(k))
	return sum[:]
}
