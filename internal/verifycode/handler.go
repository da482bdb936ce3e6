package verifycode

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/redirecturl"
	"github.com/dropDatabas3/multipass/internal/store/core"
)

// DeliveryFunc entrega el código al usuario (email, SMS, lo que el use-case
// defina). La mecánica de envío vive fuera del core.
type DeliveryFunc func(ctx context.Context, vc *core.VerificationCode, link string) error

// UseCase describe un tipo de código: su nombre persistido y cómo se entrega.
type UseCase struct {
	Type    string
	TTL     time.Duration
	Deliver DeliveryFunc
}

// Handler es la maquinaria genérica de códigos para un use-case.
type Handler struct {
	uc    UseCase
	store core.VerificationCodeRepository
}

func NewHandler(uc UseCase, store core.VerificationCodeRepository) *Handler {
	if uc.TTL <= 0 {
		uc.TTL = 30 * time.Minute
	}
	return &Handler{uc: uc, store: store}
}

// CreateCodeInput: payload arbitrario del use-case, method (cómo se entregó)
// y callback opcional. El callback debe pasar el allow-list del tenant.
type CreateCodeInput struct {
	Tenant      *core.Tenant
	BranchID    uuid.UUID
	Payload     json.RawMessage
	Method      json.RawMessage
	CallbackURL *string
}

// CreateCode genera y persiste un código nuevo.
func (h *Handler) CreateCode(ctx context.Context, in CreateCodeInput) (*core.VerificationCode, error) {
	if in.CallbackURL != nil {
		if err := redirecturl.Validate(in.Tenant, *in.CallbackURL); err != nil {
			return nil, ErrCallbackNotAllowed
		}
	}
	code, prefix, err := generateCode()
	if err != nil {
		return nil, err
	}

	vc := &core.VerificationCode{
		ID:          uuid.New(),
		TenantID:    in.Tenant.ID,
		BranchID:    in.BranchID,
		Type:        h.uc.Type,
		Code:        code,
		Prefix:      prefix,
		Payload:     in.Payload,
		Method:      in.Method,
		RedirectURL: in.CallbackURL,
		ExpiresAt:   time.Now().Add(h.uc.TTL),
	}
	if err := h.store.CreateVerificationCode(ctx, vc); err != nil {
		return nil, err
	}
	return vc, nil
}

// Link arma la URL de callback con el código como query param "code".
func Link(vc *core.VerificationCode) (string, bool) {
	if vc.RedirectURL == nil {
		return "", false
	}
	u, err := url.Parse(*vc.RedirectURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set("code", vc.Code)
	u.RawQuery = q.Encode()
	return u.String(), true
}

// SendCode crea el código y delega la entrega a la función del use-case.
func (h *Handler) SendCode(ctx context.Context, in CreateCodeInput) (*core.VerificationCode, error) {
	vc, err := h.CreateCode(ctx, in)
	if err != nil {
		return nil, err
	}
	if h.uc.Deliver != nil {
		link, _ := Link(vc)
		if err := h.uc.Deliver(ctx, vc, link); err != nil {
			logger.From(ctx).Warn("verification code delivery failed",
				logger.TenantID(vc.TenantID.String()),
				logger.CodeType(vc.Type),
				logger.Err(err))
			return nil, err
		}
	}
	return vc, nil
}

// ListCodes lista códigos vivos (no usados, no expirados) del use-case,
// con un filtro opcional sobre el payload.
func (h *Handler) ListCodes(ctx context.Context, tenantID uuid.UUID, filter func(payload json.RawMessage) bool) ([]core.VerificationCode, error) {
	codes, err := h.store.ListVerificationCodes(ctx, tenantID, h.uc.Type, time.Now())
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return codes, nil
	}
	out := codes[:0]
	for _, vc := range codes {
		if filter(vc.Payload) {
			out = append(out, vc)
		}
	}
	return out, nil
}

// RevokeCode borra el código (hard delete). No existe = not-found.
func (h *Handler) RevokeCode(ctx context.Context, tenantID, id uuid.UUID) error {
	deleted, err := h.store.DeleteVerificationCode(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrCodeNotFound
	}
	return nil
}

// lookup es el camino común de redención. En CADA intento incrementa el
// contador de todos los códigos vivos que comparten prefijo ANTES de mirar
// el código exacto, y recién después aplica los chequeos en orden de
// prioridad: not-found > expired > already-used > max-attempts.
func (h *Handler) lookup(ctx context.Context, tenantID uuid.UUID, code string) (*core.VerificationCode, error) {
	if len(code) < core.CodePrefixLen {
		return nil, ErrCodeNotFound
	}
	prefix := code[:core.CodePrefixLen]

	if _, err := h.store.IncrementAttemptsByPrefix(ctx, tenantID, h.uc.Type, prefix); err != nil {
		return nil, err
	}

	vc, err := h.store.GetVerificationCode(ctx, tenantID, h.uc.Type, code)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	if time.Now().After(vc.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	if vc.UsedAt != nil {
		return nil, ErrCodeAlreadyUsed
	}
	if vc.AttemptCount > MaxAttemptsPerCode {
		return nil, ErrMaxAttempts
	}
	return vc, nil
}

// Post consume el código exactamente una vez. Dos redenciones concurrentes:
// una gana el UPDATE condicional, la otra ve already-used.
func (h *Handler) Post(ctx context.Context, tenantID uuid.UUID, code string) (*core.VerificationCode, error) {
	vc, err := h.lookup(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	won, err := h.store.MarkVerificationCodeUsed(ctx, vc.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrCodeAlreadyUsed
	}
	vc.UsedAt = &now
	return vc, nil
}

// Check valida el código sin consumirlo. El intento igual cuenta.
func (h *Handler) Check(ctx context.Context, tenantID uuid.UUID, code string) error {
	_, err := h.lookup(ctx, tenantID, code)
	return err
}

// Details valida y retorna el código completo (payload incluido) sin
// consumirlo.
func (h *Handler) Details(ctx context.Context, tenantID uuid.UUID, code string) (*core.VerificationCode, error) {
	return h.lookup(ctx, tenantID, code)
}
