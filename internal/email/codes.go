package email

import (
	"context"
	"encoding/json"
	"fmt"
	"html"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/util"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// codePayload es la parte del payload del código que necesita la entrega.
type codePayload struct {
	Email string `json:"email"`
}

// TenantResolver es lo mínimo que necesita la entrega para aplicar la
// config SMTP propia del tenant. Lo satisface el repositorio cacheado.
type TenantResolver interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error)
}

// SenderFor elige el sender del envío: si el compartido es SMTP y el tenant
// trae su propia config, se usa la del tenant. Si el lookup falla, el envío
// sale igual por el compartido.
func SenderFor(ctx context.Context, shared Sender, tenants TenantResolver, tenantID uuid.UUID) Sender {
	smtp, ok := shared.(*SMTPSender)
	if !ok || tenants == nil {
		return shared
	}
	t, err := tenants.GetTenant(ctx, tenantID)
	if err != nil {
		logger.From(ctx).Warn("tenant lookup for smtp config failed",
			logger.TenantID(tenantID.String()), logger.Err(err))
		return shared
	}
	return ForTenant(smtp, t)
}

// CodeDelivery construye la DeliveryFunc de un use-case de verificación:
// extrae el destinatario del payload del código y manda el link (o el código
// pelado si no hay link) por el sender que corresponda al tenant.
func CodeDelivery(sender Sender, tenants TenantResolver, subject, intro string) verifycode.DeliveryFunc {
	return func(ctx context.Context, vc *core.VerificationCode, link string) error {
		var p codePayload
		if err := json.Unmarshal(vc.Payload, &p); err != nil || p.Email == "" {
			return fmt.Errorf("email: code %s has no recipient in payload", vc.ID)
		}

		var htmlBody, textBody string
		if link != "" {
			htmlBody = fmt.Sprintf("<p>%s</p><p><a href=%q>%s</a></p>",
				html.EscapeString(intro), link, html.EscapeString(link))
			textBody = fmt.Sprintf("%s\n\n%s\n", intro, link)
		} else {
			htmlBody = fmt.Sprintf("<p>%s</p><p><strong>%s</strong></p>",
				html.EscapeString(intro), html.EscapeString(vc.Code))
			textBody = fmt.Sprintf("%s\n\n%s\n", intro, vc.Code)
		}

		if err := SenderFor(ctx, sender, tenants, vc.TenantID).Send(p.Email, subject, htmlBody, textBody); err != nil {
			logger.From(ctx).Error("verification code delivery failed",
				logger.TenantID(vc.TenantID.String()),
				logger.CodeType(vc.Type),
				logger.String("to", util.MaskEmail(p.Email)),
				logger.Err(err))
			return err
		}
		return nil
	}
}
