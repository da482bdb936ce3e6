package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/metrics"
	"github.com/dropDatabas3/multipass/internal/overload"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// CodeHandlers expone los códigos de verificación, un verifycode.Handler por
// use-case type. Create/send van por el dispatcher: server manda el payload
// completo, client solo su email (el payload se arma acá).
type CodeHandlers struct {
	useCases map[string]*verifycode.Handler

	create *overload.Endpoint
	send   *overload.Endpoint
	redeem *overload.Endpoint
}

func NewCodeHandlers(useCases map[string]*verifycode.Handler) *CodeHandlers {
	h := &CodeHandlers{useCases: useCases}

	serverSchema := overload.Schema{
		Tiers: []string{string(authn.TierServer), string(authn.TierAdmin)},
		Fields: []overload.Field{
			{Name: "type", Kind: overload.KindString, Required: true},
			{Name: "payload", Kind: overload.KindObject, Required: true},
			{Name: "method", Kind: overload.KindObject},
			{Name: "callback_url", Kind: overload.KindString},
		},
	}
	clientSchema := overload.Schema{
		Tiers: []string{string(authn.TierClient)},
		Fields: []overload.Field{
			{Name: "type", Kind: overload.KindString, Required: true},
			{Name: "email", Kind: overload.KindString, Required: true},
			{Name: "callback_url", Kind: overload.KindString},
		},
	}
	// Server ve el código emitido; client no, a él le llega por email.
	serverResp := overload.Schema{Fields: []overload.Field{
		{Name: "id", Kind: overload.KindString, Required: true},
		{Name: "code", Kind: overload.KindString, Required: true},
		{Name: "expires_at", Kind: overload.KindString, Required: true},
	}}
	clientResp := overload.Schema{Fields: []overload.Field{
		{Name: "id", Kind: overload.KindString, Required: true},
		{Name: "expires_at", Kind: overload.KindString, Required: true},
	}}

	h.create = overload.NewEndpoint("codes.create",
		overload.Overload{Key: "server", Request: serverSchema, Response: serverResp, Handler: h.doCreate(false, false)},
		overload.Overload{Key: "client", Request: clientSchema, Response: clientResp, Handler: h.doCreate(true, false)},
	)
	h.send = overload.NewEndpoint("codes.send",
		overload.Overload{Key: "server", Request: serverSchema, Response: serverResp, Handler: h.doCreate(false, true)},
		overload.Overload{Key: "client", Request: clientSchema, Response: clientResp, Handler: h.doCreate(true, true)},
	)
	h.redeem = overload.NewEndpoint("codes.redeem",
		overload.Overload{
			Key: "any",
			Request: overload.Schema{Fields: []overload.Field{
				{Name: "type", Kind: overload.KindString, Required: true},
				{Name: "code", Kind: overload.KindString, Required: true},
			}},
			Response: overload.Schema{Fields: []overload.Field{
				{Name: "id", Kind: overload.KindString, Required: true},
				{Name: "payload", Kind: overload.KindObject},
			}},
			Handler: h.doRedeem,
		},
	)
	return h
}

func (h *CodeHandlers) useCase(t string) (*verifycode.Handler, error) {
	uc, ok := h.useCases[t]
	if !ok {
		return nil, ErrNotFound.WithDetail("unknown verification code type")
	}
	return uc, nil
}

func (h *CodeHandlers) doCreate(fromEmail, deliver bool) overload.Handler {
	return func(ctx context.Context, req overload.Request) (map[string]any, error) {
		id := IdentityFrom(ctx)
		uc, err := h.useCase(strField(req.Body, "type"))
		if err != nil {
			return nil, err
		}

		in := verifycode.CreateCodeInput{Tenant: id.Tenant, BranchID: id.Branch.ID}
		if fromEmail {
			payload, _ := json.Marshal(map[string]string{"email": strField(req.Body, "email")})
			in.Payload = payload
		} else {
			payload, err := json.Marshal(req.Body["payload"])
			if err != nil {
				return nil, ErrInvalidJSON
			}
			in.Payload = payload
			if m, ok := req.Body["method"]; ok {
				raw, err := json.Marshal(m)
				if err != nil {
					return nil, ErrInvalidJSON
				}
				in.Method = raw
			}
		}
		if cb := strField(req.Body, "callback_url"); cb != "" {
			in.CallbackURL = &cb
		}

		var vc *core.VerificationCode
		if deliver {
			vc, err = uc.SendCode(ctx, in)
		} else {
			vc, err = uc.CreateCode(ctx, in)
		}
		if err != nil {
			return nil, err
		}

		out := map[string]any{
			"id":         vc.ID.String(),
			"expires_at": vc.ExpiresAt.Format(time.RFC3339),
		}
		if !fromEmail {
			out["code"] = vc.Code
		}
		return out, nil
	}
}

func (h *CodeHandlers) doRedeem(ctx context.Context, req overload.Request) (map[string]any, error) {
	id := IdentityFrom(ctx)
	codeType := strField(req.Body, "type")
	uc, err := h.useCase(codeType)
	if err != nil {
		return nil, err
	}

	vc, err := uc.Post(ctx, id.Tenant.ID, strField(req.Body, "code"))
	metrics.CodeLookups.WithLabelValues(codeType, lookupResult(err)).Inc()
	if err != nil {
		return nil, err
	}

	out := map[string]any{"id": vc.ID.String()}
	var payload map[string]any
	if len(vc.Payload) > 0 && json.Unmarshal(vc.Payload, &payload) == nil {
		out["payload"] = payload
	}
	return out, nil
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, verifycode.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, verifycode.ErrCodeExpired):
		return "expired"
	case errors.Is(err, verifycode.ErrCodeAlreadyUsed):
		return "already_used"
	case errors.Is(err, verifycode.ErrMaxAttempts):
		return "max_attempts"
	default:
		return "error"
	}
}

func withCodeType(r *http.Request) func(map[string]any) {
	return func(body map[string]any) {
		body["type"] = chi.URLParam(r, "type")
	}
}

// Create implementa POST /v1/codes/{type}.
func (h *CodeHandlers) Create(w http.ResponseWriter, r *http.Request) {
	dispatchEndpoint(w, r, "codes.create", h.create, http.StatusCreated, withCodeType(r))
}

// Send implementa POST /v1/codes/{type}/send: crea y entrega.
func (h *CodeHandlers) Send(w http.ResponseWriter, r *http.Request) {
	dispatchEndpoint(w, r, "codes.send", h.send, http.StatusCreated, withCodeType(r))
}

// Redeem implementa POST /v1/codes/{type}/redeem: consumo one-shot.
func (h *CodeHandlers) Redeem(w http.ResponseWriter, r *http.Request) {
	dispatchEndpoint(w, r, "codes.redeem", h.redeem, http.StatusOK, withCodeType(r))
}

// Check implementa POST /v1/codes/{type}/check: valida sin consumir.
func (h *CodeHandlers) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	codeType := chi.URLParam(r, "type")
	uc, err := h.useCase(codeType)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body, err := ReadBody(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	err = uc.Check(ctx, id.Tenant.ID, strField(body, "code"))
	metrics.CodeLookups.WithLabelValues(codeType, lookupResult(err)).Inc()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// Details implementa GET /v1/codes/{type}/details?code=. Solo server/admin:
// expone el payload sin consumir el código.
func (h *CodeHandlers) Details(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if id.Tier == authn.TierClient {
		WriteError(w, r, ErrForbidden.WithDetail("details require server or admin tier"))
		return
	}
	codeType := chi.URLParam(r, "type")
	uc, err := h.useCase(codeType)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	vc, err := uc.Details(ctx, id.Tenant.ID, r.URL.Query().Get("code"))
	metrics.CodeLookups.WithLabelValues(codeType, lookupResult(err)).Inc()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, codeToMap(vc, true))
}

// List implementa GET /v1/codes/{type}: códigos vivos del tenant.
func (h *CodeHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if id.Tier == authn.TierClient {
		WriteError(w, r, ErrForbidden.WithDetail("listing requires server or admin tier"))
		return
	}
	uc, err := h.useCase(chi.URLParam(r, "type"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	// Filtro opcional por igualdad sobre un campo del payload.
	var filter func(json.RawMessage) bool
	if k, v := r.URL.Query().Get("payload_key"), r.URL.Query().Get("payload_value"); k != "" {
		filter = func(raw json.RawMessage) bool {
			var m map[string]any
			if json.Unmarshal(raw, &m) != nil {
				return false
			}
			s, _ := m[k].(string)
			return s == v
		}
	}

	codes, err := uc.ListCodes(ctx, id.Tenant.ID, filter)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]map[string]any, len(codes))
	for i := range codes {
		out[i] = codeToMap(&codes[i], false)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"codes": out})
}

// Revoke implementa DELETE /v1/codes/{type}/{id}: borrado duro.
func (h *CodeHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := IdentityFrom(ctx)
	if id.Tier == authn.TierClient {
		WriteError(w, r, ErrForbidden.WithDetail("revocation requires server or admin tier"))
		return
	}
	uc, err := h.useCase(chi.URLParam(r, "type"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	codeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, ErrBadRequest.WithDetail("id must be a valid uuid"))
		return
	}

	if err := uc.RevokeCode(ctx, id.Tenant.ID, codeID); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func codeToMap(vc *core.VerificationCode, includeCode bool) map[string]any {
	m := map[string]any{
		"id":            vc.ID.String(),
		"type":          vc.Type,
		"attempt_count": vc.AttemptCount,
		"expires_at":    vc.ExpiresAt.Format(time.RFC3339),
		"created_at":    vc.CreatedAt.Format(time.RFC3339),
	}
	if includeCode {
		m["code"] = vc.Code
	}
	var payload map[string]any
	if len(vc.Payload) > 0 && json.Unmarshal(vc.Payload, &payload) == nil {
		m["payload"] = payload
	}
	if vc.RedirectURL != nil {
		m["callback_url"] = *vc.RedirectURL
	}
	return m
}
