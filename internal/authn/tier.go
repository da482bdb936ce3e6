// Package authn resuelve las credenciales de un request entrante en un único
// registro de identidad autenticada (o anónimo, o error tipado).
package authn

import (
	"net/http"
	"strings"
)

// Tier es el nivel de privilegio declarado por el caller.
type Tier string

const (
	TierClient Tier = "client"
	TierServer Tier = "server"
	TierAdmin  Tier = "admin"
)

// ParseTier valida el valor declarado. Un tier desconocido es error del
// caller, no anónimo.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierClient:
		return TierClient, true
	case TierServer:
		return TierServer, true
	case TierAdmin:
		return TierAdmin, true
	default:
		return "", false
	}
}

// Headers entrantes: contrato con los clientes, no renombrar.
const (
	HeaderTenantID         = "X-Tenant-Id"
	HeaderAccessTier       = "X-Access-Tier"
	HeaderPublishableKey   = "X-Publishable-Client-Key"
	HeaderSecretServerKey  = "X-Secret-Server-Key"
	HeaderAdminKey         = "X-Super-Secret-Admin-Key"
	HeaderAdminAccessToken = "X-Admin-Access-Token"
	HeaderRefreshToken     = "X-Refresh-Token"
	HeaderDevOverrideKey   = "X-Dev-Override-Key"
)

// Credentials son los valores crudos extraídos de los headers.
type Credentials struct {
	TenantID         string
	AccessTier       string
	PublishableKey   string
	SecretServerKey  string
	AdminKey         string
	AdminAccessToken string
	AccessToken      string // Authorization: Bearer
	RefreshToken     string
	DevOverrideKey   string
}

// FromRequest extrae las credenciales de los headers del request.
func FromRequest(r *http.Request) Credentials {
	c := Credentials{
		TenantID:         strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		AccessTier:       strings.TrimSpace(r.Header.Get(HeaderAccessTier)),
		PublishableKey:   strings.TrimSpace(r.Header.Get(HeaderPublishableKey)),
		SecretServerKey:  strings.TrimSpace(r.Header.Get(HeaderSecretServerKey)),
		AdminKey:         strings.TrimSpace(r.Header.Get(HeaderAdminKey)),
		AdminAccessToken: strings.TrimSpace(r.Header.Get(HeaderAdminAccessToken)),
		RefreshToken:     strings.TrimSpace(r.Header.Get(HeaderRefreshToken)),
		DevOverrideKey:   strings.TrimSpace(r.Header.Get(HeaderDevOverrideKey)),
	}
	// "Bearer xxx" tolerante a mayúsculas.
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if i := strings.IndexByte(ah, ' '); i > 0 && strings.EqualFold(ah[:i], "Bearer") {
		c.AccessToken = strings.TrimSpace(ah[i+1:])
	}
	return c
}

// hasAnyKey reporta si vino alguna credencial de proyecto.
func (c Credentials) hasAnyKey() bool {
	return c.PublishableKey != "" || c.SecretServerKey != "" || c.AdminKey != "" ||
		c.AdminAccessToken != "" || c.DevOverrideKey != ""
}

// keyForTier retorna la credencial específica del tier declarado.
func (c Credentials) keyForTier(t Tier) string {
	switch t {
	case TierClient:
		return c.PublishableKey
	case TierServer:
		return c.SecretServerKey
	case TierAdmin:
		return c.AdminKey
	default:
		return ""
	}
}
