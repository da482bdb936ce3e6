package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TrustedDomain es un dominio permitido del tenant junto con el path del
// handler de auth. La combinación base+path es lo único aceptado como
// redirect URI exacta.
type TrustedDomain struct {
	BaseURL     string `json:"base_url"`
	HandlerPath string `json:"handler_path"`
}

// OAuthProviderConfig describe un provider third-party habilitado en el tenant.
type OAuthProviderConfig struct {
	ID           string `json:"id"`   // "google", "github", ...
	Type         string `json:"type"` // "shared" | "standard"
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// EmailConfig es la configuración SMTP del tenant (o shared si Host vacío).
type EmailConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	SenderAddr string `json:"sender_addr,omitempty"`
}

// Tenant (project) es un ambiente aislado con sus propios usuarios, teams,
// permisos y configuración OAuth.
type Tenant struct {
	ID             uuid.UUID
	DisplayName    string
	Production     bool
	AllowLocalhost bool
	Domains        []TrustedDomain
	AuthMethods    []string // "password", "otp", "oauth:<provider>"
	OAuthProviders []OAuthProviderConfig
	Email          *EmailConfig
	// DefaultTeamPermissionIDs se otorgan al creador de un team nuevo.
	DefaultTeamPermissionIDs []string
	CreatedAt                time.Time
}

// Branch (tenancy) es una sub-partición del tenant que comparte su
// configuración. Todo tenant tiene exactamente una branch default.
type Branch struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

// KeySet son las credenciales de proyecto por tier. La publishable viaja en
// claro (es pública por diseño); server y admin se persisten hasheadas.
type KeySet struct {
	TenantID            uuid.UUID
	PublishableKey      string
	SecretServerKeyHash []byte
	AdminKeyHash        []byte
	ExpiresAt           *time.Time
	CreatedAt           time.Time
}

// User es un usuario del tenant. ManagedTenantIDs solo aplica a usuarios del
// tenant interno: lista los tenants que ese usuario administra (impersonation).
type User struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	BranchID         uuid.UUID
	Email            string
	DisplayName      string
	RequiresMFA      bool
	ManagedTenantIDs []uuid.UUID
	CreatedAt        time.Time
}

// ScopeKind discrimina el alcance de un permission definition.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeAnyTeam ScopeKind = "any-team"
	ScopeTeam    ScopeKind = "team"
)

// PermissionDef es un nodo custom del grafo de permisos de un tenant.
// Invariante de ownership: ConfigOwned XOR (TeamID != nil). Los permisos
// global nunca llevan TeamID.
type PermissionDef struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	QueryableID string // id consultable, ej. "moderator"
	Description string
	Scope       ScopeKind
	TeamID      *uuid.UUID // solo ScopeTeam
	ConfigOwned bool
	// ParentIDs son queryable ids contenedores; pueden referenciar
	// system permissions ($-prefixed).
	ParentIDs []string
	CreatedAt time.Time
}

// Team agrupa usuarios dentro de un tenant.
type Team struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	BranchID    uuid.UUID
	DisplayName string
	CreatedAt   time.Time
}

// TeamMember vincula usuario y team con sus grants directos.
type TeamMember struct {
	TeamID uuid.UUID
	UserID uuid.UUID
	// DirectPermissionIDs: queryable ids otorgados directamente (system o custom).
	DirectPermissionIDs []string
	CreatedAt           time.Time
}

// AuthorizationCode es el código one-shot del grant authorization_code.
// Keyed por su propio valor; se destruye al redimirse o expirar.
type AuthorizationCode struct {
	Code            string
	TenantID        uuid.UUID
	UserID          uuid.UUID
	RedirectURI     string
	CodeChallenge   string
	ChallengeMethod string // solo "S256"
	Scope           []string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// RefreshToken es un opaco de larga vida atado a tenant+usuario.
// No se rota al usarse (decisión explícita, ver DESIGN.md).
type RefreshToken struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	BranchID  uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// VerificationCode es un código single-use con límite de intentos.
// El valor completo es prefix (6 chars) + resto; el prefix se usa para
// rate-limiting de fuerza bruta.
type VerificationCode struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	BranchID     uuid.UUID
	Type         string // use-case: "magic-link", "password-reset", ...
	Code         string
	Prefix       string
	Payload      json.RawMessage
	Method       json.RawMessage
	RedirectURL  *string
	AttemptCount int
	ExpiresAt    time.Time
	UsedAt       *time.Time
	CreatedAt    time.Time
}

// CodePrefixLen es el largo del prefijo compartido para rate limiting.
const CodePrefixLen = 6
