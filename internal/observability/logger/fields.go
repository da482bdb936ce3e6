package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para que los logs sean consistentes entre capas.

func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// TenantID crea un campo para el ID del tenant (project).
func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

// BranchID crea un campo para la tenancy/branch dentro del tenant.
func BranchID(v string) zap.Field { return zap.String("branch_id", v) }

func UserID(v string) zap.Field { return zap.String("user_id", v) }
func TeamID(v string) zap.Field { return zap.String("team_id", v) }

// Tier crea un campo para el access tier resuelto (client/server/admin).
func Tier(v string) zap.Field { return zap.String("tier", v) }

// CodeType crea un campo para el tipo de verification code.
func CodeType(v string) zap.Field { return zap.String("code_type", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (handler, service, repository).
func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }
