// Package config carga la configuración del servicio desde YAML, con
// overrides por variables de entorno. Los secretos (server secret, dev
// override key, SMTP password) se esperan por env, nunca en el YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	// RateLimit protege token y códigos de verificación (fixed window por
	// IP). Max 0 lo desactiva.
	RateLimit struct {
		Max    int    `yaml:"max"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`

	Storage struct {
		Postgres struct {
			DSN             string `yaml:"dsn"`
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
		} `yaml:"redis"`
		Prefix    string `yaml:"prefix"`
		TenantTTL string `yaml:"tenant_ttl"`
	} `yaml:"cache"`

	JWT struct {
		Issuer string `yaml:"issuer"`
		// ServerSecret solo por env (JWT_SERVER_SECRET).
		ServerSecret string `yaml:"-"`
		AccessTTL    string `yaml:"access_ttl"`
		RefreshTTL   string `yaml:"refresh_ttl"`
		CodeTTL      string `yaml:"code_ttl"`
	} `yaml:"jwt"`

	Auth struct {
		// InternalTenantID: tenant privilegiado cuyos usuarios pueden
		// impersonar a los tenants que administran.
		InternalTenantID string `yaml:"internal_tenant_id"`
		// DevOverrideKey solo por env (DEV_OVERRIDE_KEY). Vacío deshabilita
		// el bypass; en prod se fuerza vacío.
		DevOverrideKey string `yaml:"-"`
	} `yaml:"auth"`

	Codes struct {
		MagicLinkTTL     string `yaml:"magic_link_ttl"`
		PasswordResetTTL string `yaml:"password_reset_ttl"`
		MFATTL           string `yaml:"mfa_ttl"`
	} `yaml:"codes"`

	SMTP struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		Username  string `yaml:"username"`
		Password  string `yaml:"-"` // SMTP_PASSWORD
		FromEmail string `yaml:"from_email"`
		TLSMode   string `yaml:"tls_mode"`
	} `yaml:"smtp"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load lee el YAML, aplica defaults y overrides de env, y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "multipass"
	}
	if c.Cache.TenantTTL == "" {
		c.Cache.TenantTTL = "30s"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1m"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "8760h" // 365d
	}
	if c.JWT.CodeTTL == "" {
		c.JWT.CodeTTL = "5m"
	}
	if c.Codes.MagicLinkTTL == "" {
		c.Codes.MagicLinkTTL = "15m"
	}
	if c.Codes.PasswordResetTTL == "" {
		c.Codes.PasswordResetTTL = "30m"
	}
	if c.Codes.MFATTL == "" {
		c.Codes.MFATTL = "5m"
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.applyEnvOverrides()

	// Guardia dura: el bypass de desarrollo nunca existe en prod.
	if strings.EqualFold(c.App.Env, "prod") {
		c.Auth.DevOverrideKey = ""
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvInt("RATE_LIMIT_MAX"); ok {
		c.RateLimit.Max = v
	}
	if v, ok := getEnvStr("RATE_LIMIT_WINDOW"); ok {
		c.RateLimit.Window = v
	}

	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_HOST"); ok {
		c.Cache.Redis.Host = v
	}
	if v, ok := getEnvInt("REDIS_PORT"); ok {
		c.Cache.Redis.Port = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}

	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_SERVER_SECRET"); ok {
		c.JWT.ServerSecret = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvStr("JWT_REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}

	if v, ok := getEnvStr("INTERNAL_TENANT_ID"); ok {
		c.Auth.InternalTenantID = v
	}
	if v, ok := getEnvStr("DEV_OVERRIDE_KEY"); ok {
		c.Auth.DevOverrideKey = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM_EMAIL"); ok {
		c.SMTP.FromEmail = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate chequea lo mínimo para arrancar.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.ServerSecret) == "" {
		return fmt.Errorf("config: JWT_SERVER_SECRET is required")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return fmt.Errorf("config: jwt.issuer is required")
	}
	for name, raw := range map[string]string{
		"jwt.access_ttl":           c.JWT.AccessTTL,
		"jwt.refresh_ttl":          c.JWT.RefreshTTL,
		"jwt.code_ttl":             c.JWT.CodeTTL,
		"cache.tenant_ttl":         c.Cache.TenantTTL,
		"codes.magic_link_ttl":     c.Codes.MagicLinkTTL,
		"codes.password_reset_ttl": c.Codes.PasswordResetTTL,
		"codes.mfa_ttl":            c.Codes.MFATTL,
		"rate_limit.window":        c.RateLimit.Window,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Duration parsea una duración ya validada por Validate.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}
