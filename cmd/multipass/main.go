package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/multipass/internal/authn"
	"github.com/dropDatabas3/multipass/internal/bootstrap"
	"github.com/dropDatabas3/multipass/internal/cache"
	"github.com/dropDatabas3/multipass/internal/config"
	"github.com/dropDatabas3/multipass/internal/email"
	mphttp "github.com/dropDatabas3/multipass/internal/http"
	"github.com/dropDatabas3/multipass/internal/metrics"
	"github.com/dropDatabas3/multipass/internal/oauth"
	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/permissions"
	"github.com/dropDatabas3/multipass/internal/rate"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/store/pg"
	"github.com/dropDatabas3/multipass/internal/tokens"
	"github.com/dropDatabas3/multipass/internal/verifycode"
	migrations "github.com/dropDatabas3/multipass/migrations/postgres"
)

func main() {
	// .env es para desarrollo; en deploy las vars vienen del entorno.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "multipass",
		Short: "Servicio de identidad y autorización multi-tenant",
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "ruta al config.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de schema pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}

	var operatorEmail string
	seed := &cobra.Command{
		Use:   "bootstrap",
		Short: "Crea el tenant interno y el primer operador",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), configPath, operatorEmail)
		},
	}
	seed.Flags().StringVar(&operatorEmail, "email", "", "email del primer operador")
	_ = seed.MarkFlagRequired("email")

	root.AddCommand(serve, migrate, seed)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore carga config y abre el pool; lo comparten los subcomandos.
func openStore(ctx context.Context, configPath string) (*config.Config, *pg.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "multipass"})

	store, err := pg.New(ctx, cfg.Storage.Postgres.DSN, pg.Config{
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		ConnMaxLifetime: config.Duration(cfg.Storage.Postgres.ConnMaxLifetime),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return cfg, store, nil
}

func runMigrate(ctx context.Context, configPath string) error {
	_, store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	defer func() { _ = logger.Sync() }()

	applied, err := store.Migrate(ctx, migrations.FS)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d migration(s)\n", applied)
	return nil
}

func runBootstrap(ctx context.Context, configPath, operatorEmail string) error {
	cfg, store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	defer func() { _ = logger.Sync() }()

	in := bootstrap.Input{OperatorEmail: operatorEmail}
	if raw := cfg.Auth.InternalTenantID; raw != "" {
		in.TenantID, err = uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("auth.internal_tenant_id: %w", err)
		}
	}

	res, err := bootstrap.Seed(ctx, store, in)
	if err != nil {
		return err
	}

	fmt.Println("Internal tenant created. Store these now; the secret keys are not recoverable.")
	fmt.Printf("  tenant_id:         %s\n", res.TenantID)
	fmt.Printf("  operator_id:       %s\n", res.OperatorID)
	fmt.Printf("  publishable_key:   %s\n", res.PublishableKey)
	fmt.Printf("  secret_server_key: %s\n", res.SecretServerKey)
	fmt.Printf("  admin_key:         %s\n", res.AdminKey)
	return nil
}

func runServe(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	defer func() { _ = logger.Sync() }()
	log := logger.Named("serve")

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Host:     cfg.Cache.Redis.Host,
		Port:     cfg.Cache.Redis.Port,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	codec := tokens.NewCodec([]byte(cfg.JWT.ServerSecret), config.Duration(cfg.JWT.AccessTTL))

	// Tenant/branch/keyset con read-through cache: es el camino caliente del
	// authenticator.
	cachedTenants := cache.NewTenantRepository(store, cacheClient, config.Duration(cfg.Cache.TenantTTL))

	var internalTenantID uuid.UUID
	if raw := cfg.Auth.InternalTenantID; raw != "" {
		internalTenantID, err = uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("auth.internal_tenant_id: %w", err)
		}
	}

	sharedSender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.FromEmail, cfg.SMTP.Username, cfg.SMTP.Password)
	sharedSender.TLSMode = cfg.SMTP.TLSMode

	codes := map[string]*verifycode.Handler{
		"magic-link": verifycode.NewHandler(verifycode.UseCase{
			Type:    "magic-link",
			TTL:     config.Duration(cfg.Codes.MagicLinkTTL),
			Deliver: email.CodeDelivery(sharedSender, cachedTenants, "Tu acceso", "Usá este link para iniciar sesión:"),
		}, store),
		"password-reset": verifycode.NewHandler(verifycode.UseCase{
			Type:    "password-reset",
			TTL:     config.Duration(cfg.Codes.PasswordResetTTL),
			Deliver: email.CodeDelivery(sharedSender, cachedTenants, "Restablecer contraseña", "Usá este link para restablecer tu contraseña:"),
		}, store),
		"mfa": verifycode.NewHandler(verifycode.UseCase{
			Type:    "mfa",
			TTL:     config.Duration(cfg.Codes.MFATTL),
			Deliver: email.CodeDelivery(sharedSender, cachedTenants, "Tu código de verificación", "Ingresá este código para continuar:"),
		}, store),
	}

	authStore := struct {
		*cache.TenantRepository
		core.UserRepository
	}{cachedTenants, store}

	limiter := rate.New(rate.Config{
		Driver:   cfg.Cache.Kind,
		Host:     cfg.Cache.Redis.Host,
		Port:     cfg.Cache.Redis.Port,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Prefix + ":rl:",
		Max:      cfg.RateLimit.Max,
		Window:   config.Duration(cfg.RateLimit.Window),
	})

	router := mphttp.NewRouter(mphttp.Deps{
		Auth: authn.New(authn.Deps{
			Store:            authStore,
			Codec:            codec,
			Issuer:           cfg.JWT.Issuer,
			InternalTenantID: internalTenantID,
			DevOverrideKey:   cfg.Auth.DevOverrideKey,
		}),
		OAuth: oauth.NewModel(oauth.Deps{
			Store:      store,
			Codec:      codec,
			Issuer:     cfg.JWT.Issuer,
			MFACodes:   codes["mfa"],
			Directory:  store,
			CodeTTL:    config.Duration(cfg.JWT.CodeTTL),
			AccessTTL:  config.Duration(cfg.JWT.AccessTTL),
			RefreshTTL: config.Duration(cfg.JWT.RefreshTTL),
		}),
		Perms:              permissions.NewService(store),
		Codes:              codes,
		Limit:              limiter,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	log.Info("starting", logger.String("addr", cfg.Server.Addr), logger.String("env", cfg.App.Env))
	return mphttp.NewServer(cfg.Server.Addr, router).Run(ctx)
}
