package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/ValueMelody/melody-auth-sub004/internal/auth/http"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/identity"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/kv"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/notify"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/store/drivers/sqlite"
	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	kvStore    kv.Store
	keyManager *jwtx.KeyManager

	authorizeService *service.AuthorizeService
	tokenService     *service.TokenService
	orgService       *service.OrgService
	resetService     *service.ResetService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "melody-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initKV(); err != nil {
		return nil, err
	}

	keyManager, err := InitAuthKeys(app.cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.kvStore.Close(); err != nil {
		app.logger.Error("error closing kv store", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initKV() error {
	switch app.cfg.KVDriver {
	case "redis":
		redisStore, err := kv.NewRedis(kv.RedisConfig{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.kvStore = redisStore
		app.logger.Info("kv store ready", "driver", "redis", "addr", app.cfg.RedisAddr)
	default:
		app.kvStore = kv.NewMemory()
		app.logger.Warn("kv store is in-memory, flow state will not survive restarts")
	}
	return nil
}

func (app *Application) initServices() {
	sc := app.cfg.Service

	var emailSender notify.EmailSender = notify.LogEmailSender{}
	if app.cfg.SMTP.Host != "" {
		emailSender = notify.NewSMTPSender(app.cfg.SMTP)
		app.logger.Info("email delivery via SMTP", "host", app.cfg.SMTP.Host)
	}
	var smsSender notify.SMSSender = notify.LogSMSSender{}

	guard := &service.Guard{KV: app.kvStore, Config: sc}
	mfa := &service.MFAService{
		KV:     app.kvStore,
		Store:  app.db,
		Guard:  guard,
		Email:  emailSender,
		SMS:    smsSender,
		Config: sc,
	}

	app.authorizeService = &service.AuthorizeService{
		Store:   app.db,
		KV:      app.kvStore,
		MFA:     mfa,
		Guard:   guard,
		Social:  identity.NewGoogleVerifier(os.Getenv("GOOGLE_CLIENT_ID")),
		Passkey: identity.ChallengePasskeyVerifier{},
		Config:  sc,
	}
	app.tokenService = &service.TokenService{
		Store:  app.db,
		KV:     app.kvStore,
		Keys:   app.keyManager,
		Config: sc,
	}
	app.orgService = &service.OrgService{Store: app.db, KV: app.kvStore, Config: sc}
	app.resetService = &service.ResetService{
		Store:  app.db,
		KV:     app.kvStore,
		Guard:  guard,
		Email:  emailSender,
		Config: sc,
	}
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		jwtx.NewVerifier(app.keyManager, app.cfg.Issuer),
		BuildVersion,
		app.db,
		app.kvStore,
		app.logger,
	)

	router.SecureCookies = app.cfg.SecureCookies
	router.RememberAge = int(app.cfg.Service.RememberDeviceTTL / time.Second)

	router.AuthorizeService = app.authorizeService
	router.TokenService = app.tokenService
	router.OrgService = app.orgService
	router.ResetService = app.resetService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
