package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/config"
	"github.com/upb/auth0-gateway/middleware"
	"github.com/upb/auth0-gateway/repositories"
	"github.com/upb/auth0-gateway/repositories/postgres"
	"github.com/upb/auth0-gateway/services/audit"
	"go.uber.org/zap"
)

const auditStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repositories
	AuthEvents repositories.AuthEventRepository

	// Services
	Audit *audit.Service

	// Auth
	Keys          *auth0.KeySource
	Validator     *auth0.Validator
	Authenticator *auth0.Authenticator
	UserInfo      *auth0.UserInfoClient
	AuthGateway   *middleware.AuthGateway
}

// NewDependencies creates and wires up all application dependencies.
// The database and the audit sink are only initialized when audit is enabled.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Audit.Enabled {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := deps.initAudit(cfg); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize audit: %w", err)
		}
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.warmKeys(ctx)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the PostgreSQL pool and ensures the audit schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.AuthEvents = postgres.NewAuthEventRepository(db, d.Logger)
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	d.Audit = audit.NewService(d.AuthEvents, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	return d.Audit.Start()
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	issuer := cfg.Auth0.Issuer()
	httpClient := &http.Client{Timeout: cfg.Auth0.FetchTimeout}

	keys, err := auth0.NewKeySource(auth0.KeySourceConfig{
		Issuer:             issuer,
		HTTPClient:         httpClient,
		RefreshInterval:    cfg.Auth0.RefreshInterval,
		FetchTimeout:       cfg.Auth0.FetchTimeout,
		RetryBackoff:       cfg.Auth0.RetryBackoff,
		MinRefreshInterval: cfg.Auth0.MinRefreshInterval,
	}, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create key source: %w", err)
	}

	validator, err := auth0.NewValidator(auth0.Policy{
		Issuer:            issuer,
		Audiences:         cfg.Auth0.AcceptedAudiences(),
		AllowedAlgorithms: cfg.Auth0.AllowedAlgorithms,
		Leeway:            cfg.Auth0.Leeway,
	})
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	d.Keys = keys
	d.Validator = validator
	d.Authenticator = auth0.NewAuthenticator(keys, validator, d.Logger)
	d.UserInfo = auth0.NewUserInfoClient(issuer, httpClient)

	var recorder audit.Recorder
	if d.Audit != nil {
		recorder = d.Audit
	}
	d.AuthGateway = middleware.NewAuthGateway(d.Authenticator, recorder, middleware.GatewayConfig{
		SecondaryHeader:    cfg.Auth0.SecondaryHeader,
		MaxSecondaryTokens: cfg.Auth0.MaxSecondaryTokens,
	}, d.Logger)

	d.Logger.Info("auth initialized",
		zap.String("issuer", issuer),
		zap.Strings("audiences", validator.Policy().Audiences))
	return nil
}

// warmKeys loads the signing keys once at startup. A failure is not fatal:
// the first request retries the fetch.
func (d *Dependencies) warmKeys(ctx context.Context) {
	if _, err := d.Keys.Config(ctx, time.Now()); err != nil {
		d.Logger.Warn("initial signing key fetch failed", zap.Error(err))
		return
	}
	d.Logger.Info("signing keys loaded", zap.Int("keys", d.Keys.Stats().KeyCount))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain audit events before the database goes away
	if d.Audit != nil {
		timeout := auditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
