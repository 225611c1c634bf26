package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/citygrid-api/api/swagger"
	"github.com/noah-isme/citygrid-api/internal/handler"
	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/repository"
	"github.com/noah-isme/citygrid-api/internal/service"
	"github.com/noah-isme/citygrid-api/migrations"
	"github.com/noah-isme/citygrid-api/pkg/cache"
	"github.com/noah-isme/citygrid-api/pkg/config"
	"github.com/noah-isme/citygrid-api/pkg/database"
	"github.com/noah-isme/citygrid-api/pkg/geo"
	"github.com/noah-isme/citygrid-api/pkg/influx"
	"github.com/noah-isme/citygrid-api/pkg/jobs"
	"github.com/noah-isme/citygrid-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/citygrid-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/citygrid-api/pkg/middleware/requestid"
	"github.com/noah-isme/citygrid-api/pkg/mqtt"
	"github.com/noah-isme/citygrid-api/pkg/storage"
)

// @title CityGrid API
// @version 1.0.0
// @description Zero-trust access control for city infrastructure operations
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type alertBus interface {
	Topic(parts ...string) string
	PublishJSON(topic string, v interface{}, retained bool) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		version, err := database.Migrate(db.DB, migrations.FS, database.Up, 0)
		if err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
		logr.Info("database migrated", zap.Uint("version", version))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	locator, err := geo.LoadStaticLocator(cfg.Geo.TableFile)
	if err != nil {
		logr.Fatal("failed to load geo table", zap.Error(err))
	}
	permissions, err := service.LoadPermissionTable(cfg.Permissions.File, logr)
	if err != nil {
		logr.Fatal("failed to load permission table", zap.Error(err))
	}

	var bus alertBus
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, logr)
		if err != nil {
			logr.Fatal("failed to connect mqtt broker", zap.Error(err))
		}
		defer client.Close()
		bus = client
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	observers := []service.ThreatObserver{}
	if bus != nil {
		observers = append(observers, service.NewAlertBusObserver(bus, logr))
	}
	if cfg.InfluxDB.Enabled {
		history, err := influx.Connect(cfg.InfluxDB, logr)
		if err != nil {
			logr.Fatal("failed to connect influxdb", zap.Error(err))
		}
		defer history.Close()
		observers = append(observers, service.NewHistoryObserver(history))
	}

	accountRepo := repository.NewAccountRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	exportRepo := repository.NewExportJobRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	revokedRepo := repository.NewRevokedTokenRepository(db)
	threatRepo := repository.NewThreatRepository(db)

	dispatcher := service.NewThreatDispatcher(0, metrics, logr, observers...)
	threatSvc := service.NewThreatService(threatRepo, metrics, logr, service.ThreatConfig{
		LockdownThreshold:   cfg.ZeroTrust.LockdownThreshold,
		RestrictedThreshold: cfg.ZeroTrust.RestrictedThreshold,
		DecayAmount:         cfg.ZeroTrust.DecayAmount,
	}, dispatcher)
	trustSvc := service.NewTrustService(accountRepo, threatSvc, metrics, logr, service.TravelConfig{
		MaxSpeedKMH:      cfg.Geo.MaxSpeedKMH,
		CriticalSpeedKMH: cfg.Geo.CriticalSpeedKMH,
	})
	auditSvc := service.NewAuditService(auditRepo, repository.NewThrottleRepository(redisClient), metrics, logr, cfg.ZeroTrust.AuditThrottleWindow)
	revocationSvc := service.NewRevocationService(repository.NewRevocationCache(redisClient), revokedRepo, logr)
	tokenSvc := service.NewTokenService(refreshRepo, revocationSvc, accountRepo, threatSvc, metrics, logr, service.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.Expiration,
		RefreshTTL:    cfg.JWT.RefreshExpiration,
	})
	authSvc := service.NewAuthService(service.AuthDependencies{
		Accounts: accountRepo,
		Codes:    repository.NewPhoneCodeRepository(redisClient),
		Tokens:   tokenSvc,
		Revoker:  revocationSvc,
		Trust:    trustSvc,
		Threats:  threatSvc,
		Audit:    auditSvc,
		Limiter:  service.NewLoginLimiter(cfg.LoginRateLimit.PerMinute, cfg.LoginRateLimit.Burst),
		Locator:  locator,
		Metrics:  metrics,
	}, validate, logr, service.AuthConfig{
		TrustFloor:      cfg.ZeroTrust.TrustFloor,
		MaxFailedLogins: cfg.ZeroTrust.MaxFailedLogins,
		PhoneCodeTTL:    cfg.PhoneVerification.CodeTTL,
	})
	overrideSvc := service.NewOverrideService(accountRepo, repository.NewOverrideLimiter(redisClient), permissions, auditSvc, bus, logr, service.OverrideConfig{
		GrantDuration:      cfg.Override.GrantDuration,
		MaxRequestsPerHour: cfg.Override.MaxRequestsPerHour,
	})
	assetSvc := service.NewAssetService(assetRepo, bus, validate, logr)
	gatekeeper := service.NewGatekeeper(tokenSvc, accountRepo, assetRepo, permissions, threatSvc, trustSvc, auditSvc, metrics, logr, service.GatekeeperConfig{
		TrustFloor:            cfg.ZeroTrust.TrustFloor,
		LockdownThreshold:     cfg.ZeroTrust.LockdownThreshold,
		RestrictedThreshold:   cfg.ZeroTrust.RestrictedThreshold,
		AuditAllowedDecisions: cfg.ZeroTrust.AuditAllowedDecisions,
	})

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportCfg := service.AuditExportConfig{
		APIPrefix:       cfg.APIPrefix,
		MaxRows:         cfg.Exports.MaxRows,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	}
	worker := service.NewAuditExportWorker(exportRepo, auditRepo, files, signer, metrics, logr, exportCfg)
	queue := jobs.NewQueue("audit-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		JobTimeout: 2 * time.Minute,
		OnFailure:  worker.OnFailure,
		Logger:     logr,
	})
	exportSvc := service.NewAuditExportService(exportRepo, queue, files, signer, validate, logr, exportCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	queue.Start(ctx)
	defer queue.Stop()
	exportSvc.StartCleanup(ctx)
	decay := service.NewDecayScheduler(threatSvc, cfg.ZeroTrust.DecayInterval, logr)
	decay.Start(ctx)
	defer decay.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	handler.RegisterRoutes(r, handler.Routes{
		APIPrefix:   cfg.APIPrefix,
		Gatekeeper:  gatekeeper,
		Permissions: permissions,
		Auth:        handler.NewAuthHandler(authSvc, overrideSvc, cfg.Cookie),
		Assets:      handler.NewAssetHandler(assetSvc),
		Security:    handler.NewSecurityHandler(threatSvc, logr),
		Audit:       handler.NewAuditHandler(auditSvc, exportSvc),
		Metrics: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"postgres": db,
			"redis":    handler.PingerFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		}),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
