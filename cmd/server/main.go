package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ElonQian1/QuickTalk--sub006/internal/clientinfo"
	"github.com/ElonQian1/QuickTalk--sub006/internal/config"
	"github.com/ElonQian1/QuickTalk--sub006/internal/handler"
	"github.com/ElonQian1/QuickTalk--sub006/internal/middleware"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/logger"
	"github.com/ElonQian1/QuickTalk--sub006/internal/ratelimit"
	"github.com/ElonQian1/QuickTalk--sub006/internal/repository"
	"github.com/ElonQian1/QuickTalk--sub006/internal/resolver"
	"github.com/ElonQian1/QuickTalk--sub006/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(cfg.Server.Mode)

	// 3. Persistence (Postgres > Redis > Memory)
	var (
		db          *gorm.DB
		redisClient *redis.Client
		tenantRepo  service.TenantRepoCRUD
		tenantSrc   service.TenantSource
		pgAudit     *repository.PostgresAccessLogRepo
		accessRepo  service.AccessLogRepo
	)
	if cfg.Database.DSN != "" {
		db, err = repository.NewDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(db); err != nil {
				log.Fatalf("Failed to migrate database: %v", err)
			}
		}
		logger.Info("✅ Connected to PostgreSQL")
		repo := repository.NewPostgresTenantRepo(db)
		tenantRepo = repo
		tenantSrc = repo
		pgAudit = repository.NewPostgresAccessLogRepo(db)
	}
	if cfg.Redis.Addr != "" && (cfg.Audit.Sink == "redis" || (cfg.Audit.Sink == "auto" && pgAudit == nil)) {
		redisClient, err = repository.NewRedisClient(cfg)
		if err != nil {
			logger.Error("⚠️ Failed to connect to Redis, access logs will not use it", "error", err)
			redisClient = nil
		} else {
			logger.Info("✅ Connected to Redis")
		}
	}

	switch cfg.Audit.Sink {
	case "postgres":
		if pgAudit == nil {
			log.Fatal("audit.sink=postgres requires database.dsn")
		}
		accessRepo = pgAudit
	case "redis":
		if redisClient == nil {
			log.Fatal("audit.sink=redis requires a reachable redis.addr")
		}
		accessRepo = repository.NewRedisAccessLogRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
	case "memory":
	default:
		if pgAudit != nil {
			accessRepo = pgAudit
		} else if redisClient != nil {
			accessRepo = repository.NewRedisAccessLogRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
		}
	}

	// 4. Core Services
	policies, err := cfg.Policies()
	if err != nil {
		log.Fatalf("Invalid rate limit config: %v", err)
	}
	limiters := ratelimit.NewLimiters(policies, nil)
	limiters.Start()

	dns, err := resolver.New(
		resolver.WithTTL(cfg.Gateway.DNS.CacheTTL),
		resolver.WithNegativeTTL(cfg.Gateway.DNS.NegativeTTL),
		resolver.WithTimeout(cfg.Gateway.DNS.Timeout),
		resolver.WithLogger(logger.With("component", "resolver")),
	)
	if err != nil {
		log.Fatalf("Failed to initialize DNS cache: %v", err)
	}

	rootCtx, stopBackground := context.WithCancel(context.Background())
	registry := service.NewTenantRegistry(cfg.SeedTenants(), tenantSrc, cfg.Gateway.RegistryRefresh, logger.With("component", "registry"))
	registry.Start(rootCtx)

	auditor, err := service.NewAccessAuditor(accessRepo, service.AuditorOptions{
		QueueSize:    cfg.Audit.QueueSize,
		BufferSize:   cfg.Audit.BufferSize,
		LogDir:       cfg.Audit.LogDir,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, logger.With("component", "auditor"))
	if err != nil {
		log.Fatalf("Failed to initialize access auditor: %v", err)
	}
	if pgAudit != nil && accessRepo == pgAudit && cfg.Database.AuditRetentionDays > 0 {
		go runRetention(rootCtx, pgAudit, time.Duration(cfg.Database.AuditRetentionDays)*24*time.Hour, cfg.Database.CleanupInterval)
	}

	extractor := clientinfo.NewExtractor(
		clientinfo.WithProxyHeaders(cfg.Gateway.TrustProxyHeaders),
		clientinfo.WithLogger(logger.With("component", "clientinfo")),
	)
	engine := service.NewTrustEngine(dns, service.TrustOptions{
		OpenRegistryBypass: cfg.Gateway.OpenRegistryBypass,
		DevDomains:         cfg.Gateway.DevDomains,
	}, logger.With("component", "trust"))
	admission := service.NewAdmission(extractor, registry, engine, limiters, auditor, logger.With("component", "admission"))

	if cfg.Gateway.OpenRegistryBypass {
		logger.Warn("⚠️ open_registry_bypass is enabled: every origin is admitted while no shop is registered")
	}
	if cfg.Gateway.TrustProxyHeaders {
		logger.Warn("⚠️ trust_proxy_headers is enabled: client IPs are taken from X-Forwarded-For and similar headers, only safe behind a proxy that overwrites them")
	}
	if cfg.Gateway.AdminReadOnly {
		logger.Warn("admin API is read-only: shop changes are rejected")
	}
	logger.Warn("rate limit windows and the DNS cache are per process; running several instances multiplies the effective limits")

	// 5. Handlers
	tenantSvc := service.NewTenantService(registry, tenantRepo, dns)
	clientHandler := handler.NewClientHandler(service.NewLogMessageSink(logger.With("component", "messages")), cfg.Gateway.PublicURL)
	tenantHandler := handler.NewTenantHandler(tenantSvc)
	auditHandler := handler.NewAuditHandler(auditor)
	gatewayHandler := handler.NewGatewayHandler(limiters, registry, auditor, dns)

	// 6. Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AdmissionMiddleware(
		admission,
		middleware.GatewayScope{
			ProtectedPrefix: cfg.Gateway.ProtectedPrefix,
			ExemptPrefixes:  cfg.Gateway.ExemptPrefixes,
		},
		middleware.NewRouteClassifier(cfg.Gateway.Routes),
	))

	r.GET("/health", func(c *gin.Context) {
		status := registry.Status()
		code := http.StatusOK
		if !status.Loaded {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": "ok", "service": "quicktalk-gateway", "registry": status})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	client := r.Group("/api/client")
	{
		client.GET("/config", clientHandler.Config)
		client.POST("/messages", clientHandler.SendMessage)
		client.GET("/connect", clientHandler.Connect)
		client.POST("/integration-code", clientHandler.IntegrationCode)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.ClassRateLimitMiddleware(limiters, extractor, model.ClassAdminAPI))
	admin.Use(middleware.AdminMiddleware(cfg))
	admin.Use(middleware.ReadOnlyMiddleware(cfg.Gateway.AdminReadOnly,
		"/api/admin/gateway/ratelimits",
		"/api/admin/gateway/dns/:domain",
	))
	{
		admin.GET("/shops", tenantHandler.List)
		admin.POST("/shops", tenantHandler.Create)
		admin.GET("/shops/:id", tenantHandler.Get)
		admin.PUT("/shops/:id", tenantHandler.Update)
		admin.PUT("/shops/:id/status", tenantHandler.SetStatus)
		admin.DELETE("/shops/:id", tenantHandler.Delete)

		admin.GET("/access-logs", auditHandler.List)

		admin.GET("/gateway/status", gatewayHandler.Status)
		admin.DELETE("/gateway/ratelimits", gatewayHandler.ResetRateLimits)
		admin.DELETE("/gateway/dns/:domain", gatewayHandler.InvalidateDNS)
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("🚀 QuickTalk gateway started", "port", cfg.Server.Port, "shops", registry.Status().Shops)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	stopBackground()
	registry.Close()
	limiters.Close()
	auditor.Close()
	dns.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("Server exiting")
}

// runRetention 定期删除超过保留期的审计记录
func runRetention(ctx context.Context, repo *repository.PostgresAccessLogRepo, retention, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cctx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := repo.Cleanup(cctx, retention)
			cancel()
			if err != nil {
				logger.Warn("access log cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("access log cleanup", "deleted", n)
			}
		}
	}
}
