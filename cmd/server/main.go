package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/tesmileage/internal/api/geocoder"
	"github.com/langchou/tesmileage/internal/api/handlers"
	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/config"
	"github.com/langchou/tesmileage/internal/events"
	"github.com/langchou/tesmileage/internal/lock"
	"github.com/langchou/tesmileage/internal/metrics"
	"github.com/langchou/tesmileage/internal/repository"
	"github.com/langchou/tesmileage/internal/service"
	"github.com/langchou/tesmileage/internal/sink"
	"github.com/langchou/tesmileage/internal/state"
	"github.com/langchou/tesmileage/internal/vault"
	"github.com/langchou/tesmileage/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Tesmileage", zap.String("port", cfg.ServerPort))

	// 缺少密钥时仍然启动，相关请求返回配置错误
	if err := cfg.Validate(); err != nil {
		logger.Warn("Configuration incomplete", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewPoolStatsCollector(db.Pool),
	)
	m := metrics.New(reg)

	// Repository
	credentialRepo := repository.NewCredentialRepository(db.Pool)
	profileRepo := repository.NewProfileRepository(db.Pool)
	pkceRepo := repository.NewPKCERepository(db.Pool)
	vehicleRepo := repository.NewVehicleRepository(db.Pool)
	readingRepo := repository.NewReadingRepository(db.Pool)
	statusRepo := repository.NewSyncStatusRepository(db.Pool)
	auditRepo := repository.NewAuditRepository(db.Pool)

	// 凭据仓库
	var cipher *vault.Cipher
	if cfg.TokenEncryptionKey != "" {
		cipher, err = vault.NewCipher(cfg.TokenEncryptionKey)
		if err != nil {
			logger.Fatal("Failed to init token cipher", zap.Error(err))
		}
	}
	credVault := vault.New(cipher, credentialRepo, profileRepo, logger)

	// Tesla API 客户端
	teslaClient := tesla.NewClient(tesla.Options{
		AuthHost:     cfg.TeslaAuthHost,
		TokenURL:     cfg.TeslaTokenURL,
		APIHost:      cfg.TeslaAPIHost,
		ClientID:     cfg.TeslaClientID,
		ClientSecret: cfg.TeslaClientSecret,
		RedirectURI:  cfg.TeslaRedirectURI,
		Scopes:       cfg.TeslaScopes,
		Audience:     cfg.TeslaAudience,
	})

	// WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Close()

	// 审计事件
	recorder := service.NewRecorder(statusRepo, auditRepo, logger).WithBroadcaster(wsHub)
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer publisher.Close()
		recorder.WithPublisher(publisher)
		logger.Info("Audit events published to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// 全量同步互斥
	var guard lock.Guard = lock.NewLocal()
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		guard = lock.NewRedis(rdb, "tesmileage:sync:all", cfg.SyncLockTTL)
	}

	// 行程外发
	var trips service.TripSink = sink.Discard{}
	if cfg.TripSinkURL != "" {
		trips = sink.NewWebhook(cfg.TripSinkURL, logger, m)
	}

	states := state.NewManager(func(vehicleID int64, from, to string) {
		logger.Debug("Wake state changed", zap.Int64("vehicle_id", vehicleID), zap.String("from", from), zap.String("to", to))
	})

	tokens := service.NewTokenManager(credVault, teslaClient, recorder, cfg.TokenRefreshSkew, logger, m)
	directory := service.NewVehicleDirectory(teslaClient, vehicleRepo, readingRepo, statusRepo, credVault, tokens, states, recorder, logger)
	pkce := service.NewPKCEService(teslaClient, pkceRepo, credVault, directory, recorder, cfg.PKCEStateTTL, logger)

	orchestrator := service.NewOrchestrator(
		credVault,
		tokens,
		vehicleRepo,
		readingRepo,
		service.NewWakeController(teslaClient, states, cfg.WakePollInterval, cfg.WakeTimeout, logger, m),
		service.NewFetcher(teslaClient, cfg.FetchMaxAttempts, cfg.FetchRetryDelay, logger, m),
		service.NewReconciler(readingRepo, trips, logger),
		recorder,
		guard,
		service.OrchestratorOptions{
			Concurrency: cfg.SyncConcurrency,
			ErrorsLimit: cfg.SyncErrorsLimit,
			Interval:    cfg.SyncInterval,
		},
		logger,
		m,
	).WithBroadcaster(wsHub)
	if cfg.GeocodeEnabled {
		orchestrator.WithGeocoder(geocoder.NewClient(geocoder.Options{AmapAPIKey: cfg.AmapAPIKey}, logger))
	}

	// 新连接推送用户的车辆列表
	wsHub.SetInitDataProvider(func(userID string) interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		vehicles, err := directory.List(ctx, userID)
		if err != nil {
			logger.Warn("Failed to load websocket init data", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		return gin.H{"vehicles": vehicles}
	})

	orchestrator.Start(ctx)

	// HTTP 处理器
	handler := handlers.NewHandler(logger, pkce, orchestrator, directory, wsHub, reg, cfg.AuthJWTSecret, cfg.CronSecret)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 先取消根 context，让进行中的同步尽快退出
	cancel()
	orchestrator.Stop()

	// 优雅关闭；同步运行可能较长
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Cron-Secret")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
