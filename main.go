package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/sentinelvision/docs"
	"github.com/example/sentinelvision/internal/auth"
	"github.com/example/sentinelvision/internal/config"
	"github.com/example/sentinelvision/internal/handlers"
	"github.com/example/sentinelvision/internal/httpclient"
	"github.com/example/sentinelvision/internal/inference"
	"github.com/example/sentinelvision/internal/logging"
	"github.com/example/sentinelvision/internal/repository"
	"github.com/example/sentinelvision/internal/usecase"
)

// @title SentinelVision API
// @version 1.0
// @description Image moderation API: zero-shot category scoring, captioning, and a threshold verdict policy.
// @BasePath /api

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, cfg, logger)
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	runner, err := httpclient.NewModelRunner(httpclient.Options{
		BaseURL:        cfg.ModelRunnerURL,
		Timeout:        cfg.ModelRunnerTimeout,
		CLIPModelID:    cfg.CLIPModelID,
		CaptionModelID: cfg.CaptionModelID,
		Calibration:    inference.Calibration{Baseline: cfg.CalibrationBaseline, Scale: cfg.CalibrationScale},
	}, logger)
	if err != nil {
		logger.Fatal("failed to configure model runner client", zap.Error(err))
	}

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewAnalysisUseCase(repo, cache, runner, cfg.Thresholds, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()
	r.Use(handlers.CORSMiddleware())

	var middleware []gin.HandlerFunc
	if cfg.AuthEnabled() {
		middleware = append(middleware, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))
	}
	handlers.RegisterRoutes(r, uc, cfg, middleware...)

	docs.SwaggerInfo.BasePath = "/api"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	r.StaticFile("/", "./web/index.html")

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("SentinelVision API listening", zap.String("addr", cfg.ListenAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	logLevel := gormlogger.Warn
	if cfg.Debug {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
