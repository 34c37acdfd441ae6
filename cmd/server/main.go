package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mqcontracts "jobinbox/contracts/mq"
	"jobinbox/internal/classifier"
	"jobinbox/internal/config"
	"jobinbox/internal/credential"
	"jobinbox/internal/handler"
	"jobinbox/internal/httpserver"
	"jobinbox/internal/hub"
	"jobinbox/internal/llm"
	"jobinbox/internal/mailbox"
	"jobinbox/internal/mqhandler"
	"jobinbox/internal/repository"
	"jobinbox/internal/service"
	"jobinbox/internal/watcher"
	"jobinbox/pkg/db"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/mq"
	"jobinbox/pkg/otel"
	"jobinbox/pkg/rbac"
	redisclient "jobinbox/pkg/redis"
	"jobinbox/pkg/util"
)

const devJWTSecret = "dev-secret-change-in-production"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog := logger.NewLogger(cfg.Env)
	defer zlog.Sync()

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	zlog.Info("Starting jobinbox...",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Server.Port),
		zap.Bool("db_enabled", cfg.DB.Enabled),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	shutdownOTel, err := otel.Init(cfg.OTel, zlog)
	if err != nil {
		zlog.Warn("OpenTelemetry init failed, tracing disabled", zap.Error(err))
		shutdownOTel = func() {}
	}

	if cfg.JWT.Secret == "" {
		if cfg.Env != "local" {
			zlog.Fatal("JWT secret is required outside local")
		}
		zlog.Warn("JWT secret not set, using development secret")
		cfg.JWT.Secret = devJWTSecret
	}
	if cfg.Credential.Key == "" {
		zlog.Warn("Credential key not set, OAuth tokens are stored unsealed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB（可选，失败时退回内存存储）
	var pool *pgxpool.Pool
	if cfg.DB.Enabled {
		pool, err = db.NewConnection(cfg.DB, zlog)
		if err != nil {
			zlog.Warn("Database unavailable, falling back to in-memory stores", zap.Error(err))
			pool = nil
		}
	}

	// Redis（可选）
	var (
		rdb     *redis.Client
		deduper *util.Deduper
	)
	if cfg.Redis.Enabled {
		rdb, err = redisclient.NewRedisClient(cfg.Redis)
		if err != nil {
			zlog.Warn("Redis unavailable, dedup and relay disabled", zap.Error(err))
			rdb = nil
		} else {
			deduper = util.NewDeduperWithLogger(rdb, cfg.Watcher.DedupTTL, zlog)
		}
	}

	// Stores
	memStore := repository.NewMemoryCategorizationRepository()
	var (
		store        repository.CategorizationStore = memStore
		durableCreds credential.Store
		users        service.UserLookup
	)
	if pool != nil {
		store = repository.NewFallbackStore(repository.NewPostgresCategorizationRepository(pool, zlog), memStore)
		userRepo := repository.NewUserRepository(pool)
		users = userRepo
		durableCreds = credential.NewPostgresStore(userRepo, credential.NewSealer(cfg.Credential.Key), zlog)
	}
	creds := credential.NewFallbackStore(durableCreds, credential.NewMemoryStore(), zlog)

	// Mailbox provider
	oauthCfg := mailbox.NewOAuthConfig(cfg.Google)
	gmail := mailbox.NewGmail(oauthCfg, zlog, mailbox.WithTokenRefreshHook(func(ctx context.Context, c credential.Credential) {
		if err := creds.Put(ctx, c); err != nil {
			zlog.Warn("Failed to persist refreshed token", zap.String("owner", c.Owner), zap.Error(err))
		}
	}))

	// Classifier
	provider, closeProvider, err := llm.New(ctx, cfg.LLM, zlog)
	if err != nil {
		zlog.Fatal("Failed to init LLM provider", zap.Error(err))
	}
	defer closeProvider()
	cls := classifier.New(provider, classifier.Config{
		BatchSize:  cfg.Classifier.BatchSize,
		BatchDelay: cfg.Classifier.BatchDelay,
		Policy:     classifier.RetryPolicyWithBase(cfg.Classifier.RetryBase),
	}, zlog)

	// Hub
	authz := rbac.NewAuthorizer(cfg.JWT.Admins)
	h := hub.New(hub.NewJWTAuthenticator(cfg.JWT.Secret, cfg.Hub.AllowEmailAuth), hub.Config{
		SweepInterval: cfg.Hub.SweepInterval,
		WriteTimeout:  cfg.Hub.WriteTimeout,
	}, zlog)
	go h.Run(ctx)
	if rdb != nil {
		relay := hub.NewRedisRelay(rdb, cfg.Hub.RelayChannel, h, zlog)
		h.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("Hub relay stopped", zap.Error(err))
			}
		}()
	}

	// Watcher
	w := watcher.New(creds, gmail, cls, store, h, deduper, watcher.Config{
		FetchLimit: cfg.Watcher.FetchLimit,
		Threshold:  cfg.Watcher.Threshold,
	}, zlog)

	// MQ（可选）：push 入口发布，consumer 处理
	var (
		publisher *mq.Publisher
		consumer  *mq.Consumer
		pub       service.Publisher
	)
	if cfg.MQ.Enabled {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			zlog.Warn("MQ publisher unavailable, notifications handled inline", zap.Error(err))
			publisher = nil
		}
		consumer, err = mq.NewConsumer(cfg.MQ.URL, mqcontracts.QueueMailboxChanged, mqcontracts.RoutingKeyMailboxChanged, zlog)
		if err != nil {
			zlog.Warn("MQ consumer unavailable", zap.Error(err))
			consumer = nil
		}
		// 没有 consumer 时发布出去的通知无人处理
		if publisher != nil && consumer != nil {
			pub = publisher
		}
	}
	if consumer != nil {
		consumer.SetHandler(mqhandler.NewMailboxChangedHandler(w, zlog).Handle)
		consumer.SetAckMode(mq.AckBeforeHandle)
		go func() {
			zlog.Info("Starting mailbox.changed consumer...")
			if err := consumer.StartConsuming(); err != nil {
				zlog.Error("mailbox.changed consumer failed", zap.Error(err))
			}
		}()
	}

	// Services
	emails := service.NewEmailService(gmail, cls, store, zlog)
	auth := service.NewAuthService(
		oauthCfg,
		service.NewGoogleProfiles(oauthCfg),
		creds,
		gmail,
		users,
		emails,
		authz,
		service.AuthConfig{
			JWTSecret: cfg.JWT.Secret,
			TokenTTL:  cfg.JWT.TTL,
			Topic:     cfg.Google.PubSubTopic,
		},
		zlog,
	)
	ingress := service.NewIngressService(pub, w, zlog)

	// HTTP
	ready := map[string]httpserver.Pinger{}
	if pool != nil {
		ready["db"] = pool
	}
	if rdb != nil {
		ready["redis"] = httpserver.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router := httpserver.NewRouter(httpserver.Handlers{
		Auth:  handler.NewAuthHandler(auth, cfg.Google.FrontendURL, cfg.Env == "production", zlog),
		Email: handler.NewEmailHandler(emails, creds, zlog),
		Push:  handler.NewPushHandler(ingress, zlog),
		Admin: handler.NewAdminHandler(h, zlog),
		Hub:   h,
	}, httpserver.Options{
		JWTSecret:      cfg.JWT.Secret,
		Authz:          authz,
		OriginPatterns: cfg.Hub.OriginPatterns,
		Ready:          ready,
	}, zlog)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	zlog.Info("jobinbox is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down jobinbox gracefully...")

	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		zlog.Info("HTTP server stopped")
	}

	// 停止探活并关闭所有推送连接
	cancel()
	ingress.Wait()

	if publisher != nil {
		publisher.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if pool != nil {
		pool.Close()
	}
	shutdownOTel()

	zlog.Info("jobinbox shutdown complete")
}
