package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/nearverify/internal/config"
	"github.com/hitoshi/nearverify/internal/database"
	"github.com/hitoshi/nearverify/internal/events"
	"github.com/hitoshi/nearverify/internal/handler"
	"github.com/hitoshi/nearverify/internal/metrics"
	"github.com/hitoshi/nearverify/internal/middleware"
	"github.com/hitoshi/nearverify/internal/near"
	"github.com/hitoshi/nearverify/internal/repository"
	"github.com/hitoshi/nearverify/internal/security"
	"github.com/hitoshi/nearverify/internal/signature"
	"github.com/hitoshi/nearverify/internal/verification"
	"github.com/hitoshi/nearverify/internal/zkverify"
)

// server はAPIサーバーの組み立て済みの依存関係。
type server struct {
	Handler http.Handler
	Status  *verification.StatusService
	Lister  *verification.Lister

	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer は設定からすべての依存関係を組み立てる。
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *server, err error) {
	srv := &server{}
	defer func() {
		if err != nil {
			srv.Close()
		}
	}()

	// 1. セッションストア
	store, health, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, closeStore)

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 3. 外部サービスのクライアント
	nearClient := near.NewClient(cfg.NearRPCURL, near.NewHTTPClient(cfg.NearRPCTimeout), logger.With(slog.String("component", "near")))
	contract := near.NewVerificationContract(nearClient, cfg.NearVerificationContract)

	zk := zkverify.NewVerifier(zkverify.Config{
		RPCURLs:    cfg.CeloRPCURLs,
		HubAddress: cfg.SelfHubAddress,
		Timeout:    cfg.ZKVerifyTimeout,
	}, nil, logger.With(slog.String("component", "zkverify")))

	var keys signature.AccessKeyViewer
	if cfg.SignatureCheckKeyOwnership {
		keys = nearClient
	}
	sigVerifier := signature.NewVerifier(cfg.SignatureRecipient, keys, logger.With(slog.String("component", "signature")))

	sanitizer := security.NewMessageSanitizer(cfg.MaxMessageLength)

	// 4. ドメインサービス
	svcLogger := logger.With(slog.String("component", "verification"))
	reconciler := verification.NewReconciler(zk, sigVerifier, sanitizer, cfg.SignatureRecipient, mc, svcLogger)
	srv.Lister = verification.NewLister(contract, reconciler, verification.ListerConfig{
		CacheTTL:       cfg.ListingCacheTTL,
		CacheSize:      cfg.ListingCacheSize,
		MaxConcurrency: cfg.ListingMaxConcurrency,
	}, mc, svcLogger)
	srv.Status = verification.NewStatusService(store, contract, mc, svcLogger)

	// 5. イベント（複数インスタンス間のキャッシュ無効化）
	publisher, closeEvents, err := connectEvents(cfg, srv.Lister, logger)
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, closeEvents)

	sessions := verification.NewSessionService(store, srv.Lister, publisher, sanitizer, mc, svcLogger)

	// 6. ルーター
	rl := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	srv.closers = append(srv.closers, rl.Stop)

	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       rl,
		StatusObserver:    mc,
		WebhookSecret:     cfg.WebhookSecret,
		AdminAPIKey:       cfg.AdminAPIKey,
		StatusService:     srv.Status,
		SessionService:    sessions,
		AccountService:    srv.Lister,
		HealthChecker:     health,
		MetricsHandler:    metrics.Handler(reg),
	})

	return srv, nil
}

// openSessionStore は設定されたバックエンドのセッションストアを開く。
// 返すHealthCheckerはメモリバックエンドではnil。
func openSessionStore(ctx context.Context, cfg *config.Config) (repository.SessionStore, handler.HealthChecker, func(), error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		store := repository.NewRedisSessionStore(client)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("redis_url", redactURL(cfg.RedisURL)))
		return store, store, func() { client.Close() }, nil

	case config.SessionBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		store := repository.NewPostgresSessionRepo(db)
		if err := store.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return store, store, func() { db.Close() }, nil

	default:
		slog.Warn("using in-memory session store; sessions are lost on restart and not shared between instances")
		return repository.NewMemorySessionStore(), nil, func() {}, nil
	}
}

// connectEvents はNATSが設定されていれば接続し、検証完了イベントでキャッシュを無効化する。
// 未設定の場合は何も配信しないPublisherを返す。
func connectEvents(cfg *config.Config, cache verification.CacheInvalidator, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.Noop{}, func() {}, nil
	}

	bus, err := events.Connect(cfg.NATSURL, logger.With(slog.String("component", "events")))
	if err != nil {
		return nil, nil, err
	}

	sub, err := bus.SubscribeVerificationCompleted(func(e events.VerificationCompleted) {
		removed := cache.InvalidateCache()
		logger.Debug("verification.completed received",
			slog.String("account_id", e.AccountID),
			slog.Int("removed", removed),
		)
	})
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	return bus, func() {
		_ = sub.Unsubscribe()
		bus.Close()
	}, nil
}

// rateLimiterConfig は req/min/IP の設定を RateLimiterConfig に変換する。
// 0以下の値はデフォルトを使う。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitStatus > 0 {
		rl.StatusRate = rate.Limit(float64(cfg.RateLimitStatus) / 60.0)
		rl.StatusBurst = max(cfg.RateLimitStatus/2, 1)
	}
	if cfg.RateLimitSession > 0 {
		rl.SessionRate = rate.Limit(float64(cfg.RateLimitSession) / 60.0)
		rl.SessionBurst = cfg.RateLimitSession
	}
	if cfg.RateLimitAccounts > 0 {
		rl.AccountsRate = rate.Limit(float64(cfg.RateLimitAccounts) / 60.0)
		rl.AccountsBurst = max(cfg.RateLimitAccounts/3, 1)
	}
	return rl
}
