package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsagg/internal/aggregator"
	"github.com/hitoshi/newsagg/internal/config"
	"github.com/hitoshi/newsagg/internal/database"
	"github.com/hitoshi/newsagg/internal/event"
	"github.com/hitoshi/newsagg/internal/handler"
	"github.com/hitoshi/newsagg/internal/lock"
	"github.com/hitoshi/newsagg/internal/logger"
	"github.com/hitoshi/newsagg/internal/metrics"
	"github.com/hitoshi/newsagg/internal/middleware"
	"github.com/hitoshi/newsagg/internal/news"
	"github.com/hitoshi/newsagg/internal/provider"
	"github.com/hitoshi/newsagg/internal/repository"
	"github.com/hitoshi/newsagg/internal/security"
	"github.com/hitoshi/newsagg/internal/summary"
	"github.com/hitoshi/newsagg/internal/worker/cleanup"
	"github.com/hitoshi/newsagg/internal/worker/schedule"
)

const (
	// storeConnectTimeout はストア接続確認のタイムアウト。
	storeConnectTimeout = 10 * time.Second
	// cycleLockKey はサイクルの分散ロックに使うRedisキー。
	cycleLockKey = "newsagg:aggregation-cycle"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	// 機能欠落は起動時に一度だけ警告する
	for _, warning := range cfg.Warnings() {
		slog.Warn("設定に関する警告", slog.String("warning", warning))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
	)

	// SIGINT/SIGTERMでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandAggregate:
		return runAggregate(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components は起動モード間で共有する依存関係。
type components struct {
	store      repository.ArticleRepository
	aggregator *aggregator.Aggregator
	scheduler  *schedule.Scheduler
	registry   *prometheus.Registry
	closers    []func()
}

// Close は外部接続を生成と逆順に閉じる。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// buildComponents はストア・プロバイダ・要約・イベント・ロック・メトリクスを構成し、
// 集約処理とスケジューラをワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	log := slog.Default()
	c := &components{}

	// 1. ストア
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, closeStore)

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(c.registry)

	// 3. プロバイダ（SSRF防止付きクライアント）
	guard := security.NewOutboundGuard()
	providerClient := provider.NewClient(guard.NewSafeClient(cfg.ProviderTimeout, cfg.FetchMaxSize))
	fetchers := provider.Build(provider.Settings{
		NewsAPIKey:  cfg.NewsAPIKey,
		GNewsAPIKey: cfg.GNewsAPIKey,
		FeedURLs:    cfg.FeedURLs,
	}, providerClient, guard, log)

	// 4. 要約（キー未設定時は常にフォールバック）
	var completer summary.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = summary.NewOpenAIClient(
			resty.New().SetTimeout(cfg.SummaryTimeout),
			cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL,
		)
	}
	summarizer := summary.NewSummarizer(completer, cfg.SummaryTimeout, collector, log)

	// 5. 新着記事イベント（任意）
	deps := aggregator.Deps{
		Fetchers:   fetchers,
		Store:      store,
		Summarizer: summarizer,
		Sanitizer:  security.NewContentSanitizer(),
		Sweeper:    cleanup.NewCleanupJob(store, cfg.RetentionWindow, log),
		Recorder:   collector,
		Logger:     log,
	}
	if cfg.NATSURL != "" {
		nc, err := event.Connect(cfg.NATSURL, log)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() { nc.Close() })
		deps.Publisher = event.NewNATSPublisher(nc, cfg.NATSSubject)
		slog.Info("NATSに接続しました", slog.String("subject", cfg.NATSSubject))
	}

	aggCfg := aggregator.DefaultConfig()
	aggCfg.PageSize = cfg.PageSize
	aggCfg.ProviderTimeout = cfg.ProviderTimeout
	c.aggregator = aggregator.New(aggCfg, deps)

	// 6. スケジューラ（Redisがあればプロセス間ロックを使う）
	opts := []schedule.Option{schedule.WithRecorder(collector)}
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			// ロックなしでも一意制約で重複は防げるため継続する
			slog.Warn("Redisに接続できないため分散ロックなしで実行します",
				slog.String("error", err.Error()),
			)
		} else {
			c.closers = append(c.closers, func() { rdb.Close() })
			opts = append(opts, schedule.WithLocker(lock.NewRedisLocker(rdb, cycleLockKey, cfg.CycleLockTTL)))
		}
	}
	c.scheduler = schedule.NewScheduler(c.aggregator, cfg.AggregationInterval, log, opts...)

	return c, nil
}

// openStore はSTORE_DRIVERに応じて記事ストアを開く。
func openStore(ctx context.Context, cfg *config.Config) (repository.ArticleRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI, storeConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoArticleRepo(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		slog.Info("mongo connection established", slog.String("database", cfg.MongoDatabase))
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		db, err := database.Connect(ctx, cfg.DatabaseURL, storeConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database connection established")
		return repository.NewPostgresArticleRepo(db), func() { db.Close() }, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 即時集約用に集約処理をワイヤリングするが、定期実行は行わない。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAggregate),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		NewsService:       news.NewService(c.store, c.scheduler, slog.Default()),
		Health:            c.store,
		Metrics:           metrics.Handler(c.registry),
	})

	// 即時集約はサイクル全体を同期実行するため書き込みタイムアウトを長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動直後と一定間隔ごとに集約サイクルを実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("worker starting",
		slog.Duration("aggregation_interval", cfg.AggregationInterval),
		slog.Duration("retention_window", cfg.RetentionWindow),
	)

	c.scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runAggregate は集約サイクルを1回実行して終了する。
func runAggregate(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	slog.Info("aggregation completed",
		slog.Int("fetched", result.Fetched),
		slog.Int("persisted", len(result.Persisted)),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
		slog.Int64("deleted", result.Deleted),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// MongoDBではインデックス作成のみを行う。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMongo {
		_, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		closeStore()
		slog.Info("mongo store requires no migrations; indexes ensured")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
