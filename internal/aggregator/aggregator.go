// Package aggregator はニュース集約サイクルを実行する。
//
// 1サイクルはカテゴリごとのプロバイダ並列取得、正規化、URLによる重複排除、
// 分類・要約・スコアリング、保存、新着イベントの発行、保持期間切れ記事の削除で構成される。
// Aggregatorはサイクル間で状態を持たず、定期実行はworker/scheduleが担う。
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsagg/internal/article"
	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/provider"
	"github.com/hitoshi/newsagg/internal/repository"
)

// Store は集約処理が利用する記事ストアの操作。
type Store interface {
	FindByURL(ctx context.Context, url string) (*model.Article, error)
	Create(ctx context.Context, a *model.Article) error
}

// Summarizer は記事要約を生成する。失敗時も代替の要約を返す。
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) string
}

// Sanitizer は保存する本文HTMLを無害化する。
type Sanitizer interface {
	Sanitize(html string) string
}

// Sweeper は保持期間切れの記事を削除する。
type Sweeper interface {
	Run(ctx context.Context) (int64, error)
}

// Publisher は新規保存された記事を外部に通知する。
type Publisher interface {
	PublishArticles(ctx context.Context, articles []model.Article) error
}

// Recorder はサイクル内のメトリクスを記録する。
type Recorder interface {
	RecordFetched(provider string, count int)
	RecordProviderFailure(provider string)
	RecordPersisted(count int)
	RecordDuplicates(count int)
	RecordSwept(count int64)
}

// Config は集約サイクルの設定値。
type Config struct {
	Categories      []model.Category
	PageSize        int
	ProviderTimeout time.Duration
	PublishTimeout  time.Duration
}

// DefaultConfig はデフォルト設定を返す。全カテゴリを対象とする。
func DefaultConfig() Config {
	return Config{
		Categories:      model.AllCategories(),
		PageSize:        20,
		ProviderTimeout: 10 * time.Second,
		PublishTimeout:  5 * time.Second,
	}
}

// Deps はAggregatorの依存関係。PublisherとRecorderは省略できる。
type Deps struct {
	Fetchers   []provider.Fetcher
	Store      Store
	Summarizer Summarizer
	Sanitizer  Sanitizer
	Sweeper    Sweeper
	Publisher  Publisher
	Recorder   Recorder
	Logger     *slog.Logger
}

// CycleResult は1サイクルの実行結果。
type CycleResult struct {
	Fetched    int // プロバイダから受け取ったレコード数
	Unique     int // サイクル内の重複排除後の件数
	Duplicates int // サイクル内の重複と既存記事の合計
	Failed     int // 正規化または保存に失敗した件数
	Persisted  []model.Article
	Deleted    int64
	Duration   time.Duration
}

// Aggregator は集約サイクルを実行する。
type Aggregator struct {
	cfg        Config
	fetchers   []provider.Fetcher
	store      Store
	summarizer Summarizer
	sanitizer  Sanitizer
	sweeper    Sweeper
	publisher  Publisher
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// New はAggregatorを生成する。
func New(cfg Config, deps Deps) *Aggregator {
	if len(cfg.Categories) == 0 {
		cfg.Categories = model.AllCategories()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}

	return &Aggregator{
		cfg:        cfg,
		fetchers:   deps.Fetchers,
		store:      deps.Store,
		summarizer: deps.Summarizer,
		sanitizer:  deps.Sanitizer,
		sweeper:    deps.Sweeper,
		publisher:  deps.Publisher,
		recorder:   recorder,
		logger:     deps.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// errAlreadyStored は候補記事が既に保存済みであることを示す。
var errAlreadyStored = errors.New("article already stored")

// RunCycle は1回の集約サイクルを実行し、新規保存した記事を返す。
// プロバイダ・要約・記事単位の失敗はサイクル内で吸収する。
// エラーを返すのはコンテキストがサイクル途中でキャンセルされた場合のみ。
func (a *Aggregator) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	now := a.now()
	result := &CycleResult{}

	a.logger.Info("集約サイクルを開始します",
		slog.Int("provider_count", len(a.fetchers)),
		slog.Int("category_count", len(a.cfg.Categories)),
	)

	// 重複排除はサイクル全体の候補が揃ってから行う
	var pool []model.NormalizedArticle
	for _, category := range a.cfg.Categories {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("集約サイクルが中断されました: %w", err)
		}

		for _, records := range a.fetchCategory(ctx, category) {
			result.Fetched += len(records)
			for _, rec := range records {
				n, err := article.Normalize(rec, category, now)
				if err != nil {
					result.Failed++
					a.logger.Debug("記事の正規化に失敗したためスキップします",
						slog.String("provider", rec.ProviderName()),
						slog.String("category", string(category)),
						slog.String("error", err.Error()),
					)
					continue
				}
				pool = append(pool, n)
			}
		}
	}

	unique := Deduplicate(pool)
	result.Unique = len(unique)
	result.Duplicates = len(pool) - len(unique)

	for i := range unique {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("集約サイクルが中断されました: %w", err)
		}

		stored, err := a.persist(ctx, &unique[i], now)
		switch {
		case errors.Is(err, errAlreadyStored):
			result.Duplicates++
		case err != nil:
			result.Failed++
			a.logger.Warn("記事の保存に失敗したためスキップします",
				slog.String("title", unique[i].Title),
				slog.String("url", unique[i].URL),
				slog.String("error", err.Error()),
			)
		default:
			result.Persisted = append(result.Persisted, *stored)
		}
	}

	a.publish(ctx, result.Persisted)
	result.Deleted = a.sweep(ctx)

	a.recorder.RecordPersisted(len(result.Persisted))
	a.recorder.RecordDuplicates(result.Duplicates)

	result.Duration = time.Since(start)
	a.logger.Info("集約サイクルが完了しました",
		slog.Int("fetched", result.Fetched),
		slog.Int("unique", result.Unique),
		slog.Int("persisted", len(result.Persisted)),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
		slog.Int64("deleted", result.Deleted),
		slog.Float64("duration_ms", float64(result.Duration.Milliseconds())),
	)

	return result, nil
}

// Deduplicate はURLが同一の記事を除去する。最初の出現を残し、順序を保つ。
func Deduplicate(articles []model.NormalizedArticle) []model.NormalizedArticle {
	seen := make(map[string]struct{}, len(articles))
	unique := make([]model.NormalizedArticle, 0, len(articles))
	for _, n := range articles {
		if _, ok := seen[n.URL]; ok {
			continue
		}
		seen[n.URL] = struct{}{}
		unique = append(unique, n)
	}
	return unique
}

// fetchCategory は全プロバイダに並列で問い合わせ、プロバイダの登録順に結果を返す。
func (a *Aggregator) fetchCategory(ctx context.Context, category model.Category) [][]provider.Record {
	results := make([][]provider.Record, len(a.fetchers))

	var wg sync.WaitGroup
	for i, f := range a.fetchers {
		wg.Add(1)
		go func(i int, f provider.Fetcher) {
			defer wg.Done()
			results[i] = a.fetchSafely(ctx, f, category)
		}(i, f)
	}
	wg.Wait()

	return results
}

type fetchOutcome struct {
	records []provider.Record
	err     error
}

// fetchSafely はプロバイダ呼び出しの境界。タイムアウト・エラー・panicはすべて空の結果になる。
func (a *Aggregator) fetchSafely(ctx context.Context, f provider.Fetcher, category model.Category) []provider.Record {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProviderTimeout)
	defer cancel()

	ch := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fetchOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		records, err := f.Fetch(ctx, category, a.cfg.PageSize)
		ch <- fetchOutcome{records: records, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	if out.err != nil {
		a.recorder.RecordProviderFailure(f.Name())
		a.logger.Warn("プロバイダからの取得に失敗しました",
			slog.String("provider", f.Name()),
			slog.String("category", string(category)),
			slog.String("error", out.err.Error()),
		)
		return nil
	}

	a.recorder.RecordFetched(f.Name(), len(out.records))
	return out.records
}

// persist は未保存の候補記事を分類・要約・スコアリングして保存する。
func (a *Aggregator) persist(ctx context.Context, n *model.NormalizedArticle, now time.Time) (*model.Article, error) {
	existing, err := a.store.FindByURL(ctx, n.URL)
	if err != nil {
		return nil, fmt.Errorf("既存記事の確認に失敗: %w", err)
	}
	if existing != nil {
		return nil, errAlreadyStored
	}

	text := article.PlainText(n.Content)

	summary := article.TruncateRunes(a.summarizer.Summarize(ctx, n.Title, text), model.MaxSummaryLength)
	if summary == "" {
		summary = n.Title
	}

	stored := &model.Article{
		ID:              a.newID(),
		Title:           n.Title,
		Summary:         summary,
		Content:         a.sanitizer.Sanitize(n.Content),
		URL:             n.URL,
		ImageURL:        n.ImageURL,
		Source:          n.Source,
		Category:        article.Categorize(n.Title, text),
		PublishedAt:     n.PublishedAt,
		IsDateEstimated: n.IsDateEstimated,
		RelevanceScore: article.Score(article.ScoreInput{
			Title:       n.Title,
			PlainText:   text,
			HasImage:    n.ImageURL != "",
			PublishedAt: n.PublishedAt,
		}, now),
		IsActive:  true,
		Tags:      n.Tags,
		Sentiment: model.SentimentNeutral,
	}

	if err := a.store.Create(ctx, stored); err != nil {
		if errors.Is(err, repository.ErrDuplicateURL) {
			return nil, errAlreadyStored
		}
		return nil, fmt.Errorf("記事の作成に失敗: %w", err)
	}

	return stored, nil
}

func (a *Aggregator) publish(ctx context.Context, articles []model.Article) {
	if a.publisher == nil || len(articles) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
	defer cancel()

	if err := a.publisher.PublishArticles(ctx, articles); err != nil {
		a.logger.Warn("新着記事イベントの発行に失敗しました",
			slog.Int("article_count", len(articles)),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Aggregator) sweep(ctx context.Context) int64 {
	if a.sweeper == nil {
		return 0
	}

	deleted, err := a.sweeper.Run(ctx)
	if err != nil {
		// エラー内容はSweeper側でログ出力済み
		return 0
	}
	a.recorder.RecordSwept(deleted)
	return deleted
}

type noopRecorder struct{}

func (noopRecorder) RecordFetched(string, int)    {}
func (noopRecorder) RecordProviderFailure(string) {}
func (noopRecorder) RecordPersisted(int)          {}
func (noopRecorder) RecordDuplicates(int)         {}
func (noopRecorder) RecordSwept(int64)            {}
