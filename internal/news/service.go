// Package news は記事の閲覧・検索・操作と即時集約のサービスを提供する。
package news

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/newsagg/internal/aggregator"
	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/worker/schedule"
)

// ページ指定の既定値と上限
const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Store はニュースサービスが必要とする記事ストアの操作。
type Store interface {
	List(ctx context.Context, query model.ArticleQuery) ([]*model.Article, error)
	Search(ctx context.Context, text string, category model.Category, limit int) ([]*model.Article, error)
	IncrementRelevance(ctx context.Context, id string, points int) (*model.Article, error)
	CategoryStats(ctx context.Context) ([]model.CategoryStats, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// CycleRunner は排他制御付きで集約サイクルを1回実行する。
type CycleRunner interface {
	RunOnce(ctx context.Context) (*aggregator.CycleResult, error)
}

// Service は記事の閲覧系操作と即時集約を提供する。
type Service struct {
	store  Store
	runner CycleRunner
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(store Store, runner CycleRunner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		runner: runner,
		logger: logger,
	}
}

// ListRequest は記事一覧取得のクエリパラメータ（未検証の文字列）。
type ListRequest struct {
	Category string
	Sort     string
	Limit    string
	Offset   string
}

// SearchRequest は記事検索のクエリパラメータ（未検証の文字列）。
type SearchRequest struct {
	Query    string
	Category string
	Limit    string
}

// ListArticles は条件に合う記事一覧を返す。
// ストアが空の場合は先に即時集約を試み、失敗しても空の一覧を返す。
func (s *Service) ListArticles(ctx context.Context, req ListRequest) ([]*model.Article, error) {
	query, err := parseListRequest(req)
	if err != nil {
		return nil, err
	}

	if err := s.aggregateIfEmpty(ctx); err != nil {
		return nil, err
	}

	return s.store.List(ctx, query)
}

// SearchArticles はテキスト検索で記事を返す。関連度の高い順に並ぶ。
func (s *Service) SearchArticles(ctx context.Context, req SearchRequest) ([]*model.Article, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, model.NewInvalidQueryError()
	}

	category, err := parseOptionalCategory(req.Category)
	if err != nil {
		return nil, err
	}

	limit, err := parseLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	return s.store.Search(ctx, text, category, limit)
}

// GetArticle は記事を取得し、閲覧として関連度を加算する。
func (s *Service) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	return s.Interact(ctx, id, string(model.InteractionView))
}

// Interact は記事への操作に応じて関連度を加算し、更新後の記事を返す。
func (s *Service) Interact(ctx context.Context, id, action string) (*model.Article, error) {
	points, ok := model.Interaction(action).RelevancePoints()
	if !ok {
		return nil, model.NewInvalidActionError(action)
	}

	article, err := s.store.IncrementRelevance(ctx, id, points)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return article, nil
}

// CategoryStats はカテゴリ別の集計を返す。
func (s *Service) CategoryStats(ctx context.Context) ([]model.CategoryStats, error) {
	return s.store.CategoryStats(ctx)
}

// Aggregate は集約サイクルを同期実行する。
// 実行中のサイクルがある場合はCYCLE_IN_PROGRESS、その他の失敗は詳細を伏せてAGGREGATION_FAILEDを返す。
func (s *Service) Aggregate(ctx context.Context) (*aggregator.CycleResult, error) {
	result, err := s.runner.RunOnce(ctx)
	if errors.Is(err, schedule.ErrCycleInProgress) {
		return nil, model.NewCycleInProgressError()
	}
	if err != nil {
		s.logger.Error("即時集約に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewAggregationFailedError()
	}
	return result, nil
}

// Ping はストアへの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// aggregateIfEmpty はストアが空の場合に集約サイクルを同期実行する。
// サイクル自体の失敗は一覧取得を妨げない。
func (s *Service) aggregateIfEmpty(ctx context.Context) error {
	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	s.logger.Info("記事が存在しないため即時集約を実行します")
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.logger.Warn("空ストアに対する即時集約に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func parseListRequest(req ListRequest) (model.ArticleQuery, error) {
	category, err := parseOptionalCategory(req.Category)
	if err != nil {
		return model.ArticleQuery{}, err
	}

	sort, ok := model.ParseSortOrder(req.Sort)
	if !ok {
		return model.ArticleQuery{}, model.NewInvalidSortError(req.Sort)
	}

	limit, err := parseLimit(req.Limit)
	if err != nil {
		return model.ArticleQuery{}, err
	}

	offset := 0
	if req.Offset != "" {
		offset, err = strconv.Atoi(req.Offset)
		if err != nil || offset < 0 {
			return model.ArticleQuery{}, model.NewInvalidPaginationError("offset=" + req.Offset)
		}
	}

	return model.ArticleQuery{
		Category: category,
		Sort:     sort,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// parseOptionalCategory は空文字列を全カテゴリとして扱う。
func parseOptionalCategory(s string) (model.Category, error) {
	if s == "" {
		return "", nil
	}
	category, ok := model.ParseCategory(s)
	if !ok {
		return "", model.NewInvalidCategoryError(s)
	}
	return category, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 1 || limit > MaxLimit {
		return 0, model.NewInvalidPaginationError("limit=" + s)
	}
	return limit, nil
}
