package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/newsagg/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const articleColumns = `id, title, summary, content, url, image_url, source, category,
	published_at, is_date_estimated, relevance_score, is_active, tags, sentiment,
	created_at, updated_at`

// searchVector はマイグレーションで作成したGINインデックスと同一の式。
const searchVector = `to_tsvector('english', title || ' ' || summary)`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var imageURL sql.NullString
	var category, sentiment string

	err := row.Scan(
		&a.ID, &a.Title, &a.Summary, &a.Content, &a.URL, &imageURL, &a.Source, &category,
		&a.PublishedAt, &a.IsDateEstimated, &a.RelevanceScore, &a.IsActive,
		pq.Array(&a.Tags), &sentiment, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ImageURL = nullStringValue(imageURL)
	a.Category = model.Category(category)
	a.Sentiment = model.Sentiment(sentiment)

	return a, nil
}

// FindByURL はURLで記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE url = $1`, url,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる記事の検索に失敗しました: %w", err)
	}
	return a, nil
}

// FindByID は指定IDの有効な記事を取得する。見つからない場合はnilを返す。
// UUID形式でないIDは存在しないものとして扱う。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1 AND is_active`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create は記事を作成する。URLの一意制約違反はErrDuplicateURLとして返す。
func (r *PostgresArticleRepo) Create(ctx context.Context, a *model.Article) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (id, title, summary, content, url, image_url, source, category,
		                       published_at, is_date_estimated, relevance_score, is_active, tags, sentiment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING created_at, updated_at`,
		a.ID, a.Title, a.Summary, a.Content, a.URL, nullString(a.ImageURL), a.Source, string(a.Category),
		a.PublishedAt, a.IsDateEstimated, a.RelevanceScore, a.IsActive, pq.Array(tags), string(a.Sentiment),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// DeletePublishedBefore はpublished_atがcutoffより古い記事を削除する。
func (r *PostgresArticleRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE published_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// List は有効な記事を並び順・カテゴリ・ページ指定に従って取得する。
func (r *PostgresArticleRepo) List(ctx context.Context, q model.ArticleQuery) ([]*model.Article, error) {
	var where []string
	var args []any

	where = append(where, "is_active")
	if q.Category != "" {
		args = append(args, string(q.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	orderBy := "published_at DESC"
	if q.Sort == model.SortTrending {
		orderBy = "relevance_score DESC, published_at DESC"
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM articles WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		articleColumns, strings.Join(where, " AND "), orderBy, len(args)-1, len(args),
	)

	return r.queryArticles(ctx, query, args...)
}

// Search は全文検索インデックスを用いて記事を検索する。関連度順、同点は新しい順。
func (r *PostgresArticleRepo) Search(ctx context.Context, text string, category model.Category, limit int) ([]*model.Article, error) {
	args := []any{text}
	where := []string{"is_active", searchVector + " @@ plainto_tsquery('english', $1)"}
	if category != "" {
		args = append(args, string(category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM articles WHERE %s
		 ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC, published_at DESC
		 LIMIT $%d`,
		articleColumns, strings.Join(where, " AND "), searchVector, len(args),
	)

	return r.queryArticles(ctx, query, args...)
}

// IncrementRelevance は関連度スコアを上限100で加算する。
func (r *PostgresArticleRepo) IncrementRelevance(ctx context.Context, id string, points int) (*model.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`UPDATE articles
		 SET relevance_score = LEAST(GREATEST(relevance_score + $2, 0), 100), updated_at = now()
		 WHERE id = $1 AND is_active
		 RETURNING `+articleColumns,
		id, points,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("関連度スコアの更新に失敗しました: %w", err)
	}
	return a, nil
}

// CategoryStats はカテゴリ別の集計を件数の降順で返す。
func (r *PostgresArticleRepo) CategoryStats(ctx context.Context) ([]model.CategoryStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(AVG(relevance_score), 0), MAX(published_at)
		 FROM articles WHERE is_active
		 GROUP BY category
		 ORDER BY COUNT(*) DESC, category`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ統計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stats []model.CategoryStats
	for rows.Next() {
		var s model.CategoryStats
		var category string
		if err := rows.Scan(&category, &s.Count, &s.AvgRelevance, &s.LatestPublishedAt); err != nil {
			return nil, fmt.Errorf("カテゴリ統計の読み取りに失敗しました: %w", err)
		}
		s.Category = model.Category(category)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ統計の読み取りに失敗しました: %w", err)
	}
	return stats, nil
}

// Count は有効な記事の件数を返す。
func (r *PostgresArticleRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE is_active`).Scan(&count); err != nil {
		return 0, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresArticleRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresArticleRepo) queryArticles(ctx context.Context, query string, args ...any) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}
	return articles, nil
}

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// コンパイル時チェック
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
