// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/newsagg/internal/model"
)

// ErrDuplicateURL は同一URLの記事が既に存在する場合に返される。
// 集約処理では「既存記事」として扱い、致命的なエラーにしない。
var ErrDuplicateURL = errors.New("article with the same url already exists")

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByURL はURLで記事を検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Article, error)

	// FindByID は指定IDの有効な記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// Create は記事を作成する。URLが重複する場合はErrDuplicateURLを返す。
	Create(ctx context.Context, article *model.Article) error

	// DeletePublishedBefore はpublished_atがcutoffより古い記事を物理削除し、削除件数を返す。
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// List は有効な記事を条件に従って取得する。
	List(ctx context.Context, query model.ArticleQuery) ([]*model.Article, error)

	// Search はストアのテキストインデックスで記事を検索する。
	// categoryが空文字列の場合は全カテゴリを対象とする。
	Search(ctx context.Context, text string, category model.Category, limit int) ([]*model.Article, error)

	// IncrementRelevance は関連度スコアをpoints加算し（上限100）、更新後の記事を返す。
	// 見つからない場合はnilを返す。
	IncrementRelevance(ctx context.Context, id string, points int) (*model.Article, error)

	// CategoryStats はカテゴリ別の件数・平均関連度・最新公開日時を返す。
	CategoryStats(ctx context.Context) ([]model.CategoryStats, error)

	// Count は有効な記事の件数を返す。
	Count(ctx context.Context) (int64, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
