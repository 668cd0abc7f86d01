// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, news, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidCategory   = "INVALID_CATEGORY"
	ErrCodeInvalidSort       = "INVALID_SORT"
	ErrCodeInvalidPagination = "INVALID_PAGINATION"
	ErrCodeInvalidQuery      = "INVALID_QUERY"
	ErrCodeInvalidAction     = "INVALID_ACTION"
	ErrCodeCycleInProgress   = "CYCLE_IN_PROGRESS"
	ErrCodeAggregationFailed = "AGGREGATION_FAILED"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "news",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidCategoryError は無効なカテゴリエラーを生成する。
func NewInvalidCategoryError(category string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCategory,
		Message:  fmt.Sprintf("無効なカテゴリです: %s", category),
		Category: "validation",
		Action:   "technology、business、sports、entertainment、health、science、politics、general のいずれかを指定してください。",
	}
}

// NewInvalidSortError は無効な並び順エラーを生成する。
func NewInvalidSortError(sort string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSort,
		Message:  fmt.Sprintf("無効な並び順です: %s", sort),
		Category: "validation",
		Action:   "並び順には latest または trending を指定してください。",
	}
}

// NewInvalidPaginationError は無効なlimit/offsetエラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("無効なページ指定です: %s", reason),
		Category: "validation",
		Action:   "limitは1〜50、offsetは0以上の整数を指定してください。",
	}
}

// NewInvalidQueryError は無効な検索クエリエラーを生成する。
func NewInvalidQueryError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  "検索キーワードが指定されていません。",
		Category: "validation",
		Action:   "qパラメータに検索キーワードを指定してください。",
	}
}

// NewInvalidActionError は無効な操作種別エラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("無効な操作です: %s", action),
		Category: "validation",
		Action:   "操作には view、click、share、like のいずれかを指定してください。",
	}
}

// NewCycleInProgressError は集約サイクル実行中エラーを生成する。
func NewCycleInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeCycleInProgress,
		Message:  "ニュース集約サイクルが既に実行中です。",
		Category: "news",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAggregationFailedError は集約失敗エラーを生成する。
func NewAggregationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAggregationFailed,
		Message:  "ニュースの集約に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
