// Package model はドメインモデルを定義する。
package model

import "time"

// 記事フィールドの上限値
const (
	MaxTitleLength    = 200
	MaxSummaryLength  = 500
	MaxRelevanceScore = 100
	MinRelevanceScore = 0
)

// Article は正規化・スコアリング済みの永続化記事を表す。
// URLが同一性のキーであり、同じURLの記事は同一エンティティとして扱う。
type Article struct {
	ID              string
	Title           string
	Summary         string
	Content         string // サニタイズ済みHTML
	URL             string
	ImageURL        string // 空文字列は画像なし
	Source          string
	Category        Category
	PublishedAt     time.Time
	IsDateEstimated bool
	RelevanceScore  int
	IsActive        bool
	Tags            []string
	Sentiment       Sentiment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizedArticle はプロバイダ固有レコードを正規化した中間表現。
// 分類・要約・スコアリング前の状態を保持する。
type NormalizedArticle struct {
	Title           string
	Content         string // プロバイダから受け取った本文（HTMLを含む場合がある）
	URL             string
	ImageURL        string
	Source          string
	Provider        string
	PublishedAt     time.Time
	IsDateEstimated bool
	Tags            []string
}

// Sentiment は記事の感情ラベル。集約処理では算出せず、外部シグナルの受け皿とする。
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ClampRelevance は関連度スコアを0〜100の範囲に収める。
func ClampRelevance(score int) int {
	if score > MaxRelevanceScore {
		return MaxRelevanceScore
	}
	if score < MinRelevanceScore {
		return MinRelevanceScore
	}
	return score
}

// SortOrder は記事一覧の並び順。
type SortOrder string

const (
	// SortLatest は公開日時の降順。
	SortLatest SortOrder = "latest"
	// SortTrending は関連度スコアの降順、同点は公開日時の降順。
	SortTrending SortOrder = "trending"
)

// ParseSortOrder は文字列を並び順に変換する。空文字列はlatestとして扱う。
func ParseSortOrder(s string) (SortOrder, bool) {
	switch SortOrder(s) {
	case "", SortLatest:
		return SortLatest, true
	case SortTrending:
		return SortTrending, true
	default:
		return "", false
	}
}

// Interaction は記事に対するユーザー操作の種別。
type Interaction string

const (
	InteractionView  Interaction = "view"
	InteractionClick Interaction = "click"
	InteractionShare Interaction = "share"
	InteractionLike  Interaction = "like"
)

// interactionPoints は操作ごとの関連度加算値。
var interactionPoints = map[Interaction]int{
	InteractionView:  1,
	InteractionClick: 2,
	InteractionShare: 2,
	InteractionLike:  3,
}

// RelevancePoints は操作に対応する加算値を返す。未知の操作はfalseを返す。
func (i Interaction) RelevancePoints() (int, bool) {
	p, ok := interactionPoints[i]
	return p, ok
}

// CategoryStats はカテゴリ別の集計結果。
type CategoryStats struct {
	Category          Category
	Count             int64
	AvgRelevance      float64
	LatestPublishedAt time.Time
}

// ArticleQuery は記事一覧取得の条件。
type ArticleQuery struct {
	Category Category // 空文字列は全カテゴリ
	Sort     SortOrder
	Limit    int
	Offset   int
}
