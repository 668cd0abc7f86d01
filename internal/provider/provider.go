// Package provider は外部ニュースプロバイダのアダプタを提供する。
//
// 各アダプタはプロバイダ固有のレコード型を返す。レコード型はRecordで
// 閉じたタグ付きユニオンを構成し、正規化処理は型スイッチで各型専用の
// マッピング関数に振り分ける。
package provider

import (
	"context"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsagg/internal/model"
)

// プロバイダ名
const (
	NameNewsAPI = "newsapi"
	NameGNews   = "gnews"
	NameFeed    = "rss"
)

// Record はプロバイダ固有の生レコード。
// このパッケージで定義された型のみが実装できる。
type Record interface {
	// ProviderName はレコードの取得元プロバイダ名を返す。
	ProviderName() string
	isRecord()
}

// NewsAPIRecord はnewsapi.orgの記事レコード。
type NewsAPIRecord struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// ProviderName はRecordを実装する。
func (NewsAPIRecord) ProviderName() string { return NameNewsAPI }
func (NewsAPIRecord) isRecord()            {}

// GNewsRecord はgnews.ioの記事レコード。
type GNewsRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	Image       string `json:"image"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}

// ProviderName はRecordを実装する。
func (GNewsRecord) ProviderName() string { return NameGNews }
func (GNewsRecord) isRecord()            {}

// FeedRecord はRSS/Atomフィードの1エントリ。
type FeedRecord struct {
	Item      *gofeed.Item
	FeedTitle string
}

// ProviderName はRecordを実装する。
func (FeedRecord) ProviderName() string { return NameFeed }
func (FeedRecord) isRecord()            {}

// Fetcher はカテゴリ単位で生レコードを取得するプロバイダアダプタ。
// pageSizeは取得件数のヒントであり、プロバイダによっては上限として扱われる。
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, category model.Category, pageSize int) ([]Record, error)
}
