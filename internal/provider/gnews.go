package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/newsagg/internal/model"
)

const defaultGNewsEndpoint = "https://gnews.io/api/v4/top-headlines"

// gnewsResponse はgnews.ioのレスポンス。
type gnewsResponse struct {
	TotalArticles int             `json:"totalArticles"`
	Articles      []GNewsRecord   `json:"articles"`
	Errors        json.RawMessage `json:"errors"` // 配列またはオブジェクト
}

// gnewsCategories はカテゴリからgnewsのトピック名への対応。
var gnewsCategories = map[model.Category]string{
	model.CategoryTechnology:    "technology",
	model.CategoryBusiness:      "business",
	model.CategorySports:        "sports",
	model.CategoryEntertainment: "entertainment",
	model.CategoryHealth:        "health",
	model.CategoryScience:       "science",
	model.CategoryPolitics:      "nation",
	model.CategoryGeneral:       "general",
}

// GNewsFetcher はgnews.ioのトップヘッドラインを取得する。
type GNewsFetcher struct {
	client   *resty.Client
	apiKey   string
	lang     string
	country  string
	endpoint string // テスト用にエンドポイントを差し替え可能
}

// NewGNewsFetcher はGNewsFetcherを生成する。
func NewGNewsFetcher(client *resty.Client, apiKey string) *GNewsFetcher {
	return &GNewsFetcher{
		client:   client,
		apiKey:   apiKey,
		lang:     "en",
		country:  "us",
		endpoint: defaultGNewsEndpoint,
	}
}

// Name はプロバイダ名を返す。
func (f *GNewsFetcher) Name() string { return NameGNews }

// Fetch はカテゴリのトップヘッドラインを取得する。
func (f *GNewsFetcher) Fetch(ctx context.Context, category model.Category, pageSize int) ([]Record, error) {
	topic, ok := gnewsCategories[category]
	if !ok {
		topic = "general"
	}

	var body gnewsResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apikey":   f.apiKey,
			"category": topic,
			"lang":     f.lang,
			"country":  f.country,
			"max":      strconv.Itoa(pageSize),
		}).
		SetResult(&body).
		SetError(&body).
		ForceContentType("application/json").
		Get(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("gnewsへのリクエストに失敗しました: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Provider: NameGNews, StatusCode: resp.StatusCode(), Message: string(body.Errors)}
	}

	records := make([]Record, 0, len(body.Articles))
	for _, a := range body.Articles {
		records = append(records, a)
	}
	return records, nil
}
