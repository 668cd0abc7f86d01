package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/newsagg/internal/model"
)

const defaultNewsAPIEndpoint = "https://newsapi.org/v2/top-headlines"

// newsAPIResponse はnewsapi.orgのレスポンス。記事はarticlesフィールドに含まれる。
type newsAPIResponse struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	TotalResults int             `json:"totalResults"`
	Articles     []NewsAPIRecord `json:"articles"`
}

// NewsAPIFetcher はnewsapi.orgのトップヘッドラインを取得する。
type NewsAPIFetcher struct {
	client   *resty.Client
	apiKey   string
	country  string
	endpoint string // テスト用にエンドポイントを差し替え可能
}

// NewNewsAPIFetcher はNewsAPIFetcherを生成する。
func NewNewsAPIFetcher(client *resty.Client, apiKey string) *NewsAPIFetcher {
	return &NewsAPIFetcher{
		client:   client,
		apiKey:   apiKey,
		country:  "us",
		endpoint: defaultNewsAPIEndpoint,
	}
}

// Name はプロバイダ名を返す。
func (f *NewsAPIFetcher) Name() string { return NameNewsAPI }

// Fetch はカテゴリのトップヘッドラインを取得する。
// newsapiにpoliticsカテゴリはないため、キーワード検索で代替する。
func (f *NewsAPIFetcher) Fetch(ctx context.Context, category model.Category, pageSize int) ([]Record, error) {
	params := map[string]string{
		"apiKey":   f.apiKey,
		"country":  f.country,
		"pageSize": strconv.Itoa(pageSize),
	}
	if category == model.CategoryPolitics {
		params["q"] = "politics"
	} else {
		params["category"] = string(category)
	}

	var body newsAPIResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		SetError(&body).
		ForceContentType("application/json").
		Get(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("newsapiへのリクエストに失敗しました: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Provider: NameNewsAPI, StatusCode: resp.StatusCode(), Message: body.Message}
	}
	if body.Status != "" && body.Status != "ok" {
		return nil, fmt.Errorf("newsapiがエラーを返しました: %s: %s", body.Code, body.Message)
	}

	records := make([]Record, 0, len(body.Articles))
	for _, a := range body.Articles {
		records = append(records, a)
	}
	return records, nil
}
