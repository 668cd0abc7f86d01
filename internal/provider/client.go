package provider

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const userAgent = "newsagg/1.0 (+https://github.com/hitoshi/newsagg)"

// NewClient はプロバイダ呼び出し用のrestyクライアントを生成する。
// httpClientにはSSRF防止付きクライアントを渡すことを想定している。
// 429/5xxに対しては1回だけ再試行する。
func NewClient(httpClient *http.Client) *resty.Client {
	return resty.NewWithClient(httpClient).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			return ClassifyStatus(resp.StatusCode()) == StatusRetryable
		})
}
