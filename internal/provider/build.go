package provider

import (
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/newsagg/internal/model"
)

// Settings はプロバイダの資格情報とフィード設定。
type Settings struct {
	NewsAPIKey  string
	GNewsAPIKey string
	FeedURLs    map[string][]string // カテゴリ名 → フィードURL
}

// URLValidator は設定されたフィードURLを静的に検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Build は資格情報が設定されているプロバイダのみでアダプタ一覧を構築する。
// 資格情報の有無は起動時に一度だけ判定し、呼び出しごとの分岐は持たない。
// 戻り値の順序（newsapi, gnews, rss）は重複排除時の優先順位になる。
func Build(s Settings, client *resty.Client, validator URLValidator, logger *slog.Logger) []Fetcher {
	var fetchers []Fetcher

	if s.NewsAPIKey != "" {
		fetchers = append(fetchers, NewNewsAPIFetcher(client, s.NewsAPIKey))
	}
	if s.GNewsAPIKey != "" {
		fetchers = append(fetchers, NewGNewsFetcher(client, s.GNewsAPIKey))
	}

	feeds := make(map[model.Category][]string)
	for name, urls := range s.FeedURLs {
		category, ok := model.ParseCategory(name)
		if !ok {
			logger.Warn("未知のカテゴリのフィード設定を無視します",
				slog.String("category", name),
			)
			continue
		}
		for _, u := range urls {
			if err := validator.ValidateURL(u); err != nil {
				logger.Warn("安全でないフィードURLを無視します",
					slog.String("feed_url", u),
					slog.String("error", err.Error()),
				)
				continue
			}
			feeds[category] = append(feeds[category], u)
		}
	}
	if len(feeds) > 0 {
		fetchers = append(fetchers, NewFeedFetcher(client, feeds, logger))
	}

	names := make([]string, 0, len(fetchers))
	for _, f := range fetchers {
		names = append(names, f.Name())
	}
	logger.Info("ニュースプロバイダを構成しました",
		slog.Any("providers", names),
		slog.Int("feed_categories", len(feeds)),
	)

	return fetchers
}
