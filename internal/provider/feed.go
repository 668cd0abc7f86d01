package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsagg/internal/model"
)

// FeedFetcher はカテゴリごとに設定されたRSS/Atomフィードを取得する。
type FeedFetcher struct {
	client *resty.Client
	feeds  map[model.Category][]string
	logger *slog.Logger
}

// NewFeedFetcher はFeedFetcherを生成する。
func NewFeedFetcher(client *resty.Client, feeds map[model.Category][]string, logger *slog.Logger) *FeedFetcher {
	return &FeedFetcher{
		client: client,
		feeds:  feeds,
		logger: logger,
	}
}

// Name はプロバイダ名を返す。
func (f *FeedFetcher) Name() string { return NameFeed }

// Fetch はカテゴリに設定された全フィードを取得し、フィードごとに最大pageSize件を返す。
// 一部のフィードの失敗はログに記録して続行し、全フィードが失敗した場合のみエラーを返す。
func (f *FeedFetcher) Fetch(ctx context.Context, category model.Category, pageSize int) ([]Record, error) {
	urls := f.feeds[category]
	if len(urls) == 0 {
		return nil, nil
	}

	var records []Record
	var lastErr error
	failed := 0

	for _, feedURL := range urls {
		feed, err := f.fetchFeed(ctx, feedURL)
		if err != nil {
			failed++
			lastErr = err
			f.logger.Warn("RSSフィードの取得に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("category", string(category)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for i, item := range feed.Items {
			if i >= pageSize {
				break
			}
			records = append(records, FeedRecord{Item: item, FeedTitle: feed.Title})
		}
	}

	if failed == len(urls) {
		return nil, fmt.Errorf("カテゴリ %s の全フィードの取得に失敗しました: %w", category, lastErr)
	}

	return records, nil
}

func (f *FeedFetcher) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8").
		Get(feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードへのリクエストに失敗しました: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Provider: NameFeed, StatusCode: resp.StatusCode()}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}
	return feed, nil
}
