// Package event は新着記事イベントの発行を提供する。
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/newsagg/internal/model"
)

// EventSource はメッセージの発行元を示す固定値。
const EventSource = "newsagg"

// articlePayload はイベントに含める記事の表現。本文は含めない。
type articlePayload struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	URL             string    `json:"url"`
	ImageURL        string    `json:"image_url,omitempty"`
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	PublishedAt     time.Time `json:"published_at"`
	IsDateEstimated bool      `json:"is_date_estimated"`
	RelevanceScore  int       `json:"relevance_score"`
	Tags            []string  `json:"tags"`
}

// ArticleCreatedMessage は新着記事イベントのメッセージ。
type ArticleCreatedMessage struct {
	Article     articlePayload `json:"article"`
	PublishedAt time.Time      `json:"published_at"`
	Source      string         `json:"source"`
}

// Conn はNATS接続のうち発行に必要な操作。
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher は新着記事をNATSのサブジェクトに発行する。
type NATSPublisher struct {
	conn    Conn
	subject string
	now     func() time.Time
}

// NewNATSPublisher はNATSPublisherを生成する。
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		now:     time.Now,
	}
}

// NewArticleCreatedMessage は記事からイベントメッセージを組み立てる。
func NewArticleCreatedMessage(a model.Article, publishedAt time.Time) ArticleCreatedMessage {
	return ArticleCreatedMessage{
		Article: articlePayload{
			ID:              a.ID,
			Title:           a.Title,
			Summary:         a.Summary,
			URL:             a.URL,
			ImageURL:        a.ImageURL,
			Source:          a.Source,
			Category:        string(a.Category),
			PublishedAt:     a.PublishedAt,
			IsDateEstimated: a.IsDateEstimated,
			RelevanceScore:  a.RelevanceScore,
			Tags:            a.Tags,
		},
		PublishedAt: publishedAt,
		Source:      EventSource,
	}
}

// PublishArticles は記事ごとに1メッセージを発行し、最後にフラッシュする。
// 個々の発行失敗は集約して返す。
func (p *NATSPublisher) PublishArticles(ctx context.Context, articles []model.Article) error {
	var errs []error
	publishedAt := p.now().UTC()

	for _, a := range articles {
		data, err := json.Marshal(NewArticleCreatedMessage(a, publishedAt))
		if err != nil {
			errs = append(errs, fmt.Errorf("記事 %s のシリアライズに失敗: %w", a.ID, err))
			continue
		}
		if err := p.conn.Publish(p.subject, data); err != nil {
			errs = append(errs, fmt.Errorf("記事 %s の発行に失敗: %w", a.ID, err))
		}
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("NATSのフラッシュに失敗: %w", err))
	}

	return errors.Join(errs...)
}

// Connect はNATSサーバーに接続する。切断・再接続はログに記録する。
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("newsagg"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断されました", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続しました", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// コンパイル時チェック
var _ Conn = (*nats.Conn)(nil)
