// Package article は記事の正規化・分類・スコアリングを行う純粋関数群を提供する。
package article

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/provider"
)

var (
	// ErrMissingTitle はタイトルが空のレコードに対して返される。
	ErrMissingTitle = errors.New("article title is empty")
	// ErrMissingURL はURLが空または解釈できないレコードに対して返される。
	ErrMissingURL = errors.New("article url is empty or invalid")
)

// truncationMarker はnewsapiが本文末尾に付与する "[+1234 chars]" 表記。
var truncationMarker = regexp.MustCompile(`\s*(…|\.\.\.)?\s*\[\+\d+ chars\]\s*$`)

// providerDateLayouts はプロバイダの公開日時として受け付ける書式。
var providerDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalize はプロバイダ固有レコードを正規化済み記事に変換する。
// 公開日時が欠落または解釈不能な場合はnowを採用し、IsDateEstimatedをtrueにする。
func Normalize(rec provider.Record, category model.Category, now time.Time) (model.NormalizedArticle, error) {
	var n model.NormalizedArticle

	switch r := rec.(type) {
	case provider.NewsAPIRecord:
		n = fromNewsAPI(r, now)
	case provider.GNewsRecord:
		n = fromGNews(r, now)
	case provider.FeedRecord:
		n = fromFeed(r, now)
	default:
		return model.NormalizedArticle{}, fmt.Errorf("unsupported record type %T", rec)
	}

	n.Provider = rec.ProviderName()

	title := strings.Join(strings.Fields(PlainText(n.Title)), " ")
	if title == "" {
		return model.NormalizedArticle{}, ErrMissingTitle
	}
	n.Title = TruncateRunes(title, model.MaxTitleLength)

	canonical, err := CanonicalURL(n.URL)
	if err != nil {
		return model.NormalizedArticle{}, err
	}
	n.URL = canonical

	if n.ImageURL != "" {
		if img, err := CanonicalURL(n.ImageURL); err == nil {
			n.ImageURL = img
		} else {
			n.ImageURL = ""
		}
	}

	n.Source = strings.TrimSpace(n.Source)
	if n.Source == "" {
		n.Source = n.Provider
	}
	n.Content = strings.TrimSpace(n.Content)
	n.Tags = []string{n.Provider, string(category)}

	return n, nil
}

func fromNewsAPI(r provider.NewsAPIRecord, now time.Time) model.NormalizedArticle {
	publishedAt, estimated := parseProviderDate(r.PublishedAt, now)
	return model.NormalizedArticle{
		Title:           r.Title,
		Content:         stripTruncationMarker(firstNonEmpty(r.Content, r.Description)),
		URL:             r.URL,
		ImageURL:        r.URLToImage,
		Source:          r.Source.Name,
		PublishedAt:     publishedAt,
		IsDateEstimated: estimated,
	}
}

func fromGNews(r provider.GNewsRecord, now time.Time) model.NormalizedArticle {
	publishedAt, estimated := parseProviderDate(r.PublishedAt, now)
	return model.NormalizedArticle{
		Title:           r.Title,
		Content:         stripTruncationMarker(firstNonEmpty(r.Content, r.Description)),
		URL:             r.URL,
		ImageURL:        r.Image,
		Source:          r.Source.Name,
		PublishedAt:     publishedAt,
		IsDateEstimated: estimated,
	}
}

func fromFeed(r provider.FeedRecord, now time.Time) model.NormalizedArticle {
	item := r.Item
	if item == nil {
		return model.NormalizedArticle{}
	}

	publishedAt, estimated := now, true
	switch {
	case item.PublishedParsed != nil:
		publishedAt, estimated = *item.PublishedParsed, false
	case item.UpdatedParsed != nil:
		publishedAt, estimated = *item.UpdatedParsed, false
	}

	return model.NormalizedArticle{
		Title:           item.Title,
		Content:         firstNonEmpty(item.Content, item.Description),
		URL:             item.Link,
		ImageURL:        feedImage(r),
		Source:          r.FeedTitle,
		PublishedAt:     publishedAt.UTC(),
		IsDateEstimated: estimated,
	}
}

// feedImage はフィードエントリの画像URLを返す。image要素、画像型のenclosureの順に探す。
func feedImage(r provider.FeedRecord) string {
	if r.Item.Image != nil && r.Item.Image.URL != "" {
		return r.Item.Image.URL
	}
	for _, enc := range r.Item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// parseProviderDate は公開日時をパースする。失敗時はnowとtrueを返す。
func parseProviderDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, true
	}
	for _, layout := range providerDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false
		}
	}
	return now, true
}

// CanonicalURL はURLを正規化する。スキームとホストを小文字化し、フラグメントを除去する。
// http/https以外のスキームやホストのないURLはErrMissingURLとなる。
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMissingURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrMissingURL)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

func stripTruncationMarker(s string) string {
	return truncationMarker.ReplaceAllString(s, "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
