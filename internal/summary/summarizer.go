// Package summary は記事要約を生成する。外部のLLMが利用できない場合もエラーにせず、
// タイトルを切り詰めた要約にフォールバックする。
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/newsagg/internal/article"
)

// SystemPrompt はLLMに渡す要約指示。
const SystemPrompt = "You are a news summarizer. Create a concise 1-2 sentence summary (max 150 characters) that captures the key facts and main point of the article."

const (
	// MaxSummaryLength は生成する要約の最大文字数。
	MaxSummaryLength = 150
	// MinContentLength は要約対象とする本文の最小文字数。これ未満は本文をそのまま返す。
	MinContentLength = 100

	// maxPromptContentLength はLLMに送る本文の最大文字数。
	maxPromptContentLength = 4000
)

// Completer はチャット形式のテキスト補完を行う外部サービス。
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// FallbackRecorder はフォールバック発生を記録する。
type FallbackRecorder interface {
	RecordSummaryFallback()
}

// Summarizer は記事の要約を生成する。
type Summarizer struct {
	completer Completer
	timeout   time.Duration
	recorder  FallbackRecorder
	logger    *slog.Logger
}

// NewSummarizer はSummarizerを生成する。
// completerがnilの場合、要約は常にタイトルへのフォールバックとなる。recorderはnilでもよい。
func NewSummarizer(completer Completer, timeout time.Duration, recorder FallbackRecorder, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		completer: completer,
		timeout:   timeout,
		recorder:  recorder,
		logger:    logger,
	}
}

// Summarize はタイトルと本文テキストから要約を生成する。失敗することはない。
func (s *Summarizer) Summarize(ctx context.Context, title, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return title
	}
	if article.RuneLen(content) < MinContentLength {
		return content
	}

	if s.completer == nil {
		s.logger.Debug("要約サービスが未設定のためタイトルを要約として使用します",
			slog.String("title", title),
		)
		return s.fallback(title)
	}

	completion, err := s.complete(ctx, title, content)
	if err != nil {
		s.logger.Warn("要約の生成に失敗しました",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return s.fallback(title)
	}

	return article.Ellipsize(completion, MaxSummaryLength)
}

func (s *Summarizer) complete(ctx context.Context, title, content string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	user := fmt.Sprintf("Title: %s\n\nContent: %s", title, article.TruncateRunes(content, maxPromptContentLength))
	completion, err := s.completer.Complete(ctx, SystemPrompt, user)
	if err != nil {
		return "", err
	}

	completion = strings.TrimSpace(completion)
	if completion == "" {
		return "", ErrEmptyCompletion
	}
	return completion, nil
}

func (s *Summarizer) fallback(title string) string {
	if s.recorder != nil {
		s.recorder.RecordSummaryFallback()
	}
	return Fallback(title)
}

// Fallback はタイトルから代替要約を作る。150文字を超える場合は先頭147文字と"..."にする。
func Fallback(title string) string {
	return article.Ellipsize(title, MaxSummaryLength)
}
