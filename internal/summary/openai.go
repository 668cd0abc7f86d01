package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// ErrEmptyCompletion は補完結果が空の場合に返される。
var ErrEmptyCompletion = errors.New("completion is empty")

const (
	openAIMaxTokens   = 100
	openAITemperature = 0.3
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient はOpenAI互換のChat Completions APIを呼び出すCompleter。
type OpenAIClient struct {
	client   *resty.Client
	apiKey   string
	model    string
	endpoint string
}

// NewOpenAIClient はOpenAIClientを生成する。baseURLは "https://api.openai.com/v1" の形式。
func NewOpenAIClient(client *resty.Client, apiKey, model, baseURL string) *OpenAIClient {
	return &OpenAIClient{
		client:   client,
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
	}
}

// Complete はsystem/userメッセージで補完を要求し、最初の選択肢の本文を返す。
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	var body chatCompletionResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(chatCompletionRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			MaxTokens:   openAIMaxTokens,
			Temperature: openAITemperature,
		}).
		SetResult(&body).
		SetError(&body).
		ForceContentType("application/json").
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("chat completions request failed: %w", err)
	}
	if resp.IsError() {
		if body.Error != nil && body.Error.Message != "" {
			return "", fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode(), body.Error.Message)
		}
		return "", fmt.Errorf("chat completions returned status %d", resp.StatusCode())
	}
	if len(body.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return body.Choices[0].Message.Content, nil
}

// コンパイル時チェック
var _ Completer = (*OpenAIClient)(nil)
