package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsagg/internal/aggregator"
	"github.com/hitoshi/newsagg/internal/middleware"
	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/news"
)

// --- モック定義 ---

// mockNewsService はNewsServiceInterfaceのモック実装。
type mockNewsService struct {
	listFn      func(ctx context.Context, req news.ListRequest) ([]*model.Article, error)
	searchFn    func(ctx context.Context, req news.SearchRequest) ([]*model.Article, error)
	getFn       func(ctx context.Context, id string) (*model.Article, error)
	interactFn  func(ctx context.Context, id, action string) (*model.Article, error)
	statsFn     func(ctx context.Context) ([]model.CategoryStats, error)
	aggregateFn func(ctx context.Context) (*aggregator.CycleResult, error)
}

func (m *mockNewsService) ListArticles(ctx context.Context, req news.ListRequest) ([]*model.Article, error) {
	if m.listFn != nil {
		return m.listFn(ctx, req)
	}
	return nil, nil
}

func (m *mockNewsService) SearchArticles(ctx context.Context, req news.SearchRequest) ([]*model.Article, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, req)
	}
	return nil, nil
}

func (m *mockNewsService) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewArticleNotFoundError(id)
}

func (m *mockNewsService) Interact(ctx context.Context, id, action string) (*model.Article, error) {
	if m.interactFn != nil {
		return m.interactFn(ctx, id, action)
	}
	return nil, model.NewArticleNotFoundError(id)
}

func (m *mockNewsService) CategoryStats(ctx context.Context) ([]model.CategoryStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return nil, nil
}

func (m *mockNewsService) Aggregate(ctx context.Context) (*aggregator.CycleResult, error) {
	if m.aggregateFn != nil {
		return m.aggregateFn(ctx)
	}
	return &aggregator.CycleResult{}, nil
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

var testPublishedAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func sampleArticle(id string) *model.Article {
	return &model.Article{
		ID:             id,
		Title:          "Quantum chip breakthrough",
		Summary:        "A new chip.",
		Content:        "<p>A new chip.</p>",
		URL:            "https://example.com/" + id,
		Source:         "Example",
		Category:       model.CategoryScience,
		PublishedAt:    testPublishedAt,
		RelevanceScore: 80,
		Sentiment:      model.SentimentNeutral,
	}
}

// --- GET /api/news ---

func TestNewsHandler_ListNews_Success(t *testing.T) {
	svc := &mockNewsService{
		listFn: func(_ context.Context, req news.ListRequest) ([]*model.Article, error) {
			if req.Category != "science" || req.Sort != "trending" || req.Limit != "5" || req.Offset != "10" {
				t.Errorf("req = %+v", req)
			}
			return []*model.Article{sampleArticle("a1"), sampleArticle("a2")}, nil
		},
	}
	h := NewNewsHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/news?category=science&sort=trending&limit=5&offset=10", nil)
	w := httptest.NewRecorder()
	h.ListNews(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp articleListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Articles) != 2 {
		t.Fatalf("count = %d, articles = %d, want 2", resp.Count, len(resp.Articles))
	}
	if resp.Articles[0].Category != "science" {
		t.Errorf("category = %q, want %q", resp.Articles[0].Category, "science")
	}
	if !resp.Articles[0].PublishedAt.Equal(testPublishedAt) {
		t.Errorf("published_at = %v, want %v", resp.Articles[0].PublishedAt, testPublishedAt)
	}
	if resp.Articles[0].Tags == nil {
		t.Error("tagsは空配列として返されるべき")
	}
}

func TestNewsHandler_ListNews_EmptyReturnsArray(t *testing.T) {
	h := NewNewsHandler(&mockNewsService{})

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/api/news", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"articles":[]`) {
		t.Errorf("空の一覧はnullではなく空配列で返すべき: %s", w.Body.String())
	}
}

func TestNewsHandler_ListNews_ValidationError(t *testing.T) {
	svc := &mockNewsService{
		listFn: func(context.Context, news.ListRequest) ([]*model.Article, error) {
			return nil, model.NewInvalidCategoryError("weather")
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/api/news?category=weather", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeInvalidCategory {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCategory)
	}
}

func TestNewsHandler_ListNews_InternalError(t *testing.T) {
	svc := &mockNewsService{
		listFn: func(context.Context, news.ListRequest) ([]*model.Article, error) {
			return nil, errors.New("connection reset")
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/api/news", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
	if strings.Contains(body.Message, "connection reset") {
		t.Error("内部エラーの詳細をレスポンスに含めるべきではない")
	}
}

// --- GET /api/news/search ---

func TestNewsHandler_SearchNews(t *testing.T) {
	svc := &mockNewsService{
		searchFn: func(_ context.Context, req news.SearchRequest) ([]*model.Article, error) {
			if req.Query != "quantum" {
				t.Errorf("query = %q, want %q", req.Query, "quantum")
			}
			return []*model.Article{sampleArticle("a1")}, nil
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.SearchNews(w, httptest.NewRequest(http.MethodGet, "/api/news/search?q=quantum", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewsHandler_SearchNews_EmptyQuery(t *testing.T) {
	svc := &mockNewsService{
		searchFn: func(context.Context, news.SearchRequest) ([]*model.Article, error) {
			return nil, model.NewInvalidQueryError()
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.SearchNews(w, httptest.NewRequest(http.MethodGet, "/api/news/search", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- GET /api/news/categories/stats ---

func TestNewsHandler_CategoryStats(t *testing.T) {
	svc := &mockNewsService{
		statsFn: func(context.Context) ([]model.CategoryStats, error) {
			return []model.CategoryStats{
				{Category: model.CategoryTechnology, Count: 4, AvgRelevance: 72.5, LatestPublishedAt: testPublishedAt},
			}, nil
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.CategoryStats(w, httptest.NewRequest(http.MethodGet, "/api/news/categories/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp []categoryStatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("len = %d, want 1", len(resp))
	}
	if resp[0].Category != "technology" || resp[0].Count != 4 || resp[0].AvgRelevance != 72.5 {
		t.Errorf("stats = %+v", resp[0])
	}
	if resp[0].LatestPublishedAt == nil || !resp[0].LatestPublishedAt.Equal(testPublishedAt) {
		t.Errorf("latest_published_at = %v, want %v", resp[0].LatestPublishedAt, testPublishedAt)
	}
}

// --- GET /api/news/{id} ---

func TestNewsHandler_GetNews_Success(t *testing.T) {
	svc := &mockNewsService{
		getFn: func(_ context.Context, id string) (*model.Article, error) {
			return sampleArticle(id), nil
		},
	}
	h := NewNewsHandler(svc)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/news/a1", nil), "id", "a1")
	w := httptest.NewRecorder()
	h.GetNews(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp articleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.ID != "a1" {
		t.Errorf("id = %q, want %q", resp.ID, "a1")
	}
}

func TestNewsHandler_GetNews_NotFound(t *testing.T) {
	h := NewNewsHandler(&mockNewsService{})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/news/missing", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.GetNews(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeArticleNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeArticleNotFound)
	}
}

// --- POST /api/news/{id}/interact ---

func TestNewsHandler_Interact_Success(t *testing.T) {
	svc := &mockNewsService{
		interactFn: func(_ context.Context, id, action string) (*model.Article, error) {
			if action != "like" {
				t.Errorf("action = %q, want %q", action, "like")
			}
			a := sampleArticle(id)
			a.RelevanceScore = 83
			return a, nil
		},
	}
	h := NewNewsHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/news/a1/interact", bytes.NewBufferString(`{"action":"like"}`))
	req = withURLParam(req, "id", "a1")
	w := httptest.NewRecorder()
	h.Interact(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp interactResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.RelevanceScore != 83 || resp.Action != "like" || resp.ID != "a1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNewsHandler_Interact_InvalidJSON(t *testing.T) {
	h := NewNewsHandler(&mockNewsService{})

	req := httptest.NewRequest(http.MethodPost, "/api/news/a1/interact", bytes.NewBufferString(`{`))
	req = withURLParam(req, "id", "a1")
	w := httptest.NewRecorder()
	h.Interact(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want %q", body.Code, "INVALID_REQUEST")
	}
}

func TestNewsHandler_Interact_InvalidAction(t *testing.T) {
	svc := &mockNewsService{
		interactFn: func(_ context.Context, _, action string) (*model.Article, error) {
			return nil, model.NewInvalidActionError(action)
		},
	}
	h := NewNewsHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/news/a1/interact", bytes.NewBufferString(`{"action":"bookmark"}`))
	req = withURLParam(req, "id", "a1")
	w := httptest.NewRecorder()
	h.Interact(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- POST /api/news/aggregate ---

func TestNewsHandler_Aggregate_Success(t *testing.T) {
	svc := &mockNewsService{
		aggregateFn: func(context.Context) (*aggregator.CycleResult, error) {
			return &aggregator.CycleResult{
				Fetched:    10,
				Duplicates: 3,
				Failed:     1,
				Persisted:  []model.Article{{ID: "a1"}, {ID: "a2"}},
				Deleted:    4,
				Duration:   1500 * time.Millisecond,
			}, nil
		},
	}
	h := NewNewsHandler(svc)

	w := httptest.NewRecorder()
	h.Aggregate(w, httptest.NewRequest(http.MethodPost, "/api/news/aggregate", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp aggregateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := aggregateResponse{Persisted: 2, Fetched: 10, Duplicates: 3, Failed: 1, Deleted: 4, DurationMs: 1500}
	if resp != want {
		t.Errorf("resp = %+v, want %+v", resp, want)
	}
}

func TestNewsHandler_Aggregate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"cycle in progress", model.NewCycleInProgressError(), http.StatusConflict, model.ErrCodeCycleInProgress},
		{"aggregation failed", model.NewAggregationFailedError(), http.StatusInternalServerError, model.ErrCodeAggregationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockNewsService{
				aggregateFn: func(context.Context) (*aggregator.CycleResult, error) {
					return nil, tt.err
				},
			}
			h := NewNewsHandler(svc)

			w := httptest.NewRecorder()
			h.Aggregate(w, httptest.NewRequest(http.MethodPost, "/api/news/aggregate", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeInvalidCategory, http.StatusBadRequest},
		{model.ErrCodeInvalidSort, http.StatusBadRequest},
		{model.ErrCodeInvalidPagination, http.StatusBadRequest},
		{model.ErrCodeInvalidQuery, http.StatusBadRequest},
		{model.ErrCodeInvalidAction, http.StatusBadRequest},
		{model.ErrCodeArticleNotFound, http.StatusNotFound},
		{model.ErrCodeCycleInProgress, http.StatusConflict},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{model.ErrCodeAggregationFailed, http.StatusInternalServerError},
		{"UNKNOWN", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
