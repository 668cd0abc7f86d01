package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsagg/internal/aggregator"
	"github.com/hitoshi/newsagg/internal/middleware"
	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/news"
)

// NewsServiceInterface はニュースハンドラーが必要とするサービスインターフェース。
type NewsServiceInterface interface {
	ListArticles(ctx context.Context, req news.ListRequest) ([]*model.Article, error)
	SearchArticles(ctx context.Context, req news.SearchRequest) ([]*model.Article, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	Interact(ctx context.Context, id, action string) (*model.Article, error)
	CategoryStats(ctx context.Context) ([]model.CategoryStats, error)
	Aggregate(ctx context.Context) (*aggregator.CycleResult, error)
}

// NewsHandler はニュースAPIのHTTPハンドラー。
type NewsHandler struct {
	service NewsServiceInterface
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(service NewsServiceInterface) *NewsHandler {
	return &NewsHandler{service: service}
}

// --- レスポンス型 ---

// articleResponse は記事のレスポンス。
type articleResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	Content         string    `json:"content"` // サニタイズ済みHTML
	URL             string    `json:"url"`
	ImageURL        string    `json:"image_url,omitempty"`
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	PublishedAt     time.Time `json:"published_at"`
	IsDateEstimated bool      `json:"is_date_estimated"`
	RelevanceScore  int       `json:"relevance_score"`
	Tags            []string  `json:"tags"`
	Sentiment       string    `json:"sentiment"`
}

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles []articleResponse `json:"articles"`
	Count    int               `json:"count"`
}

// categoryStatsResponse はカテゴリ別集計のレスポンス。
type categoryStatsResponse struct {
	Category          string     `json:"category"`
	Count             int64      `json:"count"`
	AvgRelevance      float64    `json:"avg_relevance"`
	LatestPublishedAt *time.Time `json:"latest_published_at,omitempty"`
}

// interactRequest は記事操作リクエストのボディ。
type interactRequest struct {
	Action string `json:"action"`
}

// interactResponse は記事操作後のレスポンス。
type interactResponse struct {
	ID             string `json:"id"`
	Action         string `json:"action"`
	RelevanceScore int    `json:"relevance_score"`
}

// aggregateResponse は即時集約のレスポンス。
type aggregateResponse struct {
	Persisted  int     `json:"persisted"`
	Fetched    int     `json:"fetched"`
	Duplicates int     `json:"duplicates"`
	Failed     int     `json:"failed"`
	Deleted    int64   `json:"deleted"`
	DurationMs float64 `json:"duration_ms"`
}

func toArticleResponse(a *model.Article) articleResponse {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return articleResponse{
		ID:              a.ID,
		Title:           a.Title,
		Summary:         a.Summary,
		Content:         a.Content,
		URL:             a.URL,
		ImageURL:        a.ImageURL,
		Source:          a.Source,
		Category:        string(a.Category),
		PublishedAt:     a.PublishedAt,
		IsDateEstimated: a.IsDateEstimated,
		RelevanceScore:  a.RelevanceScore,
		Tags:            tags,
		Sentiment:       string(a.Sentiment),
	}
}

func toArticleListResponse(articles []*model.Article) articleListResponse {
	resp := articleListResponse{Articles: make([]articleResponse, 0, len(articles))}
	for _, a := range articles {
		resp.Articles = append(resp.Articles, toArticleResponse(a))
	}
	resp.Count = len(resp.Articles)
	return resp
}

// ListNews は記事一覧を取得する。
// GET /api/news?category=&sort=latest|trending&limit=&offset=
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	articles, err := h.service.ListArticles(r.Context(), news.ListRequest{
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		Limit:    q.Get("limit"),
		Offset:   q.Get("offset"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toArticleListResponse(articles))
}

// SearchNews は記事を全文検索する。
// GET /api/news/search?q=&category=&limit=
func (h *NewsHandler) SearchNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	articles, err := h.service.SearchArticles(r.Context(), news.SearchRequest{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Limit:    q.Get("limit"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toArticleListResponse(articles))
}

// CategoryStats はカテゴリ別の集計を返す。
// GET /api/news/categories/stats
func (h *NewsHandler) CategoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.CategoryStats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]categoryStatsResponse, 0, len(stats))
	for _, s := range stats {
		entry := categoryStatsResponse{
			Category:     string(s.Category),
			Count:        s.Count,
			AvgRelevance: s.AvgRelevance,
		}
		if !s.LatestPublishedAt.IsZero() {
			latest := s.LatestPublishedAt
			entry.LatestPublishedAt = &latest
		}
		resp = append(resp, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetNews は記事を取得する。閲覧として関連度が1加算される。
// GET /api/news/{id}
func (h *NewsHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	article, err := h.service.GetArticle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toArticleResponse(article))
}

// Interact は記事への操作を記録し、更新後の関連度を返す。
// POST /api/news/{id}/interact
func (h *NewsHandler) Interact(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	article, err := h.service.Interact(r.Context(), chi.URLParam(r, "id"), req.Action)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, interactResponse{
		ID:             article.ID,
		Action:         req.Action,
		RelevanceScore: article.RelevanceScore,
	})
}

// Aggregate は集約サイクルを同期実行し、結果の件数を返す。
// POST /api/news/aggregate
func (h *NewsHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Aggregate(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, aggregateResponse{
		Persisted:  len(result.Persisted),
		Fetched:    result.Fetched,
		Duplicates: result.Duplicates,
		Failed:     result.Failed,
		Deleted:    result.Deleted,
		DurationMs: float64(result.Duration.Nanoseconds()) / float64(time.Millisecond),
	})
}
