package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/newsagg/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ニュース
	NewsService NewsServiceInterface

	// 運用エンドポイント
	Health  Pinger
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS
//
// /api/* にはさらにRateLimit(General)を適用し、即時集約にはRateLimit(Aggregate)を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	newsHandler := NewNewsHandler(deps.NewsService)

	// --- 運用エンドポイント（レート制限なし） ---
	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// --- ニュースAPI ---
	r.Route("/api/news", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", newsHandler.ListNews)
		r.Get("/search", newsHandler.SearchNews)
		r.Get("/categories/stats", newsHandler.CategoryStats)

		// POST /api/news/aggregate - 即時集約（専用レート制限を追加）
		r.With(deps.RateLimiter.AggregateMiddleware()).Post("/aggregate", newsHandler.Aggregate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", newsHandler.GetNews)
			r.Post("/interact", newsHandler.Interact)
		})
	})

	return r
}
