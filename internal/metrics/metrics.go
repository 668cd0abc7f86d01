// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サイクルの結果ラベル
const (
	CycleSuccess = "success"
	CycleFailed  = "failed"
	CycleSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 集約処理とスケジューラから利用する。
type MetricsCollector interface {
	RecordCycle(status string, duration time.Duration)
	RecordFetched(provider string, count int)
	RecordProviderFailure(provider string)
	RecordPersisted(count int)
	RecordDuplicates(count int)
	RecordSwept(count int64)
	RecordSummaryFallback()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	fetched          *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	persisted        prometheus.Counter
	duplicates       prometheus.Counter
	summaryFallbacks prometheus.Counter
	swept            prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsagg_cycles_total",
			Help: "集約サイクルの結果別実行回数",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsagg_cycle_duration_seconds",
			Help:    "集約サイクルの所要時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsagg_articles_fetched_total",
			Help: "プロバイダ別の取得記事数",
		}, []string{"provider"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsagg_provider_failures_total",
			Help: "プロバイダ別の取得失敗数",
		}, []string{"provider"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsagg_articles_persisted_total",
			Help: "新規保存された記事の合計数",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsagg_articles_duplicate_total",
			Help: "重複としてスキップされた記事の合計数",
		}),
		summaryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsagg_summary_fallbacks_total",
			Help: "要約がタイトルにフォールバックした回数",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsagg_articles_swept_total",
			Help: "保持期間切れで削除された記事の合計数",
		}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.fetched,
		c.providerFailures,
		c.persisted,
		c.duplicates,
		c.summaryFallbacks,
		c.swept,
	)

	return c
}

// RecordCycle はサイクルの結果と所要時間を記録する。スキップされたサイクルは所要時間を記録しない。
func (c *Collector) RecordCycle(status string, duration time.Duration) {
	c.cycles.WithLabelValues(status).Inc()
	if status != CycleSkipped {
		c.cycleDuration.Observe(duration.Seconds())
	}
}

// RecordFetched はプロバイダから取得した記事数を記録する。
func (c *Collector) RecordFetched(provider string, count int) {
	c.fetched.WithLabelValues(provider).Add(float64(count))
}

// RecordProviderFailure はプロバイダの取得失敗を記録する。
func (c *Collector) RecordProviderFailure(provider string) {
	c.providerFailures.WithLabelValues(provider).Inc()
}

// RecordPersisted は新規保存された記事数を記録する。
func (c *Collector) RecordPersisted(count int) {
	c.persisted.Add(float64(count))
}

// RecordDuplicates は重複としてスキップした記事数を記録する。
func (c *Collector) RecordDuplicates(count int) {
	c.duplicates.Add(float64(count))
}

// RecordSwept は保持期間切れで削除した記事数を記録する。
func (c *Collector) RecordSwept(count int64) {
	c.swept.Add(float64(count))
}

// RecordSummaryFallback は要約のフォールバックを記録する。
func (c *Collector) RecordSummaryFallback() {
	c.summaryFallbacks.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// コンパイル時チェック
var _ MetricsCollector = (*Collector)(nil)
