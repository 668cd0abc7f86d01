// Package cleanup は保持期間を過ぎた記事の削除ジョブを提供する。
// 集約サイクルの最後に毎回実行され、公開日時が保持期間より古い記事を物理削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionWindow は記事の保持期間のデフォルト値（7日）。
const DefaultRetentionWindow = 7 * 24 * time.Hour

// ArticleDeleter は公開日時による記事の範囲削除を抽象化する。
type ArticleDeleter interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した記事の削除ジョブ。冪等に実行できる。
type CleanupJob struct {
	store           ArticleDeleter
	logger          *slog.Logger
	now             func() time.Time
	RetentionWindow time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合はDefaultRetentionWindowを使用する。
func NewCleanupJob(store ArticleDeleter, retention time.Duration, logger *slog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	return &CleanupJob{
		store:           store,
		logger:          logger,
		now:             time.Now,
		RetentionWindow: retention,
	}
}

// Run は公開日時が現在時刻-RetentionWindowより古い記事を削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := j.now().Add(-j.RetentionWindow)

	deletedCount, err := j.store.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("記事クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention_window", j.RetentionWindow),
		)
		return 0, fmt.Errorf("記事クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("記事クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention_window", j.RetentionWindow),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deletedCount, nil
}
