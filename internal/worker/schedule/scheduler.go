// Package schedule は集約サイクルの定期実行を提供する。
//
// 起動直後に1回、その後はcronで一定間隔ごとにサイクルを実行する。
// 実行間隔は前回サイクルの所要時間に依存しない。実行中に次の契機が来た場合、
// そのサイクルはスキップされる（ErrCycleInProgress）。
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/newsagg/internal/aggregator"
	"github.com/hitoshi/newsagg/internal/lock"
	"github.com/hitoshi/newsagg/internal/metrics"
)

// ErrCycleInProgress は別のサイクルが実行中のため新しいサイクルを開始しなかった場合に返される。
var ErrCycleInProgress = errors.New("aggregation cycle already in progress")

// lockReleaseTimeout はロック解放に使う猶予時間。
const lockReleaseTimeout = 5 * time.Second

// State はスケジューラの状態。
type State int32

const (
	// StateIdle はサイクルを実行していない状態。
	StateIdle State = iota
	// StateRunning はサイクルを実行中の状態。
	StateRunning
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CycleRunner は1回の集約サイクルを実行する。
type CycleRunner interface {
	RunCycle(ctx context.Context) (*aggregator.CycleResult, error)
}

// Locker はプロセス間の排他ロック。
type Locker interface {
	Acquire(ctx context.Context) (lock.ReleaseFunc, error)
}

// Recorder はサイクルの結果を記録する。
type Recorder interface {
	RecordCycle(status string, duration time.Duration)
}

// Option はSchedulerの任意設定。
type Option func(*Scheduler)

// WithLocker はプロセス間ロックを設定する。
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler は集約サイクルの起動と重複実行の制御を行う。
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	locker   Locker
	recorder Recorder
	logger   *slog.Logger
	state    atomic.Int32
}

// NewScheduler はSchedulerを生成する。intervalが0以下の場合は30分を使用する。
func NewScheduler(runner CycleRunner, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State は現在の状態を返す。
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start は起動時サイクルを実行し、以後intervalごとにサイクルを実行する。
// コンテキストがキャンセルされるまでブロックし、実行中のサイクルの終了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) {
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.trigger(ctx, "scheduled")
	}))

	s.logger.Info("集約スケジューラを開始しました",
		slog.Duration("interval", s.interval),
		slog.Bool("distributed_lock", s.locker != nil),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.trigger(ctx, "startup")
	}()

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	wg.Wait()

	s.logger.Info("集約スケジューラを停止しました")
}

// trigger はサイクルを起動する。結果とエラーはRunOnce内でログ出力される。
func (s *Scheduler) trigger(ctx context.Context, reason string) {
	s.logger.Debug("集約サイクルを起動します", slog.String("trigger", reason))
	_, _ = s.RunOnce(ctx)
}

// RunOnce はサイクルを1回実行する。他のサイクルが実行中の場合はErrCycleInProgressを返す。
// 定期実行とAPIからの即時実行の双方がこのメソッドを経由する。
func (s *Scheduler) RunOnce(ctx context.Context) (*aggregator.CycleResult, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		s.logger.Info("前回の集約サイクルが実行中のためスキップしました")
		s.record(metrics.CycleSkipped, 0)
		return nil, ErrCycleInProgress
	}
	defer s.state.Store(int32(StateIdle))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			s.logger.Info("他のプロセスが集約サイクルを実行中のためスキップしました")
			s.record(metrics.CycleSkipped, 0)
			return nil, ErrCycleInProgress
		case err != nil:
			// ロックが使えない場合もURLの一意制約で重複保存は防がれるため続行する
			s.logger.Warn("分散ロックを取得できないためロックなしで実行します",
				slog.String("error", err.Error()),
			)
		default:
			defer s.release(ctx, release)
		}
	}

	start := time.Now()
	result, err := s.runSafely(ctx)
	duration := time.Since(start)
	if err != nil {
		s.record(metrics.CycleFailed, duration)
		s.logger.Error("集約サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil, err
	}

	s.record(metrics.CycleSuccess, duration)
	return result, nil
}

// runSafely はサイクル内のpanicをエラーに変換する。
func (s *Scheduler) runSafely(ctx context.Context) (result *aggregator.CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("集約サイクルでpanicが発生しました: %v", r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) release(ctx context.Context, release lock.ReleaseFunc) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if err := release(releaseCtx); err != nil {
		s.logger.Warn("分散ロックの解放に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) record(status string, duration time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordCycle(status, duration)
	}
}

// cronLogger はcron.Loggerをslogに適合させる。
type cronLogger struct {
	logger *slog.Logger
}

// Info はcronの定常ログ。件数が多いためDebugで出力する。
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

// Error はcronのエラーログ。ジョブ内のpanicもここに報告される。
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
