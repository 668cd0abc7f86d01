package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsagg/internal/model"
	"github.com/hitoshi/newsagg/internal/provider"
	"github.com/hitoshi/newsagg/internal/repository"
)

// --- テスト用モック ---

type mockFetcher struct {
	name    string
	fetchFn func(ctx context.Context, category model.Category, pageSize int) ([]provider.Record, error)
}

func (m *mockFetcher) Name() string { return m.name }

func (m *mockFetcher) Fetch(ctx context.Context, category model.Category, pageSize int) ([]provider.Record, error) {
	return m.fetchFn(ctx, category, pageSize)
}

// memoryStore はURLを一意キーとするインメモリの記事ストア。
type memoryStore struct {
	mu        sync.Mutex
	articles  map[string]*model.Article
	createErr func(a *model.Article) error
	creates   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{articles: make(map[string]*model.Article)}
}

func (m *memoryStore) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.articles[url], nil
}

func (m *memoryStore) Create(ctx context.Context, a *model.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		if err := m.createErr(a); err != nil {
			return err
		}
	}
	if _, ok := m.articles[a.URL]; ok {
		return repository.ErrDuplicateURL
	}
	copied := *a
	m.articles[a.URL] = &copied
	return nil
}

type mockSummarizer struct {
	summarizeFn func(ctx context.Context, title, content string) string
}

func (m *mockSummarizer) Summarize(ctx context.Context, title, content string) string {
	return m.summarizeFn(ctx, title, content)
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(html string) string { return html }

type mockSweeper struct {
	calls   int
	deleted int64
	err     error
}

func (m *mockSweeper) Run(ctx context.Context) (int64, error) {
	m.calls++
	return m.deleted, m.err
}

type mockPublisher struct {
	publishFn func(ctx context.Context, articles []model.Article) error
}

func (m *mockPublisher) PublishArticles(ctx context.Context, articles []model.Article) error {
	return m.publishFn(ctx, articles)
}

type mockRecorder struct {
	mu        sync.Mutex
	fetched   map[string]int
	failures  map[string]int
	persisted int
	dupes     int
	swept     int64
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{fetched: map[string]int{}, failures: map[string]int{}}
}

func (m *mockRecorder) RecordFetched(p string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched[p] += n
}

func (m *mockRecorder) RecordProviderFailure(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[p]++
}

func (m *mockRecorder) RecordPersisted(n int)  { m.persisted += n }
func (m *mockRecorder) RecordDuplicates(n int) { m.dupes += n }
func (m *mockRecorder) RecordSwept(n int64)    { m.swept += n }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newsRecord(title, url, content string) provider.NewsAPIRecord {
	var r provider.NewsAPIRecord
	r.Title = title
	r.URL = url
	r.Content = content
	r.PublishedAt = testNow.Add(-2 * time.Hour).Format(time.RFC3339)
	r.Source.Name = "Example"
	return r
}

func gnewsRecord(title, url, content string) provider.GNewsRecord {
	var r provider.GNewsRecord
	r.Title = title
	r.URL = url
	r.Content = content
	r.PublishedAt = testNow.Add(-30 * time.Minute).Format(time.RFC3339)
	return r
}

// staticFetcher は指定カテゴリでのみ固定レコードを返すフェッチャー。
func staticFetcher(name string, category model.Category, records ...provider.Record) *mockFetcher {
	return &mockFetcher{
		name: name,
		fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			if c != category {
				return nil, nil
			}
			return records, nil
		},
	}
}

type testEnv struct {
	agg       *Aggregator
	store     *memoryStore
	sweeper   *mockSweeper
	recorder  *mockRecorder
	logBuffer *bytes.Buffer
}

func newTestEnv(cfg Config, fetchers ...provider.Fetcher) *testEnv {
	var buf bytes.Buffer
	env := &testEnv{
		store:     newMemoryStore(),
		sweeper:   &mockSweeper{},
		recorder:  newMockRecorder(),
		logBuffer: &buf,
	}

	env.agg = New(cfg, Deps{
		Fetchers: fetchers,
		Store:    env.store,
		Summarizer: &mockSummarizer{summarizeFn: func(ctx context.Context, title, content string) string {
			if content == "" {
				return title
			}
			return "summary of " + title
		}},
		Sanitizer: passthroughSanitizer{},
		Sweeper:   env.sweeper,
		Recorder:  env.recorder,
		Logger:    newTestLogger(&buf),
	})
	env.agg.now = func() time.Time { return testNow }

	ids := 0
	env.agg.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return env
}

func techOnly() Config {
	cfg := DefaultConfig()
	cfg.Categories = []model.Category{model.CategoryTechnology}
	return cfg
}

// --- テスト ---

func TestRunCycle_SameURLFromTwoProviders_PersistsOnce(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("New software release ships", "https://a", "details")),
		staticFetcher("gnews", model.CategoryTechnology, gnewsRecord("Different headline", "https://a", "other")),
	)

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(env.store.articles) != 1 {
		t.Fatalf("stored = %d, want 1", len(env.store.articles))
	}
	stored := env.store.articles["https://a"]
	if stored == nil {
		t.Fatal("https://a が保存されていない")
	}
	if stored.Title != "New software release ships" {
		t.Errorf("最初のプロバイダの記事が残るべき: %q", stored.Title)
	}
	if stored.Category != model.CategoryTechnology {
		t.Errorf("Category = %q, want technology", stored.Category)
	}
	if result.Fetched != 2 || result.Unique != 1 || result.Duplicates != 1 {
		t.Errorf("result = %+v, want fetched=2 unique=1 duplicates=1", result)
	}
	if len(result.Persisted) != 1 {
		t.Errorf("persisted = %d, want 1", len(result.Persisted))
	}
}

func TestRunCycle_UnmatchedTextIsGeneral(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("Local bakery celebrates anniversary", "https://a", "Cakes were shared.")),
		staticFetcher("gnews", model.CategoryTechnology, gnewsRecord("Local bakery celebrates anniversary", "https://a", "")),
	)

	if _, err := env.agg.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stored := env.store.articles["https://a"]
	if stored == nil {
		t.Fatal("https://a が保存されていない")
	}
	if stored.Category != model.CategoryGeneral {
		t.Errorf("取得カテゴリではなく本文で分類されるべき: %q", stored.Category)
	}
	if len(stored.Tags) != 2 || stored.Tags[1] != "technology" {
		t.Errorf("Tagsに取得カテゴリが残るべき: %v", stored.Tags)
	}
}

func TestRunCycle_Idempotent(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology,
			newsRecord("First", "https://example.com/1", "body"),
			newsRecord("Second", "https://example.com/2", "body"),
		),
	)

	first, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("1回目: %v", err)
	}
	if len(first.Persisted) != 2 {
		t.Fatalf("1回目の保存件数 = %d, want 2", len(first.Persisted))
	}

	second, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("2回目: %v", err)
	}
	if len(second.Persisted) != 0 {
		t.Errorf("2回目の保存件数 = %d, want 0", len(second.Persisted))
	}
	if second.Duplicates != 2 {
		t.Errorf("2回目の重複件数 = %d, want 2", second.Duplicates)
	}
	if env.store.creates != 2 {
		t.Errorf("Create呼び出し回数 = %d, want 2", env.store.creates)
	}
	if env.sweeper.calls != 2 {
		t.Errorf("削除ジョブは毎サイクル実行されるべき: calls=%d", env.sweeper.calls)
	}
}

func TestRunCycle_BuildsArticle(t *testing.T) {
	rec := newsRecord("A thirty-plus character headline about software", "https://example.com/x", strings.Repeat("word ", 60))
	rec.URLToImage = "https://example.com/x.jpg"

	env := newTestEnv(techOnly(), staticFetcher("newsapi", model.CategoryTechnology, rec))

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Persisted) != 1 {
		t.Fatalf("persisted = %d, want 1", len(result.Persisted))
	}

	a := result.Persisted[0]
	if a.ID != "id-1" {
		t.Errorf("ID = %q", a.ID)
	}
	if a.Summary != "summary of "+rec.Title {
		t.Errorf("Summary = %q", a.Summary)
	}
	// 50 + 20(2時間前) + 8(画像) + 10(長い本文) + 7(タイトル長)
	if a.RelevanceScore != 95 {
		t.Errorf("RelevanceScore = %d, want 95", a.RelevanceScore)
	}
	if !a.IsActive {
		t.Error("IsActive = false, want true")
	}
	if a.Sentiment != model.SentimentNeutral {
		t.Errorf("Sentiment = %q, want neutral", a.Sentiment)
	}
	if a.Source != "Example" {
		t.Errorf("Source = %q", a.Source)
	}
}

func TestRunCycle_ProviderFailureIsContained(t *testing.T) {
	failing := &mockFetcher{
		name: "gnews",
		fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			return nil, errors.New("gnews returned status 503")
		},
	}
	panicking := &mockFetcher{
		name: "rss",
		fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			panic("unexpected nil")
		},
	}

	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("Works", "https://example.com/ok", "")),
		failing,
		panicking,
	)

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("プロバイダの失敗はサイクルを中断しないべき: %v", err)
	}
	if len(result.Persisted) != 1 {
		t.Errorf("persisted = %d, want 1", len(result.Persisted))
	}
	if env.recorder.failures["gnews"] != 1 || env.recorder.failures["rss"] != 1 {
		t.Errorf("failures = %v", env.recorder.failures)
	}
	if env.recorder.fetched["newsapi"] != 1 {
		t.Errorf("fetched = %v", env.recorder.fetched)
	}

	logs := env.logBuffer.String()
	if !strings.Contains(logs, "プロバイダからの取得に失敗しました") {
		t.Errorf("失敗がログに記録されるべき: %s", logs)
	}
	if !strings.Contains(logs, "panic: unexpected nil") {
		t.Errorf("panicの内容がログに記録されるべき: %s", logs)
	}
}

func TestRunCycle_ProviderTimeout(t *testing.T) {
	cfg := techOnly()
	cfg.ProviderTimeout = 20 * time.Millisecond

	hanging := &mockFetcher{
		name: "newsapi",
		fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			time.Sleep(500 * time.Millisecond)
			return []provider.Record{newsRecord("Late", "https://example.com/late", "")}, nil
		},
	}

	env := newTestEnv(cfg, hanging,
		staticFetcher("gnews", model.CategoryTechnology, gnewsRecord("On time", "https://example.com/ontime", "")),
	)

	start := time.Now()
	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("タイムアウトが効いていない: %v", elapsed)
	}
	if len(result.Persisted) != 1 || result.Persisted[0].URL != "https://example.com/ontime" {
		t.Errorf("persisted = %+v", result.Persisted)
	}
}

func TestRunCycle_FetchesProvidersConcurrently(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0
	slow := func(name string) *mockFetcher {
		return &mockFetcher{name: name, fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			inflight--
			mu.Unlock()
			return nil, nil
		}}
	}

	env := newTestEnv(techOnly(), slow("a"), slow("b"), slow("c"))
	if _, err := env.agg.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if peak < 2 {
		t.Errorf("プロバイダは並列に呼び出されるべき: peak=%d", peak)
	}
}

func TestRunCycle_DuplicateOnCreateIsNotFailure(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("Raced", "https://example.com/raced", "")),
	)
	env.store.createErr = func(a *model.Article) error { return repository.ErrDuplicateURL }

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0", result.Failed)
	}
	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Duplicates)
	}
}

func TestRunCycle_StoreErrorSkipsArticle(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology,
			newsRecord("Broken article", "https://example.com/broken", ""),
			newsRecord("Good article", "https://example.com/good", ""),
		),
	)
	env.store.createErr = func(a *model.Article) error {
		if a.URL == "https://example.com/broken" {
			return errors.New("disk full")
		}
		return nil
	}

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if len(result.Persisted) != 1 || result.Persisted[0].URL != "https://example.com/good" {
		t.Errorf("persisted = %+v", result.Persisted)
	}
	if !strings.Contains(env.logBuffer.String(), `"title":"Broken article"`) {
		t.Errorf("失敗した記事のタイトルがログに含まれるべき: %s", env.logBuffer.String())
	}
}

func TestRunCycle_InvalidRecordsAreCounted(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology,
			newsRecord("", "https://example.com/untitled", ""),
			newsRecord("No url", "", ""),
			newsRecord("Fine", "https://example.com/fine", ""),
		),
	)

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Fetched != 3 || result.Failed != 2 || len(result.Persisted) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunCycle_PublishesNewArticles(t *testing.T) {
	var published []model.Article
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("Fresh", "https://example.com/fresh", "")),
	)
	env.agg.publisher = &mockPublisher{publishFn: func(ctx context.Context, articles []model.Article) error {
		published = articles
		return errors.New("nats: no servers available")
	}}

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("発行失敗はサイクルを失敗させないべき: %v", err)
	}
	if len(published) != 1 || published[0].URL != "https://example.com/fresh" {
		t.Errorf("published = %+v", published)
	}
	if len(result.Persisted) != 1 {
		t.Errorf("persisted = %d, want 1", len(result.Persisted))
	}

	env.agg.publisher = &mockPublisher{publishFn: func(ctx context.Context, articles []model.Article) error {
		t.Error("新着がない場合は発行しないべき")
		return nil
	}}
	if _, err := env.agg.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRunCycle_SweeperResult(t *testing.T) {
	env := newTestEnv(techOnly())
	env.sweeper.deleted = 4

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Deleted != 4 {
		t.Errorf("Deleted = %d, want 4", result.Deleted)
	}
	if env.recorder.swept != 4 {
		t.Errorf("swept = %d, want 4", env.recorder.swept)
	}

	env.sweeper.err = errors.New("timeout")
	result, err = env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("削除失敗はサイクルを失敗させないべき: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", result.Deleted)
	}
}

func TestRunCycle_CancelledContext(t *testing.T) {
	env := newTestEnv(techOnly(),
		staticFetcher("newsapi", model.CategoryTechnology, newsRecord("x", "https://example.com/x", "")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.agg.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(env.store.articles) != 0 {
		t.Error("キャンセル時は保存しないべき")
	}
}

func TestRunCycle_DedupAcrossCategories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories = []model.Category{model.CategoryTechnology, model.CategoryBusiness}

	shared := newsRecord("Chipmaker stock surges", "https://example.com/shared", "")
	env := newTestEnv(cfg, &mockFetcher{
		name: "newsapi",
		fetchFn: func(ctx context.Context, c model.Category, pageSize int) ([]provider.Record, error) {
			return []provider.Record{shared}, nil
		},
	})

	result, err := env.agg.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Persisted) != 1 {
		t.Fatalf("persisted = %d, want 1", len(result.Persisted))
	}
	if tags := result.Persisted[0].Tags; tags[1] != "technology" {
		t.Errorf("先に処理したカテゴリの記事が残るべき: %v", tags)
	}
}

func TestDeduplicate_KeepsFirstOccurrenceInOrder(t *testing.T) {
	in := []model.NormalizedArticle{
		{URL: "https://a", Provider: "newsapi"},
		{URL: "https://b", Provider: "newsapi"},
		{URL: "https://a", Provider: "gnews"},
		{URL: "https://c", Provider: "gnews"},
		{URL: "https://b", Provider: "rss"},
	}

	got := Deduplicate(in)

	want := []string{"https://a", "https://b", "https://c"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, u := range want {
		if got[i].URL != u {
			t.Errorf("got[%d].URL = %q, want %q", i, got[i].URL, u)
		}
	}
	if got[0].Provider != "newsapi" {
		t.Errorf("最初の出現が残るべき: %q", got[0].Provider)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	var buf bytes.Buffer
	a := New(Config{}, Deps{Logger: newTestLogger(&buf)})

	if len(a.cfg.Categories) != 8 {
		t.Errorf("Categories = %v", a.cfg.Categories)
	}
	if a.cfg.PageSize != 20 {
		t.Errorf("PageSize = %d", a.cfg.PageSize)
	}
	if a.cfg.ProviderTimeout != 10*time.Second {
		t.Errorf("ProviderTimeout = %v", a.cfg.ProviderTimeout)
	}
}
