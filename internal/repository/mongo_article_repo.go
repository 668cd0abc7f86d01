package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/newsagg/internal/model"
)

// ArticlesCollection は記事コレクション名。
const ArticlesCollection = "articles"

// mongoArticle はMongoDBドキュメントとしての記事表現。
type mongoArticle struct {
	ID              string    `bson:"_id"`
	Title           string    `bson:"title"`
	Summary         string    `bson:"summary"`
	Content         string    `bson:"content"`
	URL             string    `bson:"url"`
	ImageURL        string    `bson:"imageUrl,omitempty"`
	Source          string    `bson:"source"`
	Category        string    `bson:"category"`
	PublishedAt     time.Time `bson:"publishedAt"`
	IsDateEstimated bool      `bson:"isDateEstimated"`
	RelevanceScore  int       `bson:"relevanceScore"`
	IsActive        bool      `bson:"isActive"`
	Tags            []string  `bson:"tags"`
	Sentiment       string    `bson:"sentiment"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

func toMongoArticle(a *model.Article) mongoArticle {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return mongoArticle{
		ID:              a.ID,
		Title:           a.Title,
		Summary:         a.Summary,
		Content:         a.Content,
		URL:             a.URL,
		ImageURL:        a.ImageURL,
		Source:          a.Source,
		Category:        string(a.Category),
		PublishedAt:     a.PublishedAt.UTC(),
		IsDateEstimated: a.IsDateEstimated,
		RelevanceScore:  a.RelevanceScore,
		IsActive:        a.IsActive,
		Tags:            tags,
		Sentiment:       string(a.Sentiment),
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
	}
}

func (m mongoArticle) toModel() *model.Article {
	return &model.Article{
		ID:              m.ID,
		Title:           m.Title,
		Summary:         m.Summary,
		Content:         m.Content,
		URL:             m.URL,
		ImageURL:        m.ImageURL,
		Source:          m.Source,
		Category:        model.Category(m.Category),
		PublishedAt:     m.PublishedAt,
		IsDateEstimated: m.IsDateEstimated,
		RelevanceScore:  m.RelevanceScore,
		IsActive:        m.IsActive,
		Tags:            m.Tags,
		Sentiment:       model.Sentiment(m.Sentiment),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// MongoArticleRepo はMongoDBを使用した記事リポジトリ。
// URLの一意性はユニークインデックスで保証する。
type MongoArticleRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoArticleRepo はMongoArticleRepoを生成する。
func NewMongoArticleRepo(client *mongo.Client, database string) *MongoArticleRepo {
	return &MongoArticleRepo{
		client:     client,
		collection: client.Database(database).Collection(ArticlesCollection),
	}
}

// EnsureIndexes はURLユニークインデックス、並び替え用インデックス、テキストインデックスを作成する。
// 既存のインデックスがある場合は何もしない。
func (r *MongoArticleRepo) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("url_unique"),
		},
		{
			Keys: bson.D{{Key: "publishedAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}, {Key: "publishedAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "relevanceScore", Value: -1}, {Key: "publishedAt", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "summary", Value: "text"},
				{Key: "tags", Value: "text"},
			},
			Options: options.Index().SetName("article_text"),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("記事インデックスの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByURL はURLで記事を検索する。見つからない場合はnilを返す。
func (r *MongoArticleRepo) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	return r.findOne(ctx, bson.M{"url": url})
}

// FindByID は指定IDの有効な記事を取得する。見つからない場合はnilを返す。
func (r *MongoArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	return r.findOne(ctx, bson.M{"_id": id, "isActive": true})
}

func (r *MongoArticleRepo) findOne(ctx context.Context, filter bson.M) (*model.Article, error) {
	var doc mongoArticle
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// Create は記事を作成する。URLの重複はErrDuplicateURLとして返す。
func (r *MongoArticleRepo) Create(ctx context.Context, a *model.Article) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, toMongoArticle(a))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// DeletePublishedBefore はpublishedAtがcutoffより古い記事を削除する。
func (r *MongoArticleRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"publishedAt": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}
	return result.DeletedCount, nil
}

// List は有効な記事を並び順・カテゴリ・ページ指定に従って取得する。
func (r *MongoArticleRepo) List(ctx context.Context, q model.ArticleQuery) ([]*model.Article, error) {
	filter := bson.M{"isActive": true}
	if q.Category != "" {
		filter["category"] = string(q.Category)
	}

	sort := bson.D{{Key: "publishedAt", Value: -1}}
	if q.Sort == model.SortTrending {
		sort = bson.D{{Key: "relevanceScore", Value: -1}, {Key: "publishedAt", Value: -1}}
	}

	opts := options.Find().
		SetSort(sort).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit))

	return r.find(ctx, filter, opts)
}

// Search はテキストインデックスで記事を検索する。テキストスコア順で返す。
func (r *MongoArticleRepo) Search(ctx context.Context, text string, category model.Category, limit int) ([]*model.Article, error) {
	filter := bson.M{
		"$text":    bson.M{"$search": text},
		"isActive": true,
	}
	if category != "" {
		filter["category"] = string(category)
	}

	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{
			{Key: "score", Value: bson.M{"$meta": "textScore"}},
			{Key: "publishedAt", Value: -1},
		}).
		SetLimit(int64(limit))

	return r.find(ctx, filter, opts)
}

// IncrementRelevance は関連度スコアを上限100で加算し、更新後の記事を返す。
func (r *MongoArticleRepo) IncrementRelevance(ctx context.Context, id string, points int) (*model.Article, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "relevanceScore", Value: bson.D{{Key: "$min", Value: bson.A{
				bson.D{{Key: "$max", Value: bson.A{
					bson.D{{Key: "$add", Value: bson.A{"$relevanceScore", points}}},
					model.MinRelevanceScore,
				}}},
				model.MaxRelevanceScore,
			}}}},
			{Key: "updatedAt", Value: "$$NOW"},
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoArticle
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id, "isActive": true}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("関連度スコアの更新に失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// CategoryStats はカテゴリ別の集計を件数の降順で返す。
func (r *MongoArticleRepo) CategoryStats(ctx context.Context) ([]model.CategoryStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "isActive", Value: true}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avgRelevance", Value: bson.D{{Key: "$avg", Value: "$relevanceScore"}}},
			{Key: "latestPublishedAt", Value: bson.D{{Key: "$max", Value: "$publishedAt"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ統計の取得に失敗しました: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Category          string    `bson:"_id"`
		Count             int64     `bson:"count"`
		AvgRelevance      float64   `bson:"avgRelevance"`
		LatestPublishedAt time.Time `bson:"latestPublishedAt"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("カテゴリ統計の読み取りに失敗しました: %w", err)
	}

	stats := make([]model.CategoryStats, 0, len(docs))
	for _, d := range docs {
		stats = append(stats, model.CategoryStats{
			Category:          model.Category(d.Category),
			Count:             d.Count,
			AvgRelevance:      d.AvgRelevance,
			LatestPublishedAt: d.LatestPublishedAt,
		})
	}
	return stats, nil
}

// Count は有効な記事の件数を返す。
func (r *MongoArticleRepo) Count(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"isActive": true})
	if err != nil {
		return 0, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Ping はMongoDBへの疎通を確認する。
func (r *MongoArticleRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *MongoArticleRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Article, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoArticle
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}

	articles := make([]*model.Article, 0, len(docs))
	for _, d := range docs {
		articles = append(articles, d.toModel())
	}
	return articles, nil
}

// コンパイル時チェック
var _ ArticleRepository = (*MongoArticleRepo)(nil)
