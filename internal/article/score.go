package article

import (
	"time"

	"github.com/hitoshi/newsagg/internal/model"
)

// スコアの構成要素
const (
	baseScore = 50

	imageBonus     = 8
	longBodyBonus  = 10
	goodTitleBonus = 7

	longBodyThreshold = 200
	titleMinExclusive = 30
	titleMaxExclusive = 100
)

// recencyBuckets は経過時間ごとの鮮度ボーナス。上から順に評価する。
var recencyBuckets = []struct {
	within time.Duration
	bonus  int
}{
	{time.Hour, 25},
	{6 * time.Hour, 20},
	{24 * time.Hour, 15},
	{72 * time.Hour, 10},
}

const staleBonus = 5

// ScoreInput はスコア算出に用いる記事の属性。
type ScoreInput struct {
	Title       string
	PlainText   string // HTMLを除去した本文
	HasImage    bool
	PublishedAt time.Time
}

// Score は鮮度と品質から関連度スコアを算出する。結果は0〜100に収まる。
// 未来の公開日時は1時間以内として扱う。
func Score(in ScoreInput, now time.Time) int {
	score := baseScore + recencyBonus(now.Sub(in.PublishedAt))

	if in.HasImage {
		score += imageBonus
	}
	if RuneLen(in.PlainText) > longBodyThreshold {
		score += longBodyBonus
	}
	if n := RuneLen(in.Title); n > titleMinExclusive && n < titleMaxExclusive {
		score += goodTitleBonus
	}

	return model.ClampRelevance(score)
}

func recencyBonus(age time.Duration) int {
	for _, b := range recencyBuckets {
		if age < b.within {
			return b.bonus
		}
	}
	return staleBonus
}
