package article

import (
	"strings"

	"github.com/hitoshi/newsagg/internal/model"
)

type categoryRule struct {
	category model.Category
	keywords []string
}

// categoryRules は分類表。先頭から順に評価し、最初に一致したカテゴリを採用する。
// 順序を変えると分類結果が変わる。
var categoryRules = []categoryRule{
	{model.CategoryTechnology, []string{
		"technology", "tech ", "software", "hardware", "artificial intelligence", " ai ",
		"startup", "smartphone", "iphone", "android", "computer", "internet", "cyber",
		"semiconductor", "chip", "app ", "robot", "blockchain", "crypto",
	}},
	{model.CategoryBusiness, []string{
		"business", "economy", "economic", "market", "stock", "shares", "earnings",
		"revenue", "profit", "investor", "finance", "financial", "bank", "inflation",
		"trade", "merger", "acquisition", "ceo",
	}},
	{model.CategorySports, []string{
		"sport", "football", "soccer", "basketball", "baseball", "tennis", "golf",
		"olympic", "championship", "tournament", "league", "nba", "nfl", "fifa",
		"match", "coach", "player",
	}},
	{model.CategoryEntertainment, []string{
		"entertainment", "movie", "film", "music", "celebrity", "hollywood", "album",
		"concert", "actor", "actress", "tv show", "netflix", "box office", "grammy", "oscar",
	}},
	{model.CategoryHealth, []string{
		"health", "medical", "medicine", "hospital", "disease", "vaccine", "virus",
		"patient", "doctor", "cancer", "mental health", "diet", "fitness", "covid",
	}},
	{model.CategoryScience, []string{
		"science", "scientist", "research", "study finds", "space", "nasa", "planet",
		"climate", "physics", "biology", "chemistry", "astronom", "discovery", "species",
	}},
	{model.CategoryPolitics, []string{
		"politic", "election", "government", "president", "congress", "senate",
		"parliament", "minister", "policy", "vote", "democrat", "republican", "campaign",
		"legislation",
	}},
}

// CategoryOrder は分類表の評価順を返す。generalは含まない。
func CategoryOrder() []model.Category {
	order := make([]model.Category, 0, len(categoryRules))
	for _, r := range categoryRules {
		order = append(order, r.category)
	}
	return order
}

// Categorize はタイトルと本文テキストからカテゴリを判定する。
// いずれのキーワードにも一致しない場合はgeneralを返す。
func Categorize(title, text string) model.Category {
	// 語境界を近似するため前後に空白を付与する
	haystack := " " + strings.ToLower(title+" "+text) + " "

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.category
			}
		}
	}
	return model.CategoryGeneral
}
