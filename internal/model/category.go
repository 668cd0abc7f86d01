package model

// Category は記事カテゴリ。固定の8値のいずれかを取る。
type Category string

const (
	CategoryTechnology    Category = "technology"
	CategoryBusiness      Category = "business"
	CategorySports        Category = "sports"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryScience       Category = "science"
	CategoryPolitics      Category = "politics"
	CategoryGeneral       Category = "general"
)

// AllCategories は全カテゴリを定義順で返す。
func AllCategories() []Category {
	return []Category{
		CategoryTechnology,
		CategoryBusiness,
		CategorySports,
		CategoryEntertainment,
		CategoryHealth,
		CategoryScience,
		CategoryPolitics,
		CategoryGeneral,
	}
}

// Valid はカテゴリが定義済みの値かを返す。
func (c Category) Valid() bool {
	for _, v := range AllCategories() {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory は文字列をカテゴリに変換する。
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if !c.Valid() {
		return "", false
	}
	return c, true
}
