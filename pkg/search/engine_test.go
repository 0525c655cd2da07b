package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/models"
)

func fixtureTools() []*models.Tool {
	return []*models.Tool{
		{
			Name:        "web_search",
			Description: "Search the internet for pages matching a query",
			Category:    "web",
			Tags:        []string{"search", "internet"},
			RequiredParams: []models.ParamSpec{
				{Name: "query", Type: "str"},
			},
			OptionalParams: map[string]any{"num_results": 5},
			Active:         true,
		},
		{
			Name:        "multiply_numbers",
			Description: "Multiply two numbers and return the product",
			Category:    "mathematics",
			Tags:        []string{"math", "arithmetic"},
			RequiredParams: []models.ParamSpec{
				{Name: "a", Type: "float"},
				{Name: "b", Type: "float"},
			},
			Active: true,
		},
		{
			Name:        "convert_temperature",
			Description: "Convert a temperature between celsius and fahrenheit",
			Category:    "conversion",
			Tags:        []string{"temperature", "units"},
			RequiredParams: []models.ParamSpec{
				{Name: "value", Type: "float"},
				{Name: "unit", Type: "str"},
			},
			Active: true,
		},
	}
}

func TestEngineSearchRanksNameMatchFirst(t *testing.T) {
	e := NewEngine(fixtureTools())

	results := e.Search("search the web for news", Options{TopK: 3})
	require.NotEmpty(t, results)
	assert.Equal(t, "web_search", results[0].Tool.Name)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestEngineSearchAbbreviationExpansion(t *testing.T) {
	e := NewEngine(fixtureTools())

	// "math" expands to "mathematics mathematical", matching the category.
	results := e.Search("math product of numbers", Options{TopK: 1})
	require.Len(t, results, 1)
	assert.Equal(t, "multiply_numbers", results[0].Tool.Name)
}

func TestEngineSearchCategoryFilter(t *testing.T) {
	e := NewEngine(fixtureTools())

	results := e.Search("convert units of temperature", Options{TopK: 3, Category: "conversion"})
	require.Len(t, results, 1)
	assert.Equal(t, "convert_temperature", results[0].Tool.Name)
}

func TestEngineSearchExcludesBuggedByDefault(t *testing.T) {
	tools := fixtureTools()
	tools[0].Bugged = true
	e := NewEngine(tools)

	results := e.Search("search the web", Options{TopK: 3})
	for _, r := range results {
		assert.NotEqual(t, "web_search", r.Tool.Name)
	}

	results = e.Search("search the web", Options{TopK: 3, IncludeBugged: true})
	require.NotEmpty(t, results)
	assert.Equal(t, "web_search", results[0].Tool.Name)
}

func TestEngineSearchEmptyIndex(t *testing.T) {
	e := NewEngine(nil)
	assert.Nil(t, e.Search("anything", Options{}))
	assert.Equal(t, 0, e.Size())
}

func TestEngineSearchScoreBreakdown(t *testing.T) {
	e := NewEngine(fixtureTools())

	results := e.Search("multiply two numbers", Options{TopK: 1})
	require.Len(t, results, 1)

	r := results[0]
	for _, component := range []float64{r.Breakdown.TFIDF, r.Breakdown.BM25, r.Breakdown.Keyword} {
		assert.GreaterOrEqual(t, component, 0.0)
		assert.LessOrEqual(t, component, 1.0)
	}
	expected := weightTFIDF*r.Breakdown.TFIDF + weightBM25*r.Breakdown.BM25 + weightKeyword*r.Breakdown.Keyword
	assert.InDelta(t, expected, r.Score, 1e-9)
}

func TestEngineSearchIrrelevantQuery(t *testing.T) {
	e := NewEngine(fixtureTools())

	results := e.Search("zzqx", Options{TopK: 3})
	assert.Empty(t, results)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "drops meta words and short tokens",
			query: "I need a tool to multiply numbers",
			want:  []string{"multiply", "numbers"},
		},
		{
			name:  "expands abbreviations",
			query: "img resize",
			want:  []string{"image", "resize"},
		},
		{
			name:  "everything filtered",
			query: "can you help",
			want:  []string{"you"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractKeywords(tt.query))
		})
	}
}

func TestPreprocessQuery(t *testing.T) {
	assert.Equal(t, "calculate calculation 5 times 3", preprocessQuery("CALC 5 times 3"))
	assert.Equal(t, "open the database table", preprocessQuery("open the db table"))
}

func TestKeywordScoreFieldBoosts(t *testing.T) {
	e := NewEngine(fixtureTools())
	doc := &e.docs[0] // web_search

	// "search" hits name (5.0), description (2.0), and tag (3.0).
	assert.InDelta(t, 10.0, doc.keywordScore([]string{"search"}), 1e-9)
	// "query" hits description (2.0) and the required param (1.5).
	assert.InDelta(t, 3.5, doc.keywordScore([]string{"query"}), 1e-9)
}

func TestFormatContext(t *testing.T) {
	e := NewEngine(fixtureTools())

	ctx := e.FormatContext("multiply numbers", 2)
	assert.Contains(t, ctx, "Most relevant tools for: 'multiply numbers'")
	assert.Contains(t, ctx, "Tool: multiply_numbers")
	assert.Contains(t, ctx, "Required Params: a, b")

	assert.Equal(t, "No relevant tools found for this query.",
		NewEngine(nil).FormatContext("anything", 3))
}

func TestBM25PrefersTermFrequency(t *testing.T) {
	idx := newBM25([][]string{
		{"multiply", "numbers", "multiply"},
		{"multiply", "text"},
		{"unrelated", "document"},
	})

	scores := idx.scores([]string{"multiply"})
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[1])
	assert.Zero(t, scores[2])
}

func TestTFIDFVectorsAreL2Normalized(t *testing.T) {
	docs := [][]string{
		{"alpha", "beta", "alpha beta"},
		{"gamma", "delta"},
	}
	v := fitTFIDF(docs)

	vec := v.vectorize(docs[0])
	var norm float64
	for _, w := range vec {
		norm += w * w
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	// Out-of-vocabulary tokens vectorize to nothing.
	assert.Empty(t, v.vectorize([]string{"zz"}))
}

func TestNgramTokensDropStopWordsAndBuildBigrams(t *testing.T) {
	grams := ngramTokens([]string{"the", "search", "engine"})
	assert.Equal(t, []string{"search", "engine", "search engine"}, grams)
}
