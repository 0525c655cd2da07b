// Package search ranks tools against natural-language queries using a hybrid
// of TF-IDF cosine similarity, Okapi BM25, and exact-keyword boosts. An
// Engine is an immutable index over one tool snapshot; the registry swaps in
// a fresh Engine whenever the tool set changes.
package search

import (
	"sort"
	"strings"

	"github.com/artificer-dev/artificer/pkg/models"
)

// Combination weights for the three ranking components.
const (
	weightTFIDF   = 0.3
	weightBM25    = 0.4
	weightKeyword = 0.3
)

// Keyword boost per matched field.
const (
	boostName     = 5.0
	boostTag      = 3.0
	boostCategory = 2.5
	boostDesc     = 2.0
	boostParam    = 1.5
)

// minScore is the relevance floor below which results are not emitted.
const minScore = 0.01

// Options filters and sizes a search.
type Options struct {
	// TopK caps the number of results (default 3).
	TopK int
	// Category restricts results to one category when non-empty.
	Category string
	// IncludeBugged admits quarantined tools into the results.
	IncludeBugged bool
}

// Breakdown reports the normalised per-component scores behind a result.
type Breakdown struct {
	TFIDF   float64 `json:"tfidf"`
	BM25    float64 `json:"bm25"`
	Keyword float64 `json:"keyword"`
}

// Result is one ranked tool.
type Result struct {
	Tool      *models.Tool `json:"tool"`
	Score     float64      `json:"relevance_score"`
	Breakdown Breakdown    `json:"score_breakdown"`
}

type document struct {
	tool   *models.Tool
	ngrams []string
	words  []string

	// Lowercased metadata for keyword boosting.
	name     string
	desc     string
	category string
	tags     []string
	params   []string
}

// Engine is a prebuilt hybrid index over a tool snapshot.
type Engine struct {
	docs       []document
	vectorizer *tfidfVectorizer
	docVectors []map[string]float64
	bm25       *bm25Index
}

// NewEngine indexes the given tools. The slice is captured as-is; callers
// pass a snapshot they will not mutate.
func NewEngine(tools []*models.Tool) *Engine {
	e := &Engine{docs: make([]document, 0, len(tools))}

	ngramCorpus := make([][]string, 0, len(tools))
	wordCorpus := make([][]string, 0, len(tools))
	for _, tool := range tools {
		text := searchableText(tool)
		doc := document{
			tool:     tool,
			ngrams:   ngramTokens(wordTokens(text)),
			words:    strings.Fields(strings.ToLower(text)),
			name:     strings.ToLower(tool.Name),
			desc:     strings.ToLower(tool.Description),
			category: strings.ToLower(tool.Category),
		}
		for _, tag := range tool.Tags {
			doc.tags = append(doc.tags, strings.ToLower(tag))
		}
		for _, p := range tool.RequiredParams {
			doc.params = append(doc.params, strings.ToLower(p.Name))
		}
		e.docs = append(e.docs, doc)
		ngramCorpus = append(ngramCorpus, doc.ngrams)
		wordCorpus = append(wordCorpus, doc.words)
	}

	if len(e.docs) > 0 {
		e.vectorizer = fitTFIDF(ngramCorpus)
		e.docVectors = make([]map[string]float64, len(e.docs))
		for i, grams := range ngramCorpus {
			e.docVectors[i] = e.vectorizer.vectorize(grams)
		}
		e.bm25 = newBM25(wordCorpus)
	}
	return e
}

// Size returns the number of indexed tools.
func (e *Engine) Size() int {
	return len(e.docs)
}

// Search ranks the indexed tools against the query. Components are
// normalised by their corpus maximum and combined as
// 0.3·tfidf + 0.4·bm25 + 0.3·keyword; only scores above the floor are
// returned, ordered descending with ties kept in index order.
func (e *Engine) Search(query string, opts Options) []Result {
	if len(e.docs) == 0 {
		return nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}

	processed := preprocessQuery(query)
	keywords := extractKeywords(query)

	queryVec := e.vectorizer.vectorize(ngramTokens(wordTokens(processed)))
	tfidfScores := make([]float64, len(e.docs))
	for i, docVec := range e.docVectors {
		tfidfScores[i] = dotSparse(queryVec, docVec)
	}

	bm25Scores := e.bm25.scores(strings.Fields(processed))

	keywordScores := make([]float64, len(e.docs))
	for i := range e.docs {
		keywordScores[i] = e.docs[i].keywordScore(keywords)
	}

	tfidfNorm := normalize(tfidfScores)
	bm25Norm := normalize(bm25Scores)
	keywordNorm := normalize(keywordScores)

	order := make([]int, len(e.docs))
	final := make([]float64, len(e.docs))
	for i := range e.docs {
		order[i] = i
		final[i] = weightTFIDF*tfidfNorm[i] + weightBM25*bm25Norm[i] + weightKeyword*keywordNorm[i]
	}
	sort.SliceStable(order, func(a, b int) bool {
		return final[order[a]] > final[order[b]]
	})

	var results []Result
	for _, idx := range order {
		doc := &e.docs[idx]
		if opts.Category != "" && doc.tool.Category != opts.Category {
			continue
		}
		if !opts.IncludeBugged && doc.tool.Bugged {
			continue
		}
		if final[idx] <= minScore {
			continue
		}
		results = append(results, Result{
			Tool:  doc.tool,
			Score: final[idx],
			Breakdown: Breakdown{
				TFIDF:   tfidfNorm[idx],
				BM25:    bm25Norm[idx],
				Keyword: keywordNorm[idx],
			},
		})
		if len(results) >= topK {
			break
		}
	}
	return results
}

// keywordScore sums the field boosts for every keyword matched by substring.
func (d *document) keywordScore(keywords []string) float64 {
	var score float64
	for _, kw := range keywords {
		if strings.Contains(d.name, kw) {
			score += boostName
		}
		if strings.Contains(d.desc, kw) {
			score += boostDesc
		}
		for _, tag := range d.tags {
			if strings.Contains(tag, kw) {
				score += boostTag
				break
			}
		}
		if strings.Contains(d.category, kw) {
			score += boostCategory
		}
		for _, param := range d.params {
			if strings.Contains(param, kw) {
				score += boostParam
				break
			}
		}
	}
	return score
}

// normalize scales scores into [0,1] by the corpus maximum. An all-zero
// component stays zero.
func normalize(scores []float64) []float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max <= 0 {
		return out
	}
	for i, s := range scores {
		out[i] = s / (max + 1e-10)
	}
	return out
}

// searchableText flattens a tool's metadata into one indexable string:
// name (raw and with underscores spaced), description, category, tags, and
// parameter names/types.
func searchableText(t *models.Tool) string {
	parts := []string{
		t.Name,
		strings.ReplaceAll(t.Name, "_", " "),
		t.Description,
		t.Category,
		strings.Join(t.Tags, " "),
		strings.Join(t.RequiredParamNames(), " "),
	}
	optional := make([]string, 0, len(t.OptionalParams))
	for name := range t.OptionalParams {
		optional = append(optional, name)
	}
	sort.Strings(optional)
	parts = append(parts, strings.Join(optional, " "))

	for _, p := range t.RequiredParams {
		parts = append(parts, p.Name, strings.ReplaceAll(p.Name, "_", " "), p.Type)
	}
	for _, name := range optional {
		parts = append(parts, name, strings.ReplaceAll(name, "_", " "))
	}

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}
