package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// maxVocabulary caps the TF-IDF feature space. Terms beyond the cap (ordered
// by corpus frequency, ties alphabetical) are dropped from the vocabulary.
const maxVocabulary = 1000

var wordToken = regexp.MustCompile(`[a-zA-Z0-9_]{2,}`)

// wordTokens splits lowercased text into word tokens of two or more
// characters, the unit the vectorizer operates on.
func wordTokens(text string) []string {
	return wordToken.FindAllString(strings.ToLower(text), -1)
}

// ngramTokens removes stop words and emits unigrams plus bigrams over the
// remaining adjacent tokens.
func ngramTokens(words []string) []string {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := englishStopWords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}

	grams := make([]string, 0, 2*len(kept))
	grams = append(grams, kept...)
	for i := 0; i+1 < len(kept); i++ {
		grams = append(grams, kept[i]+" "+kept[i+1])
	}
	return grams
}

// tfidfVectorizer holds a fitted vocabulary with smoothed inverse document
// frequencies: idf(t) = ln((1+N)/(1+df)) + 1. Vectors are L2-normalised, so
// cosine similarity reduces to a sparse dot product.
type tfidfVectorizer struct {
	idf map[string]float64
}

func fitTFIDF(docs [][]string) *tfidfVectorizer {
	termCount := make(map[string]int)
	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, t := range doc {
			termCount[t]++
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				docFreq[t]++
			}
		}
	}

	terms := make([]string, 0, len(termCount))
	for t := range termCount {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if termCount[terms[i]] != termCount[terms[j]] {
			return termCount[terms[i]] > termCount[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxVocabulary {
		terms = terms[:maxVocabulary]
	}

	v := &tfidfVectorizer{idf: make(map[string]float64, len(terms))}
	n := float64(len(docs))
	for _, t := range terms {
		v.idf[t] = math.Log((1+n)/float64(1+docFreq[t])) + 1
	}
	return v
}

// vectorize maps tokens to an L2-normalised sparse TF-IDF vector. Tokens
// outside the fitted vocabulary are ignored.
func (v *tfidfVectorizer) vectorize(tokens []string) map[string]float64 {
	tf := make(map[string]int)
	for _, t := range tokens {
		if _, ok := v.idf[t]; ok {
			tf[t]++
		}
	}

	vec := make(map[string]float64, len(tf))
	var norm float64
	for t, c := range tf {
		w := float64(c) * v.idf[t]
		vec[t] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for t := range vec {
			vec[t] /= norm
		}
	}
	return vec
}

func dotSparse(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for t, av := range a {
		if bv, ok := b[t]; ok {
			dot += av * bv
		}
	}
	return dot
}
