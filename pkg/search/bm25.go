package search

import "math"

// Okapi BM25 constants.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// bm25Index is an Okapi BM25 index over whitespace-tokenised documents.
// Negative IDF values (terms in more than half the corpus) are floored at
// epsilon times the average IDF so common terms still contribute.
type bm25Index struct {
	docFreqs []map[string]int
	docLen   []int
	idf      map[string]float64
	avgdl    float64
}

func newBM25(corpus [][]string) *bm25Index {
	idx := &bm25Index{
		docFreqs: make([]map[string]int, 0, len(corpus)),
		docLen:   make([]int, 0, len(corpus)),
		idf:      make(map[string]float64),
	}

	nd := make(map[string]int)
	total := 0
	for _, doc := range corpus {
		idx.docLen = append(idx.docLen, len(doc))
		total += len(doc)

		freq := make(map[string]int, len(doc))
		for _, t := range doc {
			freq[t]++
		}
		idx.docFreqs = append(idx.docFreqs, freq)
		for t := range freq {
			nd[t]++
		}
	}
	if len(corpus) > 0 {
		idx.avgdl = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for t, df := range nd {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.idf[t] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, t)
		}
	}
	if len(idx.idf) > 0 {
		floor := bm25Epsilon * idfSum / float64(len(idx.idf))
		for _, t := range negative {
			idx.idf[t] = floor
		}
	}
	return idx
}

// scores returns the BM25 score of each indexed document for the query tokens.
func (b *bm25Index) scores(query []string) []float64 {
	out := make([]float64, len(b.docFreqs))
	if b.avgdl == 0 {
		return out
	}
	for _, q := range query {
		idf, ok := b.idf[q]
		if !ok {
			continue
		}
		for i, freqs := range b.docFreqs {
			f := float64(freqs[q])
			denom := f + bm25K1*(1-bm25B+bm25B*float64(b.docLen[i])/b.avgdl)
			if denom != 0 {
				out[i] += idf * f * (bm25K1 + 1) / denom
			}
		}
	}
	return out
}
