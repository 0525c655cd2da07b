package search

import (
	"regexp"
	"strings"
)

// abbreviations rewrites common shorthand inside queries. Expansion is
// ordered substring replacement, so earlier rewrites feed later ones.
var abbreviations = []struct{ abbr, expansion string }{
	{"calc", "calculate calculation"},
	{"math", "mathematics mathematical"},
	{"web", "website internet"},
	{"db", "database"},
	{"img", "image"},
	{"vid", "video"},
	{"txt", "text"},
	{"doc", "document"},
}

// metaWords carry intent but no searchable signal and are dropped from
// keyword extraction.
var metaWords = map[string]struct{}{
	"need": {}, "want": {}, "use": {}, "help": {},
	"tool": {}, "function": {}, "can": {}, "how": {},
}

var keywordToken = regexp.MustCompile(`\w+`)

// preprocessQuery lowercases the query and expands abbreviations.
func preprocessQuery(query string) string {
	query = strings.ToLower(query)
	for _, a := range abbreviations {
		query = strings.ReplaceAll(query, a.abbr, a.expansion)
	}
	return query
}

// extractKeywords returns the meaningful terms of a query: preprocessed,
// meta-words removed, tokens of one or two characters dropped.
func extractKeywords(query string) []string {
	words := keywordToken.FindAllString(preprocessQuery(query), -1)

	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if _, meta := metaWords[w]; meta {
			continue
		}
		if len(w) <= 2 {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}
