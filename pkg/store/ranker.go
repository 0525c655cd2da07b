package store

import (
	"regexp"
	"sort"
	"strings"

	"github.com/artificer-dev/artificer/pkg/models"
)

// DefaultSearchThreshold filters out noise matches from ranked search.
const DefaultSearchThreshold = 0.3

var wordPattern = regexp.MustCompile(`\w+`)

// toolSynonyms expands query words with related terms so that "compute"
// finds a calculator and "temp" finds a temperature converter.
var toolSynonyms = map[string][]string{
	"calculate":   {"compute", "find", "determine", "get"},
	"convert":     {"transform", "change", "translate"},
	"factorial":   {"fact", "permutation"},
	"temperature": {"temp", "fahrenheit", "celsius", "kelvin"},
	"count":       {"number", "quantity", "amount"},
	"character":   {"char", "letter", "symbol"},
	"string":      {"text", "word"},
	"add":         {"sum", "plus", "addition"},
	"subtract":    {"minus", "difference"},
	"multiply":    {"times", "product"},
	"divide":      {"division", "quotient"},
}

// actionWords are verbs that describe what a tool does; overlap between
// query and tool text on these earns an extra boost.
var actionWords = map[string]bool{
	"calculate": true,
	"compute":   true,
	"convert":   true,
	"find":      true,
	"count":     true,
	"get":       true,
	"transform": true,
}

// ScoredTool pairs a tool with its relevance score.
type ScoredTool struct {
	Tool  *models.Tool
	Score float64
}

// RankTools scores tools against a free-text query and returns matches above
// the threshold, best first. Ties keep input order.
func RankTools(query string, tools []*models.Tool, threshold float64) []ScoredTool {
	queryLower := strings.ToLower(query)
	queryWords := wordSet(queryLower)

	// Expand query with synonyms: a hit on either side of a synonym entry
	// pulls in the whole group
	expanded := make(map[string]bool, len(queryWords))
	for w := range queryWords {
		expanded[w] = true
	}
	for w := range queryWords {
		for key, values := range toolSynonyms {
			if w == key || contains(values, w) {
				expanded[key] = true
				for _, v := range values {
					expanded[v] = true
				}
			}
		}
	}

	var results []ScoredTool
	for _, tool := range tools {
		score := scoreTool(tool, queryLower, expanded)
		if score > threshold {
			results = append(results, ScoredTool{Tool: tool, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func scoreTool(tool *models.Tool, queryLower string, expanded map[string]bool) float64 {
	score := 0.0

	nameLower := strings.ToLower(tool.Name)
	descLower := strings.ToLower(tool.Description)
	tagsLower := strings.ToLower(strings.Join(tool.Tags, " "))
	categoryLower := strings.ToLower(tool.Category)

	combined := nameLower + " " + descLower + " " + tagsLower + " " + categoryLower
	toolWords := wordSet(combined)

	// 1. Exact substring match in name (highest priority)
	if strings.Contains(nameLower, queryLower) {
		score += 10.0
	}

	// 2. Exact substring match in description
	if strings.Contains(descLower, queryLower) {
		score += 5.0
	}

	// 3. Word overlap with expanded query
	overlap := 0
	for w := range expanded {
		if toolWords[w] {
			overlap++
		}
	}
	score += float64(overlap) * 2.0

	// 4. Fuzzy matching on name
	score += sequenceRatio(queryLower, nameLower) * 3.0

	// 5. Fuzzy matching on description
	score += sequenceRatio(queryLower, descLower) * 2.0

	// 6. Tag exact matches
	for _, tag := range tool.Tags {
		if expanded[strings.ToLower(tag)] {
			score += 3.0
		}
	}

	// 7. Category match
	if categoryMatches(categoryLower, expanded) {
		score += 2.0
	}

	// 8. Action-verb overlap between the query and what the tool does
	actionOverlap := 0
	for w := range expanded {
		if actionWords[w] && toolWords[w] {
			actionOverlap++
		}
	}
	score += float64(actionOverlap) * 1.5

	// 9. Boost active, non-bugged tools
	if tool.Active {
		score *= 1.1
	}
	if !tool.Bugged {
		score *= 1.1
	}

	// 10. Mild popularity boost for frequently used tools
	if tool.ExecutionCount > 0 {
		score += min(float64(tool.ExecutionCount)*0.1, 2.0)
	}

	return score
}

func categoryMatches(categoryLower string, expanded map[string]bool) bool {
	if expanded[categoryLower] {
		return true
	}
	for w := range expanded {
		if strings.Contains(categoryLower, w) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(s, -1) {
		words[w] = true
	}
	return words
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
