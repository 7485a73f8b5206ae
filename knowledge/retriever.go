package knowledge

import (
	"sort"
	"strings"
)

const (
	DefaultLimit = 5
	MaxLimit     = 10

	// AllowZeroScoreResults keeps entries with no matching term when they fall
	// inside the requested window. There is no minimum-score floor.
	AllowZeroScoreResults = true
)

// Retriever scores knowledge entries against free-text queries.
// It holds no mutable state and is safe for concurrent use.
type Retriever struct {
	entries   []Entry
	haystacks []string
	allowZero bool
}

// NewRetriever indexes entries in corpus order.
func NewRetriever(entries []Entry) *Retriever {
	return newRetriever(entries, AllowZeroScoreResults)
}

func newRetriever(entries []Entry, allowZero bool) *Retriever {
	r := &Retriever{
		entries:   entries,
		haystacks: make([]string, len(entries)),
		allowZero: allowZero,
	}
	for i, e := range entries {
		r.haystacks[i] = strings.ToLower(e.Title + " " + e.Content)
	}
	return r
}

// ClampLimit maps a requested limit into [1, MaxLimit]; non-positive
// values select DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Query ranks entries by the number of distinct query terms each contains.
// Ties keep corpus order.
func (r *Retriever) Query(text string, limit int) []ScoredEntry {
	limit = ClampLimit(limit)
	terms := Terms(text)

	scored := make([]ScoredEntry, 0, len(r.entries))
	for i, e := range r.entries {
		score := Score(terms, r.haystacks[i])
		if score == 0 && !r.allowZero {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Terms lower-cases text and splits it on whitespace, dropping repeated
// terms while keeping first-seen order.
func Terms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// Score counts terms that occur as substrings of haystack. Each term counts
// at most once. Both arguments are expected lower-case.
func Score(terms []string, haystack string) int {
	score := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			score++
		}
	}
	return score
}
