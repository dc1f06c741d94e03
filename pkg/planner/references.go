package planner

import (
	"strings"
	"unicode"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
)

// RefKind classifies a reference token.
type RefKind int

const (
	RefOrdinal RefKind = iota
	RefDemonstrative
	RefBackReference
)

// RefHit is one detected reference token, in order of appearance.
type RefHit struct {
	Kind     RefKind
	Word     string
	Position int // ordinal: 1-based position, -1 = last; otherwise 0
}

// RefScanner detects reference tokens against a closed, configurable
// vocabulary. Matching is word-level with a leading-vav conjunction
// stripped; ordinals additionally fall back to fuzzy matching so minor
// spelling variants ("השלשית") still bind.
type RefScanner struct {
	cfg           *config.ReferenceConfig
	timeSensitive []string
}

// NewRefScanner builds a scanner from the configured vocabulary.
func NewRefScanner(cfg *config.ReferenceConfig) *RefScanner {
	return &RefScanner{cfg: cfg, timeSensitive: config.TimeSensitiveTokens()}
}

// tokenize splits text into words with surrounding punctuation removed.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return fields
}

// stripConjunction removes a leading ו ("and") so "והשלישית" matches
// "השלישית".
func stripConjunction(word string) string {
	if strings.HasPrefix(word, "ו") && len(word) > len("ו") {
		return strings.TrimPrefix(word, "ו")
	}
	return word
}

// Scan returns every reference token in text, in order of appearance.
func (s *RefScanner) Scan(text string) []RefHit {
	var hits []RefHit
	for _, raw := range tokenize(text) {
		word := stripConjunction(raw)

		if pos, ok := s.matchOrdinal(word); ok {
			hits = append(hits, RefHit{Kind: RefOrdinal, Word: word, Position: pos})
			continue
		}
		if containsWord(s.cfg.BackReferences, word) {
			hits = append(hits, RefHit{Kind: RefBackReference, Word: word})
			continue
		}
		if containsWord(s.cfg.Demonstratives, word) {
			hits = append(hits, RefHit{Kind: RefDemonstrative, Word: word})
		}
	}
	// Multi-word back-references ("שהראית לי") match on the whole text.
	for _, phrase := range s.cfg.BackReferences {
		if strings.Contains(phrase, " ") && strings.Contains(text, phrase) {
			hits = append(hits, RefHit{Kind: RefBackReference, Word: phrase})
		}
	}
	return hits
}

// HasReference reports whether text contains any reference token.
func (s *RefScanner) HasReference(text string) bool {
	return len(s.Scan(text)) > 0
}

// HasResetCue reports whether text contains an explicit new-topic cue.
func (s *RefScanner) HasResetCue(text string) bool {
	for _, cue := range s.cfg.ResetCues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

// HasTimeSensitive reports whether text names a clock-dependent operator
// ("latest", "most recent", ...), which makes the answer uncacheable.
func (s *RefScanner) HasTimeSensitive(text string) bool {
	for _, word := range tokenize(text) {
		if containsWord(s.timeSensitive, stripConjunction(word)) {
			return true
		}
	}
	return false
}

// matchOrdinal matches word against the ordinal vocabulary, exactly first
// and then fuzzily within the configured similarity threshold.
func (s *RefScanner) matchOrdinal(word string) (int, bool) {
	if pos, ok := s.cfg.Ordinals[word]; ok {
		return pos, true
	}
	if s.cfg.FuzzyThreshold <= 0 {
		return 0, false
	}
	bestPos, bestSim := 0, 0.0
	for known, pos := range s.cfg.Ordinals {
		if sim := similarity(word, known); sim > bestSim {
			bestSim, bestPos = sim, pos
		}
	}
	if bestSim >= s.cfg.FuzzyThreshold && bestSim < 1.0 && bestPos != 0 && len([]rune(word)) >= 4 {
		return bestPos, true
	}
	return 0, false
}

func containsWord(vocab []string, word string) bool {
	for _, v := range vocab {
		if v == word {
			return true
		}
	}
	return false
}

// similarity is 1 - normalized Levenshtein distance over runes.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	dist := levenshtein(ra, rb)
	max := len(ra)
	if len(rb) > max {
		max = len(rb)
	}
	return 1 - float64(dist)/float64(max)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// resolveReference binds the scanned hits against the last result set.
// Returns the chosen artifact id, or ambiguous=true when clarification is
// needed (nothing to point to, out-of-range ordinal, or a bare
// demonstrative over multiple candidates).
//
// Priority: ordinal (latest-mentioned wins on ambiguous plurals) >
// back-reference (head of the set) > demonstrative (only over a single
// candidate).
func resolveReference(hits []RefHit, last *models.ResultSet) (id string, ambiguous bool) {
	if last == nil || len(last.IDs) == 0 {
		return "", true
	}

	var lastOrdinal *RefHit
	hasBack, hasDemo := false, false
	for i := range hits {
		switch hits[i].Kind {
		case RefOrdinal:
			lastOrdinal = &hits[i]
		case RefBackReference:
			hasBack = true
		case RefDemonstrative:
			hasDemo = true
		}
	}

	if lastOrdinal != nil {
		pos := lastOrdinal.Position
		if pos == -1 {
			return last.IDs[len(last.IDs)-1], false
		}
		if pos < 1 || pos > len(last.IDs) {
			return "", true
		}
		return last.IDs[pos-1], false
	}
	if hasBack {
		return last.IDs[0], false
	}
	if hasDemo {
		if len(last.IDs) == 1 {
			return last.IDs[0], false
		}
		return "", true
	}
	return "", true
}
