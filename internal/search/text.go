package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	tokenPattern   = regexp.MustCompile(`[\p{L}\p{N}]+`)
	bracketPattern = regexp.MustCompile(`[(\[（【]([^)\]）】]+)[)\]）】]`)
	titleSplitter  = regexp.MustCompile(`\s*[/|｜]\s*`)
)

// foldText lowercases s, strips diacritics, folds full/half width forms and
// keeps only letter/digit tokens separated by single spaces.
// A transform chain keeps state, so one is built per call.
func foldText(s string) string {
	if s == "" {
		return ""
	}
	chain := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), width.Fold, norm.NFC)
	folded, _, err := transform.String(chain, s)
	if err != nil {
		folded = s
	}
	tokens := tokenPattern.FindAllString(strings.ToLower(folded), -1)
	return strings.Join(tokens, " ")
}

// titleKeys returns the folded match keys for a title: the whole title, its
// bracketed parts, the title with brackets removed and its slash separated parts.
func titleKeys(title string) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	candidates := []string{title}
	for _, match := range bracketPattern.FindAllStringSubmatch(title, -1) {
		candidates = append(candidates, match[1])
	}
	outside := strings.TrimSpace(bracketPattern.ReplaceAllString(title, " "))
	if outside != "" && outside != title {
		candidates = append(candidates, outside)
	}
	for _, part := range titleSplitter.Split(outside, -1) {
		candidates = append(candidates, part)
	}

	keys := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		key := foldText(candidate)
		if !usableKey(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// usableKey rejects keys too weak to link two works on their own.
func usableKey(key string) bool {
	if utf8.RuneCountInString(key) < 2 {
		return false
	}
	for _, r := range key {
		if !unicode.IsDigit(r) && r != ' ' {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func hasLatin(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// levenshteinDistance counts single-rune insertions, deletions and substitutions.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	runesA := []rune(a)
	runesB := []rune(b)
	if len(runesA) == 0 {
		return len(runesB)
	}
	if len(runesB) == 0 {
		return len(runesA)
	}

	prev := make([]int, len(runesB)+1)
	curr := make([]int, len(runesB)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(runesA); i++ {
		curr[0] = i
		for j := 1; j <= len(runesB); j++ {
			cost := 1
			if runesA[i-1] == runesB[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(runesB)]
}

// LevenshteinSimilarity is the default similarity: 1 - distance/longest on folded input.
func LevenshteinSimilarity(query, candidate string) float64 {
	a := foldText(query)
	b := foldText(candidate)
	if a == "" || b == "" {
		return 0
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

func compareFloat64(left, right float64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
