package fuzzy

import (
	"strings"
	"unicode"
)

// LevenshteinDistance calculates the edit distance between two strings
// This measures how many single-character edits (insertions, deletions, or substitutions)
// are required to change one string into another
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))
	m := len(r1)
	n := len(r2)

	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	// Two rolling rows are enough
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}

// Similarity maps edit distance onto [0,1], 1 meaning identical.
func Similarity(s1, s2 string) float64 {
	l1 := len([]rune(normalizeString(s1)))
	l2 := len([]rune(normalizeString(s2)))
	longest := l1
	if l2 > longest {
		longest = l2
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(LevenshteinDistance(s1, s2))/float64(longest)
}

// legalSuffixes are dropped before comparing company names so that
// "Acme Inc." and "ACME" compare equal.
var legalSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "llc": {}, "ltd": {}, "limited": {},
	"corp": {}, "corporation": {}, "co": {}, "company": {}, "gmbh": {},
	"plc": {}, "sa": {}, "ag": {}, "bv": {}, "pty": {}, "the": {},
}

// CompanyTokens splits a company title into comparable tokens: lowercase,
// accents and punctuation removed, legal suffixes dropped.
func CompanyTokens(name string) []string {
	name = removeAccents(strings.ToLower(name))
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := legalSuffixes[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	if len(tokens) == 0 {
		return fields
	}
	return tokens
}

// TokenMatchRatio scores how closely two company titles match on their
// tokens. Each token pairs with its most similar unused counterpart and the
// summed similarity is normalized over both token counts (Dice style).
func TokenMatchRatio(a, b string) float64 {
	ta := CompanyTokens(a)
	tb := CompanyTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}

	used := make([]bool, len(tb))
	total := 0.0
	for _, x := range ta {
		best, bestIdx := 0.0, -1
		for j, y := range tb {
			if used[j] {
				continue
			}
			if s := Similarity(x, y); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			total += best
		}
	}
	return 2 * total / float64(len(ta)+len(tb))
}

// Helper functions

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// normalizeString converts to lowercase and handles unicode
func normalizeString(s string) string {
	s = strings.ToLower(s)
	// Remove extra whitespace
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// removeAccents removes diacritical marks from a string
func removeAccents(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) { // Mn: Mark, nonspacing
			continue
		}
		switch r {
		case 'á', 'à', 'ả', 'ã', 'ạ', 'ă', 'ắ', 'ằ', 'ẳ', 'ẵ', 'ặ', 'â', 'ấ', 'ầ', 'ẩ', 'ẫ', 'ậ', 'ä', 'å':
			result.WriteRune('a')
		case 'é', 'è', 'ẻ', 'ẽ', 'ẹ', 'ê', 'ế', 'ề', 'ể', 'ễ', 'ệ', 'ë':
			result.WriteRune('e')
		case 'í', 'ì', 'ỉ', 'ĩ', 'ị', 'ï', 'î':
			result.WriteRune('i')
		case 'ó', 'ò', 'ỏ', 'õ', 'ọ', 'ô', 'ố', 'ồ', 'ổ', 'ỗ', 'ộ', 'ơ', 'ớ', 'ờ', 'ở', 'ỡ', 'ợ', 'ö':
			result.WriteRune('o')
		case 'ú', 'ù', 'ủ', 'ũ', 'ụ', 'ư', 'ứ', 'ừ', 'ử', 'ữ', 'ự', 'ü', 'û':
			result.WriteRune('u')
		case 'ý', 'ỳ', 'ỷ', 'ỹ', 'ỵ':
			result.WriteRune('y')
		case 'đ':
			result.WriteRune('d')
		case 'ç':
			result.WriteRune('c')
		case 'ñ':
			result.WriteRune('n')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
