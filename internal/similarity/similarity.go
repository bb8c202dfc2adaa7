// Package similarity scores how alike two free-text street addresses are.
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// streetSuffixes maps spelled-out street suffixes to their USPS-style abbreviation.
var streetSuffixes = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"drive":     "dr",
	"court":     "ct",
	"lane":      "ln",
	"boulevard": "blvd",
	"way":       "wy",
	"circle":    "cir",
	"place":     "pl",
}

var punctuation = strings.NewReplacer(
	".", "",
	",", "",
	"#", "",
)

// Normalize standardizes an address for comparison by:
//  1. Folding accented letters to their base form
//  2. Lowercasing
//  3. Stripping periods, commas and '#'
//  4. Collapsing whitespace and trimming
//  5. Abbreviating spelled-out street suffixes (street -> st, avenue -> ave, ...)
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	if folded, _, err := transform.String(accentFolder(), s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = punctuation.Replace(s)

	words := strings.Fields(s)
	for i, w := range words {
		if abbr, ok := streetSuffixes[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// accentFolder returns a fresh transformer; transform.Chain is not safe for
// concurrent use.
func accentFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Score returns a similarity in [0,1] between two addresses after
// normalization: 1 - editDistance / max(len). An empty input scores 0.0;
// otherwise identical normalized strings score 1.0, including inputs that
// normalize to nothing.
func Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}

	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}
