package spatial

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Name similarity tiers.
const (
	nameExactScore     = 1.0
	nameSubstringScore = 0.8
	namePrefixScore    = 0.5
	namePrefixMinRunes = 4
)

var nameFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases a name and strips diacritics, so that
// historical spellings like "Kalvebod Brygge" and "kalvebod brygge"
// or "Østergade"/"Ostergade" compare equal.
func NormalizeName(name string) string {
	folded, _, err := transform.String(nameFolder, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// NameSimilarity returns a coarse similarity score between two names:
// exact match 1.0, substring 0.8, common prefix of at least four runes
// 0.5, otherwise 0. Empty names never match.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return nameExactScore
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return nameSubstringScore
	}
	if commonPrefixRunes(na, nb) >= namePrefixMinRunes {
		return namePrefixScore
	}
	return 0
}

func commonPrefixRunes(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	count := 0
	for i := 0; i < n; i++ {
		if ra[i] != rb[i] {
			break
		}
		count++
	}
	return count
}
