// Package chain detects multi-location brands among discovery results so the
// orchestrator can enumerate their remaining locations.
package chain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Confidence grades a chain signal.
type Confidence string

const (
	// High: three or more distinct locations, or store-locator wording.
	High Confidence = "high"
	// Medium: exactly two locations, or a brand name pattern match.
	Medium Confidence = "medium"
	// Low: treated as an independent single-location venue.
	Low Confidence = "low"
)

// Signal is the outcome of chain detection for one venue name.
type Signal struct {
	Confidence  Confidence `json:"confidence"`
	Brand       string     `json:"brand"`
	NameMatch   bool       `json:"name_match"`
	MatchedRule string     `json:"matched_rule,omitempty"`
	Locations   int        `json:"locations"`
}

// IsChain reports whether the signal warrants follow-up enumeration.
func (s Signal) IsChain() bool {
	return s.Confidence == High || s.Confidence == Medium
}

var (
	// ampersandBrandRe matches two-part brands like "Salt & Bone".
	ampersandBrandRe = regexp.MustCompile(`^\w[\w'.]*\s*&\s*\w[\w'.]*$`)
	// allCapsRe matches shouty brand names of four letters or more.
	allCapsRe = regexp.MustCompile(`^[A-Z][A-Z0-9' ]{3,}$`)
)

// chainSuffixes are naming conventions common to multi-location operations.
var chainSuffixes = []string{
	"express", "city", "to go", "2go", "kitchen", "house", "bros",
	"brothers", "company", "co.", "group",
}

// locatorKeywords in result snippets indicate a store-locator style page.
var locatorKeywords = []string{
	"all locations", "our locations", "find a store", "store locator",
	"alle standorte", "unsere filialen", "standorte",
}

// foldName strips diacritics and lowercases so "Café Crème" and "Cafe Creme"
// compare equal across platforms that differ in accent handling.
func foldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// MatchNamePattern tests a venue name against the brand pattern rules and
// returns the matched rule name, or "" when none apply.
func MatchNamePattern(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	// Duplicated-word brands like "Birdie Birdie". RE2 has no backreferences
	// so the comparison is done on the split words.
	if words := strings.Fields(trimmed); len(words) == 2 && strings.EqualFold(words[0], words[1]) {
		return "duplicated_word"
	}
	if ampersandBrandRe.MatchString(trimmed) {
		return "ampersand_brand"
	}
	if allCapsRe.MatchString(trimmed) && len(strings.ReplaceAll(trimmed, " ", "")) >= 4 {
		return "all_caps"
	}

	folded := foldName(trimmed)
	for _, suffix := range chainSuffixes {
		if strings.HasSuffix(folded, " "+suffix) {
			return "chain_suffix"
		}
	}
	return ""
}

// Detect evaluates a venue name plus its result context. distinctLocations is
// the number of distinct cities the name appeared in across the current
// result set; resultText is the concatenated snippets for locator-keyword
// scanning.
func Detect(name string, distinctLocations int, resultText string) Signal {
	rule := MatchNamePattern(name)
	sig := Signal{
		Brand:       strings.TrimSpace(name),
		NameMatch:   rule != "",
		MatchedRule: rule,
		Locations:   distinctLocations,
	}

	lowerText := foldName(resultText)
	locator := false
	for _, kw := range locatorKeywords {
		if strings.Contains(lowerText, kw) {
			locator = true
			break
		}
	}

	switch {
	case distinctLocations >= 3 || locator:
		sig.Confidence = High
	case distinctLocations == 2 || sig.NameMatch:
		sig.Confidence = Medium
	default:
		sig.Confidence = Low
	}
	return sig
}

// SameBrand reports whether two venue names refer to the same brand after
// accent folding and whitespace normalization.
func SameBrand(a, b string) bool {
	return foldName(a) != "" && foldName(a) == foldName(b)
}
