package platform

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
)

// Patterns are the product match rules. Specific patterns name an actual
// product and carry the high weight; generic patterns only mention the brand
// and carry the low weight. Vegan markers set an informational flag and do
// not affect the score.
type Patterns struct {
	Specific []string `yaml:"specific"`
	Generic  []string `yaml:"generic"`
	Vegan    []string `yaml:"vegan"`
}

// DefaultPatterns returns the built-in rules used when no pattern file is
// configured.
func DefaultPatterns() Patterns {
	return Patterns{
		Specific: []string{
			"planted.chicken", "planted chicken", "planted.kebab",
			"planted kebab", "planted.pulled", "planted pulled",
			"planted.bratwurst", "planted bratwurst", "planted.steak",
			"planted steak", "planted.schnitzel", "planted schnitzel",
		},
		Generic: []string{"planted"},
		Vegan: []string{
			"vegan", "plant-based", "plant based", "pflanzlich",
			"végétal", "vegano",
		},
	}
}

// LoadPatterns reads pattern rules from a yaml file, falling back to the
// defaults for any empty section.
func LoadPatterns(path string) (Patterns, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Patterns{}, eris.Wrapf(err, "platform: read pattern file %s", path)
	}

	var p Patterns
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Patterns{}, eris.Wrap(err, "platform: parse pattern file")
	}

	defaults := DefaultPatterns()
	if len(p.Specific) == 0 {
		p.Specific = defaults.Specific
	}
	if len(p.Generic) == 0 {
		p.Generic = defaults.Generic
	}
	if len(p.Vegan) == 0 {
		p.Vegan = defaults.Vegan
	}
	return p, nil
}

// Match is one menu item that matched a product pattern.
type Match struct {
	Item       model.MenuItem
	Confidence int
	Pattern    string
	Specific   bool
	Vegan      bool
}

// Matcher scores menu items against the product patterns.
type Matcher struct {
	patterns  Patterns
	genericRe []*regexp.Regexp
	cfg       config.ConfidenceConfig
}

// NewMatcher builds a Matcher. Generic patterns match on word boundaries so
// "planted" does not fire on "transplanted".
func NewMatcher(patterns Patterns, cfg config.ConfidenceConfig) *Matcher {
	m := &Matcher{patterns: patterns, cfg: cfg}
	for _, g := range patterns.Generic {
		m.genericRe = append(m.genericRe, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(g)+`\b`))
	}
	return m
}

// FindPlantedItems returns the menu items matching a product pattern, with
// specific matches scored above generic ones. Items matching both rules keep
// the specific score.
func (m *Matcher) FindPlantedItems(items []model.MenuItem) []Match {
	var out []Match
	for _, item := range items {
		haystack := strings.ToLower(item.Name + " " + item.Description)

		match := Match{Item: item}
		for _, p := range m.patterns.Specific {
			if strings.Contains(haystack, strings.ToLower(p)) {
				match.Pattern = p
				match.Specific = true
				match.Confidence = m.cfg.SpecificMatch
				break
			}
		}
		if !match.Specific {
			for i, re := range m.genericRe {
				if re.MatchString(haystack) {
					match.Pattern = m.patterns.Generic[i]
					match.Confidence = m.cfg.GenericMatch
					break
				}
			}
		}
		if match.Pattern == "" {
			continue
		}

		for _, v := range m.patterns.Vegan {
			if strings.Contains(haystack, strings.ToLower(v)) {
				match.Vegan = true
				break
			}
		}
		out = append(out, match)
	}
	return out
}

// Keywords returns the lowercase pattern terms for free-text scanning.
func (m *Matcher) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string{}, m.patterns.Generic...), m.patterns.Specific...) {
		p = strings.ToLower(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
