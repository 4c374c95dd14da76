// Package platform converts raw delivery-platform page content into
// structured venue and menu data. Adapters are pure transformations over
// already-fetched pages; network fetching lives elsewhere so adapters stay
// unit-testable against fixture documents.
package platform

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/eatplanted/venuescout/internal/model"
)

// Adapter is the per-platform capability contract. URL construction and
// parsing never perform I/O; ParseVenuePage never fails, degrading to
// whatever partial structure was obtainable.
type Adapter interface {
	// Platform returns the platform identifier, e.g. "wolt".
	Platform() string
	// SupportedCountries lists ISO country codes this adapter handles.
	SupportedCountries() []string
	// BaseURL returns the platform's canonical base URL.
	BaseURL() string

	// BuildSearchURL constructs a search URL for the query. City may be "".
	BuildSearchURL(query, country, city string) string
	// BuildVenueURL constructs a venue page URL from an id or slug.
	BuildVenueURL(idOrSlug, country string) string
	// ExtractVenueID recovers the venue id from a URL this adapter produced,
	// or "" when the URL does not identify a venue. It is the left-inverse
	// of BuildVenueURL.
	ExtractVenueID(url string) string
	// ExtractCity recovers the city slug from a platform URL, or "" when the
	// URL does not encode one. Feeds the distinct-location chain signal.
	ExtractCity(url string) string

	// ParseSearchResults extracts venue hits from a search results page,
	// deduplicated by venue id.
	ParseSearchResults(rawPage string) []model.SearchHit
	// ParseVenuePage extracts venue and menu data with layered fallback:
	// structured data block, then DOM extraction, then free-text scanning.
	// Worst case is VenueData{Name: "", MenuItems: []model.MenuItem{}}.
	ParseVenuePage(rawPage string) model.VenueData
}

// Registry holds the configured adapters keyed by platform identifier.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a Registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for a platform.
func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(platform)]
	if !ok {
		return nil, eris.Errorf("platform: no adapter for %q", platform)
	}
	return a, nil
}

// Platforms lists registered platform identifiers, sorted.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether the platform adapter covers the country.
func (r *Registry) Supports(platform, country string) bool {
	a, err := r.Get(platform)
	if err != nil {
		return false
	}
	for _, c := range a.SupportedCountries() {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// dedupeHits drops hits with repeated or empty venue ids, preserving order.
func dedupeHits(hits []model.SearchHit) []model.SearchHit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if h.VenueID == "" || seen[h.VenueID] {
			continue
		}
		seen[h.VenueID] = true
		out = append(out, h)
	}
	return out
}
