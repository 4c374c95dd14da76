package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/eatplanted/venuescout/internal/model"
)

// Wolt adapter. Venue pages embed a schema.org block plus a rendered menu;
// search pages are plain anchor lists.
type Wolt struct {
	keywords []string
}

// NewWolt creates the Wolt adapter. keywords drive the last-resort text scan
// on venue pages.
func NewWolt(keywords []string) *Wolt {
	return &Wolt{keywords: keywords}
}

func (w *Wolt) Platform() string { return "wolt" }

func (w *Wolt) SupportedCountries() []string {
	return []string{"deu", "aut", "che", "dnk", "fin", "swe", "nor", "pol", "est"}
}

func (w *Wolt) BaseURL() string { return "https://wolt.com" }

// countryCities maps a country to its default search city slug. Wolt search
// is city-scoped so a query without a city goes through the capital.
var woltDefaultCities = map[string]string{
	"deu": "berlin", "aut": "vienna", "che": "zurich", "dnk": "copenhagen",
	"fin": "helsinki", "swe": "stockholm", "nor": "oslo", "pol": "warsaw",
	"est": "tallinn",
}

func (w *Wolt) BuildSearchURL(query, country, city string) string {
	if city == "" {
		city = woltDefaultCities[strings.ToLower(country)]
	}
	citySlug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(city)), " ", "-")
	return fmt.Sprintf("%s/en/%s/%s/search?q=%s",
		w.BaseURL(), strings.ToLower(country), citySlug, url.QueryEscape(query))
}

func (w *Wolt) BuildVenueURL(idOrSlug, country string) string {
	return fmt.Sprintf("%s/en/%s/restaurant/%s",
		w.BaseURL(), strings.ToLower(country), idOrSlug)
}

var woltVenueRe = regexp.MustCompile(`/(?:restaurant|venue)/([a-z0-9][a-z0-9-]*)`)

func (w *Wolt) ExtractVenueID(u string) string {
	m := woltVenueRe.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1]
}

var woltCityRe = regexp.MustCompile(`wolt\.com/[a-z-]+/[a-z]{3}/([a-z-]+)/`)

// ExtractCity pulls the city slug out of a wolt URL. Venue and search URLs
// both carry it as the path segment after the country.
func (w *Wolt) ExtractCity(u string) string {
	if m := woltCityRe.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

func (w *Wolt) ParseSearchResults(rawPage string) []model.SearchHit {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawPage))
	if err != nil {
		return nil
	}

	var hits []model.SearchHit
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := w.ExtractVenueID(href)
		if id == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = w.BaseURL() + href
		}

		hit := model.SearchHit{
			Name:    collapseSpace(s.Find("h3, [data-test-id='venue-name']").First().Text()),
			URL:     href,
			VenueID: id,
			Snippet: collapseSpace(s.Text()),
		}
		if hit.Name == "" {
			hit.Name = collapseSpace(s.Text())
		}
		if m := woltCityRe.FindStringSubmatch(href); m != nil {
			hit.City = m[1]
		}
		hits = append(hits, hit)
	})
	return dedupeHits(hits)
}

func (w *Wolt) ParseVenuePage(rawPage string) model.VenueData {
	empty := model.VenueData{MenuItems: []model.MenuItem{}}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawPage))
	if err != nil {
		return empty
	}

	if data, ok := parseJSONLD(doc); ok {
		if data.MenuItems == nil {
			data.MenuItems = []model.MenuItem{}
		}
		return data
	}

	data := model.VenueData{MenuItems: []model.MenuItem{}}
	data.Name = collapseSpace(doc.Find("h1").First().Text())
	data.Address = collapseSpace(doc.Find("[data-test-id='venue-address'], address").First().Text())

	doc.Find("[data-test-id='horizontal-item-card'], [data-test-id='menu-item']").Each(func(_ int, s *goquery.Selection) {
		name := collapseSpace(s.Find("h3, [data-test-id='horizontal-item-card-header']").First().Text())
		if name == "" {
			return
		}
		data.MenuItems = append(data.MenuItems, model.MenuItem{
			Name:        name,
			Description: collapseSpace(s.Find("p").First().Text()),
			Price:       collapseSpace(priceRe.FindString(s.Text())),
			Section:     collapseSpace(s.Closest("[data-test-id='menu-section']").Find("h2").First().Text()),
		})
	})

	if len(data.MenuItems) == 0 {
		data.MenuItems = scanTextForItems(doc, w.keywords)
		if data.MenuItems == nil {
			data.MenuItems = []model.MenuItem{}
		}
	}
	return data
}
