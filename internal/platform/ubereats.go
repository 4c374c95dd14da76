package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/eatplanted/venuescout/internal/model"
)

// UberEats adapter. Store URLs carry a slug plus a UUID; the UUID is the
// stable venue id.
type UberEats struct {
	keywords []string
}

// NewUberEats creates the Uber Eats adapter.
func NewUberEats(keywords []string) *UberEats {
	return &UberEats{keywords: keywords}
}

func (u *UberEats) Platform() string { return "ubereats" }

func (u *UberEats) SupportedCountries() []string {
	return []string{"deu", "che", "fra", "gbr", "nld", "bel", "esp", "ita"}
}

func (u *UberEats) BaseURL() string { return "https://www.ubereats.com" }

// countryPaths maps ISO codes to Uber Eats locale path segments.
var uberCountryPaths = map[string]string{
	"deu": "de", "che": "ch", "fra": "fr", "gbr": "gb", "nld": "nl",
	"bel": "be", "esp": "es", "ita": "it",
}

func (u *UberEats) BuildSearchURL(query, country, city string) string {
	q := query
	if city != "" {
		q = query + " " + city
	}
	path := uberCountryPaths[strings.ToLower(country)]
	if path == "" {
		path = strings.ToLower(country)
	}
	return fmt.Sprintf("%s/%s/search?q=%s", u.BaseURL(), path, url.QueryEscape(q))
}

func (u *UberEats) BuildVenueURL(idOrSlug, country string) string {
	path := uberCountryPaths[strings.ToLower(country)]
	if path == "" {
		path = strings.ToLower(country)
	}
	return fmt.Sprintf("%s/%s/store/%s", u.BaseURL(), path, idOrSlug)
}

var uberStoreRe = regexp.MustCompile(`/store/(?:[^/?#]+/)?([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[A-Za-z0-9_-]+)`)

func (u *UberEats) ExtractVenueID(rawURL string) string {
	m := uberStoreRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

var uberCityRe = regexp.MustCompile(`/city/([a-z-]+)`)

// ExtractCity recovers the city slug from a city-listing URL. Store URLs do
// not encode a city.
func (u *UberEats) ExtractCity(rawURL string) string {
	if m := uberCityRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (u *UberEats) ParseSearchResults(rawPage string) []model.SearchHit {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawPage))
	if err != nil {
		return nil
	}

	var hits []model.SearchHit
	doc.Find("a[href*='/store/']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := u.ExtractVenueID(href)
		if id == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = u.BaseURL() + href
		}

		name := collapseSpace(s.Find("h3").First().Text())
		if name == "" {
			if aria, ok := s.Attr("aria-label"); ok {
				name = collapseSpace(aria)
			} else {
				name = collapseSpace(s.Text())
			}
		}
		hits = append(hits, model.SearchHit{
			Name:    name,
			URL:     href,
			VenueID: id,
			Snippet: collapseSpace(s.Text()),
		})
	})
	return dedupeHits(hits)
}

func (u *UberEats) ParseVenuePage(rawPage string) model.VenueData {
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

	doc.Find("li[data-testid^='store-item'], div[data-testid='menu-item']").Each(func(_ int, s *goquery.Selection) {
		name := collapseSpace(s.Find("span").First().Text())
		if name == "" {
			return
		}
		data.MenuItems = append(data.MenuItems, model.MenuItem{
			Name:        name,
			Description: collapseSpace(s.Find("div > span").Eq(1).Text()),
			Price:       collapseSpace(priceRe.FindString(s.Text())),
		})
	})

	if len(data.MenuItems) == 0 {
		data.MenuItems = scanTextForItems(doc, u.keywords)
		if data.MenuItems == nil {
			data.MenuItems = []model.MenuItem{}
		}
	}
	return data
}
