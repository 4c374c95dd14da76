package platform

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/eatplanted/venuescout/internal/model"
)

// jsonLDRestaurant mirrors the schema.org Restaurant subset the delivery
// platforms embed. Unknown fields are ignored by encoding/json.
type jsonLDRestaurant struct {
	Type    string `json:"@type"`
	Name    string `json:"name"`
	Address struct {
		StreetAddress   string `json:"streetAddress"`
		AddressLocality string `json:"addressLocality"`
		AddressCountry  string `json:"addressCountry"`
	} `json:"address"`
	Telephone       string `json:"telephone"`
	AggregateRating struct {
		RatingValue json.Number `json:"ratingValue"`
	} `json:"aggregateRating"`
	HasMenu struct {
		HasMenuSection []struct {
			Name        string `json:"name"`
			HasMenuItem []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Offers      struct {
					Price         json.Number `json:"price"`
					PriceCurrency string      `json:"priceCurrency"`
				} `json:"offers"`
			} `json:"hasMenuItem"`
		} `json:"hasMenuSection"`
	} `json:"hasMenu"`
}

// parseJSONLD scans <script type="application/ld+json"> blocks for a
// Restaurant node and maps it to VenueData. Returns false when no usable
// block exists; malformed blocks are skipped, not fatal.
func parseJSONLD(doc *goquery.Document) (model.VenueData, bool) {
	var out model.VenueData
	found := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		// Some platforms wrap the node in a one-element array.
		candidates := []string{raw}
		if strings.HasPrefix(raw, "[") {
			var arr []json.RawMessage
			if err := json.Unmarshal([]byte(raw), &arr); err == nil {
				candidates = candidates[:0]
				for _, m := range arr {
					candidates = append(candidates, string(m))
				}
			}
		}

		for _, c := range candidates {
			var node jsonLDRestaurant
			if err := json.Unmarshal([]byte(c), &node); err != nil {
				continue
			}
			if !strings.EqualFold(node.Type, "Restaurant") && !strings.EqualFold(node.Type, "FoodEstablishment") {
				continue
			}

			out.Name = strings.TrimSpace(node.Name)
			out.Address = strings.TrimSpace(node.Address.StreetAddress)
			out.City = strings.TrimSpace(node.Address.AddressLocality)
			out.Country = strings.TrimSpace(node.Address.AddressCountry)
			out.Phone = strings.TrimSpace(node.Telephone)
			if v, err := node.AggregateRating.RatingValue.Float64(); err == nil {
				out.Rating = v
			}
			for _, section := range node.HasMenu.HasMenuSection {
				for _, item := range section.HasMenuItem {
					if strings.TrimSpace(item.Name) == "" {
						continue
					}
					out.MenuItems = append(out.MenuItems, model.MenuItem{
						Name:        strings.TrimSpace(item.Name),
						Description: strings.TrimSpace(item.Description),
						Price:       item.Offers.Price.String(),
						Currency:    item.Offers.PriceCurrency,
						Section:     strings.TrimSpace(section.Name),
					})
				}
			}
			if out.Name != "" {
				found = true
				return false
			}
		}
		return true
	})

	return out, found
}

var (
	priceRe      = regexp.MustCompile(`(?:€|CHF|£|\$)\s*\d+[.,]\d{2}|\d+[.,]\d{2}\s*(?:€|CHF|£)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// collapseSpace trims and collapses runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// scanTextForItems is the last-resort parse layer: strip all markup and look
// for lines mentioning a product keyword, taking the line as the item name
// and any adjacent price token as the price. Produces low-fidelity items that
// downstream scoring flags as partial.
func scanTextForItems(doc *goquery.Document, keywords []string) []model.MenuItem {
	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	var items []model.MenuItem
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = collapseSpace(line)
		if line == "" || len(line) > 200 {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			name := priceRe.ReplaceAllString(line, "")
			name = collapseSpace(name)
			if name == "" || seen[name] {
				break
			}
			seen[name] = true
			items = append(items, model.MenuItem{
				Name:  name,
				Price: collapseSpace(priceRe.FindString(line)),
			})
			break
		}
	}
	return items
}
