package zillow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apartment-ranker/models"
)

type nextData struct {
	Props struct {
		PageProps struct {
			SearchPageState struct {
				Cat1 struct {
					SearchResults struct {
						ListResults []json.RawMessage `json:"listResults"`
					} `json:"searchResults"`
				} `json:"cat1"`
			} `json:"searchPageState"`
		} `json:"pageProps"`
	} `json:"props"`
}

type searchResult struct {
	Zpid             json.RawMessage `json:"zpid"`
	Address          json.RawMessage `json:"address"`
	Price            json.RawMessage `json:"price"`
	UnformattedPrice json.RawMessage `json:"unformattedPrice"`
	Beds             json.RawMessage `json:"beds"`
	Baths            json.RawMessage `json:"baths"`
	Area             json.RawMessage `json:"area"`
	LivingArea       json.RawMessage `json:"livingArea"`
	DetailURL        string          `json:"detailUrl"`
	Units            []struct {
		Price json.RawMessage `json:"price"`
		Beds  json.RawMessage `json:"beds"`
		Baths json.RawMessage `json:"baths"`
	} `json:"units"`
}

type addressParts struct {
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	Zipcode       string `json:"zipcode"`
}

// ParseSearchResults extracts raw listings from the __NEXT_DATA__ JSON of a
// search page. Entries without an address or a detail URL are skipped, as
// are entries that are not JSON objects.
func ParseSearchResults(data []byte, scrapedAt time.Time) ([]*models.RawListing, error) {
	var doc nextData
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("zillow: decode search data: %w", err)
	}

	results := doc.Props.PageProps.SearchPageState.Cat1.SearchResults.ListResults
	listings := make([]*models.RawListing, 0, len(results))
	for _, raw := range results {
		var r searchResult
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) || json.Unmarshal(raw, &r) != nil {
			continue
		}
		if l := r.toRaw(scrapedAt); l != nil {
			listings = append(listings, l)
		}
	}
	return listings, nil
}

func (r *searchResult) toRaw(scrapedAt time.Time) *models.RawListing {
	l := &models.RawListing{
		ExternalID: text(r.Zpid),
		Source:     source,
		ScrapedAt:  scrapedAt,
	}

	var parts addressParts
	switch {
	case json.Unmarshal(r.Address, &l.Address) == nil:
		l.City, l.State, l.Zip = splitAddress(l.Address)
	case json.Unmarshal(r.Address, &parts) == nil && parts.StreetAddress != "":
		l.City, l.State, l.Zip = parts.City, parts.State, parts.Zipcode
		l.Address = strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s",
			parts.StreetAddress, parts.City, parts.State, parts.Zipcode))
	}
	l.Address = strings.TrimSpace(l.Address)

	l.URL = strings.TrimSpace(r.DetailURL)
	if strings.HasPrefix(l.URL, "/") {
		l.URL = siteOrigin + l.URL
	}
	if l.Address == "" || l.URL == "" {
		return nil
	}

	l.RawPrice = firstText(r.Price, r.UnformattedPrice)
	l.RawBeds = text(r.Beds)
	l.RawBaths = text(r.Baths)
	if len(r.Units) > 0 {
		unit := r.Units[0]
		if l.RawPrice == "" {
			l.RawPrice = text(unit.Price)
		}
		if l.RawBeds == "" {
			l.RawBeds = text(unit.Beds)
		}
		if l.RawBaths == "" {
			l.RawBaths = text(unit.Baths)
		}
	}
	l.RawSqft = firstText(r.Area, r.LivingArea)
	return l
}

// text renders a JSON string or number as plain text. Null, booleans and
// structured values render as "".
func text(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// firstText returns the first value that is neither empty nor numeric zero.
func firstText(raws ...json.RawMessage) string {
	for _, raw := range raws {
		s := text(raw)
		if s == "" {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == 0 {
			continue
		}
		return s
	}
	return ""
}

// splitAddress pulls city, state and zip out of "street, city, ST 12345".
func splitAddress(addr string) (city, state, zip string) {
	parts := strings.Split(addr, ",")
	if len(parts) < 3 {
		return "", "", ""
	}
	city = strings.TrimSpace(parts[len(parts)-2])
	fields := strings.Fields(parts[len(parts)-1])
	if len(fields) > 0 {
		state = fields[0]
	}
	if len(fields) > 1 {
		if _, err := strconv.Atoi(fields[1]); err == nil {
			zip = fields[1]
		}
	}
	return city, state, zip
}
