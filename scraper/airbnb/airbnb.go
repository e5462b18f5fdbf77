// Package airbnb is the Airbnb search-results source.
package airbnb

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listing-geocoder/browser"
	"listing-geocoder/models"
	"listing-geocoder/scraper"
)

const (
	defaultBaseURL = "https://www.airbnb.com"
	platform       = "airbnb"

	// cardMarker must match at least one element on a real results page.
	cardMarker = `[itemprop="itemListElement"], [data-testid="card-container"], div[data-testid="listing-card-wrapper"]`
)

var (
	cardSelectors = []string{
		`[data-testid="card-container"]`,
		`[itemprop="itemListElement"]`,
		`div[data-testid="listing-card-wrapper"]`,
	}
	nextSelectors = []string{
		`a[aria-label="Next"]`,
		`a[aria-label="next"]`,
		`[data-testid="pagination-next-button"]`,
	}

	roomIDPattern = regexp.MustCompile(`/rooms/(\d+)`)
	pricePattern  = regexp.MustCompile(`(\$|฿|€|£)\s*[\d,]+`)
	ratingPattern = regexp.MustCompile(`(\d\.\d+)`)
)

// Source builds Airbnb search URLs and extracts listing cards.
type Source struct {
	baseURL  string
	pageSize int
	now      func() time.Time
}

// New creates an Airbnb source. baseURL may be empty for the public site;
// pageSize is the number of cards Airbnb shows per results page.
func New(baseURL string, pageSize int) *Source {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if pageSize < 1 {
		pageSize = 18
	}
	return &Source{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
		now:      time.Now,
	}
}

func (s *Source) Name() string { return platform }

// Pagination is index based: page n is reachable through items_offset
// without visiting page n-1.
func (s *Source) Pagination() scraper.Pagination { return scraper.IndexBased }

func (s *Source) PageRequest(region models.Region, page int, _ string) browser.PageRequest {
	locality := region.Locality
	if locality == "" {
		locality = region.Query()
	}
	u := fmt.Sprintf("%s/s/%s/homes", s.baseURL, url.PathEscape(locality))
	if page > 1 {
		u += fmt.Sprintf("?items_offset=%d", (page-1)*s.pageSize)
	}
	return browser.PageRequest{URL: u, Marker: cardMarker}
}

// Parse reads the listing cards of one results page.
func (s *Source) Parse(region models.Region, page int, raw *browser.RawPage) (*scraper.PageResult, error) {
	doc := raw.Doc
	if doc == nil {
		return nil, &browser.ExtractionError{URL: raw.URL, Marker: cardMarker, Reason: "page was not parsed"}
	}

	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil, &browser.ExtractionError{URL: raw.URL, Marker: cardMarker, Reason: "no listing cards"}
	}

	result := &scraper.PageResult{}
	seen := make(map[string]bool)
	scrapedAt := s.now()

	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if len(result.Listings) >= s.pageSize {
			return false
		}
		l := s.parseCard(card, scrapedAt)
		if l == nil || seen[l.ID] {
			return true
		}
		seen[l.ID] = true
		result.Listings = append(result.Listings, l)
		return true
	})

	if len(result.Listings) == 0 {
		return nil, &browser.ExtractionError{URL: raw.URL, Marker: `a[href*="/rooms/"]`, Reason: "cards without room links"}
	}

	for _, sel := range nextSelectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && href != "" {
			result.HasNext = true
			result.NextURL = s.absolute(href)
			break
		}
	}
	return result, nil
}

func (s *Source) parseCard(card *goquery.Selection, scrapedAt time.Time) *models.RawListing {
	href, ok := card.Find(`a[href*="/rooms/"]`).First().Attr("href")
	if !ok {
		return nil
	}
	m := roomIDPattern.FindStringSubmatch(href)
	if m == nil {
		return nil
	}

	title := firstText(card, `[data-testid="listing-card-title"]`, `div[id*="title"]`)
	subtitle := firstText(card, `[data-testid="listing-card-subtitle"]`)

	price := ""
	if priceText := firstText(card, `[data-testid="price-availability-row"]`, `span[class*="price"]`); priceText != "" {
		if pm := pricePattern.FindString(priceText); pm != "" {
			price = pm
		} else {
			price = strings.SplitN(priceText, "\n", 2)[0]
		}
	}

	rating := ""
	if el := card.Find(`[aria-label*="rating"]`).First(); el.Length() > 0 {
		text := el.Text()
		if label, ok := el.Attr("aria-label"); ok && strings.TrimSpace(text) == "" {
			text = label
		}
		if rm := ratingPattern.FindStringSubmatch(text); rm != nil {
			rating = rm[1]
		}
	}

	address := subtitle
	if address == "" {
		address = title
	}

	return &models.RawListing{
		ID:      m[1],
		Source:  platform,
		Address: address,
		URL:     s.absolute(href),
		Attributes: map[string]string{
			"title":  title,
			"price":  price,
			"rating": rating,
		},
		ScrapedAt: scrapedAt,
	}
}

func (s *Source) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return s.baseURL + href
}

func firstText(card *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(card.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}
