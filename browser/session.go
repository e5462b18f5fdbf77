// Package browser manages the bounded set of page-fetch sessions used by
// the crawler. A session is anything that can turn a URL into rendered HTML;
// the chromedp implementation drives a headless Chrome, the HTTP one issues
// plain GET requests.
package browser

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PageRequest describes one page fetch. Marker is a CSS selector that must
// match at least once on a healthy listing page.
type PageRequest struct {
	URL    string
	Marker string
}

// RawPage is the rendered content of one fetched page.
type RawPage struct {
	URL       string
	FinalURL  string
	HTML      string
	Doc       *goquery.Document
	FetchedAt time.Time
	Latency   time.Duration
}

// Session fetches pages. Sessions are stateful and not safe for concurrent use;
// the Pool hands each one to a single caller at a time.
type Session interface {
	FetchPage(ctx context.Context, req PageRequest) (*RawPage, error)
	Close() error
}

// Factory creates new sessions for the pool.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Session, error)

func (f FactoryFunc) NewSession(ctx context.Context) (Session, error) { return f(ctx) }

// NewRawPage parses html and verifies the marker. A page without the marker
// yields an ExtractionError, never a partially usable page.
func NewRawPage(req PageRequest, finalURL, html string, latency time.Duration) (*RawPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ExtractionError{URL: req.URL, Reason: "unparseable html: " + err.Error()}
	}
	if marker := strings.TrimSpace(req.Marker); marker != "" && doc.Find(marker).Length() == 0 {
		return nil, &ExtractionError{URL: req.URL, Marker: marker}
	}
	if finalURL == "" {
		finalURL = req.URL
	}
	return &RawPage{
		URL:       req.URL,
		FinalURL:  finalURL,
		HTML:      html,
		Doc:       doc,
		FetchedAt: time.Now(),
		Latency:   latency,
	}, nil
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// pickUserAgent returns ua when set, otherwise a random desktop user agent.
func pickUserAgent(ua string) string {
	if strings.TrimSpace(ua) != "" {
		return ua
	}
	return userAgents[rand.Intn(len(userAgents))]
}
