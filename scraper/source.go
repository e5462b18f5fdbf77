// Package scraper drives page-by-page crawls of one region through the
// browser session pool and streams raw listings, in page order, to a sink.
package scraper

import (
	"listing-geocoder/browser"
	"listing-geocoder/models"
)

// Pagination describes how a source addresses its result pages.
type Pagination int

const (
	// IndexBased sources can build the URL of page n without having seen
	// page n-1, so pages may be fetched ahead of extraction.
	IndexBased Pagination = iota
	// CursorBased sources only reveal the next URL on the current page.
	CursorBased
)

func (p Pagination) String() string {
	if p == CursorBased {
		return "cursor"
	}
	return "index"
}

// PageResult is what a source extracts from one page.
type PageResult struct {
	Listings []*models.RawListing
	HasNext  bool
	NextURL  string
}

// Source knows the URL scheme and page layout of one listing site.
type Source interface {
	Name() string
	Pagination() Pagination

	// PageRequest builds the fetch for page n (1-based). cursor is the
	// NextURL of page n-1 and is empty for page 1 and for index-based sources.
	PageRequest(region models.Region, page int, cursor string) browser.PageRequest

	// Parse extracts listings from a fetched page. Layout problems should be
	// reported as *browser.ExtractionError.
	Parse(region models.Region, page int, raw *browser.RawPage) (*PageResult, error)
}

// Sink receives raw listings in page order.
type Sink interface {
	Ingest(l *models.RawListing) bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(l *models.RawListing) bool

func (f SinkFunc) Ingest(l *models.RawListing) bool { return f(l) }
