package models

import (
	"errors"
	"strings"
	"time"
)

// BoundingBox restricts a crawl to a rectangle, in degrees.
type BoundingBox struct {
	South float64 `yaml:"south" json:"south"`
	West  float64 `yaml:"west" json:"west"`
	North float64 `yaml:"north" json:"north"`
	East  float64 `yaml:"east" json:"east"`
}

// Contains reports whether c lies inside the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lon >= b.West && c.Lon <= b.East
}

// Region is one crawl target. Crawls hold a Clone, so changes the caller
// makes after a crawl starts are not seen by it.
type Region struct {
	Code     string       `yaml:"code" json:"code"`
	Name     string       `yaml:"name" json:"name"`
	Locality string       `yaml:"locality" json:"locality"`
	BBox     *BoundingBox `yaml:"bbox,omitempty" json:"bbox,omitempty"`
	Center   *Coordinate  `yaml:"center,omitempty" json:"center,omitempty"`
	MaxPages int          `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	// CostIndex is the region's relative price level, 1.0 being average.
	// Zero means the region is not a reference point for cost estimates.
	CostIndex float64 `yaml:"cost_index,omitempty" json:"cost_index,omitempty"`
}

// Clone returns a deep copy of r.
func (r Region) Clone() Region {
	if r.BBox != nil {
		b := *r.BBox
		r.BBox = &b
	}
	if r.Center != nil {
		c := *r.Center
		r.Center = &c
	}
	return r
}

// Validate checks the fields every source needs.
func (r Region) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return errors.New("region code is required")
	}
	if strings.TrimSpace(r.Locality) == "" && strings.TrimSpace(r.Name) == "" {
		return errors.New("region needs a locality or a name")
	}
	if r.MaxPages < 0 {
		return errors.New("region max_pages must not be negative")
	}
	return nil
}

// Query returns the source query key, falling back to the name.
func (r Region) Query() string {
	if q := strings.TrimSpace(r.Locality); q != "" {
		return q
	}
	return strings.TrimSpace(r.Name)
}

// CompletionStatus tags a finished RegionDataset.
type CompletionStatus string

const (
	StatusCompleted CompletionStatus = "completed"
	StatusFailed    CompletionStatus = "failed"
	StatusCancelled CompletionStatus = "cancelled"
)

// PageFailure records a page that exhausted its retries.
type PageFailure struct {
	Page  int    `json:"page"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// DatasetMeta carries crawl bookkeeping alongside the listings.
type DatasetMeta struct {
	PagesFetched       int           `json:"pages_fetched"`
	ListingsSeen       int           `json:"listings_seen"`
	DuplicatesDropped  int           `json:"duplicates_dropped"`
	Rejected           int           `json:"rejected"`
	ResolutionFailures int           `json:"resolution_failures"`
	ResolutionTimeouts int           `json:"resolution_timeouts"`
	ExtractionErrors   int           `json:"extraction_errors"`
	NavigationErrors   int           `json:"navigation_errors"`
	FailedPages        []PageFailure `json:"failed_pages,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
}

// RegionDataset is the result of one region crawl. Listings are ordered by
// page, then by position on the page.
type RegionDataset struct {
	Region   Region            `json:"region"`
	Listings []GeocodedListing `json:"listings"`
	Status   CompletionStatus  `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Meta     DatasetMeta       `json:"meta"`
}

// CrawlState is the externally visible lifecycle of a crawl.
type CrawlState string

const (
	CrawlPending   CrawlState = "pending"
	CrawlRunning   CrawlState = "running"
	CrawlCompleted CrawlState = "completed"
	CrawlFailed    CrawlState = "failed"
	CrawlCancelled CrawlState = "cancelled"
)

// Terminal reports whether the state will not change again.
func (s CrawlState) Terminal() bool {
	return s == CrawlCompleted || s == CrawlFailed || s == CrawlCancelled
}

// CrawlStatus is a point-in-time snapshot of one crawl.
type CrawlStatus struct {
	Handle    string         `json:"handle"`
	Region    string         `json:"region"`
	State     CrawlState     `json:"state"`
	PagesDone int            `json:"pages_done"`
	Reason    string         `json:"reason,omitempty"`
	Dataset   *RegionDataset `json:"dataset,omitempty"`
}
