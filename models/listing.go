package models

import "time"

// RawListing holds one scraped record before geocoding.
// ID is assigned by the source and is unique within that source.
type RawListing struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Address    string            `json:"address"`
	URL        string            `json:"url"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Page       int               `json:"page"`
	Position   int               `json:"position"`
	ScrapedAt  time.Time         `json:"scraped_at"`
}

// Attr returns the named attribute or "" when absent.
func (r *RawListing) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// NormalizedAddress is the canonical lookup form of a listing address.
// Key is region-qualified and used for caching; Query is what gets sent to
// the geocoding provider.
type NormalizedAddress struct {
	Key   string
	Query string
}

// IsZero reports whether the address carries no usable text.
func (a NormalizedAddress) IsZero() bool {
	return a.Key == "" || a.Query == ""
}

// Coordinate quality levels, best first.
const (
	QualityRooftop     = "rooftop"
	QualityRange       = "range"
	QualityCentroid    = "centroid"
	QualityApproximate = "approximate"
)

// Coordinate is a resolved location. It is passed by value and never mutated.
type Coordinate struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Quality    string    `json:"quality"`
	Provider   string    `json:"provider"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// GeocodedListing joins a RawListing with its resolution outcome.
// Resolved=false is the explicit "unresolved" marker.
type GeocodedListing struct {
	Listing          RawListing  `json:"listing"`
	Coordinate       *Coordinate `json:"coordinate,omitempty"`
	Resolved         bool        `json:"resolved"`
	UnresolvedReason string      `json:"unresolved_reason,omitempty"`
}

// DatasetReport holds the computed analytics over a RegionDataset.
type DatasetReport struct {
	RegionCode        string             `json:"region"`
	Status            CompletionStatus   `json:"status"`
	TotalListings     int                `json:"total_listings"`
	ResolvedListings  int                `json:"resolved_listings"`
	ResolutionRate    float64            `json:"resolution_rate"`
	AveragePrice      float64            `json:"average_price"`
	MinPrice          float64            `json:"min_price"`
	MaxPrice          float64            `json:"max_price"`
	TopRated          []*GeocodedListing `json:"top_rated"`
	ByQuality         map[string]int     `json:"by_quality"`
	ByProvider        map[string]int     `json:"by_provider"`
	UnresolvedReasons map[string]int     `json:"unresolved_reasons"`
	PagesFetched      int                `json:"pages_fetched"`
	FailedPages       int                `json:"failed_pages"`
	DuplicatesDropped int                `json:"duplicates_dropped"`
	// RegionalMultiplier is the mean interpolated cost index over resolved
	// listings; zero when nothing resolved.
	RegionalMultiplier float64 `json:"regional_multiplier,omitempty"`
	CostArea           string  `json:"cost_area,omitempty"`
}
