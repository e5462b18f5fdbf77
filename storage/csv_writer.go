package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"listing-geocoder/models"
)

var csvHeader = []string{
	"region", "source", "listing_id", "page", "position", "address", "title", "price", "rating",
	"url", "resolved", "lat", "lon", "quality", "provider", "unresolved_reason", "scraped_at",
}

// CSVWriter appends geocoded listings to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteDataset writes one row per listing. Unresolved listings keep empty
// coordinate columns.
func (c *CSVWriter) WriteDataset(ds *models.RegionDataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, gl := range ds.Listings {
		if err := c.writer.Write(csvRow(ds.Region.Code, gl)); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func csvRow(region string, gl models.GeocodedListing) []string {
	l := gl.Listing
	lat, lon, quality, provider := "", "", "", ""
	if gl.Resolved && gl.Coordinate != nil {
		lat = strconv.FormatFloat(gl.Coordinate.Lat, 'f', 6, 64)
		lon = strconv.FormatFloat(gl.Coordinate.Lon, 'f', 6, 64)
		quality = gl.Coordinate.Quality
		provider = gl.Coordinate.Provider
	}
	return []string{
		region,
		l.Source,
		l.ID,
		strconv.Itoa(l.Page),
		strconv.Itoa(l.Position),
		l.Address,
		l.Attr("title"),
		l.Attr("price"),
		l.Attr("rating"),
		l.URL,
		strconv.FormatBool(gl.Resolved),
		lat,
		lon,
		quality,
		provider,
		gl.UnresolvedReason,
		l.ScrapedAt.Format(time.RFC3339),
	}
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
