package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"listing-geocoder/models"
)

const geocodedColumns = 14

// PostgresWriter persists geocoded datasets to PostgreSQL. Re-crawling a
// region upserts by (region_code, source, listing_id).
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter runs schema migrations on db and returns a ready-to-use
// PostgresWriter.
func NewPostgresWriter(db *sql.DB) (*PostgresWriter, error) {
	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		return nil, eris.Wrap(err, "postgres: migrate")
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS geocoded_listings (
			id                SERIAL PRIMARY KEY,
			region_code       VARCHAR(64)      NOT NULL,
			source            VARCHAR(50)      NOT NULL,
			listing_id        TEXT             NOT NULL,
			page              INTEGER          NOT NULL DEFAULT 0,
			position          INTEGER          NOT NULL DEFAULT 0,
			address           TEXT             NOT NULL DEFAULT '',
			url               TEXT             NOT NULL DEFAULT '',
			resolved          BOOLEAN          NOT NULL DEFAULT FALSE,
			lat               DOUBLE PRECISION,
			lon               DOUBLE PRECISION,
			quality           VARCHAR(20)      NOT NULL DEFAULT '',
			provider          VARCHAR(50)      NOT NULL DEFAULT '',
			unresolved_reason TEXT             NOT NULL DEFAULT '',
			scraped_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			UNIQUE (region_code, source, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_geocoded_region   ON geocoded_listings(region_code);
		CREATE INDEX IF NOT EXISTS idx_geocoded_resolved ON geocoded_listings(resolved);
	`)
	return err
}

// WriteDataset batch-upserts every listing of ds.
func (pw *PostgresWriter) WriteDataset(ds *models.RegionDataset) error {
	if len(ds.Listings) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(ds.Listings); i += batchSize {
		end := i + batchSize
		if end > len(ds.Listings) {
			end = len(ds.Listings)
		}
		if err := pw.upsertBatch(ds.Region.Code, ds.Listings[i:end]); err != nil {
			return eris.Wrapf(err, "postgres: write %s rows %d-%d", ds.Region.Code, i, end)
		}
	}
	return nil
}

func (pw *PostgresWriter) upsertBatch(region string, batch []models.GeocodedListing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*geocodedColumns)

	for idx, gl := range batch {
		base := idx * geocodedColumns
		ph := make([]string, geocodedColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")

		var lat, lon sql.NullFloat64
		var quality, provider string
		if gl.Resolved && gl.Coordinate != nil {
			lat = sql.NullFloat64{Float64: gl.Coordinate.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: gl.Coordinate.Lon, Valid: true}
			quality, provider = gl.Coordinate.Quality, gl.Coordinate.Provider
		}
		l := gl.Listing
		valueArgs = append(valueArgs,
			region, l.Source, l.ID, l.Page, l.Position, l.Address, l.URL,
			gl.Resolved, lat, lon, quality, provider, gl.UnresolvedReason, l.ScrapedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO geocoded_listings (region_code, source, listing_id, page, position, address, url,
			resolved, lat, lon, quality, provider, unresolved_reason, scraped_at)
		VALUES %s
		ON CONFLICT (region_code, source, listing_id) DO UPDATE SET
			page = EXCLUDED.page,
			position = EXCLUDED.position,
			address = EXCLUDED.address,
			url = EXCLUDED.url,
			resolved = EXCLUDED.resolved,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			quality = EXCLUDED.quality,
			provider = EXCLUDED.provider,
			unresolved_reason = EXCLUDED.unresolved_reason,
			scraped_at = EXCLUDED.scraped_at
	`, strings.Join(valueStrings, ","))

	_, err := pw.db.Exec(query, valueArgs...)
	return err
}

// CountResolved returns total and resolved row counts for a region.
func (pw *PostgresWriter) CountResolved(region string) (total, resolved int, err error) {
	err = pw.db.QueryRow(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE resolved)
		FROM geocoded_listings
		WHERE region_code = $1
	`, region).Scan(&total, &resolved)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: count %s", region)
	}
	return total, resolved, nil
}

// Close is a no-op; the *sql.DB belongs to whoever opened it.
func (pw *PostgresWriter) Close() error { return nil }
