package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"listing-geocoder/models"
)

// PostgresCache is a durable CoordinateCache shared between processes.
type PostgresCache struct {
	db *sql.DB
}

// OpenPostgres opens and pings a PostgreSQL connection, retrying while the
// server comes up.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "postgres: ping failed after retries")
	}
	return db, nil
}

// NewPostgresCache wraps db and creates the coordinate_cache table.
func NewPostgresCache(db *sql.DB) (*PostgresCache, error) {
	pc := &PostgresCache{db: db}
	if err := pc.migrate(); err != nil {
		return nil, eris.Wrap(err, "postgres cache: migrate")
	}
	return pc, nil
}

func (pc *PostgresCache) migrate() error {
	_, err := pc.db.Exec(`
		CREATE TABLE IF NOT EXISTS coordinate_cache (
			address_key TEXT             PRIMARY KEY,
			lat         DOUBLE PRECISION NOT NULL,
			lon         DOUBLE PRECISION NOT NULL,
			quality     VARCHAR(20)      NOT NULL,
			provider    VARCHAR(50)      NOT NULL,
			resolved_at TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (pc *PostgresCache) Get(ctx context.Context, key string) (*models.Coordinate, bool, error) {
	var c models.Coordinate
	err := pc.db.QueryRowContext(ctx, `
		SELECT lat, lon, quality, provider, resolved_at
		FROM coordinate_cache
		WHERE address_key = $1
	`, key).Scan(&c.Lat, &c.Lon, &c.Quality, &c.Provider, &c.ResolvedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres cache: get %q", key)
	}
	return &c, true, nil
}

func (pc *PostgresCache) Put(ctx context.Context, key string, c models.Coordinate) error {
	_, err := pc.db.ExecContext(ctx, `
		INSERT INTO coordinate_cache (address_key, lat, lon, quality, provider, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address_key) DO UPDATE SET
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			quality = EXCLUDED.quality,
			provider = EXCLUDED.provider,
			resolved_at = EXCLUDED.resolved_at
	`, key, c.Lat, c.Lon, c.Quality, c.Provider, c.ResolvedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres cache: put %q", key)
	}
	return nil
}

func (pc *PostgresCache) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := pc.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coordinate_cache WHERE address_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres cache: exists %q", key)
	}
	return exists, nil
}

func (pc *PostgresCache) Delete(ctx context.Context, key string) error {
	if _, err := pc.db.ExecContext(ctx, `DELETE FROM coordinate_cache WHERE address_key = $1`, key); err != nil {
		return eris.Wrapf(err, "postgres cache: delete %q", key)
	}
	return nil
}

// Close is a no-op; the *sql.DB belongs to whoever opened it.
func (pc *PostgresCache) Close() error { return nil }
