package storage

import (
	"context"

	"listing-geocoder/models"
)

// CoordinateCache maps NormalizedAddress.Key to a resolved Coordinate.
// Concurrent Puts for the same key are last-write-wins; a miss is
// (nil, false, nil), never an error.
type CoordinateCache interface {
	Get(ctx context.Context, key string) (*models.Coordinate, bool, error)
	Put(ctx context.Context, key string, c models.Coordinate) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// DatasetWriter persists a finished region dataset.
type DatasetWriter interface {
	WriteDataset(ds *models.RegionDataset) error
	Close() error
}
