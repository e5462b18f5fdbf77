// Package geocode resolves normalised addresses to coordinates through
// rate limited providers, a shared cache and request collapsing.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"listing-geocoder/models"
)

var (
	// ErrNotFound means the provider answered but had no match.
	ErrNotFound = errors.New("geocode: address not found")

	// ErrRateLimited means the provider refused the call for exceeding its quota.
	ErrRateLimited = errors.New("geocode: provider rate limited")

	// ErrUnresolved is returned by the Resolver when an address could not be
	// resolved. The cause is wrapped alongside it.
	ErrUnresolved = errors.New("geocode: unresolved")
)

// ProviderError is a non-2xx answer or a transport failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("geocode: %s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("geocode: %s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether a retry may succeed.
func (e *ProviderError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*models.Coordinate, error)
}

// Cascade tries providers in order and returns the first match. A provider
// that errors for a reason other than ErrNotFound is skipped when a later
// provider matches; otherwise the first such error is returned.
type Cascade struct {
	providers []Provider
}

// NewCascade builds a cascade over providers, tried in order.
func NewCascade(providers ...Provider) *Cascade {
	return &Cascade{providers: providers}
}

func (c *Cascade) Name() string { return "cascade" }

// Providers returns the configured providers, in order.
func (c *Cascade) Providers() []Provider { return c.providers }

func (c *Cascade) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	var firstErr error
	for _, p := range c.providers {
		coord, err := p.Geocode(ctx, query)
		if err == nil {
			return coord, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotFound
}
