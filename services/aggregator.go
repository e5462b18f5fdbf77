package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"listing-geocoder/geocode"
	"listing-geocoder/models"
	"listing-geocoder/utils"
)

// ErrResolutionTimeout marks listings still unresolved when the
// finalisation deadline passed.
var ErrResolutionTimeout = errors.New("resolution timeout")

// Reasons recorded on unresolved listings.
const (
	ReasonEmptyAddress  = "empty address"
	ReasonNotFound      = "not found"
	ReasonRateLimited   = "rate limited"
	ReasonProviderError = "provider error"
	ReasonOutsideRegion = "outside region"
	ReasonCancelled     = "cancelled"
)

// AddressResolver is the part of geocode.Resolver the aggregator needs.
type AddressResolver interface {
	Resolve(ctx context.Context, addr models.NormalizedAddress) (*models.Coordinate, error)
}

// future is one in-flight resolution, shared by every listing with the
// same normalised address in this crawl.
type future struct {
	done  chan struct{}
	coord *models.Coordinate
	err   error
}

type entry struct {
	listing models.RawListing
	fut     *future
	reason  string
}

// Aggregator deduplicates listings of one crawl, starts address resolution
// as they arrive and assembles the dataset at the end.
type Aggregator struct {
	ctx      context.Context
	region   models.Region
	resolver AddressResolver
	workers  *utils.WorkerPool
	cleaner  *Cleaner
	timeout  time.Duration
	logger   *utils.Logger

	mu         sync.Mutex
	seen       *utils.IDSet
	entries    []*entry
	futures    map[string]*future
	seenCount  int
	duplicates int
	rejected   int
	finalized  bool
}

// NewAggregator creates an aggregator for one crawl. Resolutions run on
// workers and are cancelled with ctx; timeout bounds how long Finalize
// waits for the ones still pending.
func NewAggregator(ctx context.Context, region models.Region, resolver AddressResolver,
	workers *utils.WorkerPool, timeout time.Duration, logger *utils.Logger) *Aggregator {
	return &Aggregator{
		ctx:      ctx,
		region:   region,
		resolver: resolver,
		workers:  workers,
		cleaner:  NewCleaner(logger),
		timeout:  timeout,
		logger:   logger,
		seen:     utils.NewIDSet(),
		futures:  make(map[string]*future),
	}
}

// Ingest records a listing and returns false when it was dropped as a
// duplicate or for lacking an ID. Ingesting the same listing twice has no
// further effect.
func (a *Aggregator) Ingest(l *models.RawListing) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seenCount++
	if a.finalized {
		a.logger.Warn("[aggregator] %s: listing %s arrived after finalisation", a.region.Code, l.ID)
		return false
	}
	if l.ID == "" {
		a.rejected++
		a.logger.Warn("[aggregator] %s: dropping listing without id: %s", a.region.Code, l.URL)
		return false
	}
	if !a.seen.Add(l.Source + "/" + l.ID) {
		a.duplicates++
		a.logger.Debug("[aggregator] %s: duplicate listing %s", a.region.Code, l.ID)
		return false
	}

	e := &entry{listing: *l}
	addr := a.cleaner.Normalize(a.region, l.Address)
	if addr.IsZero() {
		e.reason = ReasonEmptyAddress
	} else {
		e.fut = a.futureFor(addr)
	}
	a.entries = append(a.entries, e)
	return true
}

// futureFor returns the shared future for addr, starting the resolution
// on first use. Callers hold a.mu.
func (a *Aggregator) futureFor(addr models.NormalizedAddress) *future {
	if f, ok := a.futures[addr.Key]; ok {
		return f
	}
	f := &future{done: make(chan struct{})}
	a.futures[addr.Key] = f

	a.workers.SubmitOr(a.ctx, func(ctx context.Context) {
		defer close(f.done)
		f.coord, f.err = a.resolver.Resolve(ctx, addr)
	}, func(err error) {
		f.err = err
		close(f.done)
	})
	return f
}

// Finalize waits for outstanding resolutions, at most the configured
// timeout in total, and returns the dataset in ingestion order. When ctx is
// already done it does not wait at all. Status and crawl counters are left
// for the caller.
func (a *Aggregator) Finalize(ctx context.Context) *models.RegionDataset {
	a.mu.Lock()
	a.finalized = true
	entries := a.entries
	meta := models.DatasetMeta{
		ListingsSeen:      a.seenCount,
		DuplicatesDropped: a.duplicates,
		Rejected:          a.rejected,
	}
	a.mu.Unlock()

	waiting := ctx.Err() == nil
	var deadline <-chan time.Time
	if waiting && a.timeout > 0 {
		t := time.NewTimer(a.timeout)
		defer t.Stop()
		deadline = t.C
	}

	ds := &models.RegionDataset{
		Region:   a.region,
		Listings: make([]models.GeocodedListing, 0, len(entries)),
	}

	for _, e := range entries {
		gl := models.GeocodedListing{Listing: e.listing}

		switch {
		case e.fut == nil:
			gl.UnresolvedReason = e.reason
		default:
			if waiting {
				select {
				case <-e.fut.done:
				case <-deadline:
					waiting = false
				case <-ctx.Done():
					waiting = false
				}
			}
			select {
			case <-e.fut.done:
				a.settle(&gl, e.fut)
			default:
				if ctx.Err() != nil || a.ctx.Err() != nil {
					gl.UnresolvedReason = ReasonCancelled
				} else {
					gl.UnresolvedReason = ErrResolutionTimeout.Error()
				}
			}
		}

		switch {
		case gl.Resolved:
		case gl.UnresolvedReason == ErrResolutionTimeout.Error():
			meta.ResolutionTimeouts++
		default:
			meta.ResolutionFailures++
		}
		ds.Listings = append(ds.Listings, gl)
	}

	ds.Meta = meta
	return ds
}

func (a *Aggregator) settle(gl *models.GeocodedListing, f *future) {
	if f.err != nil {
		gl.UnresolvedReason = unresolvedReason(f.err)
		return
	}
	if f.coord == nil {
		gl.UnresolvedReason = ReasonNotFound
		return
	}
	if a.region.BBox != nil && !a.region.BBox.Contains(*f.coord) {
		gl.UnresolvedReason = ReasonOutsideRegion
		return
	}
	c := *f.coord
	gl.Coordinate = &c
	gl.Resolved = true
}

func unresolvedReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrResolutionTimeout.Error()
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, geocode.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, geocode.ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonProviderError
	}
}

// Pending returns how many distinct addresses are still being resolved.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, f := range a.futures {
		select {
		case <-f.done:
		default:
			n++
		}
	}
	return n
}
