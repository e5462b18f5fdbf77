package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-geocoder/geocode"
	"listing-geocoder/models"
	"listing-geocoder/storage"
	"listing-geocoder/utils"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls map[string]int
	total atomic.Int64
	delay time.Duration
	fn    func(addr models.NormalizedAddress) (*models.Coordinate, error)
}

func (r *fakeResolver) Resolve(ctx context.Context, addr models.NormalizedAddress) (*models.Coordinate, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[addr.Key]++
	r.mu.Unlock()
	r.total.Add(1)

	if r.delay > 0 {
		if err := utils.Sleep(ctx, r.delay); err != nil {
			return nil, fmt.Errorf("%w: %w", geocode.ErrUnresolved, err)
		}
	}
	if r.fn != nil {
		return r.fn(addr)
	}
	return &models.Coordinate{Lat: 25.77, Lon: -80.19, Quality: models.QualityRooftop, Provider: "fake"}, nil
}

func raw(id, address string) *models.RawListing {
	return &models.RawListing{ID: id, Source: "airbnb", Address: address}
}

func newTestAggregator(ctx context.Context, r AddressResolver, timeout time.Duration) *Aggregator {
	return NewAggregator(ctx, miami, r, utils.NewWorkerPool(4), timeout, newTestLogger())
}

func TestAggregatorIngestIsIdempotent(t *testing.T) {
	res := &fakeResolver{}
	a := newTestAggregator(context.Background(), res, time.Second)

	assert.True(t, a.Ingest(raw("1", "1 Ocean Dr")))
	assert.False(t, a.Ingest(raw("1", "1 Ocean Dr")))
	assert.False(t, a.Ingest(raw("1", "somewhere else")), "dedup is by id, not address")

	ds := a.Finalize(context.Background())
	require.Len(t, ds.Listings, 1)
	assert.Equal(t, 2, ds.Meta.DuplicatesDropped)
	assert.Equal(t, 3, ds.Meta.ListingsSeen)
	assert.True(t, ds.Listings[0].Resolved)
}

func TestAggregatorSameIDDifferentSource(t *testing.T) {
	a := newTestAggregator(context.Background(), &fakeResolver{}, time.Second)

	assert.True(t, a.Ingest(&models.RawListing{ID: "1", Source: "airbnb", Address: "a"}))
	assert.True(t, a.Ingest(&models.RawListing{ID: "1", Source: "vrbo", Address: "a"}))
	assert.Len(t, a.Finalize(context.Background()).Listings, 2)
}

func TestAggregatorRejectsMissingID(t *testing.T) {
	a := newTestAggregator(context.Background(), &fakeResolver{}, time.Second)

	assert.False(t, a.Ingest(raw("", "1 Ocean Dr")))
	ds := a.Finalize(context.Background())
	assert.Empty(t, ds.Listings)
	assert.Equal(t, 1, ds.Meta.Rejected)
}

func TestAggregatorOneResolutionPerAddress(t *testing.T) {
	res := &fakeResolver{delay: 10 * time.Millisecond}
	a := newTestAggregator(context.Background(), res, time.Second)

	a.Ingest(raw("1", "100 Biscayne Blvd"))
	a.Ingest(raw("2", "100 biscayne blvd,"))
	a.Ingest(raw("3", "  100 BISCAYNE   BLVD"))
	a.Ingest(raw("4", "200 Biscayne Blvd"))

	ds := a.Finalize(context.Background())
	require.Len(t, ds.Listings, 4)
	assert.Equal(t, int64(2), res.total.Load())
	for _, gl := range ds.Listings {
		assert.True(t, gl.Resolved)
	}
}

func TestAggregatorPreservesIngestionOrder(t *testing.T) {
	// Later addresses resolve first.
	res := &fakeResolver{fn: func(addr models.NormalizedAddress) (*models.Coordinate, error) {
		if strings.HasPrefix(addr.Query, "0") {
			time.Sleep(20 * time.Millisecond)
		}
		return &models.Coordinate{Provider: "fake"}, nil
	}}
	a := newTestAggregator(context.Background(), res, time.Second)

	for i := 0; i < 6; i++ {
		a.Ingest(raw(fmt.Sprint(i), fmt.Sprintf("%d Main St", i)))
	}

	ds := a.Finalize(context.Background())
	for i, gl := range ds.Listings {
		assert.Equal(t, fmt.Sprint(i), gl.Listing.ID)
	}
}

func TestAggregatorUnresolvedMarker(t *testing.T) {
	res := &fakeResolver{fn: func(addr models.NormalizedAddress) (*models.Coordinate, error) {
		if strings.Contains(addr.Key, "nowhere") {
			return nil, fmt.Errorf("%w: %w", geocode.ErrUnresolved, geocode.ErrNotFound)
		}
		return &models.Coordinate{Lat: 25.8, Lon: -80.1, Provider: "fake"}, nil
	}}
	a := newTestAggregator(context.Background(), res, time.Second)

	a.Ingest(raw("1", "1 Ocean Dr"))
	a.Ingest(raw("2", "Nowhere Lane"))
	a.Ingest(raw("3", ""))

	ds := a.Finalize(context.Background())
	require.Len(t, ds.Listings, 3, "unresolved listings are kept")

	assert.True(t, ds.Listings[0].Resolved)
	assert.NotNil(t, ds.Listings[0].Coordinate)

	assert.False(t, ds.Listings[1].Resolved)
	assert.Nil(t, ds.Listings[1].Coordinate)
	assert.Equal(t, ReasonNotFound, ds.Listings[1].UnresolvedReason)

	assert.False(t, ds.Listings[2].Resolved)
	assert.Equal(t, ReasonEmptyAddress, ds.Listings[2].UnresolvedReason)

	assert.Equal(t, 2, ds.Meta.ResolutionFailures)
}

func TestAggregatorUnresolvedAddressNotRetriedWithinCrawl(t *testing.T) {
	res := &fakeResolver{fn: func(models.NormalizedAddress) (*models.Coordinate, error) {
		return nil, fmt.Errorf("%w: %w", geocode.ErrUnresolved, geocode.ErrNotFound)
	}}
	a := newTestAggregator(context.Background(), res, time.Second)

	a.Ingest(raw("1", "Nowhere Lane"))
	time.Sleep(10 * time.Millisecond)
	a.Ingest(raw("2", "nowhere lane"))

	a.Finalize(context.Background())
	assert.Equal(t, int64(1), res.total.Load())
}

func TestAggregatorBoundingBox(t *testing.T) {
	region := miami
	region.BBox = &models.BoundingBox{South: 25.0, West: -81.0, North: 26.0, East: -80.0}
	res := &fakeResolver{fn: func(addr models.NormalizedAddress) (*models.Coordinate, error) {
		if strings.Contains(addr.Key, "orlando") {
			return &models.Coordinate{Lat: 28.5, Lon: -81.4}, nil
		}
		return &models.Coordinate{Lat: 25.8, Lon: -80.2}, nil
	}}
	a := NewAggregator(context.Background(), region, res, utils.NewWorkerPool(2), time.Second, newTestLogger())

	a.Ingest(raw("1", "Brickell"))
	a.Ingest(raw("2", "Orlando"))

	ds := a.Finalize(context.Background())
	assert.True(t, ds.Listings[0].Resolved)
	assert.False(t, ds.Listings[1].Resolved)
	assert.Equal(t, ReasonOutsideRegion, ds.Listings[1].UnresolvedReason)
}

func TestAggregatorFinalizeTimeout(t *testing.T) {
	res := &fakeResolver{fn: func(addr models.NormalizedAddress) (*models.Coordinate, error) {
		if strings.Contains(addr.Key, "slow") {
			time.Sleep(500 * time.Millisecond)
		}
		return &models.Coordinate{Provider: "fake"}, nil
	}}
	a := newTestAggregator(context.Background(), res, 50*time.Millisecond)

	a.Ingest(raw("1", "fast road"))
	a.Ingest(raw("2", "slow road"))

	start := time.Now()
	ds := a.Finalize(context.Background())
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	assert.True(t, ds.Listings[0].Resolved)
	assert.False(t, ds.Listings[1].Resolved)
	assert.Equal(t, ErrResolutionTimeout.Error(), ds.Listings[1].UnresolvedReason)
	assert.Equal(t, 1, ds.Meta.ResolutionTimeouts)
}

func TestAggregatorFinalizeCancelledDoesNotWait(t *testing.T) {
	crawlCtx, cancel := context.WithCancel(context.Background())
	res := &fakeResolver{delay: time.Second}
	a := newTestAggregator(crawlCtx, res, time.Minute)

	a.Ingest(raw("1", "1 Ocean Dr"))
	cancel()

	start := time.Now()
	ds := a.Finalize(crawlCtx)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	require.Len(t, ds.Listings, 1)
	assert.False(t, ds.Listings[0].Resolved)
	assert.Equal(t, ReasonCancelled, ds.Listings[0].UnresolvedReason)
}

func TestAggregatorIgnoresLateListings(t *testing.T) {
	a := newTestAggregator(context.Background(), &fakeResolver{}, time.Second)
	a.Ingest(raw("1", "a"))
	a.Finalize(context.Background())

	assert.False(t, a.Ingest(raw("2", "b")))
}

type countingProvider struct{ calls atomic.Int64 }

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	p.calls.Add(1)
	return &models.Coordinate{Lat: 25.77, Lon: -80.19, Provider: "counting"}, nil
}

func TestAggregatorCancelledCrawlMakesNoProviderCalls(t *testing.T) {
	p := &countingProvider{}
	r := geocode.NewResolver(p, storage.NewMemoryCache(), geocode.ResolverConfig{
		RPS:         1000,
		Burst:       1000,
		MaxRetries:  1,
		CallTimeout: time.Second,
	}, utils.NewNopLogger())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAggregator(ctx, r, time.Second)

	for i := 0; i < 40; i++ {
		a.Ingest(raw(fmt.Sprint(i), fmt.Sprintf("%d Ocean Dr", i)))
	}
	ds := a.Finalize(context.Background())

	assert.Equal(t, int64(0), p.calls.Load())
	require.Len(t, ds.Listings, 40)
	for _, l := range ds.Listings {
		assert.Equal(t, ReasonCancelled, l.UnresolvedReason)
	}
}

func TestAggregatorDroppedResolutionsAreNotPending(t *testing.T) {
	res := &fakeResolver{delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAggregator(ctx, miami, res, utils.NewWorkerPool(1), time.Second, newTestLogger())

	for i := 0; i < 5; i++ {
		a.Ingest(raw(fmt.Sprint(i), fmt.Sprintf("%d Collins Ave", i)))
	}
	cancel()

	assert.Eventually(t, func() bool { return a.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, res.total.Load(), int64(1), "queued resolutions never start")
}
