package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"listing-geocoder/browser"
	"listing-geocoder/models"
	"listing-geocoder/utils"
)

// Config controls pagination limits, retries and pipelining.
type Config struct {
	MaxPages                   int
	PipelineDepth              int
	MaxRetries                 int
	RetryBaseDelay             time.Duration
	RetryMaxDelay              time.Duration
	PageInterval               time.Duration
	PoolExhaustionCeiling      int
	MaxConsecutivePageFailures int
}

// Phase is the orchestrator state for one crawl.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseFetching  Phase = "fetching"
	PhaseDraining  Phase = "draining"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Failure kinds recorded in PageFailure.Kind.
const (
	FailureExtraction = "extraction"
	FailureNavigation = "navigation"
	FailurePool       = "pool"
	FailureOther      = "other"
)

// CrawlResult summarises one crawl. Listings themselves went to the sink.
type CrawlResult struct {
	Status           models.CompletionStatus
	Reason           string
	PagesFetched     int
	ListingsEmitted  int
	ExtractionErrors int
	NavigationErrors int
	FailedPages      []models.PageFailure
}

// Orchestrator crawls regions of a single source.
type Orchestrator struct {
	pool    *browser.Pool
	source  Source
	cfg     Config
	limiter *rate.Limiter
	logger  *utils.Logger
}

// New creates an Orchestrator. The page limiter is shared by every crawl
// this orchestrator runs, since they all hit the same site.
func New(pool *browser.Pool, source Source, cfg Config, logger *utils.Logger) *Orchestrator {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.PipelineDepth < 1 {
		cfg.PipelineDepth = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.PoolExhaustionCeiling < 1 {
		cfg.PoolExhaustionCeiling = 1
	}
	if cfg.MaxConsecutivePageFailures < 1 {
		cfg.MaxConsecutivePageFailures = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.PageInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.PageInterval), 1)
	}

	return &Orchestrator{
		pool:    pool,
		source:  source,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Source returns the source this orchestrator crawls.
func (o *Orchestrator) Source() Source { return o.source }

// errCrawlAborted marks failures that end the whole crawl.
type errCrawlAborted struct{ err error }

func (e *errCrawlAborted) Error() string { return "crawl aborted: " + e.err.Error() }
func (e *errCrawlAborted) Unwrap() error { return e.err }

type pageOutcome struct {
	page             int
	result           *PageResult
	err              error
	extractionErrors int
	navigationErrors int
}

type crawl struct {
	region      models.Region
	phase       Phase
	exhaustions atomic.Int64
	logger      *utils.Logger
}

func (c *crawl) transition(to Phase) {
	c.logger.Debug("[crawl] %s: %s -> %s", c.region.Code, c.phase, to)
	c.phase = to
}

// Crawl runs one region to completion, failure or cancellation and always
// returns a result; whatever was emitted to sink before the stop is kept.
// onPage, when non-nil, is called after each page is emitted.
func (o *Orchestrator) Crawl(ctx context.Context, region models.Region, sink Sink, onPage func(pagesDone int)) *CrawlResult {
	c := &crawl{region: region, phase: PhasePending, logger: o.logger}
	res := &CrawlResult{}

	maxPages := o.cfg.MaxPages
	if region.MaxPages > 0 {
		maxPages = region.MaxPages
	}
	depth := o.cfg.PipelineDepth
	indexed := o.source.Pagination() == IndexBased
	if !indexed {
		depth = 1
	}

	o.logger.Info("[crawl] %s: starting %s crawl of %q (max %d pages, depth %d)",
		region.Code, o.source.Name(), region.Query(), maxPages, depth)

	fetchCtx, cancelFetches := context.WithCancel(ctx)
	defer cancelFetches()

	var wg sync.WaitGroup
	pending := make(map[int]chan pageOutcome)
	launch := func(page int, cursor string) {
		ch := make(chan pageOutcome, 1)
		pending[page] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch <- o.fetchPage(fetchCtx, c, page, cursor)
		}()
	}

	var fatal error
	next, cursor := 1, ""
	consecutiveFailures := 0

	c.transition(PhaseFetching)
	for page := 1; page <= maxPages; page++ {
		for next <= maxPages && next < page+depth && ctx.Err() == nil {
			launch(next, cursor)
			next++
		}

		ch, ok := pending[page]
		if !ok {
			break
		}
		out := <-ch
		delete(pending, page)

		res.ExtractionErrors += out.extractionErrors
		res.NavigationErrors += out.navigationErrors

		if out.err != nil {
			if ctx.Err() != nil {
				break
			}
			var aborted *errCrawlAborted
			if errors.As(out.err, &aborted) {
				fatal = aborted.err
				res.FailedPages = append(res.FailedPages, pageFailure(page, aborted.err))
				break
			}

			res.FailedPages = append(res.FailedPages, pageFailure(page, out.err))
			consecutiveFailures++
			o.logger.Error("[crawl] %s: page %d failed: %v", region.Code, page, out.err)

			if !indexed {
				o.logger.Warn("[crawl] %s: no cursor past failed page %d, stopping", region.Code, page)
				break
			}
			if consecutiveFailures >= o.cfg.MaxConsecutivePageFailures {
				o.logger.Warn("[crawl] %s: %d consecutive page failures, stopping", region.Code, consecutiveFailures)
				break
			}
			continue
		}
		consecutiveFailures = 0

		for i, l := range out.result.Listings {
			l.Page = page
			l.Position = i
			if l.Source == "" {
				l.Source = o.source.Name()
			}
			sink.Ingest(l)
			res.ListingsEmitted++
		}
		res.PagesFetched++
		if onPage != nil {
			onPage(res.PagesFetched)
		}
		o.logger.Info("[crawl] %s: page %d done, %d listings (%d so far)",
			region.Code, page, len(out.result.Listings), res.ListingsEmitted)

		if !out.result.HasNext || len(out.result.Listings) == 0 {
			break
		}
		if !indexed {
			if out.result.NextURL == "" {
				break
			}
			cursor = out.result.NextURL
		}
	}

	c.transition(PhaseDraining)
	cancelFetches()
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		c.transition(PhaseCancelled)
		res.Status = models.StatusCancelled
		res.Reason = ctx.Err().Error()
	case fatal != nil:
		c.transition(PhaseFailed)
		res.Status = models.StatusFailed
		res.Reason = fatal.Error()
	case len(res.FailedPages) > 0:
		c.transition(PhaseFailed)
		res.Status = models.StatusFailed
		res.Reason = fmt.Sprintf("%d page(s) failed", len(res.FailedPages))
	default:
		c.transition(PhaseCompleted)
		res.Status = models.StatusCompleted
	}

	o.logger.Info("[crawl] %s: %s after %d pages, %d listings", region.Code, res.Status, res.PagesFetched, res.ListingsEmitted)
	return res
}

// fetchPage fetches and parses one page with retry and backoff.
func (o *Orchestrator) fetchPage(ctx context.Context, c *crawl, page int, cursor string) pageOutcome {
	out := pageOutcome{page: page}
	req := o.source.PageRequest(c.region, page, cursor)

	retry := &utils.RetryConfig{
		MaxAttempts: o.cfg.MaxRetries,
		BaseDelay:   o.cfg.RetryBaseDelay,
		MaxDelay:    o.cfg.RetryMaxDelay,
		Logger:      o.logger,
		Retryable:   retryablePageError,
	}

	out.err = retry.Do(ctx, fmt.Sprintf("%s page %d", c.region.Code, page), func(int) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		lease, err := o.acquire(ctx, c)
		if err != nil {
			return err
		}
		defer o.pool.Release(lease)

		raw, err := lease.FetchPage(ctx, req)
		if err != nil {
			switch {
			case browser.IsExtraction(err):
				out.extractionErrors++
			case browser.IsNavigation(err):
				out.navigationErrors++
			}
			return err
		}

		result, err := o.source.Parse(c.region, page, raw)
		if err != nil {
			out.extractionErrors++
			if !browser.IsExtraction(err) {
				err = &browser.ExtractionError{URL: req.URL, Reason: err.Error()}
			}
			lease.Reject(err)
			return err
		}
		out.result = result
		return nil
	})
	return out
}

// acquire waits for a session, treating pool exhaustion as transient until
// the per-crawl ceiling is reached.
func (o *Orchestrator) acquire(ctx context.Context, c *crawl) (*browser.Lease, error) {
	for {
		lease, err := o.pool.Acquire(ctx)
		if err == nil {
			return lease, nil
		}
		if errors.Is(err, browser.ErrPoolClosed) {
			return nil, &errCrawlAborted{err: err}
		}
		if !errors.Is(err, browser.ErrPoolExhausted) {
			return nil, err
		}
		n := c.exhaustions.Add(1)
		if n >= int64(o.cfg.PoolExhaustionCeiling) {
			return nil, &errCrawlAborted{err: fmt.Errorf("%w (%d times)", err, n)}
		}
		o.logger.Warn("[crawl] %s: session pool exhausted (%d/%d), waiting again",
			c.region.Code, n, o.cfg.PoolExhaustionCeiling)
	}
}

func retryablePageError(err error) bool {
	var aborted *errCrawlAborted
	if errors.As(err, &aborted) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) || browser.IsNavigation(err)
}

func pageFailure(page int, err error) models.PageFailure {
	kind := FailureOther
	switch {
	case browser.IsExtraction(err):
		kind = FailureExtraction
	case browser.IsNavigation(err):
		kind = FailureNavigation
	case errors.Is(err, browser.ErrPoolExhausted), errors.Is(err, browser.ErrPoolClosed):
		kind = FailurePool
	}
	return models.PageFailure{Page: page, Kind: kind, Error: err.Error()}
}
