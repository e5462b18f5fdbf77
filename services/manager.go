package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing-geocoder/models"
	"listing-geocoder/scraper"
	"listing-geocoder/storage"
	"listing-geocoder/utils"
)

// ErrUnknownCrawl is returned for handles the manager never issued.
var ErrUnknownCrawl = errors.New("unknown crawl handle")

// ErrManagerClosed is returned by StartCrawl after Close.
var ErrManagerClosed = errors.New("crawl manager closed")

// Crawler is the part of scraper.Orchestrator the manager drives.
type Crawler interface {
	Crawl(ctx context.Context, region models.Region, sink scraper.Sink, onPage func(int)) *scraper.CrawlResult
}

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Crawler           Crawler
	Resolver          AddressResolver
	Workers           *utils.WorkerPool
	Writers           []storage.DatasetWriter
	ResolutionTimeout time.Duration
}

type crawlJob struct {
	handle  string
	region  models.Region
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	mu        sync.Mutex
	state     models.CrawlState
	pagesDone int
	reason    string
	dataset   *models.RegionDataset
}

func (j *crawlJob) snapshot() models.CrawlStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.CrawlStatus{
		Handle:    j.handle,
		Region:    j.region.Code,
		State:     j.state,
		PagesDone: j.pagesDone,
		Reason:    j.reason,
		Dataset:   j.dataset,
	}
}

// CrawlManager starts region crawls in the background and tracks them by
// handle. Any number of crawls may run at once; they share the session
// pool, the resolver and its rate budget.
type CrawlManager struct {
	cfg    ManagerConfig
	logger *utils.Logger

	mu     sync.Mutex
	jobs   map[string]*crawlJob
	closed bool
	wg     sync.WaitGroup
}

func NewCrawlManager(cfg ManagerConfig, logger *utils.Logger) *CrawlManager {
	if cfg.Workers == nil {
		cfg.Workers = utils.NewWorkerPool(4)
	}
	return &CrawlManager{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*crawlJob),
	}
}

// StartCrawl validates region and launches its crawl. It returns at once.
func (m *CrawlManager) StartCrawl(region models.Region) (string, error) {
	if err := region.Validate(); err != nil {
		return "", fmt.Errorf("invalid region: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrManagerClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &crawlJob{
		handle:  uuid.NewString(),
		region:  region.Clone(),
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		state:   models.CrawlPending,
	}
	m.jobs[job.handle] = job

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, job)
	}()

	m.logger.Info("[manager] crawl %s started for region %s", job.handle, region.Code)
	return job.handle, nil
}

func (m *CrawlManager) run(ctx context.Context, job *crawlJob) {
	defer close(job.done)

	job.mu.Lock()
	job.state = models.CrawlRunning
	job.mu.Unlock()

	agg := NewAggregator(ctx, job.region, m.cfg.Resolver, m.cfg.Workers, m.cfg.ResolutionTimeout, m.logger)
	res := m.cfg.Crawler.Crawl(ctx, job.region, agg, func(pages int) {
		job.mu.Lock()
		job.pagesDone = pages
		job.mu.Unlock()
	})

	ds := agg.Finalize(ctx)
	ds.Status = res.Status
	ds.Reason = res.Reason
	ds.Meta.PagesFetched = res.PagesFetched
	ds.Meta.ExtractionErrors = res.ExtractionErrors
	ds.Meta.NavigationErrors = res.NavigationErrors
	ds.Meta.FailedPages = res.FailedPages
	ds.Meta.StartedAt = job.started
	ds.Meta.FinishedAt = time.Now()

	m.persist(ds)

	resolved := 0
	for _, gl := range ds.Listings {
		if gl.Resolved {
			resolved++
		}
	}
	m.logger.Info("[manager] crawl %s (%s) %s: %d listings, %d resolved, %d pages",
		job.handle, job.region.Code, ds.Status, len(ds.Listings), resolved, ds.Meta.PagesFetched)

	job.mu.Lock()
	job.dataset = ds
	job.reason = ds.Reason
	job.state = terminalState(ds.Status)
	job.mu.Unlock()
}

func (m *CrawlManager) persist(ds *models.RegionDataset) {
	if len(ds.Listings) == 0 {
		return
	}
	for _, w := range m.cfg.Writers {
		if err := w.WriteDataset(ds); err != nil {
			m.logger.Error("[manager] writing %s dataset: %v", ds.Region.Code, err)
		}
	}
}

func terminalState(s models.CompletionStatus) models.CrawlState {
	switch s {
	case models.StatusCompleted:
		return models.CrawlCompleted
	case models.StatusCancelled:
		return models.CrawlCancelled
	default:
		return models.CrawlFailed
	}
}

func (m *CrawlManager) job(handle string) (*crawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok {
		return nil, ErrUnknownCrawl
	}
	return j, nil
}

// Status returns a snapshot of the crawl. The dataset is set once the
// crawl is terminal.
func (m *CrawlManager) Status(handle string) (models.CrawlStatus, error) {
	j, err := m.job(handle)
	if err != nil {
		return models.CrawlStatus{}, err
	}
	return j.snapshot(), nil
}

// Cancel asks the crawl to stop. Cancelling a finished crawl is a no-op.
func (m *CrawlManager) Cancel(handle string) error {
	j, err := m.job(handle)
	if err != nil {
		return err
	}
	j.cancel()
	m.logger.Info("[manager] crawl %s cancel requested", handle)
	return nil
}

// Wait blocks until the crawl is terminal or ctx is done.
func (m *CrawlManager) Wait(ctx context.Context, handle string) (models.CrawlStatus, error) {
	j, err := m.job(handle)
	if err != nil {
		return models.CrawlStatus{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// List returns every known crawl, oldest first, without datasets.
func (m *CrawlManager) List() []models.CrawlStatus {
	m.mu.Lock()
	jobs := make([]*crawlJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].started.Before(jobs[k].started) })
	out := make([]models.CrawlStatus, 0, len(jobs))
	for _, j := range jobs {
		st := j.snapshot()
		st.Dataset = nil
		out = append(out, st)
	}
	return out
}

// Close cancels running crawls and waits for them to finish.
func (m *CrawlManager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
