package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"listing-geocoder/utils"
)

// A session is recycled after this many extraction failures in a row.
const maxConsecutiveExtractionErrors = 2

// PoolConfig bounds the number of live sessions and how long Acquire waits.
type PoolConfig struct {
	MaxSessions int
	WaitTimeout time.Duration
}

// Pool hands out sessions to one caller at a time. A slot is taken before a
// session is checked out and returned only after it is checked back in, so
// the number of sessions in use never exceeds MaxSessions.
type Pool struct {
	factory Factory
	cfg     PoolConfig
	logger  *utils.Logger

	slots chan struct{}

	mu     sync.Mutex
	idle   []*pooledSession
	closed bool
	nextID int

	inUse     atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
}

// NewPool creates an empty pool; sessions are created lazily.
func NewPool(factory Factory, cfg PoolConfig, logger *utils.Logger) *Pool {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	return &Pool{
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		slots:   make(chan struct{}, cfg.MaxSessions),
	}
}

type pooledSession struct {
	Session
	id                    int
	fetches               int
	consecutiveExtraction int
	unhealthy             bool
	lastErr               error
}

// record updates the health bookkeeping after a fetch.
func (s *pooledSession) record(err error) {
	s.fetches++
	switch {
	case err == nil:
		s.consecutiveExtraction = 0
	case IsNavigation(err):
		s.unhealthy = true
		s.lastErr = err
	case IsExtraction(err):
		s.consecutiveExtraction++
		if s.consecutiveExtraction >= maxConsecutiveExtractionErrors {
			s.unhealthy = true
			s.lastErr = err
		}
	}
}

// Lease is a checked-out session. It must be released exactly once;
// extra Release calls are ignored.
type Lease struct {
	pool     *Pool
	s        *pooledSession
	released atomic.Bool
}

// SessionID identifies the underlying session, for logging.
func (l *Lease) SessionID() int { return l.s.id }

// FetchPage fetches through the leased session and records its health.
func (l *Lease) FetchPage(ctx context.Context, req PageRequest) (*RawPage, error) {
	page, err := l.s.FetchPage(ctx, req)
	l.s.record(err)
	return page, err
}

// Reject records that a page this session fetched could not be extracted,
// so parse failures count towards recycling like marker failures do. It
// must be called before Release.
func (l *Lease) Reject(err error) {
	if err == nil {
		return
	}
	if !IsExtraction(err) {
		err = &ExtractionError{Reason: err.Error()}
	}
	l.s.fetches--
	l.s.record(err)
}

// Healthy reports whether the session will be reused on release.
func (l *Lease) Healthy() bool { return !l.s.unhealthy }

// Acquire checks out a session, creating one if none is idle. It waits up
// to WaitTimeout for a free slot and then fails with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	var timeout <-chan time.Time
	if p.cfg.WaitTimeout > 0 {
		t := time.NewTimer(p.cfg.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrPoolExhausted
	}
	p.inUse.Add(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, ErrPoolClosed
	}
	var s *pooledSession
	if n := len(p.idle); n > 0 {
		s = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		p.nextID++
		s = &pooledSession{id: p.nextID}
	}
	p.mu.Unlock()

	if s.Session == nil {
		sess, err := p.factory.NewSession(ctx)
		if err != nil {
			p.releaseSlot()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("browser: create session: %w", err)
		}
		s.Session = sess
		p.created.Add(1)
		p.logger.Debug("[pool] created session %d (%d in use)", s.id, p.InUse())
	}

	return &Lease{pool: p, s: s}, nil
}

// Release returns the session to the pool, or destroys it when it was
// marked unhealthy or the pool has been closed.
func (p *Pool) Release(l *Lease) {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	s := l.s

	p.mu.Lock()
	destroy := p.closed || s.unhealthy
	if !destroy {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()

	if destroy {
		p.destroy(s)
	}
	p.releaseSlot()
}

func (p *Pool) destroy(s *pooledSession) {
	if err := s.Close(); err != nil {
		p.logger.Warn("[pool] closing session %d: %v", s.id, err)
	}
	p.destroyed.Add(1)
	if s.unhealthy {
		p.logger.Info("[pool] recycled session %d after %d fetches: %v", s.id, s.fetches, s.lastErr)
	}
}

func (p *Pool) releaseSlot() {
	p.inUse.Add(-1)
	<-p.slots
}

// Warm pre-creates up to n sessions in parallel so the first pages do not
// pay browser start-up cost.
func (p *Pool) Warm(ctx context.Context, n int) error {
	if n > p.cfg.MaxSessions {
		n = p.cfg.MaxSessions
	}
	if n <= 0 {
		return nil
	}

	leases := make([]*Lease, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			l, err := p.Acquire(gctx)
			if err != nil {
				return err
			}
			leases[i] = l
			return nil
		})
	}
	err := g.Wait()
	for _, l := range leases {
		p.Release(l)
	}
	if err != nil {
		return fmt.Errorf("browser: warm pool: %w", err)
	}
	p.logger.Info("[pool] warmed %d sessions", n)
	return nil
}

// Close destroys idle sessions; sessions still in use are destroyed when
// they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		p.destroyed.Add(1)
	}
	return errors.Join(errs...)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// InUse returns the number of checked-out sessions.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Idle returns the number of sessions ready for reuse.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Size returns the configured maximum number of sessions.
func (p *Pool) Size() int { return p.cfg.MaxSessions }

// Created returns how many sessions were ever started.
func (p *Pool) Created() int { return int(p.created.Load()) }

// Destroyed returns how many sessions were closed.
func (p *Pool) Destroyed() int { return int(p.destroyed.Load()) }
