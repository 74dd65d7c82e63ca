package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"courier/internal/config"
	"courier/internal/storage"
)

// Pool runs the dispatch coordinator loop: a polling sweep plus queue wake
// hints, fanning eligible destinations out to a bounded set of goroutines.
// Eligibility is always re-derived from storage; the hint payload is never
// trusted as ground truth, so duplicate or out-of-order hints are harmless.
type Pool struct {
	store        storage.Storage
	worker       *Worker
	workers      int
	batchLimit   int
	pollRate     time.Duration
	leaseTimeout time.Duration
	wake         chan struct{}
	log          zerolog.Logger
	stop         chan struct{}
	wg           sync.WaitGroup
}

func NewPool(cfg config.DispatchConfig, store storage.Storage, worker *Worker, log zerolog.Logger) *Pool {
	return &Pool{
		store:        store,
		worker:       worker,
		workers:      cfg.Workers,
		batchLimit:   cfg.BatchLimit,
		pollRate:     cfg.PollInterval,
		leaseTimeout: cfg.LeaseTimeout,
		wake:         make(chan struct{}, 1),
		log:          log,
		stop:         make(chan struct{}),
	}
}

// Wake nudges the pool to sweep immediately. Non-blocking; hints collapse
// while a sweep is pending.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting dispatch pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping dispatch pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("dispatch pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, sem)
		case <-p.wake:
			p.sweep(ctx, sem)
		}
	}
}

func (p *Pool) sweep(ctx context.Context, sem chan struct{}) {
	dests, err := p.store.GetEligibleDestinations(ctx, p.batchLimit, time.Now().UTC(), p.leaseTimeout)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch eligible destinations")
		return
	}

	for _, d := range dests {
		d := d
		sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-sem }()
			p.worker.Process(ctx, d)
		}()
	}
}
