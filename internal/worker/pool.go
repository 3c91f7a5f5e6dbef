// Package worker provides background prefetching of track analyses.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
)

// Job represents a track whose analysis should be cached.
type Job struct {
	TrackID string
}

// Pool manages background workers that warm the analysis cache.
type Pool struct {
	provider ports.PlaybackProvider
	repo     ports.AnalysisRepository
	log      *zap.Logger
	timeout  time.Duration
	jobs     chan Job
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	stopOnce sync.Once
}

// NewPool creates a worker pool with the given queue size.
func NewPool(provider ports.PlaybackProvider, repo ports.AnalysisRepository, queueSize int, log *zap.Logger) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		provider: provider,
		repo:     repo,
		log:      log.Named("worker"),
		timeout:  15 * time.Second,
		jobs:     make(chan Job, queueSize),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Stop waits for workers to finish after closing the queue.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

// Submit queues a job without blocking. Duplicates of a queued job are ignored.
func (p *Pool) Submit(job Job) bool {
	if job.TrackID == "" {
		return false
	}
	p.mu.Lock()
	if _, dup := p.inflight[job.TrackID]; dup {
		p.mu.Unlock()
		return false
	}
	p.inflight[job.TrackID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	default:
		p.done(job.TrackID)
		p.log.Warn("dropping prefetch job, queue full", zap.String("track_id", job.TrackID))
		return false
	}
}

// Prefetch submits trackID for caching.
func (p *Pool) Prefetch(trackID string) {
	p.Submit(Job{TrackID: trackID})
}

func (p *Pool) done(trackID string) {
	p.mu.Lock()
	delete(p.inflight, trackID)
	p.mu.Unlock()
}

func (p *Pool) processJob(job Job) {
	defer p.done(job.TrackID)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.repo.GetAnalysis(ctx, job.TrackID); err == nil {
		p.log.Debug("analysis already cached", zap.String("track_id", job.TrackID))
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		p.log.Warn("cache lookup failed", zap.String("track_id", job.TrackID), zap.Error(err))
	}

	analysis, err := p.provider.AudioAnalysis(ctx, job.TrackID)
	if err != nil {
		p.log.Warn("prefetch failed", zap.String("track_id", job.TrackID), zap.Error(err))
		return
	}
	if err := p.repo.SaveAnalysis(ctx, analysis); err != nil {
		p.log.Warn("failed to cache analysis", zap.String("track_id", job.TrackID), zap.Error(err))
		return
	}
	p.log.Info("prefetched analysis",
		zap.String("track_id", job.TrackID),
		zap.Int("segments", len(analysis.Segments)),
	)
}
