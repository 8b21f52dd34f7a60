package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is used when the configured size is not positive.
	DefaultPoolSize = 1
	// DefaultAcquireTimeout bounds how long a request waits for a pipeline.
	DefaultAcquireTimeout = 5 * time.Second

	idlePollInterval = 5 * time.Millisecond
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pipeline pool is closed")
	// ErrPoolExhausted is returned when no pipeline frees up in time.
	ErrPoolExhausted = errors.New("timeout waiting for available pipeline")
)

// PipelineFactory builds one pipeline for the pool.
type PipelineFactory func() (detectionPipeline, error)

// PipelinePool hands out pipelines for exclusive use. A pipeline processes
// one frame at a time, so concurrent streams each need their own.
type PipelinePool struct {
	pipelines      chan detectionPipeline
	size           int
	acquireTimeout time.Duration

	mu     sync.Mutex
	closed bool

	statsMu sync.Mutex
	stats   PoolStats
}

// PoolStats are cumulative pool counters.
type PoolStats struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	Recovering      int           `json:"recovering"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewPipelinePool builds size pipelines up front.
func NewPipelinePool(factory PipelineFactory, size int, acquireTimeout time.Duration) (*PipelinePool, error) {
	if factory == nil {
		return nil, errors.New("pipeline factory is nil")
	}
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &PipelinePool{
		pipelines:      make(chan detectionPipeline, size),
		size:           size,
		acquireTimeout: acquireTimeout,
	}
	pool.stats.Size = size

	for i := range size {
		p, err := factory()
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("failed to initialize pipeline %d: %w", i, err)
		}
		pool.pipelines <- p
	}
	return pool, nil
}

// Size returns the number of pipelines owned by the pool.
func (p *PipelinePool) Size() int { return p.size }

// Acquire waits for a free pipeline, the acquire timeout or ctx.
func (p *PipelinePool) Acquire(ctx context.Context) (detectionPipeline, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.statsMu.Lock()
		p.stats.WaitTime += time.Since(start)
		p.statsMu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case pl, ok := <-p.pipelines:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.statsMu.Lock()
		p.stats.InUse++
		p.stats.TotalAcquired++
		p.statsMu.Unlock()
		poolInUse.Inc()
		return pl, nil
	case <-timer.C:
		p.recordFailure()
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		p.recordFailure()
		return nil, ctx.Err()
	}
}

func (p *PipelinePool) recordFailure() {
	p.statsMu.Lock()
	p.stats.AcquireFailures++
	p.statsMu.Unlock()
}

// Release returns a pipeline to the pool. A pipeline still finishing an
// abandoned inference is held back until it is idle, so Acquire never hands
// out a busy one. After Close it is closed instead.
func (p *PipelinePool) Release(pl detectionPipeline) {
	if pl == nil {
		return
	}
	p.statsMu.Lock()
	p.stats.InUse--
	p.stats.TotalReleased++
	busy := pl.Busy()
	if busy {
		p.stats.Recovering++
	}
	p.statsMu.Unlock()
	poolInUse.Dec()

	if busy {
		go p.requeueWhenIdle(pl)
		return
	}
	p.requeue(pl)
}

func (p *PipelinePool) requeueWhenIdle(pl detectionPipeline) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for pl.Busy() {
		<-ticker.C
	}

	p.requeue(pl)
	p.statsMu.Lock()
	p.stats.Recovering--
	p.statsMu.Unlock()
}

func (p *PipelinePool) requeue(pl detectionPipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if err := pl.Close(); err != nil {
			slog.Warn("Failed to close released pipeline", "error", err)
		}
		return
	}
	p.pipelines <- pl
}

// Close closes every idle pipeline; pipelines still in use are closed when
// released.
func (p *PipelinePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.pipelines)

	var errs []error
	for pl := range p.pipelines {
		if err := pl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a copy of the pool counters.
func (p *PipelinePool) Stats() PoolStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}
