package interceptors

import (
	"context"
	"sync"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// BulkheadConfig configures a per-procedure concurrency bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of simultaneous in-flight calls allowed
	// per matching procedure.
	MaxConcurrent int
	// MaxQueueSize bounds how many callers may wait for a slot; beyond it,
	// and when zero (no queue at all), calls fail immediately with
	// BULKHEAD_OVERFLOW.
	MaxQueueSize int
	// QueueTimeout bounds how long a caller waits for a free slot before
	// failing with BULKHEAD_QUEUE_TIMEOUT. Zero means wait forever.
	QueueTimeout time.Duration
	// Procedures restricts the bulkhead to matching procedure name globs
	// (§4.3 glob rules). Empty means all procedures.
	Procedures []string
}

// Bulkhead caps concurrent executions per matching procedure with a FIFO
// wait queue, the same admission-then-release discipline cellorg's worker
// pool (internal/agent/pool.go-style bounded goroutine pools) uses to
// avoid unbounded fan-out against a slow downstream.
type Bulkhead struct {
	cfg BulkheadConfig

	mu       sync.Mutex
	sem      chan struct{}
	queueLen int
}

// NewBulkhead builds a Bulkhead interceptor.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Bulkhead{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Intercept admits env.Procedure through the bulkhead's semaphore,
// queueing FIFO when full and failing fast once MaxQueueSize/QueueTimeout
// is exceeded.
func (b *Bulkhead) Intercept(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
	if !matchesAny(env.Procedure, b.cfg.Procedures) {
		return next()
	}

	// Fast path: a free slot is immediately available, no queueing at all.
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
		return next()
	default:
	}

	b.mu.Lock()
	if b.queueLen >= b.cfg.MaxQueueSize {
		b.mu.Unlock()
		return nil, raffelerr.New(raffelerr.CodeBulkheadOverflow, "bulkhead queue full for "+env.Procedure)
	}
	b.queueLen++
	b.mu.Unlock()
	releaseWaiter := func() {
		b.mu.Lock()
		b.queueLen--
		b.mu.Unlock()
	}

	waitCtx := context.Background()
	var cancel context.CancelFunc
	if b.cfg.QueueTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(waitCtx, b.cfg.QueueTimeout)
		defer cancel()
	}

	select {
	case b.sem <- struct{}{}:
		releaseWaiter()
	case <-waitCtx.Done():
		releaseWaiter()
		return nil, raffelerr.New(raffelerr.CodeBulkheadQueueTimeout, "timed out waiting for bulkhead slot for "+env.Procedure)
	case <-ctx.Done():
		releaseWaiter()
		return nil, raffelerr.New(raffelerr.CodeCancelled, "request cancelled while queued for bulkhead slot")
	}
	defer func() { <-b.sem }()

	return next()
}
