package interceptors

import (
	"sync"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// inflight is one coalesced call: concurrent callers sharing its key block
// on done and then each receive their own clone of result.
type inflight struct {
	done   chan struct{}
	result interface{}
	err    error
	// finishedAt is set once the call completes, used by the reaper to
	// evict grace-held entries (§4.3: "keep the entry briefly after
	// completion so callers arriving within the grace window still
	// coalesce onto it").
	finishedAt time.Time
}

// DedupConfig configures Dedup.
type DedupConfig struct {
	// KeyFunc derives the coalescing key. Defaults to DefaultCacheKey.
	KeyFunc KeyFunc
	// Grace is how long a completed entry stays coalescable after
	// finishing, so a caller that arrives microseconds after completion
	// still rides the same result instead of re-executing. Defaults to
	// 10ms per §4.3.
	Grace time.Duration
	// ReapInterval is how often the background reaper sweeps expired
	// entries. Defaults to Grace * 10, minimum 100ms.
	ReapInterval time.Duration
}

// Dedup coalesces concurrent identical in-flight calls into a single
// handler execution, matching the pattern cellorg's broker uses to
// collapse duplicate subscriber acks (internal/broker/service.go) against
// a mutex-guarded map keyed by correlation id.
type Dedup struct {
	keyFn KeyFunc
	grace time.Duration

	mu    sync.Mutex
	calls map[string]*inflight

	stop chan struct{}
}

// NewDedup builds a Dedup interceptor and starts its background reaper.
// Call Close to stop the reaper when the interceptor is no longer needed.
func NewDedup(cfg DedupConfig) *Dedup {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultCacheKey
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Millisecond
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = cfg.Grace * 10
		if cfg.ReapInterval < 100*time.Millisecond {
			cfg.ReapInterval = 100 * time.Millisecond
		}
	}
	d := &Dedup{
		keyFn: cfg.KeyFunc,
		grace: cfg.Grace,
		calls: make(map[string]*inflight),
		stop:  make(chan struct{}),
	}
	go d.reapLoop(cfg.ReapInterval)
	return d
}

// Close stops the background reaper.
func (d *Dedup) Close() { close(d.stop) }

func (d *Dedup) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.reap()
		}
	}
}

func (d *Dedup) reap() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, call := range d.calls {
		select {
		case <-call.done:
			if !call.finishedAt.IsZero() && now.Sub(call.finishedAt) > d.grace {
				delete(d.calls, k)
			}
		default:
			// still running; leave it
		}
	}
}

// Intercept is the registry.Interceptor entry point: a fresh call for key
// k executes next() once; concurrent and grace-window callers for the
// same key receive a clone of its result instead.
func (d *Dedup) Intercept(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
	key := d.keyFn(env, ctx)

	d.mu.Lock()
	// A finished entry is shared only within its grace window; past it the
	// caller re-executes even if the reaper has not removed the entry yet.
	if call, ok := d.calls[key]; ok && (call.finishedAt.IsZero() || time.Since(call.finishedAt) <= d.grace) {
		d.mu.Unlock()
		<-call.done
		return cloneResult(call.result, call.err)
	}
	call := &inflight{done: make(chan struct{})}
	d.calls[key] = call
	d.mu.Unlock()

	result, err := next()

	d.mu.Lock()
	call.result, call.err = result, err
	call.finishedAt = time.Now()
	close(call.done)
	if err != nil {
		// A failed call is not worth coalescing onto; drop it immediately
		// so the next caller retries fresh (§4.3).
		delete(d.calls, key)
	}
	d.mu.Unlock()

	return cloneResult(result, err)
}

func cloneResult(result interface{}, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	cloned, cloneErr := cloneViaJSON(result)
	if cloneErr != nil {
		return result, nil
	}
	return cloned, nil
}
