// Package health serves liveness and readiness probes.
//
// Checks run on demand when a probe is requested. Each result is cached for a
// short period so that aggressive probing does not hammer dependencies.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheTTL is how long a check result is reused.
const DefaultCacheTTL = time.Second

// CheckFunc reports a problem with a dependency by returning an error.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	checked time.Time
	lastErr error
}

// run executes the check unless a result younger than ttl is cached.
func (c *check) run(ctx context.Context, now time.Time, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checked.IsZero() && now.Sub(c.checked) < ttl {
		return c.lastErr
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.lastErr = c.fn(ctx)
	c.checked = now
	return c.lastErr
}

// Health holds the probe checks of a service.
type Health struct {
	ready    atomic.Bool
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
}

// New creates a Health in the not-ready state. A non-positive cacheTTL means
// DefaultCacheTTL.
func New(cacheTTL time.Duration) *Health {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Health{cacheTTL: cacheTTL, now: time.Now}
}

// AddLivenessCheck registers a check that tells whether the process works.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a check that tells whether the service can
// take traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, timeout: timeout, fn: fn})
}

// SetReady marks the service ready after startup, or not ready during
// shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady(ctx context.Context) bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(ctx, h.snapshot(&h.readiness))) == 0
}

func (h *Health) snapshot(checks *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*check(nil), *checks...)
}

// failures runs checks concurrently and returns failed check names mapped to
// their error text.
func (h *Health) failures(ctx context.Context, checks []*check) map[string]string {
	now := h.now()
	errs := make([]error, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			errs[i] = c.run(ctx, now, h.cacheTTL)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]string)
	for i, err := range errs {
		if err != nil {
			failed[checks[i].name] = err.Error()
		}
	}
	return failed
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.failures(r.Context(), h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz. It fails while the service is not marked
// ready, even if every check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	failed := h.failures(r.Context(), h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed)
}

func writeResponse(w http.ResponseWriter, failed map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })

		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
