// Package clearlydefined manages asynchronous requests to the ClearlyDefined
// API while respecting the rate limits the service declares through the
// x-ratelimit-limit and x-ratelimit-remaining response headers.
//
// A single coordinator goroutine admits queued requests to a bounded worker
// pool as capacity allows, pausing when the limit is exhausted. Responses
// are cached through a content.Handler, including negative entries for
// resources the service confirms absent, so repeated runs avoid the network
// entirely.
package clearlydefined

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/p2repo/sbomgen/internal/content"
	"github.com/p2repo/sbomgen/internal/metrics"
)

const (
	// defaultWorkers is the size of the worker pool when none is configured.
	defaultWorkers = 8
	// queuePollInterval bounds how long the coordinator blocks on an empty
	// queue before re-checking the shutdown flag.
	queuePollInterval = time.Second
	// maxBackoff caps the coordinator back-off when a request is admitted
	// while capacity is exhausted.
	maxBackoff = 5 * time.Second
	// defaultBackoff is the coordinator back-off when no reset instant is
	// known.
	defaultBackoff = time.Second
	// shutdownGrace bounds how long Shutdown waits for the worker pool to
	// drain.
	shutdownGrace = 30 * time.Second
)

var (
	// ErrEmptyURI is returned by SubmitRequest for an empty URI.
	ErrEmptyURI = errors.New("clearlydefined: empty URI")
	// ErrAttemptsExhausted resolves a future whose request ran out of
	// retries. Only possible when WithMaxAttempts bounds them.
	ErrAttemptsExhausted = errors.New("clearlydefined: retry attempts exhausted")
)

// Component is the caller-owned object a request annotates. The manager
// presumes nothing about it beyond the ability to attach a named string
// property.
type Component interface {
	AddProperty(name, value string)
}

// request pairs a component with the definition URI that enriches it. The
// future is completed exactly once; requeueing reuses the same future.
type request struct {
	component Component
	uri       string
	future    *Future
	attempts  int
}

// Api manages asynchronous ClearlyDefined requests with rate-limit-aware
// scheduling and two-tier caching through the content handler.
type Api struct {
	handler    content.Handler
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	workers    int
	// maxAttempts bounds retries per request; 0 means unbounded.
	maxAttempts int

	queue   *requestQueue
	tracker *rateLimitTracker

	mu      sync.Mutex
	active  map[*Future]struct{}
	settled chan struct{}

	dispatch        chan *request
	stop            chan struct{}
	stopCtx         context.Context
	stopCancel      context.CancelFunc
	stopOnce        sync.Once
	shuttingDown    atomic.Bool
	coordinatorDone chan struct{}
	workerGroup     sync.WaitGroup
}

// New creates an Api backed by the given content handler and starts the
// coordinator and worker pool.
func New(handler content.Handler, opts ...Option) *Api {
	a := &Api{
		handler:         handler,
		httpClient:      &http.Client{},
		logger:          nopLogger(),
		workers:         defaultWorkers,
		queue:           newRequestQueue(),
		active:          make(map[*Future]struct{}),
		settled:         make(chan struct{}),
		dispatch:        make(chan *request),
		stop:            make(chan struct{}),
		coordinatorDone: make(chan struct{}),
	}
	a.stopCtx, a.stopCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNop()
	}
	a.tracker = newRateLimitTracker(a.logger)

	for range a.workers {
		a.workerGroup.Add(1)
		go a.worker()
	}
	go a.coordinate()

	return a
}

// SubmitRequest queues a request to fetch the ClearlyDefined definition at
// uri and annotate the component with its declared license.
//
// A positive cache hit annotates the component synchronously and returns an
// already-resolved future; a negative hit returns an already-resolved future
// with no annotation. Otherwise the request is processed asynchronously and
// all failures are reported through the returned future.
//
// Safe for concurrent use by many callers.
func (a *Api) SubmitRequest(component Component, uri string) (*Future, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}

	body, err := a.handler.GetContent(uri)
	switch {
	case err == nil:
		a.metrics.CacheHitsTotal.WithLabelValues(metrics.CacheHitPositive).Inc()
		annotate(a.logger, component, body)
		return completedFuture(nil), nil
	case errors.Is(err, content.ErrAbsent):
		a.metrics.CacheHitsTotal.WithLabelValues(metrics.CacheHitNegative).Inc()
		return completedFuture(nil), nil
	default:
		// Cache miss, or a degraded cache; fetch either way.
	}

	req := &request{
		component: component,
		uri:       uri,
		future:    newFuture(),
	}

	a.mu.Lock()
	a.active[req.future] = struct{}{}
	a.mu.Unlock()

	a.enqueue(req)
	return req.future, nil
}

// WaitForCompletion blocks until the queue and the set of unresolved futures
// are both empty, or the context is done. It returns promptly when the
// manager is already idle. It does not tear anything down; call Shutdown for
// that.
func (a *Api) WaitForCompletion(ctx context.Context) error {
	for {
		a.mu.Lock()
		idle := a.queue.IsEmpty() && len(a.active) == 0
		settled := a.settled
		a.mu.Unlock()

		if idle {
			return nil
		}

		// Re-check after every settled future: a worker may requeue a
		// request right before the check, but its future stays active until
		// it terminally completes.
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops the coordinator, cancels in-flight work, and drains the
// worker pool with a bounded wait. Safe to call multiple times.
func (a *Api) Shutdown() {
	a.stopOnce.Do(func() {
		a.shuttingDown.Store(true)
		close(a.stop)
		a.stopCancel()
		<-a.coordinatorDone

		done := make(chan struct{})
		go func() {
			a.workerGroup.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			a.logger.Error("worker pool did not drain before deadline")
		}
	})
}

// Tracker state accessors, exposed for observability.

// RateLimit returns the most recently declared limit, or -1 if unknown.
func (a *Api) RateLimit() int64 { return a.tracker.Limit() }

// RateLimitRemaining returns the most recently observed remaining count, or
// -1 if unknown.
func (a *Api) RateLimitRemaining() int64 { return a.tracker.Remaining() }

// RateLimitResetAt returns the reset instant, or the zero time if none is
// known.
func (a *Api) RateLimitResetAt() time.Time { return a.tracker.ResetAt() }

// coordinate is the single-threaded admission loop. It is the only place
// that decides whether a request may be dispatched, so a capacity transition
// from zero to nonzero cannot release a thundering herd of workers.
func (a *Api) coordinate() {
	defer close(a.coordinatorDone)
	// Closing dispatch lets idle workers exit once the coordinator stops.
	defer close(a.dispatch)

	for {
		if a.shuttingDown.Load() {
			return
		}

		remaining, resetAt := a.tracker.Admission()
		if remaining == 0 {
			if wait := time.Until(resetAt); wait > 0 {
				a.logger.Warn("rate limit exhausted, waiting for reset",
					"wait", wait.Round(time.Second))
				a.metrics.RateLimitWaitSeconds.Observe(wait.Seconds())
				if !a.sleep(wait) {
					return
				}
				// The next response re-establishes ground truth.
				a.tracker.MarkUnknown()
			}
		}

		req := a.queue.Poll(queuePollInterval, a.stop)
		if req == nil {
			continue
		}
		a.metrics.QueueDepth.Set(float64(a.queue.Len()))

		// Re-check: headers may have arrived while we were blocked in Poll.
		remaining = a.tracker.Remaining()
		if remaining == unknownLimit || remaining > 0 {
			select {
			case a.dispatch <- req:
			case <-a.stop:
				a.enqueue(req)
				return
			}
		} else {
			// No capacity; back off instead of spinning on the queue.
			a.enqueue(req)
			wait := defaultBackoff
			if until := time.Until(a.tracker.ResetAt()); until > 0 {
				wait = min(until, maxBackoff)
			}
			if !a.sleep(wait) {
				return
			}
			// Once the reset instant has passed (or when none is known), the
			// next response re-establishes ground truth.
			if !time.Now().Before(a.tracker.ResetAt()) {
				a.tracker.MarkUnknown()
			}
		}
	}
}

// sleep blocks for d and reports false if the stop channel closed first.
func (a *Api) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.stop:
		return false
	}
}

// enqueue appends a request at the queue tail and updates the depth gauge.
func (a *Api) enqueue(req *request) {
	a.queue.Offer(req)
	a.metrics.QueueDepth.Set(float64(a.queue.Len()))
}

// requeue sends a request back to the queue tail for another attempt, or
// terminally fails its future when the configured attempt bound is spent.
func (a *Api) requeue(req *request, outcome string) {
	a.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	if a.maxAttempts > 0 && req.attempts >= a.maxAttempts {
		a.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeExhausted).Inc()
		a.logger.Error("giving up on request", "uri", req.uri, "attempts", req.attempts)
		a.settle(req.future, fmt.Errorf("%w: %s after %d attempts",
			ErrAttemptsExhausted, req.uri, req.attempts))
		return
	}
	a.metrics.RequeuesTotal.Inc()
	a.enqueue(req)
}

// settle resolves a future, removes it from the active set, and wakes any
// WaitForCompletion callers.
func (a *Api) settle(f *Future, err error) {
	f.complete(err)

	a.mu.Lock()
	delete(a.active, f)
	close(a.settled)
	a.settled = make(chan struct{})
	a.mu.Unlock()
}
