package clearlydefined

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/p2repo/sbomgen/internal/metrics"
)

// worker receives admitted requests from the coordinator and processes them
// until the dispatch channel closes.
func (a *Api) worker() {
	defer a.workerGroup.Done()
	for req := range a.dispatch {
		a.process(req)
	}
}

// process performs one synchronous round trip for a request: HTTP GET,
// tracker update from the response headers, outcome classification, and
// either completion or requeue. Workers never consult the tracker for
// admission; that is the coordinator's job.
func (a *Api) process(req *request) {
	a.metrics.InFlight.Inc()
	defer a.metrics.InFlight.Dec()
	req.attempts++

	if a.limiter != nil {
		if err := a.limiter.Wait(a.stopCtx); err != nil {
			// Shutting down; the request stays pending.
			a.enqueue(req)
			return
		}
	}

	httpReq, err := http.NewRequestWithContext(a.stopCtx, http.MethodGet, req.uri, nil)
	if err != nil {
		a.requeue(req, metrics.OutcomeTransport)
		return
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		a.logger.Debug("request failed, re-queuing", "uri", req.uri, "error", err)
		a.requeue(req, metrics.OutcomeTransport)
		return
	}
	defer resp.Body.Close()

	a.tracker.UpdateFromHeaders(resp.Header)

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			a.logger.Debug("reading response failed, re-queuing",
				"uri", req.uri, "error", readErr)
			a.requeue(req, metrics.OutcomeTransport)
			return
		}
		if saveErr := a.handler.SaveContent(req.uri, string(body)); saveErr != nil {
			a.logger.Error("saving content failed, re-queuing",
				"uri", req.uri, "error", saveErr)
			a.requeue(req, metrics.OutcomeTransport)
			return
		}
		// The annotation must land before the future resolves.
		annotate(a.logger, req.component, string(body))
		a.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		a.settle(req.future, nil)

	case http.StatusNotFound:
		// Confirmed absent; the negative entry suppresses future fetches.
		if saveErr := a.handler.SaveAbsent(req.uri); saveErr != nil {
			a.logger.Error("saving negative entry failed, re-queuing",
				"uri", req.uri, "error", saveErr)
			a.requeue(req, metrics.OutcomeTransport)
			return
		}
		a.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeAbsent).Inc()
		a.settle(req.future, nil)

	case http.StatusTooManyRequests:
		a.logger.Warn("rate limited (429), re-queuing request", "uri", req.uri)
		a.tracker.MarkExhausted(retryAfterInstant(resp.Header))
		a.requeue(req, metrics.OutcomeRateLimited)

	default:
		a.logger.Warn("request failed, re-queuing",
			"status", resp.StatusCode, "uri", req.uri)
		a.requeue(req, metrics.OutcomeServerError)
	}
}

// retryAfterInstant converts a Retry-After header of whole seconds into an
// absolute instant. It returns the zero time when the header is missing or
// not an integer.
func retryAfterInstant(h http.Header) time.Time {
	value := h.Get(headerRetryAfter)
	if value == "" {
		return time.Time{}
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
