package clearlydefined

import (
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/p2repo/sbomgen/internal/metrics"
)

// Option configures an Api.
type Option func(*Api)

// WithWorkers sets the worker pool size. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(a *Api) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for definition requests. The
// default client follows redirects and carries no request timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Api) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Api) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. The default is registered nowhere.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Api) {
		a.metrics = m
	}
}

// WithRequestRate adds a client-side courtesy throttle of rps requests per
// second on top of the server-declared limits. Zero or negative disables it.
func WithRequestRate(rps float64) Option {
	return func(a *Api) {
		if rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMaxAttempts bounds how many times a request may be attempted before
// its future fails with ErrAttemptsExhausted. Zero (the default) retries
// without bound: termination is then guaranteed only by a terminal response
// or Shutdown.
func WithMaxAttempts(n int) Option {
	return func(a *Api) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
