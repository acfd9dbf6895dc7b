package clearlydefined

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Response headers the ClearlyDefined service uses to declare rate limits.
const (
	headerRateLimitLimit     = "x-ratelimit-limit"
	headerRateLimitRemaining = "x-ratelimit-remaining"
	headerRateLimitReset     = "x-ratelimit-reset"
	headerRetryAfter         = "Retry-After"
)

// unknownLimit marks a rate-limit field whose value has not been observed yet.
const unknownLimit = -1

// rateLimitTracker holds the most recently observed rate-limit state.
//
// Each field is updated independently as headers arrive from concurrent
// workers; per-field updates are atomic with last-writer-wins semantics,
// but a composite read is not a consistent snapshot of the triple.
type rateLimitTracker struct {
	limit     atomic.Int64
	remaining atomic.Int64
	resetAt   atomic.Int64 // milliseconds since epoch, 0 means none

	logger *slog.Logger
}

func newRateLimitTracker(logger *slog.Logger) *rateLimitTracker {
	t := &rateLimitTracker{logger: logger}
	t.limit.Store(unknownLimit)
	t.remaining.Store(unknownLimit)
	return t
}

// UpdateFromHeaders extracts rate-limit state from response headers.
// Non-integer values are logged and discarded without changing state.
func (t *rateLimitTracker) UpdateFromHeaders(h http.Header) {
	if value := h.Get(headerRateLimitLimit); value != "" {
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			t.logger.Error("invalid x-ratelimit-limit header", "value", value)
		} else {
			t.limit.Store(limit)
			t.logger.Debug("rate limit declared", "limit", limit)
		}
	}

	value := h.Get(headerRateLimitRemaining)
	if value == "" {
		return
	}
	remaining, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		t.logger.Error("invalid x-ratelimit-remaining header", "value", value)
		return
	}
	t.remaining.Store(remaining)
	t.logger.Debug("rate limit remaining", "remaining", remaining, "limit", t.limit.Load())

	if remaining == 0 {
		// The limit is exhausted; the reset header tells us when capacity
		// comes back.
		resetValue := h.Get(headerRateLimitReset)
		if resetValue == "" {
			return
		}
		resetEpoch, err := strconv.ParseInt(resetValue, 10, 64)
		if err != nil {
			t.logger.Error("invalid x-ratelimit-reset header", "value", resetValue)
			return
		}
		t.resetAt.Store(resetEpoch * 1000)
		t.logger.Debug("rate limit reset scheduled", "reset", time.UnixMilli(resetEpoch*1000))
	}
}

// MarkExhausted forces remaining to zero, as after a 429 response. A non-zero
// resetAt also updates the reset instant.
func (t *rateLimitTracker) MarkExhausted(resetAt time.Time) {
	t.remaining.Store(0)
	if !resetAt.IsZero() {
		t.resetAt.Store(resetAt.UnixMilli())
	}
}

// MarkUnknown discards the remaining counter so the next response
// re-establishes ground truth.
func (t *rateLimitTracker) MarkUnknown() {
	t.remaining.Store(unknownLimit)
}

// Admission returns the composite (remaining, resetAt) read used by the
// coordinator to decide whether the next request may be dispatched.
func (t *rateLimitTracker) Admission() (int64, time.Time) {
	return t.remaining.Load(), t.ResetAt()
}

// Limit returns the most recently declared limit, or -1 if unknown.
func (t *rateLimitTracker) Limit() int64 {
	return t.limit.Load()
}

// Remaining returns the most recently observed remaining count, or -1 if
// unknown.
func (t *rateLimitTracker) Remaining() int64 {
	return t.remaining.Load()
}

// ResetAt returns the reset instant, or the zero time if none is known.
func (t *rateLimitTracker) ResetAt() time.Time {
	millis := t.resetAt.Load()
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}
