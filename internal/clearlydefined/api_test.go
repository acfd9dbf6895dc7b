package clearlydefined_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/p2repo/sbomgen/internal/clearlydefined"
	"github.com/p2repo/sbomgen/internal/content"
)

// testComponent records added properties.
type testComponent struct {
	mu         sync.Mutex
	properties map[string]string
}

func newTestComponent() *testComponent {
	return &testComponent{properties: make(map[string]string)}
}

func (c *testComponent) AddProperty(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties[name] = value
}

func (c *testComponent) property(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.properties[name]
	return value, ok
}

// countingHandler wraps a content handler and counts saves.
type countingHandler struct {
	content.Handler
	mu            sync.Mutex
	contentSaves  int
	negativeSaves int
}

func (h *countingHandler) SaveContent(uri, body string) error {
	h.mu.Lock()
	h.contentSaves++
	h.mu.Unlock()
	return h.Handler.SaveContent(uri, body)
}

func (h *countingHandler) SaveAbsent(uri string) error {
	h.mu.Lock()
	h.negativeSaves++
	h.mu.Unlock()
	return h.Handler.SaveAbsent(uri)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestApi_SynchronousCacheHit tests that a preloaded payload short-circuits
// submit: the future is resolved on return and the component is annotated.
func TestApi_SynchronousCacheHit(t *testing.T) {
	t.Parallel()

	handler := content.NewMemoryHandler()
	uri := "https://api.example/test"
	if err := handler.SaveContent(uri, `{"licensed":{"declared":"Apache-2.0"}}`); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}

	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	component := newTestComponent()
	future, err := api.SubmitRequest(component, uri)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}

	if !future.IsDone() {
		t.Error("future not resolved on return from SubmitRequest")
	}
	if got, ok := component.property("clearly-defined"); !ok || got != "Apache-2.0" {
		t.Errorf("property = %q, %v; want Apache-2.0 before SubmitRequest returns", got, ok)
	}
}

// TestApi_NegativeCacheHit tests that a confirmed-absent entry resolves
// submit synchronously with no annotation.
func TestApi_NegativeCacheHit(t *testing.T) {
	t.Parallel()

	handler := content.NewMemoryHandler()
	uri := "https://api.example/absent"
	if err := handler.SaveAbsent(uri); err != nil {
		t.Fatalf("SaveAbsent() error = %v", err)
	}

	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	component := newTestComponent()
	future, err := api.SubmitRequest(component, uri)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}

	if !future.IsDone() {
		t.Error("future not resolved on return from SubmitRequest")
	}
	if err := future.Err(); err != nil {
		t.Errorf("future Err() = %v, want success", err)
	}
	if len(component.properties) != 0 {
		t.Errorf("component annotated %v, want untouched", component.properties)
	}
}

// TestApi_NetworkFetch tests a full round trip: annotation, caching, and
// tracker state from response headers.
func TestApi_NetworkFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit", "100")
		w.Header().Set("x-ratelimit-remaining", "99")
		w.Write([]byte(`{"licensed":{"declared":"MIT"}}`))
	}))
	t.Cleanup(server.Close)

	handler := content.NewMemoryHandler()
	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	component := newTestComponent()
	future, err := api.SubmitRequest(component, server.URL+"/definitions/x")
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}

	if err := future.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got, ok := component.property("clearly-defined"); !ok || got != "MIT" {
		t.Errorf("property = %q, %v; want MIT", got, ok)
	}

	cached, err := handler.GetContent(server.URL + "/definitions/x")
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if cached != `{"licensed":{"declared":"MIT"}}` {
		t.Errorf("cached payload = %q", cached)
	}

	if got := api.RateLimit(); got != 100 {
		t.Errorf("RateLimit() = %d, want 100", got)
	}
	if got := api.RateLimitRemaining(); got != 99 {
		t.Errorf("RateLimitRemaining() = %d, want 99", got)
	}
}

// TestApi_ResourceAbsent tests that a 404 resolves successfully, writes a
// negative entry, and that a later submit for the same URI takes the
// synchronous negative-cache path.
func TestApi_ResourceAbsent(t *testing.T) {
	t.Parallel()

	var requestCount int64
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestCount++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	handler := content.NewMemoryHandler()
	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	uri := server.URL + "/definitions/missing"
	component := newTestComponent()
	future, err := api.SubmitRequest(component, uri)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := future.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(component.properties) != 0 {
		t.Errorf("component annotated %v, want untouched", component.properties)
	}
	if _, err := handler.GetContent(uri); !errors.Is(err, content.ErrAbsent) {
		t.Errorf("GetContent() error = %v, want ErrAbsent", err)
	}

	// Second submission takes the synchronous negative path without another
	// network round trip
	second, err := api.SubmitRequest(newTestComponent(), uri)
	if err != nil {
		t.Fatalf("second SubmitRequest() error = %v", err)
	}
	if !second.IsDone() {
		t.Error("second future not resolved synchronously")
	}
	mu.Lock()
	count := requestCount
	mu.Unlock()
	if count != 1 {
		t.Errorf("server saw %d requests, want 1", count)
	}
}

// TestApi_MalformedPayload tests that a schema mismatch is swallowed: the
// future resolves successfully, the component stays untouched, and the body
// is still cached.
func TestApi_MalformedPayload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"licensed":{"declared":42}}`))
	}))
	t.Cleanup(server.Close)

	handler := content.NewMemoryHandler()
	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	uri := server.URL + "/definitions/odd"
	component := newTestComponent()
	future, err := api.SubmitRequest(component, uri)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := future.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v, want success despite bad payload", err)
	}
	if len(component.properties) != 0 {
		t.Errorf("component annotated %v, want untouched", component.properties)
	}
	if cached, err := handler.GetContent(uri); err != nil || cached != `{"licensed":{"declared":42}}` {
		t.Errorf("GetContent() = %q, %v; want payload cached", cached, err)
	}
}

// TestApi_RateLimitedWithRetryAfter tests the 429 path: the request is
// requeued without completing its future, and the next dispatch happens no
// earlier than the Retry-After instant.
func TestApi_RateLimitedWithRetryAfter(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var times []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		first := len(times) == 1
		mu.Unlock()

		if first {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"licensed":{"declared":"MIT"}}`))
	}))
	t.Cleanup(server.Close)

	api := clearlydefined.New(content.NewMemoryHandler())
	t.Cleanup(api.Shutdown)

	component := newTestComponent()
	future, err := api.SubmitRequest(component, server.URL+"/definitions/limited")
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := future.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 1500*time.Millisecond {
		t.Errorf("retry dispatched after %v, want at least ~2s", gap)
	}
	if got, ok := component.property("clearly-defined"); !ok || got != "MIT" {
		t.Errorf("property = %q, %v; want MIT after retry", got, ok)
	}
}

// TestApi_PausesUntilReset tests that after a response declares remaining=0
// with a reset instant, the next request is not dispatched before the reset.
func TestApi_PausesUntilReset(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(2 * time.Second)
	var mu sync.Mutex
	var times []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		first := len(times) == 1
		mu.Unlock()

		if first {
			w.Header().Set("x-ratelimit-limit", "100")
			w.Header().Set("x-ratelimit-remaining", "0")
			w.Header().Set("x-ratelimit-reset", strconv.FormatInt(reset.Unix()+1, 10))
		}
		w.Write([]byte(`{"licensed":{"declared":"MIT"}}`))
	}))
	t.Cleanup(server.Close)

	api := clearlydefined.New(content.NewMemoryHandler())
	t.Cleanup(api.Shutdown)

	first, err := api.SubmitRequest(newTestComponent(), server.URL+"/definitions/one")
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := first.Wait(waitCtx(t)); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	// Capacity is now exhausted until the reset instant
	second, err := api.SubmitRequest(newTestComponent(), server.URL+"/definitions/two")
	if err != nil {
		t.Fatalf("second SubmitRequest() error = %v", err)
	}
	if err := second.Wait(waitCtx(t)); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(times))
	}
	// The reset header is whole seconds, so allow the truncated instant
	if times[1].Before(reset.Truncate(time.Second)) {
		t.Errorf("second request at %v, want no earlier than reset %v", times[1], reset)
	}
}

// TestApi_RequeuesOnServerError tests that a 5xx response retries without
// completing the future early.
func TestApi_RequeuesOnServerError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		failing := count <= 2
		mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"licensed":{"declared":"EPL-2.0"}}`))
	}))
	t.Cleanup(server.Close)

	api := clearlydefined.New(content.NewMemoryHandler())
	t.Cleanup(api.Shutdown)

	component := newTestComponent()
	future, err := api.SubmitRequest(component, server.URL+"/definitions/flaky")
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := future.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got, ok := component.property("clearly-defined"); !ok || got != "EPL-2.0" {
		t.Errorf("property = %q, %v; want EPL-2.0 after retries", got, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("server saw %d requests, want 3", count)
	}
}

// TestApi_MaxAttempts tests the opt-in retry bound: the future fails
// terminally once attempts are exhausted.
func TestApi_MaxAttempts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	api := clearlydefined.New(content.NewMemoryHandler(),
		clearlydefined.WithMaxAttempts(2))
	t.Cleanup(api.Shutdown)

	future, err := api.SubmitRequest(newTestComponent(), server.URL+"/definitions/broken")
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if err := future.Wait(waitCtx(t)); !errors.Is(err, clearlydefined.ErrAttemptsExhausted) {
		t.Errorf("Wait() error = %v, want ErrAttemptsExhausted", err)
	}
}

// TestApi_SecondSubmitUsesCache tests L1 idempotence: once the first fetch
// has populated the cache, a second submit for the same URI resolves
// synchronously.
func TestApi_SecondSubmitUsesCache(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.Write([]byte(`{"licensed":{"declared":"BSD-3-Clause"}}`))
	}))
	t.Cleanup(server.Close)

	handler := &countingHandler{Handler: content.NewMemoryHandler()}
	api := clearlydefined.New(handler)
	t.Cleanup(api.Shutdown)

	uri := server.URL + "/definitions/shared"
	first, err := api.SubmitRequest(newTestComponent(), uri)
	if err != nil {
		t.Fatalf("first SubmitRequest() error = %v", err)
	}
	if err := first.Wait(waitCtx(t)); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	component := newTestComponent()
	second, err := api.SubmitRequest(component, uri)
	if err != nil {
		t.Fatalf("second SubmitRequest() error = %v", err)
	}
	if !second.IsDone() {
		t.Error("second future not resolved synchronously")
	}
	if got, ok := component.property("clearly-defined"); !ok || got != "BSD-3-Clause" {
		t.Errorf("property = %q, %v; want BSD-3-Clause from cache", got, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("server saw %d requests, want 1", count)
	}
}

// TestApi_WaitForCompletion tests quiescence semantics.
func TestApi_WaitForCompletion(t *testing.T) {
	t.Parallel()

	t.Run("idle manager returns promptly", func(t *testing.T) {
		t.Parallel()

		api := clearlydefined.New(content.NewMemoryHandler())
		t.Cleanup(api.Shutdown)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.WaitForCompletion(ctx); err != nil {
			t.Errorf("WaitForCompletion() error = %v", err)
		}
	})

	t.Run("waits for outstanding requests", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.Write([]byte(`{"licensed":{"declared":"MIT"}}`))
		}))
		t.Cleanup(server.Close)

		api := clearlydefined.New(content.NewMemoryHandler())
		t.Cleanup(api.Shutdown)

		future, err := api.SubmitRequest(newTestComponent(), server.URL+"/definitions/slow")
		if err != nil {
			t.Fatalf("SubmitRequest() error = %v", err)
		}

		// Not yet quiescent: the wait must observe the deadline
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := api.WaitForCompletion(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WaitForCompletion() error = %v, want DeadlineExceeded", err)
		}

		close(release)
		if err := api.WaitForCompletion(waitCtx(t)); err != nil {
			t.Errorf("WaitForCompletion() error = %v", err)
		}
		if !future.IsDone() {
			t.Error("future not resolved at quiescence")
		}
	})
}

// TestApi_SubmitValidation tests that only an empty URI fails synchronously;
// every other failure is reported through the returned future.
func TestApi_SubmitValidation(t *testing.T) {
	t.Parallel()

	api := clearlydefined.New(content.NewMemoryHandler(),
		clearlydefined.WithMaxAttempts(1))
	t.Cleanup(api.Shutdown)

	if _, err := api.SubmitRequest(newTestComponent(), ""); !errors.Is(err, clearlydefined.ErrEmptyURI) {
		t.Errorf("SubmitRequest(\"\") error = %v, want ErrEmptyURI", err)
	}

	// A malformed URI is enqueued like any other request and fails
	// asynchronously through the transport path
	future, err := api.SubmitRequest(newTestComponent(), "::not a uri")
	if err != nil {
		t.Fatalf("SubmitRequest(malformed) error = %v, want asynchronous failure", err)
	}
	if err := future.Wait(waitCtx(t)); !errors.Is(err, clearlydefined.ErrAttemptsExhausted) {
		t.Errorf("Wait() error = %v, want ErrAttemptsExhausted", err)
	}
}

// TestApi_ShutdownIdempotent tests that Shutdown is safe to call repeatedly.
func TestApi_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	api := clearlydefined.New(content.NewMemoryHandler())
	api.Shutdown()
	api.Shutdown()
}

// TestApi_ConcurrentSubmitters tests that many goroutines can submit at once
// and all futures settle.
func TestApi_ConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"licensed":{"declared":"MIT"}}`))
	}))
	t.Cleanup(server.Close)

	api := clearlydefined.New(content.NewMemoryHandler(), clearlydefined.WithWorkers(4))
	t.Cleanup(api.Shutdown)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uri := server.URL + "/definitions/" + strconv.Itoa(i)
			if _, err := api.SubmitRequest(newTestComponent(), uri); err != nil {
				t.Errorf("SubmitRequest() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if err := api.WaitForCompletion(waitCtx(t)); err != nil {
		t.Errorf("WaitForCompletion() error = %v", err)
	}
}
