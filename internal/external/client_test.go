package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"carbondelay/internal/types"
)

// noSleep is a sleep function that does nothing, for fast tests.
func noSleep(_ time.Duration) {}

func newTestBaseClient(policy RetryPolicy) *BaseClient {
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"carbon-delay-Test/1.0",
		WithSleepFunc(noSleep),
	)
}

func TestBaseClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestBaseClient(DefaultRetryPolicy())

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestBaseClient_Do_InjectsInvocationID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(invocationHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(DefaultRetryPolicy())

	ctx := types.WithInvocationID(context.Background(), "inv-123")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got != "inv-123" {
		t.Errorf("expected invocation header 'inv-123', got %q", got)
	}
}

func TestBaseClient_Do_InjectsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(DefaultRetryPolicy())

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if got != "carbon-delay-Test/1.0" {
		t.Errorf("expected User-Agent 'carbon-delay-Test/1.0', got %q", got)
	}
}

func TestBaseClient_Do_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestBaseClient_Do_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected code %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls.Load())
	}
}

func TestBaseClient_Do_RateLimitedMapsCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var waits []time.Duration
	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 10 * time.Second},
		"",
		WithSleepFunc(func(d time.Duration) { waits = append(waits, d) }),
	)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	if types.CodeOf(err) != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamRateLimited, err)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("expected one 1s wait from Retry-After, got %v", waits)
	}
}

func TestBaseClient_Do_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestBaseClient(DefaultRetryPolicy())

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("4xx should be returned to caller, got error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestBaseClient_Do_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, _ = client.Do(req)
	}

	before := calls.Load()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	if types.CodeOf(err) != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected breaker-open code %s, got %v", types.ErrCodeUpstreamRateLimited, err)
	}
	if calls.Load() != before {
		t.Errorf("open breaker should short-circuit; server saw %d extra calls", calls.Load()-before)
	}
}

func TestBaseClient_Do_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	_, err := client.Do(req)

	if types.CodeOf(err) != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamUnavailable, err)
	}
}

func TestBaseClient_Do_CancelledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestBaseClient_Do_PostBodyPreserved(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPut, server.URL, strings.NewReader(`{"wait_timer":42}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != `{"wait_timer":42}` {
			t.Errorf("request %d body = %q", i, b)
		}
	}
}

func TestComputeBackoff(t *testing.T) {
	client := newTestBaseClient(RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	t.Run("first attempt returns min wait", func(t *testing.T) {
		if got := client.computeBackoff(0, nil); got != 100*time.Millisecond {
			t.Errorf("got %v, want 100ms", got)
		}
	})

	t.Run("later attempts stay within bounds", func(t *testing.T) {
		for attempt := 1; attempt < 8; attempt++ {
			got := client.computeBackoff(attempt, nil)
			if got < 100*time.Millisecond || got > time.Second {
				t.Errorf("attempt %d: backoff %v outside [100ms, 1s]", attempt, got)
			}
		}
	})

	t.Run("retry-after capped at max wait", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
		if got := client.computeBackoff(0, resp); got != time.Second {
			t.Errorf("got %v, want 1s", got)
		}
	})
}

func TestWrapError_KeepsRateLimitCode(t *testing.T) {
	limited := types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", nil)
	if got := types.CodeOf(wrapError(types.ErrCodeUpstreamCarbon, "carbonaware", "forecast", limited)); got != types.ErrCodeUpstreamRateLimited {
		t.Errorf("got %s, want %s", got, types.ErrCodeUpstreamRateLimited)
	}

	down := types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)
	if got := types.CodeOf(wrapError(types.ErrCodeUpstreamCarbon, "carbonaware", "forecast", down)); got != types.ErrCodeUpstreamCarbon {
		t.Errorf("got %s, want %s", got, types.ErrCodeUpstreamCarbon)
	}
}
