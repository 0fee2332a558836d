package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestProber(t *testing.T, opts ...Option) *Prober {
	t.Helper()
	opts = append([]Option{WithBaseDelay(time.Millisecond)}, opts...)
	p := New(opts...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProbe_OK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET request, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "pacache-test" {
			t.Errorf("User-Agent = %q, want pacache-test", ua)
		}
		_, _ = w.Write([]byte("packagelist"))
	}))
	defer server.Close()

	p := newTestProber(t, WithUserAgent("pacache-test"))
	status, err := p.Probe(context.Background(), server.URL+"/packagelist")
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestProbe_DoesNotFollowRedirects(t *testing.T) {
	var targetHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			targetHits.Add(1)
			return
		}
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer server.Close()

	p := newTestProber(t)
	status, err := p.Probe(context.Background(), server.URL+"/moved")
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if status != http.StatusFound {
		t.Errorf("status = %d, want 302", status)
	}
	if targetHits.Load() != 0 {
		t.Error("redirect target should not be requested")
	}
}

func TestProbe_NotFoundIsFinal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProber(t)
	status, err := p.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestProbe_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	p := newTestProber(t, WithMaxRetries(3))
	status, err := p.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
}

func TestProbe_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestProber(t, WithMaxRetries(2))
	status, err := p.Probe(context.Background(), server.URL)
	if !errors.Is(err, ErrUpstreamDown) {
		t.Fatalf("Probe() error = %v, want ErrUpstreamDown", err)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
}

func TestRetryBudget_ZeroTriesOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	for _, retries := range []int{0, -1} {
		hits.Store(0)
		p := newTestProber(t, WithMaxRetries(retries))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		status, err := p.Probe(ctx, server.URL)
		cancel()

		if !errors.Is(err, ErrUpstreamDown) {
			t.Fatalf("WithMaxRetries(%d): Probe() error = %v, want ErrUpstreamDown", retries, err)
		}
		if status != http.StatusTooManyRequests {
			t.Errorf("WithMaxRetries(%d): status = %d, want 429", retries, status)
		}
		if got := hits.Load(); got != 1 {
			t.Errorf("WithMaxRetries(%d): server hit %d times, want 1", retries, got)
		}
	}
}

func TestProbe_CircuitBreakerTrips(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := newTestProber(t, WithMaxRetries(0), WithTripThreshold(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Probe(ctx, server.URL); !errors.Is(err, ErrUpstreamDown) {
			t.Fatalf("probe %d error = %v, want ErrUpstreamDown", i, err)
		}
	}

	_, err := p.Probe(ctx, server.URL+"/other")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Probe() after trip error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want 2", hits.Load())
	}

	states := p.BreakerStates()
	if states[hostOf(server.URL)] != "open" {
		t.Errorf("BreakerStates() = %v, want open for %s", states, hostOf(server.URL))
	}
}

func TestProbe_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := newTestProber(t)
	_, err := p.Probe(context.Background(), url)
	if err == nil {
		t.Fatal("Probe() of a closed server should fail")
	}
	if errors.Is(err, ErrUpstreamDown) {
		t.Errorf("transport error %v should not be reported as ErrUpstreamDown", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	p := New()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://raw.githubusercontent.com/pacstall/pacstall-programs/master", "raw.githubusercontent.com"},
		{"http://localhost:8080/list", "localhost:8080"},
		{"not a url", "not a url"},
	}

	for _, tt := range tests {
		if got := hostOf(tt.url); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
