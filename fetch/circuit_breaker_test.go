package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCircuitBreakerFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher())

	resp, err := cbFetcher.Fetch(context.Background(), server.URL+"/packages/demo-1.0.tar.gz")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "test content" {
		t.Errorf("expected 'test content', got %q", string(body))
	}
}

func TestCircuitBreakerFetchJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"info":{"name":"demo"}}`))
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher())

	var doc struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
	}
	if err := cbFetcher.FetchJSON(context.Background(), server.URL+"/pypi/demo/json", &doc); err != nil {
		t.Fatalf("FetchJSON failed: %v", err)
	}
	if doc.Info.Name != "demo" {
		t.Errorf("name = %q, want demo", doc.Info.Name)
	}
}

func TestCircuitBreakerHead_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD request, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Content-Type", "application/octet-stream")
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher())

	size, contentType, err := cbFetcher.Head(context.Background(), server.URL+"/demo-1.0.tar.gz")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if size != 1234 {
		t.Errorf("expected size 1234, got %d", size)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("expected content type application/octet-stream, got %s", contentType)
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"pypi json", "https://pypi.org/pypi/requests/json", "pypi.org"},
		{"files host", "https://files.pythonhosted.org/packages/abc/def/file.tar.gz", "files.pythonhosted.org"},
		{"invalid URL", "not-a-valid-url", "not-a-valid-url"},
		{"with port", "https://example.com:8080/path", "example.com:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractHost(tt.url); got != tt.expected {
				t.Errorf("extractHost(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestGetBreakerState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher())

	if states := cbFetcher.GetBreakerState(); len(states) != 0 {
		t.Errorf("expected empty states, got %d entries", len(states))
	}

	resp, err := cbFetcher.Fetch(context.Background(), server.URL+"/test")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	_ = resp.Body.Close()

	states := cbFetcher.GetBreakerState()
	if len(states) != 1 {
		t.Fatalf("expected one breaker state after fetch, got %v", states)
	}
	for _, state := range states {
		if state != "closed" {
			t.Errorf("expected closed state, got %s", state)
		}
	}
}

func TestCircuitBreakerOpensOnFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(WithMaxRetries(0), WithBaseDelay(0))
	cbFetcher := NewCircuitBreakerFetcher(fetcher, WithTripThreshold(3), WithBreakerBackoff(time.Minute, time.Minute))

	ctx := context.Background()
	var lastErr error
	for range 10 {
		_, lastErr = cbFetcher.Fetch(ctx, server.URL+"/test")
	}

	if got := requests.Load(); got != 3 {
		t.Errorf("upstream saw %d requests, want 3 before the breaker opened", got)
	}
	if !errors.Is(lastErr, ErrUpstreamDown) {
		t.Errorf("expected ErrUpstreamDown, got %v", lastErr)
	}
	for _, state := range cbFetcher.GetBreakerState() {
		if state != "open" {
			t.Errorf("expected open state, got %s", state)
		}
	}
}

func TestCircuitBreakerIgnoresNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher(), WithTripThreshold(2))

	for range 5 {
		var v map[string]any
		err := cbFetcher.FetchJSON(context.Background(), server.URL+"/pypi/missing/json", &v)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	for _, state := range cbFetcher.GetBreakerState() {
		if state != "closed" {
			t.Errorf("expected closed state, got %s", state)
		}
	}
}
