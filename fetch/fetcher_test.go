package fetch

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
)

func TestFetchSuccess(t *testing.T) {
	content := "sdist bytes for demo"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-tar")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Length", "20")
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	resp, err := f.Fetch(context.Background(), server.URL+"/packages/demo-1.0.tar.gz")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Size != 20 {
		t.Errorf("Size = %d, want 20", resp.Size)
	}
	if resp.ContentType != "application/x-tar" {
		t.Errorf("ContentType = %q, want application/x-tar", resp.ContentType)
	}
	if resp.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", resp.ETag, `"v1"`)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != content {
		t.Errorf("body = %q, want %q", body, content)
	}
}

func TestFetchNotFound(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(time.Millisecond))
	defer f.Close()

	_, err := f.Fetch(context.Background(), server.URL+"/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("not found should not be retried, got %d requests", hits.Load())
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if attempts.Add(1) < 3 {
					w.WriteHeader(status)
					return
				}
				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			f := NewFetcher(WithBaseDelay(time.Millisecond))
			defer f.Close()

			resp, err := f.Fetch(context.Background(), server.URL+"/x")
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			_ = resp.Body.Close()
			if attempts.Load() != 3 {
				t.Errorf("attempts = %d, want 3", attempts.Load())
			}
		})
	}
}

func TestFetchMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewFetcher(WithMaxRetries(2), WithBaseDelay(time.Millisecond))
	defer f.Close()

	_, err := f.Fetch(context.Background(), server.URL+"/x")
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("expected ErrUpstreamDown, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts.Load())
	}
}

func TestFetchUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("private index"))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	_, err := f.Fetch(context.Background(), server.URL+"/x")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestFetchContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(time.Second))
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, server.URL+"/x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestFetchUnknownSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		_, _ = w.Write([]byte("chunked"))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	resp, err := f.Fetch(context.Background(), server.URL+"/x")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Size != -1 {
		t.Errorf("Size = %d, want -1", resp.Size)
	}
}

func TestFetchJSON(t *testing.T) {
	var accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"info":{"name":"Demo","version":"1.0"}}`))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	var doc struct {
		Info struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := f.FetchJSON(context.Background(), server.URL+"/pypi/demo/json", &doc); err != nil {
		t.Fatalf("FetchJSON failed: %v", err)
	}
	if doc.Info.Name != "Demo" || doc.Info.Version != "1.0" {
		t.Errorf("decoded %+v", doc.Info)
	}
	if accept != "application/json" {
		t.Errorf("Accept = %q, want application/json", accept)
	}
}

func TestFetchJSONMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"info":`))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	var v map[string]any
	err := f.FetchJSON(context.Background(), server.URL+"/pypi/demo/json", &v)
	if err == nil || !strings.Contains(err.Error(), "decoding") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Content-Type", "application/zip")
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	size, ct, err := f.Head(context.Background(), server.URL+"/demo-1.0-py3-none-any.whl")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if size != 4096 {
		t.Errorf("size = %d, want 4096", size)
	}
	if ct != "application/zip" {
		t.Errorf("content type = %q, want application/zip", ct)
	}
}

func TestHeadErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrUpstreamDown},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		f := NewFetcher()
		_, _, err := f.Head(context.Background(), server.URL+"/x")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		f.Close()
		server.Close()
	}
}

func TestFetchHeaders(t *testing.T) {
	var userAgent, token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		token = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(
		WithUserAgent("ministry-test/0.1"),
		WithAuthFunc(func(url string) (string, string) {
			if strings.HasPrefix(url, server.URL) {
				return "Authorization", "Basic c2VjcmV0"
			}
			return "", ""
		}),
	)
	defer f.Close()

	resp, err := f.Fetch(context.Background(), server.URL+"/x")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	_ = resp.Body.Close()

	if userAgent != "ministry-test/0.1" {
		t.Errorf("User-Agent = %q", userAgent)
	}
	if token != "Basic c2VjcmV0" {
		t.Errorf("Authorization = %q", token)
	}
}

func TestFetchRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(WithRateLimit(20))
	defer f.Close()

	start := time.Now()
	for range 3 {
		resp, err := f.Fetch(context.Background(), server.URL+"/x")
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		_ = resp.Body.Close()
	}
	// burst of one, then 50ms per request
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three requests took %v, expected pacing of at least 90ms", elapsed)
	}
}

func TestFetchRateLimitCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(WithRateLimit(0.1))
	defer f.Close()

	resp, err := f.Fetch(context.Background(), server.URL+"/x")
	if err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, server.URL+"/x"); err == nil {
		t.Error("expected the second request to fail waiting for the limiter")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := NewFetcher()
	f.Close()
	f.Close()
}
