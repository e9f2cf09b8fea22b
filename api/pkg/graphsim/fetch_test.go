package graphsim

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// scriptedFetcher replays a fixed sequence of RawResponses per URL,
// regardless of call count beyond the script (the last entry repeats).
// It also records every AccessToken it was called with, so tests can
// assert a post-refresh retry actually carried the new token.
type scriptedFetcher struct {
	mu     sync.Mutex
	script map[string][]RawResponse
	calls  map[string]int
	tokens []string
}

func newScriptedFetcher(script map[string][]RawResponse) *scriptedFetcher {
	return &scriptedFetcher{script: script, calls: make(map[string]int)}
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, req PageRequest) (RawResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, req.AccessToken)

	seq := f.script[req.URL]
	i := f.calls[req.URL]
	f.calls[req.URL]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	resp := seq[i]
	if req.StreamChunk != nil && resp.Body != nil {
		for n, line := range splitNDJSON(resp.Body) {
			if !req.StreamChunk(line, n+1) {
				break
			}
		}
		resp.Body = nil
	}
	return resp, nil
}

type staticRefresher struct {
	newToken string
	calls    int
}

func (r *staticRefresher) RefreshToken(ctx context.Context, url string, status int, retryCount int) (RefreshResult, error) {
	r.calls++
	return RefreshResult{AccessToken: r.newToken}, nil
}

func bundleBody(t *testing.T, resourceType, id string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"resourceType": resourceType,
		"id":           id,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFetchEngine_RetriesTransientServerError(t *testing.T) {
	url := "https://fhir.example.com/Patient/1"
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {
			{Status: 503},
			{Status: 503},
			{Status: 200, Body: bundleBody(t, "Patient", "1")},
		},
	})
	opts := NewOptions()
	opts.RetryCount = 3
	e := newFetchEngine(fetcher, nil, opts, "")

	results, err := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Status != 200 {
		t.Fatalf("expected one successful result, got %+v", results)
	}
	if len(results[0].ResultsByURL) != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", len(results[0].ResultsByURL))
	}
}

func TestFetchEngine_RefreshesTokenOnceAfter401(t *testing.T) {
	url := "https://fhir.example.com/Patient/1"
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {
			{Status: 401},
			{Status: 200, Body: bundleBody(t, "Patient", "1")},
		},
	})
	refresher := &staticRefresher{newToken: "new-token"}
	opts := NewOptions()
	e := newFetchEngine(fetcher, refresher, opts, "stale-token")

	results, err := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refresher.calls)
	}
	if len(fetcher.tokens) != 2 || fetcher.tokens[0] != "stale-token" || fetcher.tokens[1] != "new-token" {
		t.Fatalf("expected retry to use the refreshed token, got %v", fetcher.tokens)
	}
	if results[0].Status != 200 {
		t.Fatalf("expected eventual success, got %+v", results)
	}
}

func TestFetchEngine_DoesNotRefreshTwicePerRequest(t *testing.T) {
	url := "https://fhir.example.com/Patient/1"
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {{Status: 401}, {Status: 401}, {Status: 401}, {Status: 401}},
	})
	refresher := &staticRefresher{newToken: "new-token"}
	opts := NewOptions()
	opts.RetryCount = 3
	e := newFetchEngine(fetcher, refresher, opts, "stale-token")

	results, _ := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	if refresher.calls != 1 {
		t.Fatalf("expected at most one refresh per request, got %d calls", refresher.calls)
	}
	if results[0].Error == nil {
		t.Fatal("expected a terminal AUTH error after the refreshed retry also failed")
	}
}

func TestFetchEngine_HonorsRetryAfterCap(t *testing.T) {
	url := "https://fhir.example.com/Patient/1"
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {
			{Status: 429, RetryAfter: 10 * time.Second},
			{Status: 200, Body: bundleBody(t, "Patient", "1")},
		},
	})
	opts := NewOptions()
	opts.MaximumTimeToRetryOn429 = 10 * time.Millisecond
	e := newFetchEngine(fetcher, nil, opts, "")

	start := time.Now()
	results, err := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected the 429 wait to be capped well under the Retry-After value, took %v", elapsed)
	}
	if results[0].Status != 200 {
		t.Fatalf("expected eventual success, got %+v", results)
	}
}

func TestFetchEngine_PermanentErrorDoesNotRetry(t *testing.T) {
	url := "https://fhir.example.com/Patient/1"
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {{Status: 422}, {Status: 200, Body: bundleBody(t, "Patient", "1")}},
	})
	opts := NewOptions()
	e := newFetchEngine(fetcher, nil, opts, "")

	results, err := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results[0].ResultsByURL) != 1 {
		t.Fatalf("expected no retry on a permanent 4xx, got %d attempts", len(results[0].ResultsByURL))
	}
	gerr, ok := results[0].Error.(*Error)
	if !ok || gerr.Kind != KindServerPermanent {
		t.Fatalf("expected SERVER_PERMANENT error, got %v", results[0].Error)
	}
}

func TestFetchEngine_StreamingEmitsOnePerChunk(t *testing.T) {
	url := "https://fhir.example.com/Patient/$everything"
	body := append(append(bundleBody(t, "Patient", "1"), '\n'), bundleBody(t, "Patient", "2")...)
	fetcher := newScriptedFetcher(map[string][]RawResponse{
		url: {{Status: 200, Body: body}},
	})
	opts := NewOptions()
	opts.UseDataStreaming = true
	e := newFetchEngine(fetcher, nil, opts, "")

	results, err := e.execute(context.Background(), "req-1", url, "Patient", []string{"1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 chunk results, got %d", len(results))
	}
	if results[0].ChunkNumber != 1 || results[1].ChunkNumber != 2 {
		t.Fatalf("expected increasing chunk numbers, got %d, %d", results[0].ChunkNumber, results[1].ChunkNumber)
	}
}
