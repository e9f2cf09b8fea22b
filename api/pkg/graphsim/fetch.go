package graphsim

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// PageRequest is one logical HTTP request the Fetch Engine asks the
// downstream primitive to perform. The primitive itself (the actual HTTP
// round trip) is intentionally out of this package — callers supply it
// via PageFetcher.
type PageRequest struct {
	URL         string
	Method      string
	AccessToken string
	Headers     map[string]string

	// StreamChunk, when non-nil, asks the primitive to invoke it once per
	// chunk of a streamed response instead of returning the full body.
	// Returning false from the callback asks the primitive to stop
	// reading further chunks.
	StreamChunk StreamChunkFunc
}

// StreamChunkFunc receives one raw chunk (expected to be a single NDJSON
// line) and its 1-based sequence number. Returning false stops the stream.
type StreamChunkFunc func(chunk []byte, chunkNumber int) bool

// RawResponse is what a PageFetcher hands back for a non-streamed request.
// For a streamed request (PageRequest.StreamChunk set), Body is typically
// empty — the chunks already went through the callback — but Status/
// ETag/LastModified are still populated once the stream ends.
type RawResponse struct {
	Status       int
	Body         []byte
	ETag         string
	LastModified *time.Time
	RetryAfter   time.Duration
	Err          error
}

// PageFetcher performs the single HTTP round trip for one PageRequest.
// Implementations are supplied by the caller; this package only ever
// consumes one, wrapping it with retry, auth-refresh, and decode logic.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (RawResponse, error)
}

// RefreshResult is what a TokenRefresher returns after a 401/403.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Abort       bool // true means: don't retry, the caller has given up
}

// TokenRefresher refreshes an expired or rejected access token. Acquiring
// the very first token is intentionally out of this package's scope;
// this is only the mid-traversal refresh-on-401 callback contract.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, url string, status int, retryCount int) (RefreshResult, error)
}

// fetchEngine executes PlannedRequests with retry, at-most-once
// auth-refresh, Retry-After-aware backoff, and streaming or whole-body
// decode.
type fetchEngine struct {
	fetcher   PageFetcher
	refresher TokenRefresher
	opts      Options

	mu          sync.Mutex
	accessToken string
}

func newFetchEngine(fetcher PageFetcher, refresher TokenRefresher, opts Options, initialToken string) *fetchEngine {
	return &fetchEngine{fetcher: fetcher, refresher: refresher, opts: opts, accessToken: initialToken}
}

func (e *fetchEngine) currentToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accessToken
}

func (e *fetchEngine) setToken(token string) {
	e.mu.Lock()
	e.accessToken = token
	e.mu.Unlock()
}

// execute runs req to completion (including retries/refresh) and returns
// the one or more FetchResults it produced: one for a whole-body response,
// or one per streamed chunk when Options.UseDataStreaming is set. ids is the
// set of resource ids this request was planned to resolve, carried onto
// every FetchResult for diagnostics (e.g. a synthesized OperationOutcome).
func (e *fetchEngine) execute(ctx context.Context, requestID, url, resourceType string, ids []string) ([]FetchResult, error) {
	log := e.opts.Logger
	var attempts []AttemptRecord
	refreshed := false

	var chunkResults []FetchResult

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindCancelled, url, err)
		}

		req := PageRequest{URL: url, Method: "GET", AccessToken: e.currentToken()}
		chunkResults = nil
		if e.opts.UseDataStreaming {
			req.StreamChunk = func(chunk []byte, n int) bool {
				res, derr := decodeNDJSONLine(chunk)
				fr := FetchResult{
					RequestID:    requestID,
					URL:          url,
					ResourceType: resourceType,
					Status:       200,
					RequestedIDs: ids,
					ChunkNumber:  n,
				}
				if derr != nil {
					fr.Error = newError(KindParse, url, derr)
					fr.ErrorMessage = fr.Error.Error()
				} else if res != nil {
					fr.Entries = []BundleEntry{{Resource: res, FullURL: res.Key()}}
				}
				chunkResults = append(chunkResults, fr)
				return true
			}
		}

		started := time.Now()
		raw, err := e.fetcher.FetchPage(ctx, req)
		ended := time.Now()

		attempts = append(attempts, AttemptRecord{
			URL: url, Status: raw.Status, RetryCount: attempt,
			StartedAt: started, EndedAt: ended, OK: err == nil && raw.Status < 400,
		})

		if e.opts.LogAllResponseURLs || err != nil || raw.Status >= 400 {
			log.Debug().Str("url", url).Int("status", raw.Status).Int("attempt", attempt).Err(err).Msg("fetch attempt")
		}
		e.opts.Metrics.observeFetch(resourceType, outcomeLabel(raw.Status, err))

		if err != nil {
			if e.shouldRetry(KindNetwork, attempt) {
				e.opts.Metrics.observeRetry("network")
				if !sleepBackoff(ctx, attempt) {
					return nil, newError(KindCancelled, url, ctx.Err())
				}
				continue
			}
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindNetwork, url, err))
		}

		switch {
		case raw.Status == 401 || raw.Status == 403:
			if e.refresher != nil && !refreshed {
				refreshed = true
				result, rerr := e.refresher.RefreshToken(ctx, url, raw.Status, attempt)
				if rerr != nil || result.Abort {
					return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindAuth, url, firstNonNil(rerr, errStatus(raw.Status))))
				}
				e.setToken(result.AccessToken)
				continue
			}
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindAuth, url, errStatus(raw.Status)))

		case raw.Status == 429:
			if e.shouldRetry(KindRateLimit, attempt) {
				e.opts.Metrics.observeRetry("rate_limit")
				wait := raw.RetryAfter
				if wait <= 0 || wait > e.opts.MaximumTimeToRetryOn429 {
					wait = e.opts.MaximumTimeToRetryOn429
				}
				if !sleepFor(ctx, wait) {
					return nil, newError(KindCancelled, url, ctx.Err())
				}
				continue
			}
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindRateLimit, url, errStatus(raw.Status)))

		case raw.Status == 500 || raw.Status == 502 || raw.Status == 503 || raw.Status == 504:
			if e.shouldRetry(KindServerTransient, attempt) {
				e.opts.Metrics.observeRetry("server_transient")
				if !sleepBackoff(ctx, attempt) {
					return nil, newError(KindCancelled, url, ctx.Err())
				}
				continue
			}
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindServerTransient, url, errStatus(raw.Status)))

		case raw.Status >= 400:
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindServerPermanent, url, errStatus(raw.Status)))
		}

		// Success.
		if req.StreamChunk != nil {
			for i := range chunkResults {
				chunkResults[i].ResultsByURL = attempts
			}
			return chunkResults, nil
		}

		entries, derr := decodeWholeBody(raw.Body, raw.ETag, raw.LastModified, url, e.opts.ExpandFHIRBundle)
		if derr != nil {
			return e.terminal(requestID, url, resourceType, ids, attempts, newError(KindParse, url, derr))
		}
		return []FetchResult{{
			RequestID:    requestID,
			URL:          url,
			ResourceType: resourceType,
			Status:       raw.Status,
			RequestedIDs: ids,
			Entries:      entries,
			AccessToken:  e.currentToken(),
			ResultsByURL: attempts,
		}}, nil
	}
}

// shouldRetry reports whether an attempt that failed with kind should be
// retried, consulting both the kind's own retriability and the remaining
// attempt budget.
func (e *fetchEngine) shouldRetry(kind ErrorKind, attempt int) bool {
	return kind.Retriable() && attempt < e.opts.RetryCount
}

func (e *fetchEngine) terminal(requestID, url, resourceType string, ids []string, attempts []AttemptRecord, err *Error) ([]FetchResult, error) {
	status := 0
	if len(attempts) > 0 {
		status = attempts[len(attempts)-1].Status
	}
	fr := FetchResult{
		RequestID:    requestID,
		URL:          url,
		ResourceType: resourceType,
		Status:       status,
		RequestedIDs: ids,
		AccessToken:  e.currentToken(),
		Error:        err,
		ErrorMessage: err.Error(),
		ResultsByURL: attempts,
	}
	if e.opts.ThrowExceptionOnError {
		return []FetchResult{fr}, err
	}
	return []FetchResult{fr}, nil
}

// decodeWholeBody parses a non-streamed response body into BundleEntry
// values: a single resource wrapped in one synthetic entry, or, when the
// response itself is a FHIR Bundle, either that Bundle's entries
// flattened out (expandBundle true, the default) or the Bundle kept
// intact as a single nested-resource entry (expandBundle false).
func decodeWholeBody(body []byte, etag string, lastModified *time.Time, url string, expandBundle bool) ([]BundleEntry, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, err
	}
	resp := &BundleResponse{Status: "200", ETag: etag, LastModified: lastModified}
	if rt, _ := generic["resourceType"].(string); rt == "Bundle" {
		if !expandBundle {
			return []BundleEntry{{
				Resource: Resource(generic),
				Request:  &BundleRequest{Method: "GET", URL: url},
				Response: resp,
			}}, nil
		}
		rawEntries, _ := generic["entry"].([]interface{})
		out := make([]BundleEntry, 0, len(rawEntries))
		for _, re := range rawEntries {
			m, ok := re.(map[string]interface{})
			if !ok {
				continue
			}
			entry := BundleEntry{Response: resp}
			if fu, ok := m["fullUrl"].(string); ok {
				entry.FullURL = fu
			}
			if res, ok := m["resource"].(map[string]interface{}); ok {
				entry.Resource = Resource(res)
			}
			out = append(out, entry)
		}
		return out, nil
	}
	return []BundleEntry{{
		Resource: Resource(generic),
		Request:  &BundleRequest{Method: "GET", URL: url},
		Response: resp,
	}}, nil
}

func outcomeLabel(status int, err error) string {
	switch {
	case err != nil:
		return "network_error"
	case status >= 200 && status < 300:
		return "ok"
	case status == 401 || status == 403:
		return "auth"
	case status == 429:
		return "rate_limit"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}

func errStatus(status int) error {
	return &statusError{status: status}
}

type statusError struct{ status int }

func (e *statusError) Error() string { return "http status " + strconv.Itoa(e.status) }

func firstNonNil(err error, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// sleepBackoff sleeps an exponentially growing, jittered delay for retry
// attempt n (0-based), open-ended rather than bounded by a fixed delay
// table. Returns false if ctx was cancelled first.
func sleepBackoff(ctx context.Context, attempt int) bool {
	base := 200 * time.Millisecond
	delay := base * time.Duration(1<<uint(attempt))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	return sleepFor(ctx, delay/2+jitter)
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
