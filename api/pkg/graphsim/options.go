package graphsim

import (
	"time"

	"github.com/rs/zerolog"
)

// Options holds the recognized configuration knobs for a traversal. All
// fields have documented defaults when left zero-valued, applied by
// WithDefaults.
type Options struct {
	// MaxConcurrentRequests bounds in-flight fetches. nil/0 = unbounded,
	// 1 = strictly sequential, N>1 = at most N in flight.
	MaxConcurrentRequests int

	// PageSize is the default page size for paginated fetches. Default 10.
	PageSize int

	// RequestSize is the max number of ids batched into one request.
	// Default 1 (no batching).
	RequestSize int

	// SeparateBundleResources records whether the caller wants separated
	// mode (resourceType -> []Resource) instead of a single bundle.
	// Default false. Neither the Assembler nor the Client reads it: the
	// shape is chosen by calling Assembler.Bundle or Assembler.ByType
	// (Client.MaterializeBundle or Client.MaterializeByType).
	SeparateBundleResources bool

	// ExpandFHIRBundle, when true (the default), flattens a server response
	// that is itself a Bundle into its entries at fetch decode time; when
	// false, that Bundle is kept as one unflattened entry.
	ExpandFHIRBundle bool

	// Contained, when true, appends "contained=true" to the start
	// resource's request parameters.
	Contained bool

	// UseDataStreaming decodes responses as NDJSON, emitting one
	// FetchResult per chunk with a monotonically increasing chunk number.
	UseDataStreaming bool

	// SortResources sorts the assembled bundle by resourceType then id.
	SortResources bool

	// CreateOperationOutcomeForError converts per-fetch errors into
	// synthetic OperationOutcome resources included in the final output.
	CreateOperationOutcomeForError bool

	// LogAllResponseURLs logs every attempted URL, not just failures.
	LogAllResponseURLs bool

	// ThrowExceptionOnError makes the Fetch Engine return a terminal
	// fetch error as an error value alongside its FetchResult. The
	// Walker does not propagate that error, so through Walk and the Client
	// the failure is visible only in FetchResult.Error.
	ThrowExceptionOnError bool

	// MaximumTimeToRetryOn429 caps how long a 429's Retry-After is honored.
	MaximumTimeToRetryOn429 time.Duration

	// RetryCount is the maximum number of retries per logical request.
	RetryCount int

	// MaxCacheEntries bounds the default in-memory RequestCache (0 =
	// unbounded). Ignored if an external Cache is supplied.
	MaxCacheEntries int

	// Cache lets the caller supply an externally-owned RequestCache
	// (e.g. a Redis-backed one via the rediscache subpackage) instead of
	// the default per-traversal in-memory cache.
	Cache RequestCache

	// Logger receives structured traversal/fetch events. Defaults to a
	// no-op logger, a default-to-silent convention for optional loggers.
	Logger zerolog.Logger

	// Metrics, if non-nil, receives counters for fetches/retries/cache
	// hits. See metrics.go.
	Metrics *Metrics
}

// WithDefaults returns a copy of o with all spec-documented defaults
// applied to zero-valued fields.
func (o Options) WithDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	if o.RequestSize <= 0 {
		o.RequestSize = 1
	}
	if o.RetryCount <= 0 {
		o.RetryCount = 3
	}
	if o.MaximumTimeToRetryOn429 <= 0 {
		o.MaximumTimeToRetryOn429 = 60 * time.Second
	}
	// ExpandFHIRBundle defaults to true; since Go's zero value for bool
	// is false, callers must opt out explicitly via a pointer-like
	// pattern. We use a constructor (NewOptions) for that — see below.
	return o
}

// NewOptions returns Options with every documented default already
// applied, including ExpandFHIRBundle=true, which cannot be expressed as
// a Go zero value.
func NewOptions() Options {
	o := Options{ExpandFHIRBundle: true}
	return o.WithDefaults()
}
