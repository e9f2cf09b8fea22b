package graphsim

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// TraversalRequest names what to walk: the GraphDefinition, the server
// base URL, the starting resource ids, and the authorization/token state
// for this one traversal.
type TraversalRequest struct {
	Graph        GraphDefinition
	BaseURL      string
	StartIDs     []string
	AccessToken  string
	Scopes       []string // raw SMART scope strings; empty means "allow everything"
}

// Walker orchestrates a single simulated $graph traversal: fan out over
// the GraphDefinition's links, dedupe via the RequestCache, enforce the
// ScopeParser, bound concurrency via the gate, retry/refresh via the
// fetchEngine, and stream FetchResults back to the caller in completion
// order. Structured after a single-process graph traverser generalized
// from a single in-process resource set to many independent HTTP fetches.
type Walker struct {
	opts    Options
	cache   RequestCache
	scopes  *ScopeParser
	gate    *concurrencyGate
	batcher *batchCoalescer
	engine  *fetchEngine

	// inflight coalesces concurrent requests for the same URL (e.g. two
	// sibling resources both referencing the same Practitioner) so only
	// one HTTP fetch is ever issued per (type,id) per traversal: the
	// RequestCache alone only dedupes fetches that have already
	// completed, not ones racing to start.
	inflight singleflight.Group
}

// NewWalker builds a Walker. fetcher is the caller-supplied HTTP
// primitive; refresher may be nil if the traversal's token never expires
// mid-walk.
func NewWalker(opts Options, fetcher PageFetcher, refresher TokenRefresher, req TraversalRequest) *Walker {
	opts = opts.WithDefaults()
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache(opts.MaxCacheEntries)
	}
	return &Walker{
		opts:    opts,
		cache:   cache,
		scopes:  NewScopeParser(req.Scopes),
		gate:    newConcurrencyGate(opts.MaxConcurrentRequests).withMetrics(opts.Metrics),
		batcher: newBatchCoalescer(opts.RequestSize),
		engine:  newFetchEngine(fetcher, refresher, opts, req.AccessToken),
	}
}

// Walk runs the traversal to completion, streaming every FetchResult (in
// completion order, not submission order) onto the returned channel, which
// is closed when the traversal finishes or ctx is cancelled. The caller
// must drain the channel to avoid leaking the walker's goroutines.
func (w *Walker) Walk(ctx context.Context, req TraversalRequest) <-chan FetchResult {
	out := make(chan FetchResult, 16)

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		emit := func(fr FetchResult) {
			select {
			case out <- fr:
			case <-ctx.Done():
			}
		}

		if err := req.Graph.Validate(); err != nil {
			emit(FetchResult{Error: err, ErrorMessage: err.Error()})
			return
		}

		if !w.scopes.Allows(req.Graph.Start) {
			emit(FetchResult{RequestID: uuid.NewString(), ResourceType: req.Graph.Start, ScopeDenied: true, Status: 200})
			return
		}

		// Resolve the start resources first; their children fan out from
		// whatever entries come back.
		startIDs := dedupeStrings(req.StartIDs)
		startResults := w.fetchByIDs(ctx, req.BaseURL, req.Graph.Start, startIDs, w.opts.Contained)
		var startResources []Resource
		for _, fr := range startResults {
			emit(fr)
			startResources = append(startResources, fr.Resources()...)
		}

		for _, parent := range startResources {
			w.walkLinks(ctx, &wg, req.BaseURL, parent, req.Graph.Link, emit)
		}
		wg.Wait()
	}()

	return out
}

// walkLinks recursively resolves every link from parent, emitting a
// FetchResult per resolved target group and recursing into each target's
// nested links once its resources arrive. Each top-level target is
// resolved in its own goroutine so siblings fetch concurrently, bounded by
// the concurrency gate.
func (w *Walker) walkLinks(ctx context.Context, wg *sync.WaitGroup, baseURL string, parent Resource, links []GraphDefinitionLink, emit func(FetchResult)) {
	for _, link := range links {
		for _, target := range link.Target {
			link, target := link, target
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.resolveTarget(ctx, wg, baseURL, parent, link, target, emit)
			}()
		}
	}
}

func (w *Walker) resolveTarget(ctx context.Context, wg *sync.WaitGroup, baseURL string, parent Resource, link GraphDefinitionLink, target GraphDefinitionTarget, emit func(FetchResult)) {
	if !w.scopes.Allows(target.Type) {
		emit(FetchResult{
			RequestID:    uuid.NewString(),
			ResourceType: target.Type,
			ScopeDenied:  true,
			Status:       200,
		})
		return
	}

	var children []Resource

	if target.IsReverse() {
		parentID := parent.ID()
		if parentID == "" {
			return
		}
		for _, fr := range w.fetchReverse(ctx, baseURL, target.Type, target.Params, []string{parentID}) {
			emit(fr)
			children = append(children, fr.Resources()...)
		}
	} else {
		refs, err := extractReferences(parent, link.Path, target.Type)
		if err != nil {
			emit(FetchResult{ResourceType: target.Type, Error: err, ErrorMessage: err.Error()})
			return
		}
		ids := make([]string, 0, len(refs))
		for _, r := range refs {
			ids = append(ids, r.ID)
		}
		for _, fr := range w.fetchByIDs(ctx, baseURL, target.Type, dedupeStrings(ids), false) {
			emit(fr)
			children = append(children, fr.Resources()...)
		}
	}

	for _, child := range children {
		w.walkLinks(ctx, wg, baseURL, child, target.Link, emit)
	}
}

// fetchByIDs resolves resourceType/id for every id, consulting the cache
// first and coalescing cache misses via the batch coalescer. contained
// appends "contained=true" to every request this call issues, for the
// Contained option (meaningful only for the start resource query).
func (w *Walker) fetchByIDs(ctx context.Context, baseURL, resourceType string, ids []string, contained bool) []FetchResult {
	var results []FetchResult
	var misses []string

	for _, id := range ids {
		if entry, ok := w.cache.Get(resourceType, id); ok {
			w.opts.Metrics.observeCache(true)
			results = append(results, cachedResult(resourceType, entry))
			continue
		}
		w.opts.Metrics.observeCache(false)
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return results
	}

	planned := w.batcher.planForward(baseURL, resourceType, misses)
	if contained {
		for i := range planned {
			planned[i].URL = appendQueryParam(planned[i].URL, "contained", "true")
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pr := range planned {
		pr := pr
		wg.Add(1)
		go func() {
			defer wg.Done()

			v, _, _ := w.inflight.Do(pr.URL, func() (interface{}, error) {
				if err := w.gate.acquire(ctx); err != nil {
					return []FetchResult{{ResourceType: resourceType, Error: err, ErrorMessage: err.Error()}}, nil
				}
				defer w.gate.release()

				frs, _ := w.engine.execute(ctx, uuid.NewString(), pr.URL, resourceType, pr.IDs)
				demoteIfUnsupportedIDSearch(w.batcher, resourceType, len(pr.IDs) > 1, frs)
				w.cacheAndFillMissing(resourceType, pr.IDs, frs)
				return frs, nil
			})
			frs, _ := v.([]FetchResult)

			mu.Lock()
			results = append(results, frs...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// fetchReverse resolves resources that reference parentIDs via target's
// reverse query template, caching every resolved resource the same way
// fetchByIDs does so a later forward reference to the same (type,id)
// hits the cache instead of issuing a second HTTP request. There is no
// requested-id list to fill negative entries for here — a reverse query
// simply returns however many resources reference the parent.
func (w *Walker) fetchReverse(ctx context.Context, baseURL, targetType, paramTemplate string, parentIDs []string) []FetchResult {
	planned := w.batcher.planReverse(baseURL, targetType, paramTemplate, parentIDs)
	var results []FetchResult
	for _, pr := range planned {
		v, _, _ := w.inflight.Do(pr.URL, func() (interface{}, error) {
			if err := w.gate.acquire(ctx); err != nil {
				return []FetchResult{{ResourceType: targetType, Error: err, ErrorMessage: err.Error()}}, nil
			}
			defer w.gate.release()
			frs, _ := w.engine.execute(ctx, uuid.NewString(), pr.URL, targetType, pr.IDs)
			w.cachePositive(targetType, frs)
			return frs, nil
		})
		frs, _ := v.([]FetchResult)
		results = append(results, frs...)
	}
	return results
}

// cachePositive records every resolved resource entry across frs into the
// RequestCache and returns the set of ids it saw, keyed by id.
func (w *Walker) cachePositive(resourceType string, frs []FetchResult) map[string]bool {
	seen := make(map[string]bool)
	for _, fr := range frs {
		for _, entry := range fr.Entries {
			if entry.Resource == nil {
				continue
			}
			id := entry.Resource.ID()
			seen[id] = true
			w.cache.Add(CacheEntry{ResourceType: resourceType, ResourceID: id, Status: fr.Status, BundleEntry: &entry})
		}
	}
	return seen
}

// cacheAndFillMissing records every entry this batch of FetchResults
// resolved via cachePositive, then adds a negative cache entry (and no
// corresponding resource) for any requested id that never came back — the
// server silently omitted it from an id-set response, or a single-id
// lookup failed. The negative entry's status is the status of the batch's
// first FetchResult; 404 is used only when the batch produced no result.
func (w *Walker) cacheAndFillMissing(resourceType string, requestedIDs []string, frs []FetchResult) {
	seen := w.cachePositive(resourceType, frs)

	missStatus := 404
	if len(frs) > 0 {
		missStatus = frs[0].Status
	}
	for _, id := range requestedIDs {
		if !seen[id] {
			w.cache.Add(CacheEntry{ResourceType: resourceType, ResourceID: id, Status: missStatus})
		}
	}
}

func cachedResult(resourceType string, entry *CacheEntry) FetchResult {
	fr := FetchResult{ResourceType: resourceType, Status: entry.Status, FromCache: true}
	if entry.BundleEntry != nil {
		fr.Entries = []BundleEntry{*entry.BundleEntry}
	}
	return fr
}

// demoteIfUnsupportedIDSearch marks resourceType as unsupported for
// id-set batching once a batched id-set request comes back 400 or 404 —
// some servers reject "_id=a,b,c" outright rather than returning a partial
// Bundle. Per-id requests are unaffected and never demote.
func demoteIfUnsupportedIDSearch(b *batchCoalescer, resourceType string, wasIDSet bool, frs []FetchResult) {
	if !wasIDSet {
		return
	}
	for _, fr := range frs {
		if fr.Status == 400 || fr.Status == 404 {
			b.markUnsupported(resourceType)
			return
		}
	}
}

func appendQueryParam(rawURL, key, value string) string {
	sep := "?"
	if containsRune(rawURL, '?') {
		sep = "&"
	}
	return rawURL + sep + key + "=" + value
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
