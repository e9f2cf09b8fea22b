package graphsim

import (
	"net/url"
	"strings"
	"sync"
)

// PlannedRequest is one HTTP request the Batch Coalescer has decided to
// issue, already carrying every id (or parent reference) it will resolve.
// The Fetch Engine executes each PlannedRequest as a single logical
// request; the Graph Walker demultiplexes the resulting entries back onto
// the ids this PlannedRequest named.
type PlannedRequest struct {
	ResourceType string
	URL          string
	// IDs holds the resource ids a forward id-set or per-id request
	// covers, used to detect which ids were missing from the response
	// (the walker records a negative cache entry for each of them; no
	// separate FetchResult is emitted for a missing id).
	IDs []string
}

// batchCoalescer decides whether a set of forward lookups can be folded
// into one "?_id=a,b,c" request, must fall back to one request per id, or
// (for reverse links) must be chunked into "?<param>=a,b,c"-style
// multi-value queries.
type batchCoalescer struct {
	requestSize int

	mu          sync.Mutex
	unsupported map[string]bool // resource types demoted from id-set batching
}

func newBatchCoalescer(requestSize int) *batchCoalescer {
	if requestSize <= 0 {
		requestSize = 1
	}
	return &batchCoalescer{requestSize: requestSize, unsupported: make(map[string]bool)}
}

// markUnsupported permanently demotes resourceType to per-id requests for
// the remainder of the traversal. Callers invoke this only after a 400 or
// 404 response to an id-set request — the set only ever grows, never
// shrinks, matching the original SDK's resource_types_unsupported_for_id_search.
func (b *batchCoalescer) markUnsupported(resourceType string) {
	b.mu.Lock()
	b.unsupported[resourceType] = true
	b.mu.Unlock()
}

func (b *batchCoalescer) isUnsupported(resourceType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsupported[resourceType]
}

// planForward plans requests resolving ids of resourceType by id, chunked
// by RequestSize. If resourceType has been demoted (or RequestSize is 1,
// or there is only one id), each id gets its own request.
func (b *batchCoalescer) planForward(baseURL, resourceType string, ids []string) []PlannedRequest {
	ids = dedupeStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	if b.requestSize <= 1 || len(ids) == 1 || b.isUnsupported(resourceType) {
		out := make([]PlannedRequest, 0, len(ids))
		for _, id := range ids {
			out = append(out, PlannedRequest{
				ResourceType: resourceType,
				URL:          joinPath(baseURL, resourceType) + "/" + url.PathEscape(id),
				IDs:          []string{id},
			})
		}
		return out
	}

	var out []PlannedRequest
	for _, chunk := range chunkStrings(ids, b.requestSize) {
		q := url.Values{}
		q.Set("_id", strings.Join(chunk, ","))
		out = append(out, PlannedRequest{
			ResourceType: resourceType,
			URL:          joinPath(baseURL, resourceType) + "?" + q.Encode(),
			IDs:          chunk,
		})
	}
	return out
}

// planReverse plans requests for a reverse link: paramTemplate is the
// GraphDefinitionTarget's Params string, containing one "{ref}"-bearing
// query segment (e.g. "subject={ref}") optionally followed by "&"-joined
// additional parameters carried through verbatim (e.g.
// "subject={ref}&status=active"). parentIDs are the ids of the parent
// resource being referenced; they are chunked by RequestSize into
// multi-value query params, generalizing a single-parent reverse fetch
// to the batched case.
func (b *batchCoalescer) planReverse(baseURL, targetType, paramTemplate string, parentIDs []string) []PlannedRequest {
	parentIDs = dedupeStrings(parentIDs)
	if len(parentIDs) == 0 {
		return nil
	}
	refKey, extra := splitRefParam(paramTemplate)
	if refKey == "" {
		return nil
	}

	var out []PlannedRequest
	for _, chunk := range chunkStrings(parentIDs, b.requestSize) {
		q := url.Values{}
		q.Set(refKey, strings.Join(chunk, ","))
		for k, v := range extra {
			q.Set(k, v)
		}
		out = append(out, PlannedRequest{
			ResourceType: targetType,
			URL:          joinPath(baseURL, targetType) + "?" + q.Encode(),
			IDs:          chunk,
		})
	}
	return out
}

// splitRefParam splits a Params template like "subject={ref}&status=active"
// into the query key holding "{ref}" ("subject") and the remaining
// key=value segments carried through unchanged ({"status": "active"}).
func splitRefParam(template string) (refKey string, extra map[string]string) {
	extra = map[string]string{}
	for _, segment := range strings.Split(template, "&") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		k, v, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		if strings.Contains(v, "{ref}") {
			refKey = k
			continue
		}
		extra[k] = v
	}
	return refKey, extra
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}

func joinPath(base, segment string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(segment, "/")
}
