// Package graphsim simulates the FHIR $graph operation against a server
// that does not implement it natively. Given a GraphDefinition and a set
// of starting resource ids, it walks forward and reverse reference links
// across many independent HTTP requests, deduplicating and caching
// intermediate resources, enforcing a scope policy, bounding concurrency,
// and streaming results back to the caller as they arrive.
package graphsim

import (
	"time"
)

// Resource is an opaque FHIR resource. The core only ever reads
// "resourceType", "id", and whatever paths the GraphDefinition names.
type Resource map[string]interface{}

// ResourceType returns the resource's "resourceType" field, or "" if absent.
func (r Resource) ResourceType() string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ID returns the resource's "id" field, or "" if absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Key returns "resourceType/id", the canonical cache key for this resource.
func (r Resource) Key() string {
	return r.ResourceType() + "/" + r.ID()
}

// GraphDefinition describes a tree-shaped traversal starting at one
// resource type and following references to others. It mirrors the FHIR
// R4 GraphDefinition resource for the fields the walker needs.
type GraphDefinition struct {
	ResourceType string      `json:"resourceType,omitempty"`
	ID           string      `json:"id,omitempty"`
	Name         string      `json:"name,omitempty"`
	Status       string      `json:"status,omitempty"`
	Start        string      `json:"start"`
	Link         []GraphDefinitionLink `json:"link,omitempty"`
}

// Validate checks the structural invariant the core relies on: Start must
// be non-empty and every link must declare at least one target.
func (g *GraphDefinition) Validate() error {
	if g == nil {
		return newConfigError("graph definition is nil")
	}
	if g.Start == "" {
		return newConfigError("GraphDefinition.start is required")
	}
	return validateLinks(g.Link, "GraphDefinition.link")
}

func validateLinks(links []GraphDefinitionLink, prefix string) error {
	for i, link := range links {
		loc := prefix
		_ = i
		if len(link.Target) == 0 {
			return newConfigError(loc + ": link has no targets")
		}
		for _, target := range link.Target {
			if target.Type == "" {
				return newConfigError(loc + ".target: type is required")
			}
			if err := validateLinks(target.Link, loc+".target.link"); err != nil {
				return err
			}
		}
	}
	return nil
}

// GraphDefinitionLink is one link in the graph from a parent resource to
// one or more target resource types.
//
// Exactly one of Path (a forward link, dereferencing a field on the
// parent) or a target's Params containing "{ref}" (a reverse link,
// querying the server for resources that reference the parent) is the
// effective traversal directive for a given target.
type GraphDefinitionLink struct {
	Path   string                `json:"path,omitempty"`
	Target []GraphDefinitionTarget `json:"target"`
}

// GraphDefinitionTarget names a resource type reachable via the enclosing
// link, an optional reverse-query parameter template, and further nested
// links rooted at that target.
type GraphDefinitionTarget struct {
	Type   string                `json:"type"`
	Params string                `json:"params,omitempty"`
	Link   []GraphDefinitionLink `json:"link,omitempty"`
}

// IsReverse reports whether this target is reached via a reverse query
// (its Params template contains the "{ref}" substitution token).
func (t GraphDefinitionTarget) IsReverse() bool {
	return containsRefToken(t.Params)
}

// BundleRequest carries the originating request metadata for a BundleEntry.
type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// BundleResponse carries the originating HTTP response metadata for a
// BundleEntry.
type BundleResponse struct {
	Status       string     `json:"status"`
	ETag         string     `json:"etag,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// BundleEntry wraps a single fetched resource together with the request
// and response metadata that produced it. Every resource that passes
// through the Request Cache or the Response Assembler is wrapped in one
// of these.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource Resource        `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

// Key returns the dedupe key for this entry: "resourceType/id" when the
// resource carries an id, otherwise the originating request URL.
func (e BundleEntry) Key() string {
	if e.Resource != nil {
		if e.Resource.ID() != "" {
			return e.Resource.Key()
		}
	}
	if e.Request != nil {
		return "url:" + e.Request.URL
	}
	return e.FullURL
}

// Bundle is a minimal FHIR "collection" Bundle: a flat list of entries
// with no search/paging semantics, the shape the Response Assembler
// produces in bundle mode.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// AttemptRecord is one HTTP attempt against a single logical request.
// One record is kept per network attempt, including retries.
type AttemptRecord struct {
	URL        string        `json:"url"`
	Status     int           `json:"status"`
	RetryCount int           `json:"retryCount"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    time.Time     `json:"endedAt"`
	OK         bool          `json:"ok"`
}

// Duration returns how long this attempt took.
func (a AttemptRecord) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}

// FetchResult is emitted to the caller per resolved HTTP request (or per
// synthetic cache/scope-denied substitute). It carries the materialized
// resources, the originating URL, status, the ids the request was
// planned for, a possibly-rotated access token, any per-request error,
// and the full attempt history for diagnostics.
type FetchResult struct {
	RequestID    string          `json:"requestId"`
	URL          string          `json:"url"`
	ResourceType string          `json:"resourceType"`
	Status       int             `json:"status"`
	RequestedIDs []string        `json:"requestedIds,omitempty"`
	Entries      []BundleEntry   `json:"entries,omitempty"`
	AccessToken  string          `json:"-"`
	Error        error           `json:"-"`
	ErrorMessage string          `json:"error,omitempty"`
	FromCache    bool            `json:"fromCache"`
	ScopeDenied  bool            `json:"scopeDenied"`
	ChunkNumber  int             `json:"chunkNumber,omitempty"`
	ResultsByURL []AttemptRecord `json:"resultsByUrl,omitempty"`
}

// Resources flattens this result's entries into bare resources.
func (r FetchResult) Resources() []Resource {
	out := make([]Resource, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Resource != nil {
			out = append(out, e.Resource)
		}
	}
	return out
}
