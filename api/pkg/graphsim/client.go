package graphsim

import "context"

// Client is the package's main entry point: construct one per traversal
// (or reuse across traversals if the caller supplies an external Cache
// namespaced per traversal, e.g. rediscache.Store) and call Materialize.
type Client struct {
	fetcher   PageFetcher
	refresher TokenRefresher
	opts      Options
}

// NewClient builds a Client around a caller-supplied PageFetcher (the HTTP
// primitive) and an optional TokenRefresher (nil if tokens never expire
// mid-traversal).
func NewClient(fetcher PageFetcher, refresher TokenRefresher, opts Options) *Client {
	return &Client{fetcher: fetcher, refresher: refresher, opts: opts.WithDefaults()}
}

// Materialize walks req.Graph from req.StartIDs and returns every
// FetchResult produced, in completion order. Use Stream instead when the
// caller wants to act on results as they arrive rather than waiting for
// the whole traversal.
func (c *Client) Materialize(ctx context.Context, req TraversalRequest) []FetchResult {
	var out []FetchResult
	for fr := range c.Stream(ctx, req) {
		out = append(out, fr)
	}
	return out
}

// Stream walks req.Graph and returns a channel of FetchResults, closed
// when the traversal completes or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req TraversalRequest) <-chan FetchResult {
	w := NewWalker(c.opts, c.fetcher, c.refresher, req)
	return w.Walk(ctx, req)
}

// MaterializeBundle runs the traversal and folds every result through an
// Assembler, returning the single flattened Bundle (bundle mode) — the
// shape most callers want when they don't need per-chunk streaming.
func (c *Client) MaterializeBundle(ctx context.Context, req TraversalRequest) Bundle {
	asm := NewAssembler(c.opts)
	for fr := range c.Stream(ctx, req) {
		asm.Add(fr)
	}
	return asm.Bundle()
}

// MaterializeByType runs the traversal and folds every result through an
// Assembler configured for separated mode, returning resourceType ->
// []Resource.
func (c *Client) MaterializeByType(ctx context.Context, req TraversalRequest) map[string][]Resource {
	asm := NewAssembler(c.opts)
	for fr := range c.Stream(ctx, req) {
		asm.Add(fr)
	}
	return asm.ByType()
}
