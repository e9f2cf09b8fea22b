package graphsim

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Assembler folds a stream of FetchResults into two final shapes: a
// single deduplicated Bundle (Bundle) and a map of resourceType ->
// []Resource (ByType). Both are always available; the caller picks one,
// and Options.SeparateBundleResources is not consulted.
type Assembler struct {
	opts Options

	seen    map[string]bool
	entries []BundleEntry
	byType  map[string][]Resource
}

// NewAssembler creates an empty Assembler.
func NewAssembler(opts Options) *Assembler {
	return &Assembler{
		opts:   opts,
		seen:   make(map[string]bool),
		byType: make(map[string][]Resource),
	}
}

// Add folds one FetchResult's entries into the assembler, deduplicating by
// BundleEntry.Key(). If the result carried a terminal error and
// CreateOperationOutcomeForError is set, a synthetic OperationOutcome entry
// is added instead (or in addition, for a scope-denial). A cancellation
// error (errors.Is(fr.Error, ErrCancelled)) never synthesizes an outcome:
// the caller gave up waiting, the server didn't report a problem.
func (a *Assembler) Add(fr FetchResult) {
	if fr.Error != nil && a.opts.CreateOperationOutcomeForError && !errors.Is(fr.Error, ErrCancelled) {
		a.addEntry(operationOutcomeEntry(fr))
	}
	if fr.ScopeDenied && a.opts.CreateOperationOutcomeForError {
		a.addEntry(scopeDeniedOutcomeEntry(fr))
	}
	for _, entry := range fr.Entries {
		a.addEntry(entry)
	}
}

func (a *Assembler) addEntry(entry BundleEntry) {
	key := entry.Key()
	if a.seen[key] {
		return
	}
	a.seen[key] = true
	a.entries = append(a.entries, entry)
	if entry.Resource != nil {
		rt := entry.Resource.ResourceType()
		a.byType[rt] = append(a.byType[rt], entry.Resource)
	}
}

// Bundle returns the assembled result as a single flat Bundle, honoring
// SortResources (resourceType then id, with OperationOutcomes sorted to
// the end of the bundle). ExpandFHIRBundle is applied earlier, at fetch
// decode time: when false, a server response that is itself a Bundle
// arrives here as one already-unflattened BundleEntry instead of its
// constituent entries.
func (a *Assembler) Bundle() Bundle {
	entries := make([]BundleEntry, len(a.entries))
	copy(entries, a.entries)

	if a.opts.SortResources {
		sort.SliceStable(entries, func(i, j int) bool {
			return bundleSortKey(entries[i]) < bundleSortKey(entries[j])
		})
	}

	return Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Total:        len(entries),
		Entry:        entries,
	}
}

// ByType returns the assembled result in separated mode: resourceType ->
// the distinct resources of that type, in first-seen order.
func (a *Assembler) ByType() map[string][]Resource {
	out := make(map[string][]Resource, len(a.byType))
	for k, v := range a.byType {
		cp := make([]Resource, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// bundleSortKey places every resourceType before "OperationOutcome" (which
// sorts after every other ASCII-printable resource type name only because
// this package deliberately prefixes it with a tilde, the highest common
// ASCII punctuation byte below DEL), then by id within a type.
func bundleSortKey(e BundleEntry) string {
	if e.Resource == nil {
		return "~~~/" + e.Key()
	}
	rt := e.Resource.ResourceType()
	if rt == "OperationOutcome" {
		return "~" + rt + "/" + e.Resource.ID()
	}
	return rt + "/" + e.Resource.ID()
}

func operationOutcomeEntry(fr FetchResult) BundleEntry {
	severity := "error"
	code := "exception"
	if e, ok := fr.Error.(*Error); ok {
		code = string(e.Kind)
	}
	res := Resource{
		"resourceType": "OperationOutcome",
		"issue": []interface{}{
			map[string]interface{}{
				"severity":    severity,
				"code":        outcomeIssueCode(code),
				"diagnostics": fr.ErrorMessage,
				"details":     map[string]interface{}{"coding": fetchResultCoding(fr)},
			},
		},
	}
	return BundleEntry{
		Resource: res,
		Request:  &BundleRequest{Method: "GET", URL: fr.URL},
		Response: &BundleResponse{Status: fmt.Sprintf("%d", fr.Status)},
		FullURL:  "urn:error:" + fr.URL,
	}
}

func scopeDeniedOutcomeEntry(fr FetchResult) BundleEntry {
	now := time.Now()
	return BundleEntry{
		Resource: Resource{
			"resourceType": "OperationOutcome",
			"issue": []interface{}{
				map[string]interface{}{
					"severity":    "information",
					"code":        "forbidden",
					"diagnostics": fmt.Sprintf("scope denied for resource type %s", fr.ResourceType),
					"details":     map[string]interface{}{"coding": fetchResultCoding(fr)},
				},
			},
		},
		Response: &BundleResponse{Status: "200", LastModified: &now},
		FullURL:  "urn:scope-denied:" + fr.ResourceType,
	}
}

// fetchResultCoding builds the single Coding entry carrying the diagnostic
// fields callers need to correlate a synthesized OperationOutcome back to
// the request that produced it: the originating URL, status, resource
// type, the ids the request was planned for, the access token in use at
// the time, and the request id.
func fetchResultCoding(fr FetchResult) []interface{} {
	return []interface{}{
		map[string]interface{}{
			"system":       "urn:graphsim:fetch-result",
			"code":         fr.ResourceType,
			"url":          fr.URL,
			"status":       fr.Status,
			"resourceType": fr.ResourceType,
			"requestedIds": fr.RequestedIDs,
			"accessToken":  fr.AccessToken,
			"requestId":    fr.RequestID,
		},
	}
}

// outcomeIssueCode maps our ErrorKind taxonomy onto the closest FHIR
// OperationOutcome issue type code.
func outcomeIssueCode(kind string) string {
	switch ErrorKind(kind) {
	case KindNetwork, KindServerTransient:
		return "transient"
	case KindAuth:
		return "login"
	case KindRateLimit:
		return "throttled"
	case KindServerPermanent:
		return "processing"
	case KindParse:
		return "structure"
	case KindScopeDenied:
		return "forbidden"
	case KindCancelled:
		return "timeout"
	case KindConfig:
		return "invalid"
	default:
		return "exception"
	}
}
