package graphsim

import (
	"net/url"
	"testing"
)

func TestBatchCoalescer_IDSetBatching(t *testing.T) {
	b := newBatchCoalescer(3)
	planned := b.planForward("https://fhir.test", "Observation", []string{"a", "b", "c", "d"})
	if len(planned) != 2 {
		t.Fatalf("expected 2 chunked requests for 4 ids at size 3, got %d", len(planned))
	}
	if len(planned[0].IDs) != 3 || len(planned[1].IDs) != 1 {
		t.Fatalf("expected chunk sizes [3,1], got %v", []int{len(planned[0].IDs), len(planned[1].IDs)})
	}
}

func TestBatchCoalescer_PerIDWhenRequestSizeOne(t *testing.T) {
	b := newBatchCoalescer(1)
	planned := b.planForward("https://fhir.test", "Patient", []string{"1", "2"})
	if len(planned) != 2 {
		t.Fatalf("expected one request per id, got %d", len(planned))
	}
	for _, p := range planned {
		if len(p.IDs) != 1 {
			t.Fatalf("expected exactly one id per request, got %v", p.IDs)
		}
	}
}

func TestBatchCoalescer_DemotesAfterUnsupported(t *testing.T) {
	b := newBatchCoalescer(5)
	b.markUnsupported("Observation")
	planned := b.planForward("https://fhir.test", "Observation", []string{"a", "b"})
	if len(planned) != 2 {
		t.Fatalf("expected demoted resource type to fall back to per-id requests, got %d planned", len(planned))
	}
}

func TestBatchCoalescer_ReverseParamsSplitRefAndExtras(t *testing.T) {
	b := newBatchCoalescer(2)
	planned := b.planReverse("https://fhir.test", "Observation", "subject={ref}&status=final", []string{"1", "2"})
	if len(planned) != 1 {
		t.Fatalf("expected one chunked reverse request, got %d", len(planned))
	}
	u, err := url.Parse(planned[0].URL)
	if err != nil {
		t.Fatalf("invalid URL produced: %v", err)
	}
	q := u.Query()
	if q.Get("subject") != "1,2" {
		t.Fatalf("expected subject=1,2, got %q", q.Get("subject"))
	}
	if q.Get("status") != "final" {
		t.Fatalf("expected status=final to be carried through verbatim, got %q", q.Get("status"))
	}
}

func TestBatchCoalescer_ReverseChunksParentIDs(t *testing.T) {
	b := newBatchCoalescer(2)
	planned := b.planReverse("https://fhir.test", "Observation", "subject={ref}", []string{"1", "2", "3"})
	if len(planned) != 2 {
		t.Fatalf("expected 2 chunked reverse requests for 3 parent ids at size 2, got %d", len(planned))
	}
}
