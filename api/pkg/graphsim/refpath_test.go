package graphsim

import (
	"reflect"
	"testing"
)

func mustIDs(t *testing.T, refs []refPair) []string {
	t.Helper()
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestExtractReferences_SingleField(t *testing.T) {
	resource := Resource{
		"resourceType": "Patient",
		"generalPractitioner": []interface{}{
			map[string]interface{}{"reference": "Practitioner/1"},
			map[string]interface{}{"reference": "Organization/2"},
		},
	}

	refs, err := extractReferences(resource, "generalPractitioner[x]", "Practitioner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustIDs(t, refs)
	want := []string{"1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractReferences_NestedBroadcast(t *testing.T) {
	resource := Resource{
		"resourceType": "Encounter",
		"participant": []interface{}{
			map[string]interface{}{"individual": map[string]interface{}{"reference": "Practitioner/a"}},
			map[string]interface{}{"individual": map[string]interface{}{"reference": "Practitioner/b"}},
			map[string]interface{}{},
		},
	}

	refs, err := extractReferences(resource, "participant.individual[x]", "Practitioner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustIDs(t, refs)
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractReferences_DeepChain(t *testing.T) {
	resource := Resource{
		"resourceType": "DocumentReference",
		"content": []interface{}{
			map[string]interface{}{"attachment": map[string]interface{}{"url": "Binary/xyz"}},
		},
	}

	refs, err := extractReferences(resource, "content[x].attachment.url", "Binary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "url" here is a bare string, not a Reference object, so
	// referencesFromValue still splits it as "Type/id".
	got := mustIDs(t, refs)
	want := []string{"xyz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractReferences_MissingFieldYieldsNoError(t *testing.T) {
	resource := Resource{"resourceType": "Patient"}
	refs, err := extractReferences(resource, "generalPractitioner[x]", "Practitioner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %v", refs)
	}
}

func TestExtractReferences_EmptySegmentIsConfigError(t *testing.T) {
	resource := Resource{"resourceType": "Patient"}
	_, err := extractReferences(resource, "participant..individual", "Practitioner")
	if err == nil {
		t.Fatal("expected error for empty path segment")
	}
	var gerr *Error
	if !asGraphsimError(err, &gerr) || gerr.Kind != KindConfig {
		t.Fatalf("expected CONFIG error, got %v", err)
	}
}

func asGraphsimError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestSplitReference_FiltersByType(t *testing.T) {
	pair, ok := splitReference("Patient/1", "Observation")
	if ok {
		t.Fatalf("expected type mismatch to reject, got %v", pair)
	}
	pair, ok = splitReference("Patient/1", "Patient")
	if !ok || pair.ID != "1" {
		t.Fatalf("expected Patient/1 to match, got %v, %v", pair, ok)
	}
	pair, ok = splitReference("Patient/1", "")
	if !ok || pair.Type != "Patient" {
		t.Fatalf("expected empty targetType to match any type, got %v, %v", pair, ok)
	}
}
