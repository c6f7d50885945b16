package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testRegoPolicy = `package routing

sections contains "5" if {
	input.classification == "invoice"
}

sections contains "4" if {
	input.kind == "audio"
}

sections contains "1" if {
	true
}
`

func writeTestPolicy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestResolveRoutesByClassification(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx, Config{RegoPolicyPath: writeTestPolicy(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sections, err := r.Resolve(ctx, Input{Kind: "document", Classification: "invoice"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]bool{"1": true, "5": true}
	if len(sections) != len(want) {
		t.Fatalf("expected %d sections, got %v", len(want), sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Errorf("unexpected section %q in result %v", s, sections)
		}
	}
}

func TestResolveAppliesJQFilter(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx, Config{
		RegoPolicyPath: writeTestPolicy(t),
		JQRules:        `map(select(. != "1"))`,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sections, err := r.Resolve(ctx, Input{Kind: "audio"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, s := range sections {
		if s == "1" {
			t.Fatalf("expected jq filter to drop section 1, got %v", sections)
		}
	}
}

func TestNewRejectsEmptyPolicyPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected an error for an empty routing policy path")
	}
}
