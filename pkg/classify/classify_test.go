package classify

import (
	"context"
	"testing"
)

func TestLocalClassifyKeywordMatch(t *testing.T) {
	l := NewLocal()
	res, err := l.Classify(context.Background(), Input{
		EvidenceID: "e1",
		Kind:       KindDocument,
		Excerpt:    "Attached please find invoice #4471 for services rendered",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Classification != "invoice" {
		t.Errorf("expected classification invoice, got %q", res.Classification)
	}
	if len(res.SectionHints) == 0 || res.SectionHints[0] != "5" {
		t.Errorf("expected section hint 5, got %v", res.SectionHints)
	}
}

func TestLocalClassifyFallsBackToKindDefault(t *testing.T) {
	l := NewLocal()
	res, err := l.Classify(context.Background(), Input{
		EvidenceID: "e2",
		Kind:       KindImage,
		Excerpt:    "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.SectionHints) != 1 || res.SectionHints[0] != "2" {
		t.Errorf("expected default image hint [2], got %v", res.SectionHints)
	}
}

func TestLocalClassifyDedupesHints(t *testing.T) {
	l := NewLocal()
	res, err := l.Classify(context.Background(), Input{
		Kind:    KindDocument,
		Excerpt: "invoice and receipt both attached",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[string]int{}
	for _, h := range res.SectionHints {
		seen[h]++
	}
	for h, n := range seen {
		if n != 1 {
			t.Errorf("hint %q appeared %d times, want 1", h, n)
		}
	}
}
