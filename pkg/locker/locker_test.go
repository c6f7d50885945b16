package locker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caseforge/coordfab/pkg/classify"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishEvidenceEvent(eventType string, item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func newTestLocker(t *testing.T, pub EventPublisher) *Locker {
	t.Helper()
	l, err := New(Config{
		ManifestPath: filepath.Join(t.TempDir(), "manifest.jsonl"),
		Classifier:   classify.NewLocal(),
		Publisher:    pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func waitForStatus(t *testing.T, l *Locker, evidenceID string, want Status) Item {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, err := l.Get(evidenceID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item.Status == want {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("evidence %s never reached status %s", evidenceID, want)
	return Item{}
}

func TestIngestFreshEvidence(t *testing.T) {
	pub := &recordingPublisher{}
	l := newTestLocker(t, pub)

	item, err := l.Ingest(context.Background(), "report.pdf", []byte("hello world"), classify.KindDocument, []string{"q1"}, time.Now())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if item.Status != StatusIngested {
		t.Fatalf("expected status ingested, got %s", item.Status)
	}
	if pub.count("evidence.new") != 1 {
		t.Fatalf("expected exactly one evidence.new event, got %d", pub.count("evidence.new"))
	}

	waitForStatus(t, l, item.EvidenceID, StatusIndexed)
	if pub.count("evidence.classified") != 1 || pub.count("evidence.indexed") != 1 {
		t.Fatalf("expected one classified and one indexed event, got %+v", pub.events)
	}
}

func TestIngestDuplicateBytes(t *testing.T) {
	pub := &recordingPublisher{}
	l := newTestLocker(t, pub)

	content := []byte("duplicate content")
	first, err := l.Ingest(context.Background(), "a.pdf", content, classify.KindDocument, []string{"tagA"}, time.Now())
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	waitForStatus(t, l, first.EvidenceID, StatusIndexed)

	second, err := l.Ingest(context.Background(), "b.pdf", content, classify.KindDocument, []string{"tagB"}, time.Now())
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.EvidenceID != first.EvidenceID {
		t.Fatalf("duplicate ingest produced a new evidence_id: %s vs %s", second.EvidenceID, first.EvidenceID)
	}
	if pub.count("evidence.new") != 1 {
		t.Fatalf("expected exactly one evidence.new across both ingests, got %d", pub.count("evidence.new"))
	}
	if pub.count("evidence.duplicate") != 1 {
		t.Fatalf("expected exactly one evidence.duplicate, got %d", pub.count("evidence.duplicate"))
	}

	final, err := l.Get(first.EvidenceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	tagSet := map[string]bool{}
	for _, tg := range final.Tags {
		tagSet[tg] = true
	}
	if !tagSet["tagA"] || !tagSet["tagB"] {
		t.Fatalf("expected union-merged tags, got %v", final.Tags)
	}
}

func TestVerifyIntegrityDetectsMismatch(t *testing.T) {
	l := newTestLocker(t, nil)
	item, err := l.Ingest(context.Background(), "a.pdf", []byte("original bytes"), classify.KindDocument, nil, time.Now())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := l.VerifyIntegrity(item.EvidenceID, []byte("mutated bytes")); err == nil {
		t.Fatal("expected a corruption error for mismatched content")
	}

	got, err := l.Get(item.EvidenceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusQuarantined {
		t.Fatalf("expected status quarantined, got %s", got.Status)
	}

	quarantined := l.ListQuarantined()
	if len(quarantined) != 1 || quarantined[0].EvidenceID != item.EvidenceID {
		t.Fatalf("expected item in quarantine list, got %+v", quarantined)
	}
}

func TestRequarantineClearsQuarantinedItem(t *testing.T) {
	l := newTestLocker(t, nil)
	item, _ := l.Ingest(context.Background(), "a.pdf", []byte("bytes"), classify.KindDocument, nil, time.Now())
	_ = l.VerifyIntegrity(item.EvidenceID, []byte("different"))

	if err := l.Requarantine(item.EvidenceID, "operator1", "verified out of band"); err != nil {
		t.Fatalf("Requarantine: %v", err)
	}
	got, _ := l.Get(item.EvidenceID)
	if got.Status != StatusIndexed {
		t.Fatalf("expected status indexed after requarantine clear, got %s", got.Status)
	}
}

func TestRequarantineRejectsNonQuarantinedItem(t *testing.T) {
	l := newTestLocker(t, nil)
	item, _ := l.Ingest(context.Background(), "a.pdf", []byte("bytes"), classify.KindDocument, nil, time.Now())

	if err := l.Requarantine(item.EvidenceID, "operator1", "no reason"); err == nil {
		t.Fatal("expected an error for requarantining a non-quarantined item")
	}
}
