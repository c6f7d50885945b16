package gateway

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/caseforge/coordfab/pkg/ecc"
	"github.com/caseforge/coordfab/pkg/policy"
)

const testRoutingPolicy = `package routing

sections contains "1" if {
	input.classification == "invoice"
}

sections contains "8" if {
	input.classification == "invoice"
}
`

func newTestRouter(t *testing.T) *policy.Router {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.rego")
	if err := os.WriteFile(path, []byte(testRoutingPolicy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	r, err := policy.New(context.Background(), policy.Config{RegoPolicyPath: path})
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return r
}

type fakeEvidence struct {
	items map[string]EvidenceView
}

func (f *fakeEvidence) Get(evidenceID string) (EvidenceView, error) {
	return f.items[evidenceID], nil
}

type recordingPub struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]interface{}
}

func newRecordingPub() *recordingPub {
	return &recordingPub{last: make(map[string]map[string]interface{})}
}

func (p *recordingPub) PublishGatewayEvent(eventType, sectionID string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType+":"+sectionID)
	p.last[eventType+":"+sectionID] = payload
}

func (p *recordingPub) count(eventType, sectionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	want := eventType + ":" + sectionID
	for _, e := range p.events {
		if e == want {
			n++
		}
	}
	return n
}

func newTestGraph(t *testing.T) *ecc.Controller {
	t.Helper()
	c := ecc.New()
	if err := c.RegisterSection("1", nil, 1); err != nil {
		t.Fatalf("register 1: %v", err)
	}
	if err := c.RegisterSection("8", []string{"1"}, 8); err != nil {
		t.Fatalf("register 8: %v", err)
	}
	return c
}

func TestRouteIndexedEvidenceDeliversToMatchingSections(t *testing.T) {
	pub := newRecordingPub()
	g := New(Config{
		Router:   newTestRouter(t),
		Evidence: &fakeEvidence{items: map[string]EvidenceView{}},
		Graph:    newTestGraph(t),
		Pub:      pub,
	})

	targets, err := g.RouteIndexedEvidence(context.Background(), EvidenceView{
		EvidenceID:     "E1",
		Classification: "invoice",
	})
	if err != nil {
		t.Fatalf("RouteIndexedEvidence: %v", err)
	}
	want := map[string]bool{"1": true, "8": true}
	if len(targets) != len(want) {
		t.Fatalf("expected %d targets, got %v", len(want), targets)
	}
	for _, s := range targets {
		if !want[s] {
			t.Errorf("unexpected target %q", s)
		}
		if pub.count("evidence.deliver", s) != 1 {
			t.Errorf("expected exactly one evidence.deliver for section %s", s)
		}
	}
}

func TestPrepareSectionRefusesUnsatisfiedDependency(t *testing.T) {
	graph := newTestGraph(t)
	pub := newRecordingPub()
	g := New(Config{
		Router:   newTestRouter(t),
		Evidence: &fakeEvidence{},
		Graph:    graph,
		Pub:      pub,
	})

	err := g.PrepareSection("8")
	if err == nil {
		t.Fatal("expected order-lock error preparing section 8 before its dependency completes")
	}
}

func TestPrepareSectionSucceedsOnceDependenciesComplete(t *testing.T) {
	graph := newTestGraph(t)
	pub := newRecordingPub()
	g := New(Config{
		Router:   newTestRouter(t),
		Evidence: &fakeEvidence{},
		Graph:    graph,
		Pub:      pub,
	})

	if _, err := g.RouteIndexedEvidence(context.Background(), EvidenceView{EvidenceID: "E1", Classification: "invoice"}); err != nil {
		t.Fatalf("RouteIndexedEvidence: %v", err)
	}

	if err := g.PrepareSection("1"); err != nil {
		t.Fatalf("PrepareSection(1): %v", err)
	}
	if err := graph.MarkComplete("1", "hash1", "tester"); err != nil {
		t.Fatalf("MarkComplete(1): %v", err)
	}

	if err := g.PrepareSection("8"); err != nil {
		t.Fatalf("PrepareSection(8) after dependency completed: %v", err)
	}
	if pub.count("section.data.updated", "8") != 1 {
		t.Fatal("expected section.data.updated for section 8")
	}
}

func TestPublishSectionMarksCompleteAndEmits(t *testing.T) {
	graph := newTestGraph(t)
	pub := newRecordingPub()
	g := New(Config{Router: newTestRouter(t), Evidence: &fakeEvidence{}, Graph: graph, Pub: pub})

	if err := g.PrepareSection("1"); err != nil {
		t.Fatalf("PrepareSection: %v", err)
	}
	if err := g.PublishSection("1", map[string]interface{}{"text": "ok"}, "hash1", "worker-1"); err != nil {
		t.Fatalf("PublishSection: %v", err)
	}
	if pub.count("gateway.section.complete", "1") != 1 {
		t.Fatal("expected gateway.section.complete for section 1")
	}

	sec, err := graph.Get("1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sec.State != ecc.StateCompleted {
		t.Fatalf("expected section 1 COMPLETED, got %s", sec.State)
	}
}

func TestPublishSectionRejectsNilPayload(t *testing.T) {
	graph := newTestGraph(t)
	g := New(Config{Router: newTestRouter(t), Evidence: &fakeEvidence{}, Graph: graph, Pub: newRecordingPub()})

	if err := g.PublishSection("1", nil, "hash1", "worker-1"); err == nil {
		t.Fatal("expected an error publishing a nil payload")
	}
}

func TestRequestRevisionReEmitsWithAddedEvidence(t *testing.T) {
	graph := newTestGraph(t)
	pub := newRecordingPub()
	g := New(Config{Router: newTestRouter(t), Evidence: &fakeEvidence{}, Graph: graph, Pub: pub})

	if err := g.PrepareSection("1"); err != nil {
		t.Fatalf("PrepareSection: %v", err)
	}
	if err := g.PublishSection("1", map[string]interface{}{"text": "v1"}, "hash1", "worker-1"); err != nil {
		t.Fatalf("PublishSection: %v", err)
	}

	if _, err := g.RouteIndexedEvidence(context.Background(), EvidenceView{EvidenceID: "E2", Classification: "invoice"}); err != nil {
		t.Fatalf("RouteIndexedEvidence: %v", err)
	}

	if err := g.RequestRevision("1", "new evidence arrived", "reviewer-1"); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	// One emission from PrepareSection, one more from the revision re-open.
	if pub.count("section.data.updated", "1") != 2 {
		t.Fatalf("expected two section.data.updated emissions for section 1, got %d", pub.count("section.data.updated", "1"))
	}
}
