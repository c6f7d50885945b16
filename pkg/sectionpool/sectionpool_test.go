package sectionpool

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeGraph struct {
	mu       sync.Mutex
	runnable map[string]bool
}

func (f *fakeGraph) CanRun(sectionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runnable[sectionID], nil
}

func (f *fakeGraph) allow(sectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runnable[sectionID] = true
}

type fakeGateway struct {
	mu        sync.Mutex
	prepared  []string
	published map[string]map[string]interface{}
}

func (f *fakeGateway) PrepareSection(sectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, sectionID)
	return nil
}

func (f *fakeGateway) DeliveredEvidence(sectionID string) []string {
	return []string{"E1"}
}

func (f *fakeGateway) PublishSection(sectionID string, payload map[string]interface{}, payloadHash, by string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string]map[string]interface{})
	}
	f.published[sectionID] = payload
	return nil
}

type fakeWorker struct {
	id string
}

func (w *fakeWorker) SectionID() string { return w.id }

func (w *fakeWorker) Execute(ctx context.Context, evidenceIDs []string) (map[string]interface{}, error) {
	return map[string]interface{}{"section_id": w.id, "evidence_count": len(evidenceIDs)}, nil
}

func TestRunWaitsForEligibilityThenPublishes(t *testing.T) {
	graph := &fakeGraph{runnable: map[string]bool{}}
	gw := &fakeGateway{}
	pool := New(Config{
		Graph:       graph,
		Gateway:     gw,
		Workers:     []Worker{&fakeWorker{id: "1"}},
		Concurrency: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*fallbackPollInterval)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	graph.allow("1")

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.prepared) != 1 || gw.prepared[0] != "1" {
		t.Fatalf("expected section 1 to be prepared, got %+v", gw.prepared)
	}
	if _, ok := gw.published["1"]; !ok {
		t.Fatalf("expected section 1 to be published, got %+v", gw.published)
	}
}

func TestRunRespectsContextCancellationWhileWaiting(t *testing.T) {
	graph := &fakeGraph{runnable: map[string]bool{}}
	gw := &fakeGateway{}
	pool := New(Config{
		Graph:   graph,
		Gateway: gw,
		Workers: []Worker{&fakeWorker{id: "stuck"}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := pool.Run(ctx); err == nil {
		t.Fatal("expected Run to return an error once the context is cancelled while waiting")
	}
}

func TestNewDefaultsConcurrencyToNumCPU(t *testing.T) {
	pool := New(Config{})
	if pool.concurrency <= 0 {
		t.Fatalf("expected a positive default concurrency, got %d", pool.concurrency)
	}
}
