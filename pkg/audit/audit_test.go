package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) RecordEvent(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRecordFansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	trail := New(zap.NewNop(), a, b)

	trail.Record(context.Background(), "2-1", "section.transition", "section-3", map[string]interface{}{
		"from": "EXECUTING", "to": "COMPLETED",
	})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d and %d", a.count(), b.count())
	}
}

func TestRecordToleratesSinkFailure(t *testing.T) {
	failing := &recordingSink{err: context.DeadlineExceeded}
	ok := &recordingSink{}
	trail := New(zap.NewNop(), failing, ok)

	trail.Record(context.Background(), "5-2", "marshall.checkout", "E1", nil)

	if ok.count() != 1 {
		t.Fatal("expected the healthy sink to still receive the event despite the other sink failing")
	}
}

func TestJSONLSinkPersistsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	defer sink.Close()

	trail := New(zap.NewNop(), sink)
	trail.Record(context.Background(), "operator-1", "ecc.reopen", "section-4", map[string]interface{}{
		"reason": "operator override",
	})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Event
	if err := json.Unmarshal(raw[:len(raw)-1], &got); err != nil {
		t.Fatalf("unmarshal persisted event: %v", err)
	}
	if got.Action != "ecc.reopen" || got.Subject != "section-4" {
		t.Fatalf("unexpected persisted event: %+v", got)
	}
	if got.Timestamp.After(time.Now()) {
		t.Fatalf("unexpected future timestamp: %v", got.Timestamp)
	}
}
