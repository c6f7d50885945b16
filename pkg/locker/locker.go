/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package locker implements the Evidence Locker (spec.md §4.3, addr 1-1):
// the exclusive owner of evidence identity and history. It hashes incoming
// bytes, deduplicates by content hash, maintains the append-only manifest
// and per-item custody chain, and drives asynchronous classification.
package locker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/classify"
	"github.com/caseforge/coordfab/pkg/manifest"
	"github.com/caseforge/coordfab/pkg/retry"
)

// Address is the Locker's own bus address.
const Address = "1-1"

// Status mirrors the Evidence Item's status field (spec.md §3).
type Status string

const (
	StatusIngested    Status = "ingested"
	StatusClassified  Status = "classified"
	StatusIndexed     Status = "indexed"
	StatusDispatched  Status = "dispatched"
	StatusProcessed   Status = "processed"
	StatusQuarantined Status = "quarantined"
)

// CustodyEntry is one append-only custody-chain record (spec.md §4.3).
type CustodyEntry struct {
	ActorAddress string    `json:"actor_address"`
	Action       string    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	Note         string    `json:"note,omitempty"`
}

// Item is the Evidence Item record (spec.md §3).
type Item struct {
	EvidenceID     string         `json:"evidence_id"`
	ContentHash    string         `json:"content_hash"`
	Kind           classify.Kind  `json:"kind"`
	Path           string         `json:"path"`
	Size           int64          `json:"size"`
	CapturedAt     time.Time      `json:"captured_at"`
	IngestedAt     time.Time      `json:"ingested_at"`
	Classification string         `json:"classification"`
	Tags           []string       `json:"tags"`
	SectionHints   []string       `json:"section_hints"`
	Status         Status         `json:"status"`
	CustodyChain   []CustodyEntry `json:"custody_chain"`
}

func (it *Item) snapshot() Item {
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	cp.SectionHints = append([]string(nil), it.SectionHints...)
	cp.CustodyChain = append([]CustodyEntry(nil), it.CustodyChain...)
	return cp
}

// manifestRecord is one line of the manifest JSONL log (spec.md §3).
type manifestRecord struct {
	EvidenceID string    `json:"evidence_id"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor_address"`
}

// EventPublisher is the narrow interface the Locker uses to announce
// evidence.new/duplicate/classified/indexed signals, isolating it from a
// hard dependency on *bus.Bus.
type EventPublisher interface {
	PublishEvidenceEvent(eventType string, item Item)
}

// Locker is the exclusive owner of Evidence Items and the manifest for one
// case. Safe for concurrent use.
type Locker struct {
	mu     sync.Mutex
	byID   map[string]*Item
	byHash map[string]string // content_hash -> evidence_id

	manifestW     *manifest.Writer
	classifier    classify.EvidenceClassifier
	classifyRetry *retry.Policy
	publisher     EventPublisher

	now func() time.Time
}

// Config tunes the Locker's collaborators.
type Config struct {
	ManifestPath string
	Classifier   classify.EvidenceClassifier
	Publisher    EventPublisher
}

// New constructs a Locker backed by the manifest file at cfg.ManifestPath,
// opened for append. Existing manifest history is not replayed: the dedup
// index and item table start empty on every construction.
func New(cfg Config) (*Locker, error) {
	w, err := manifest.Open(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = classify.NewLocal()
	}

	l := &Locker{
		byID:          make(map[string]*Item),
		byHash:        make(map[string]string),
		manifestW:     w,
		classifier:    classifier,
		classifyRetry: retry.New("locker.classify"),
		publisher:     cfg.Publisher,
		now:           time.Now,
	}
	return l, nil
}

// Close releases the manifest file handle.
func (l *Locker) Close() error {
	return l.manifestW.Close()
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Ingest runs the spec.md §4.3 ingest algorithm: hash, dedup-or-insert,
// append a manifest row, and kick off asynchronous classification. It
// returns once the synchronous portion (steps 1-3) completes; classify
// runs in its own goroutine and is not awaited here.
func (l *Locker) Ingest(ctx context.Context, path string, content []byte, kind classify.Kind, tags []string, capturedAt time.Time) (Item, error) {
	hash := hashContent(content)

	l.mu.Lock()
	existingID, dup := l.byHash[hash]
	var item *Item
	if dup {
		existing := l.byID[existingID]
		existing.Tags = unionTags(existing.Tags, tags)
		existing.CustodyChain = append(existing.CustodyChain, CustodyEntry{
			ActorAddress: Address,
			Action:       "duplicate_ingest",
			Timestamp:    l.now(),
			Note:         path,
		})
		item = existing
	} else {
		item = &Item{
			EvidenceID:  uuid.NewString(),
			ContentHash: hash,
			Kind:        kind,
			Path:        path,
			Size:        int64(len(content)),
			CapturedAt:  capturedAt,
			IngestedAt:  l.now(),
			Tags:        append([]string(nil), tags...),
			Status:      StatusIngested,
			CustodyChain: []CustodyEntry{{
				ActorAddress: Address,
				Action:       "ingested",
				Timestamp:    l.now(),
				Note:         path,
			}},
		}
		l.byID[item.EvidenceID] = item
		l.byHash[hash] = item.EvidenceID
	}
	snap := item.snapshot()
	l.mu.Unlock()

	event := "ingested"
	if dup {
		event = "duplicate"
	}
	if err := l.manifestW.Append(manifestRecord{
		EvidenceID: item.EvidenceID,
		Event:      event,
		Timestamp:  l.now(),
		Actor:      Address,
	}); err != nil {
		return Item{}, err
	}

	if l.publisher != nil {
		if dup {
			l.publisher.PublishEvidenceEvent("evidence.duplicate", snap)
		} else {
			l.publisher.PublishEvidenceEvent("evidence.new", snap)
		}
	}

	if !dup {
		go l.classifyAsync(context.WithoutCancel(ctx), item.EvidenceID, content)
	}
	return snap, nil
}

func (l *Locker) classifyAsync(ctx context.Context, evidenceID string, content []byte) {
	ctx, cancel := context.WithTimeout(ctx, classify.Budget)
	defer cancel()

	l.mu.Lock()
	item, ok := l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return
	}
	in := classify.Input{
		EvidenceID:  item.EvidenceID,
		ContentHash: item.ContentHash,
		Kind:        item.Kind,
		Tags:        append([]string(nil), item.Tags...),
	}
	l.mu.Unlock()

	var result classify.Result
	err := l.classifyRetry.Do(ctx, func(ctx context.Context) error {
		r, err := l.classifier.Classify(ctx, in)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		result = classify.UnknownResult
	}

	l.mu.Lock()
	item, ok = l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return
	}
	item.Classification = result.Classification
	item.SectionHints = result.SectionHints
	item.Tags = unionTags(item.Tags, result.Tags)
	item.Status = StatusClassified
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		ActorAddress: Address,
		Action:       "classified",
		Timestamp:    l.now(),
	})
	snap := item.snapshot()
	l.mu.Unlock()

	_ = l.manifestW.Append(manifestRecord{EvidenceID: evidenceID, Event: "classified", Timestamp: l.now(), Actor: Address})
	if l.publisher != nil {
		l.publisher.PublishEvidenceEvent("evidence.classified", snap)
	}

	l.index(evidenceID)
}

// index moves a classified item to StatusIndexed and emits evidence.indexed
// (spec.md §4.3 step 5), adding it to the per-section routing set derived
// from the classifier's section hints.
func (l *Locker) index(evidenceID string) {
	l.mu.Lock()
	item, ok := l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return
	}
	item.Status = StatusIndexed
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		ActorAddress: Address,
		Action:       "indexed",
		Timestamp:    l.now(),
	})
	snap := item.snapshot()
	l.mu.Unlock()

	_ = l.manifestW.Append(manifestRecord{EvidenceID: evidenceID, Event: "indexed", Timestamp: l.now(), Actor: Address})
	if l.publisher != nil {
		l.publisher.PublishEvidenceEvent("evidence.indexed", snap)
	}
}

// Reclassify re-runs classification for evidenceID regardless of its
// current status — the explicit escape hatch spec.md §4.3 names as the only
// way to bypass at-most-once-per-content_hash processing ("re-ingestion
// reuses the prior classification unless an explicit reclassify request is
// received"). It re-reads the evidence bytes from the recorded path and
// schedules the same asynchronous classify/index pipeline Ingest kicks off
// for a fresh item, re-emitting evidence.classified and evidence.indexed.
func (l *Locker) Reclassify(ctx context.Context, evidenceID string) error {
	l.mu.Lock()
	item, ok := l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return apperrors.NewNotFoundError("evidence " + evidenceID)
	}
	path := item.Path
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		ActorAddress: Address,
		Action:       "reclassify_requested",
		Timestamp:    l.now(),
	})
	l.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "failed to re-read evidence for reclassify: %s", path)
	}
	if err := l.manifestW.Append(manifestRecord{EvidenceID: evidenceID, Event: "reclassify_requested", Timestamp: l.now(), Actor: Address}); err != nil {
		return err
	}

	go l.classifyAsync(context.WithoutCancel(ctx), evidenceID, content)
	return nil
}

// VerifyIntegrity re-hashes content against the stored content_hash for
// evidenceID. A mismatch (file mutated after ingest) raises 1-1-32 and
// quarantines the row (spec.md §4.3 failure semantics).
func (l *Locker) VerifyIntegrity(evidenceID string, content []byte) error {
	l.mu.Lock()
	item, ok := l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return apperrors.NewNotFoundError("evidence " + evidenceID)
	}
	if hashContent(content) == item.ContentHash {
		l.mu.Unlock()
		return nil
	}
	item.Status = StatusQuarantined
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		ActorAddress: Address,
		Action:       "quarantined",
		Timestamp:    l.now(),
		Note:         "content hash mismatch on re-read",
	})
	l.mu.Unlock()

	_ = l.manifestW.Append(manifestRecord{EvidenceID: evidenceID, Event: "quarantined", Timestamp: l.now(), Actor: Address})
	return apperrors.NewCorruption(Address+"-32", "content hash mismatch for evidence "+evidenceID)
}

// ListQuarantined returns every item currently in the quarantine review
// queue (SPEC_FULL.md §4 supplement).
func (l *Locker) ListQuarantined() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Item
	for _, item := range l.byID {
		if item.Status == StatusQuarantined {
			out = append(out, item.snapshot())
		}
	}
	return out
}

// Requarantine lets an operator clear a quarantined item back to indexed
// after manually confirming the content is trustworthy (e.g. the bytes were
// re-verified out of band). SPEC_FULL.md §4 supplement.
func (l *Locker) Requarantine(evidenceID, operator, reason string) error {
	l.mu.Lock()
	item, ok := l.byID[evidenceID]
	if !ok {
		l.mu.Unlock()
		return apperrors.NewNotFoundError("evidence " + evidenceID)
	}
	if item.Status != StatusQuarantined {
		l.mu.Unlock()
		return apperrors.NewForbidden(Address+"-52", "evidence is not quarantined: "+evidenceID)
	}
	item.Status = StatusIndexed
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		ActorAddress: operator,
		Action:       "requarantine_cleared",
		Timestamp:    l.now(),
		Note:         reason,
	})
	l.mu.Unlock()
	return l.manifestW.Append(manifestRecord{EvidenceID: evidenceID, Event: "requarantine_cleared", Timestamp: l.now(), Actor: operator})
}

// Get returns a snapshot of one item's record.
func (l *Locker) Get(evidenceID string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.byID[evidenceID]
	if !ok {
		return Item{}, apperrors.NewNotFoundError("evidence " + evidenceID)
	}
	return item.snapshot(), nil
}

// All returns a snapshot of every evidence item the Locker holds, for
// pkg/httpapi's read-only evidence listing.
func (l *Locker) All() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.byID))
	for _, item := range l.byID {
		out = append(out, item.snapshot())
	}
	return out
}

// ForSection returns every item, whatever its status, whose section hints
// include sectionID, for Gateway's routing (spec.md §4.4).
func (l *Locker) ForSection(sectionID string) []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Item
	for _, item := range l.byID {
		for _, hint := range item.SectionHints {
			if hint == sectionID {
				out = append(out, item.snapshot())
				break
			}
		}
	}
	return out
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
