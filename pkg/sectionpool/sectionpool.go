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

// Package sectionpool implements the section worker pool (spec.md §5:
// "Section workers run in a worker pool sized to available CPU"). The
// twelve report sections (CP, TOC, 1-8, DP, FR) are opaque producers of
// structured payloads and out of this fabric's scope; this package only
// supplies the contract they share and the pool that schedules them —
// "model as a sum type over section kinds with a common interface
// (prepare, execute, publish) rather than runtime attribute lookups"
// (spec.md §9 redesign note).
package sectionpool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caseforge/coordfab/pkg/bus"
	"github.com/caseforge/coordfab/pkg/signal"
)

// fallbackPollInterval is how often an idle worker goroutine re-checks
// eligibility even with no wake signal, guarding against a missed or
// never-subscribed notification (e.g. Notifier left nil in Config). Real
// wakeups arrive immediately over the Notifier subscription below; this is
// only the safety net.
const fallbackPollInterval = 2 * time.Second

// Notifier is the narrow view of *bus.Bus the pool uses to wake an idle
// worker as soon as the section it depends on transitions, instead of
// relying solely on the poll fallback.
type Notifier interface {
	Subscribe(topic signal.Address, handler bus.HandlerFunc) bus.UnsubscribeFunc
}

// Worker is the common contract every section renderer implements,
// regardless of which of the twelve sections it produces. The pool treats
// every Worker identically: it never inspects SectionID() to special-case
// behavior, only to address gateway/ECC calls.
type Worker interface {
	SectionID() string
	// Execute runs the section's rendering logic against evidenceIDs (the
	// evidence the Gateway has routed and frozen for this section as of its
	// last section.data.updated) and returns the structured payload to
	// publish.
	Execute(ctx context.Context, evidenceIDs []string) (map[string]interface{}, error)
}

// SectionGraph is the narrow view of the Ecosystem Controller the pool
// needs: whether a section is currently eligible to start.
type SectionGraph interface {
	CanRun(sectionID string) (bool, error)
}

// Gateway is the narrow view of pkg/gateway the pool drives each worker
// through: preparing a section (freezing its evidence envelope), reading
// the frozen evidence_ids, and publishing the worker's resulting payload.
type Gateway interface {
	PrepareSection(sectionID string) error
	DeliveredEvidence(sectionID string) []string
	PublishSection(sectionID string, payload map[string]interface{}, payloadHash, by string) error
}

// Config wires the Pool's collaborators and concurrency.
type Config struct {
	Graph   SectionGraph
	Gateway Gateway
	Workers []Worker
	// Concurrency bounds how many sections run at once. Zero defaults to
	// runtime.NumCPU(), matching spec.md's "sized to available CPU".
	Concurrency int
	// Notifier, if set, lets the pool subscribe to EligibilityTopic (ECC's
	// own bus address) instead of spinning purely on fallbackPollInterval.
	Notifier Notifier
	// EligibilityTopic is the address a worker subscribes to for wakeups.
	// Defaults to ecc.Address ("2-1") when empty, but isn't imported
	// directly to keep this package decoupled from pkg/ecc.
	EligibilityTopic signal.Address
}

// Pool schedules a fixed set of section workers, running up to Concurrency
// of them at a time, each waiting for its own ECC eligibility before
// starting.
type Pool struct {
	graph       SectionGraph
	gw          Gateway
	workers     []Worker
	concurrency int
	notifier    Notifier
	topic       signal.Address
}

// New constructs a Pool from cfg.
func New(cfg Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	topic := cfg.EligibilityTopic
	if topic == "" {
		topic = "2-1"
	}
	return &Pool{
		graph:       cfg.Graph,
		gw:          cfg.Gateway,
		workers:     cfg.Workers,
		concurrency: concurrency,
		notifier:    cfg.Notifier,
		topic:       topic,
	}
}

// Run drives every registered worker to completion, respecting the pool's
// concurrency bound: at most Concurrency sections are in PrepareSection/
// Execute/PublishSection at once. Returns the first error encountered,
// cancelling the remaining sections' scheduling (already-running sections
// still finish their current step). A section whose dependencies are never
// satisfied — e.g. because an upstream section is stuck FAILED awaiting
// administrative reopen — blocks its worker goroutine until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return p.runOne(ctx, w)
		})
	}
	return g.Wait()
}

func (p *Pool) runOne(ctx context.Context, w Worker) error {
	sectionID := w.SectionID()

	if err := p.awaitEligible(ctx, sectionID); err != nil {
		return err
	}
	if err := p.gw.PrepareSection(sectionID); err != nil {
		return err
	}

	evidenceIDs := p.gw.DeliveredEvidence(sectionID)
	payload, err := w.Execute(ctx, evidenceIDs)
	if err != nil {
		return err
	}

	hash, err := payloadHash(payload)
	if err != nil {
		return err
	}
	return p.gw.PublishSection(sectionID, payload, hash, sectionID)
}

// payloadHash computes the content hash ECC records as Section.FrozenPayload
// once a section completes (spec.md §3 "Section Record").
func payloadHash(payload map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func (p *Pool) awaitEligible(ctx context.Context, sectionID string) error {
	wake := make(chan struct{}, 1)
	if p.notifier != nil {
		unsubscribe := p.notifier.Subscribe(p.topic, func(_ context.Context, _ *signal.Signal) {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()
	}

	ticker := time.NewTicker(fallbackPollInterval)
	defer ticker.Stop()

	for {
		ok, err := p.graph.CanRun(sectionID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// echoWorker is a reference Worker implementation that publishes a minimal
// structured payload listing the evidence it was handed, with no rendering
// logic of its own. The twelve report sections are opaque producers out of
// this fabric's scope (spec.md §1); this lets a coordinator wire a complete,
// runnable pool before a real renderer exists for a given section_id.
type echoWorker struct {
	sectionID string
}

// NewEchoWorker returns a placeholder Worker for sectionID. A deployment
// replaces it with a real renderer by supplying its own Worker in
// Config.Workers; nothing else in this package changes.
func NewEchoWorker(sectionID string) Worker {
	return &echoWorker{sectionID: sectionID}
}

func (w *echoWorker) SectionID() string { return w.sectionID }

func (w *echoWorker) Execute(_ context.Context, evidenceIDs []string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"section_id":   w.sectionID,
		"evidence_ids": evidenceIDs,
	}, nil
}
