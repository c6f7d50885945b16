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

// Package gateway implements the Gateway (spec.md §4.4, addr 2-2): the
// bridge between the evidence stream and the section workers. It resolves
// routing via pkg/policy, tracks which evidence each section has been
// delivered, composes input envelopes on ECC eligibility, and mediates
// payload publication and revision requests back through ECC.
package gateway

import (
	"context"
	"sync"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/policy"
	"github.com/caseforge/coordfab/pkg/signal"
)

// Address is the Gateway's own bus address.
const Address = "2-2"

// EvidenceSource is the narrow view of the Locker the Gateway needs:
// looking up an item's routing attributes is enough, the Gateway never
// touches bytes.
type EvidenceSource interface {
	Get(evidenceID string) (EvidenceView, error)
}

// EvidenceView is the subset of a Locker evidence item the Gateway routes
// on, decoupling it from pkg/locker's concrete Item type.
type EvidenceView struct {
	EvidenceID     string
	Kind           string
	Classification string
	Tags           []string
}

// SectionGraph is the narrow view of the Ecosystem Controller the Gateway
// needs: dependency satisfaction and completion bookkeeping.
type SectionGraph interface {
	CanRun(sectionID string) (bool, error)
	Prepare(sectionID string) error
	Start(sectionID string) error
	MarkComplete(sectionID, frozenPayloadHash, by string) error
	RequestRevision(sectionID, reason, requester string) error
}

// Publisher is the narrow interface the Gateway uses to emit
// evidence.deliver, section.data.updated, and gateway.section.complete
// signals, isolating it from a hard dependency on *bus.Bus.
type Publisher interface {
	PublishGatewayEvent(eventType, sectionID string, payload map[string]interface{})
}

// Envelope is the input handed to a section on section.data.updated:
// the evidence_ids it has been routed so far, keyed by section.
type Envelope struct {
	SectionID   string
	EvidenceIDs []string
}

// sectionState tracks per-section delivery and freeze bookkeeping.
type sectionState struct {
	deliveredIDs map[string]bool
	frozenIDs    map[string]bool // evidence_ids the section has already seen as of its last freeze
	payload      map[string]interface{}
}

// Gateway is the exclusive owner of the routing table's per-section
// delivery sets and frozen payloads. Safe for concurrent use.
type Gateway struct {
	mu       sync.Mutex
	sections map[string]*sectionState

	router   *policy.Router
	evidence EvidenceSource
	graph    SectionGraph
	pub      Publisher
}

// Config wires the Gateway's collaborators.
type Config struct {
	Router   *policy.Router
	Evidence EvidenceSource
	Graph    SectionGraph
	Pub      Publisher
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		sections: make(map[string]*sectionState),
		router:   cfg.Router,
		evidence: cfg.Evidence,
		graph:    cfg.Graph,
		pub:      cfg.Pub,
	}
}

func (g *Gateway) state(sectionID string) *sectionState {
	st, ok := g.sections[sectionID]
	if !ok {
		st = &sectionState{
			deliveredIDs: make(map[string]bool),
			frozenIDs:    make(map[string]bool),
		}
		g.sections[sectionID] = st
	}
	return st
}

// RouteIndexedEvidence resolves the target sections for a newly indexed
// evidence row and emits one evidence.deliver signal per target (spec.md
// §4.4 "Routing"). Called from the evidence.indexed subscription.
func (g *Gateway) RouteIndexedEvidence(ctx context.Context, view EvidenceView) ([]string, error) {
	targets, err := g.router.Resolve(ctx, policy.Input{
		Kind:           view.Kind,
		Classification: view.Classification,
		Tags:           view.Tags,
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	for _, sectionID := range targets {
		st := g.state(sectionID)
		st.deliveredIDs[view.EvidenceID] = true
	}
	g.mu.Unlock()

	for _, sectionID := range targets {
		g.pub.PublishGatewayEvent("evidence.deliver", sectionID, map[string]interface{}{
			"section_id":  sectionID,
			"evidence_id": view.EvidenceID,
		})
	}
	return targets, nil
}

// HandleEvidenceIndexed is a bus.HandlerFunc the Gateway subscribes with
// Bus.Subscribe(locker.Address, gw.HandleEvidenceIndexed), replacing a direct
// call from the Locker into the Gateway: the Locker only emits evidence
// lifecycle signals on its own address, and Gateway and Mission Debrief
// observe ECC/Locker state purely via subscription (spec.md §4.4, §4 "ECC
// exclusively owns Section Records; Gateway and Mission Debrief observe via
// subscription" applied symmetrically to the Locker's evidence stream). Any
// signal whose message isn't "evidence.indexed", or whose evidence_id can't
// be resolved, is ignored rather than treated as an error — the bus fans
// every Locker lifecycle event to this one subscription.
func (g *Gateway) HandleEvidenceIndexed(ctx context.Context, s *signal.Signal) {
	if s.Message != "evidence.indexed" {
		return
	}
	evidenceID, _ := s.Payload["evidence_id"].(string)
	if evidenceID == "" {
		return
	}
	view, err := g.evidence.Get(evidenceID)
	if err != nil {
		return
	}
	if _, err := g.RouteIndexedEvidence(ctx, view); err != nil {
		g.pub.PublishGatewayEvent("routing_failed", "", map[string]interface{}{
			"evidence_id": evidenceID,
			"error":       err.Error(),
		})
	}
}

// PrepareSection implements gateway.prepare_section: triggered when ECC
// reports a section eligible (spec.md §4.4). It refuses to proceed until
// every dependency is COMPLETED (the order lock) — it asks ECC's CanRun
// rather than re-deriving the answer, since ECC is the sole authority on
// the dependency graph.
func (g *Gateway) PrepareSection(sectionID string) error {
	ok, err := g.graph.CanRun(sectionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewForbidden(Address+"-52", "dependencies not yet satisfied for section "+sectionID)
	}
	if err := g.graph.Prepare(sectionID); err != nil {
		return err
	}
	if err := g.graph.Start(sectionID); err != nil {
		return err
	}

	g.mu.Lock()
	st := g.state(sectionID)
	evidenceIDs := make([]string, 0, len(st.deliveredIDs))
	for id := range st.deliveredIDs {
		evidenceIDs = append(evidenceIDs, id)
		st.frozenIDs[id] = true
	}
	g.mu.Unlock()

	g.pub.PublishGatewayEvent("section.data.updated", sectionID, map[string]interface{}{
		"section_id":   sectionID,
		"evidence_ids": evidenceIDs,
	})
	return nil
}

// PublishSection implements section.publish: a section reports its
// rendered payload. The Gateway stores it, asks ECC to mark the section
// complete, and on success emits gateway.section.complete.
func (g *Gateway) PublishSection(sectionID string, payload map[string]interface{}, payloadHash, by string) error {
	if payload == nil {
		return apperrors.NewValidationError("section payload must not be nil").WithFault(Address+"-31", apperrors.SeverityMedium)
	}

	g.mu.Lock()
	st := g.state(sectionID)
	st.payload = payload
	g.mu.Unlock()

	if err := g.graph.MarkComplete(sectionID, payloadHash, by); err != nil {
		return err
	}

	g.pub.PublishGatewayEvent("gateway.section.complete", sectionID, map[string]interface{}{
		"section_id": sectionID,
	})
	return nil
}

// RequestRevision implements section.request_revision: forwards to ECC,
// and on acceptance re-opens the section by re-emitting section.data.updated
// with any evidence delivered since the section's last freeze.
func (g *Gateway) RequestRevision(sectionID, reason, requester string) error {
	if err := g.graph.RequestRevision(sectionID, reason, requester); err != nil {
		return err
	}

	g.mu.Lock()
	st := g.state(sectionID)
	added := make([]string, 0)
	for id := range st.deliveredIDs {
		if !st.frozenIDs[id] {
			added = append(added, id)
		}
	}
	for _, id := range added {
		st.frozenIDs[id] = true
	}
	g.mu.Unlock()

	g.pub.PublishGatewayEvent("section.data.updated", sectionID, map[string]interface{}{
		"section_id":         sectionID,
		"added_evidence_ids": added,
	})
	return nil
}

// Payload returns the frozen payload last published for sectionID, for
// Mission Debrief assembly. ok is false if the section has never published.
func (g *Gateway) Payload(sectionID string) (map[string]interface{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.sections[sectionID]
	if !ok || st.payload == nil {
		return nil, false
	}
	return st.payload, true
}

// DeliveredEvidence returns the evidence_ids currently routed to sectionID,
// for Mission Debrief and observability callers.
func (g *Gateway) DeliveredEvidence(sectionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.sections[sectionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(st.deliveredIDs))
	for id := range st.deliveredIDs {
		out = append(out, id)
	}
	return out
}
