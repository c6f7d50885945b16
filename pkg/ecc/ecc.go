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

// Package ecc implements the Ecosystem Controller (spec.md §4.1, addr 2-1):
// the exclusive owner of Section Records, their lifecycle state machine, and
// the dependency-ordered execution gate. No locks are exposed across this
// boundary; every transition is serialized through the controller's own
// mutex so two transitions for the same section_id never interleave.
package ecc

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// Address is the controller's own bus address.
const Address = "2-1"

// State is a Section Record's lifecycle state (spec.md §3/§4.1).
type State string

const (
	StateIdle              State = "IDLE"
	StatePreparing         State = "PREPARING"
	StateExecuting         State = "EXECUTING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
	StateRevisionRequested State = "REVISION_REQUESTED"
)

// DefaultMaxReruns is used when a section is registered without an explicit override.
const DefaultMaxReruns = 2

// Section is a Section Record (spec.md §3).
type Section struct {
	SectionID        string
	State            State
	DependsOn        []string
	Priority         int
	FrozenPayload    string // content hash of the frozen payload, once COMPLETED
	RevisionDepth    int
	MaxReruns        int
	LastTransitionAt time.Time
}

// snapshot returns a value copy safe to hand to callers outside the lock.
func (s *Section) snapshot() Section {
	cp := *s
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	return cp
}

// Controller is the exclusive owner of all Section Records for one case.
// Safe for concurrent use; every exported method takes the controller's
// mutex so a given section_id's transitions are strictly serialized.
type Controller struct {
	mu               sync.Mutex
	sections         map[string]*Section
	now              func() time.Time
	observer         TransitionObserver
	defaultMaxReruns int
}

// TransitionObserver is notified of every section state transition, after
// it has taken effect. Wired to pkg/audit so transition history survives
// the in-memory Controller (SPEC_FULL.md §4 supplement).
type TransitionObserver interface {
	ObserveTransition(sectionID string, from, to State, revisionDepth int)
}

// New constructs an empty Controller.
func New() *Controller {
	return &Controller{
		sections:         make(map[string]*Section),
		now:              time.Now,
		defaultMaxReruns: DefaultMaxReruns,
	}
}

// SetObserver wires a TransitionObserver in after construction, avoiding a
// hard dependency on pkg/audit at constructor time.
func (c *Controller) SetObserver(obs TransitionObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = obs
}

// SetDefaultMaxReruns overrides the max_reruns budget newly registered
// sections receive (internal/config's ECCConfig.DefaultMaxReruns). Sections
// already registered keep the budget they were given; a value <= 0 is
// ignored, leaving DefaultMaxReruns in effect.
func (c *Controller) SetDefaultMaxReruns(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultMaxReruns = n
}

// RegisterSection registers a section with its static dependency set and
// priority (spec.md §4.1). Idempotent: re-registering with the identical
// dependency set is a no-op; re-registering with a different set is
// rejected with class-31 (validation).
func (c *Controller) RegisterSection(sectionID string, dependsOn []string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[sectionID]; ok {
		if !sameSet(existing.DependsOn, dependsOn) {
			return apperrors.New(apperrors.ErrorTypeValidation, "section already registered with a different dependency set").
				WithDetails(sectionID).
				WithFault(Address+"-31", apperrors.SeverityMedium)
		}
		return nil
	}

	if wouldCycle(c.sections, sectionID, dependsOn) {
		return apperrors.New(apperrors.ErrorTypeValidation, "registering section would close a dependency cycle").
			WithDetails(sectionID).
			WithFault(Address+"-31", apperrors.SeverityMedium)
	}

	c.sections[sectionID] = &Section{
		SectionID:        sectionID,
		State:            StateIdle,
		DependsOn:        append([]string(nil), dependsOn...),
		Priority:         priority,
		MaxReruns:        c.defaultMaxReruns,
		LastTransitionAt: c.now(),
	}
	return nil
}

// Get returns a snapshot of the named section's record.
func (c *Controller) Get(sectionID string) (Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return Section{}, apperrors.NewNotFoundError("section " + sectionID)
	}
	return s.snapshot(), nil
}

// CanRun reports whether sectionID is eligible: its own state is IDLE or
// REVISION_REQUESTED and every dependency is COMPLETED (spec.md §4.1).
func (c *Controller) CanRun(sectionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return false, apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StateIdle && s.State != StateRevisionRequested {
		return false, nil
	}
	for _, dep := range s.DependsOn {
		depSec, ok := c.sections[dep]
		if !ok || depSec.State != StateCompleted {
			return false, nil
		}
	}
	return true, nil
}

// IsExecuting reports whether sectionID is currently in the EXECUTING
// state, the precondition the Marshall enforces before handing out
// evidence bytes (spec.md §4.5).
func (c *Controller) IsExecuting(sectionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return false, apperrors.NewNotFoundError("section " + sectionID)
	}
	return s.State == StateExecuting, nil
}

// Prepare transitions IDLE/REVISION_REQUESTED → PREPARING.
func (c *Controller) Prepare(sectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StateIdle && s.State != StateRevisionRequested {
		return illegalTransition(sectionID, s.State, StatePreparing)
	}
	c.transition(s, StatePreparing)
	return nil
}

// Start transitions PREPARING → EXECUTING.
func (c *Controller) Start(sectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StatePreparing {
		return illegalTransition(sectionID, s.State, StateExecuting)
	}
	c.transition(s, StateExecuting)
	return nil
}

// MarkComplete transitions EXECUTING → COMPLETED and freezes the payload
// hash (spec.md §4.1). Callers are expected to emit gateway.section.complete
// themselves once this returns nil; the controller has no bus dependency.
func (c *Controller) MarkComplete(sectionID, frozenPayloadHash, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StateExecuting {
		return illegalTransition(sectionID, s.State, StateCompleted)
	}
	s.FrozenPayload = frozenPayloadHash
	c.transition(s, StateCompleted)
	return nil
}

// Fail transitions EXECUTING or PREPARING → FAILED directly (used when a section worker
// reports an unrecoverable error rather than requesting revision).
func (c *Controller) Fail(sectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StateExecuting && s.State != StatePreparing {
		return illegalTransition(sectionID, s.State, StateFailed)
	}
	c.transition(s, StateFailed)
	return nil
}

// RequestRevision transitions any state → REVISION_REQUESTED provided
// revision_depth < max_reruns; on overflow it transitions to FAILED and
// returns a HIGH 2-1-53 fault (spec.md §4.1, scenario E).
func (c *Controller) RequestRevision(sectionID, reason, requester string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}

	if s.RevisionDepth >= s.MaxReruns {
		c.transition(s, StateFailed)
		return apperrors.NewInvalidState(Address+"-53", "revision limit exceeded for section "+sectionID).
			WithDetails(reason).
			WithFault(Address+"-53", apperrors.SeverityHigh)
	}

	s.RevisionDepth++
	c.transition(s, StateRevisionRequested)
	return nil
}

// Reopen is the administrative, out-of-band operation that returns a FAILED
// section to IDLE (SPEC_FULL.md §4 supplement; spec.md §9 open question,
// resolved as an operator action producing a fresh IDLE transition). It does
// not reset revision_depth: a reopened section remains bound by its
// original max_reruns budget.
func (c *Controller) Reopen(sectionID, operator, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[sectionID]
	if !ok {
		return apperrors.NewNotFoundError("section " + sectionID)
	}
	if s.State != StateFailed {
		return apperrors.NewForbidden(Address+"-52", "reopen is only valid for a FAILED section").
			WithDetails(sectionID)
	}
	c.transition(s, StateIdle)
	return nil
}

// ExecutionOrder returns a stable topological order over all registered
// sections: dependency order first, ties broken by priority ascending, then
// by section_id lexicographically (spec.md §4.1).
func (c *Controller) ExecutionOrder() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sections))
	for id := range c.sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := c.sections[ids[i]], c.sections[ids[j]]
		if si.Priority != sj.Priority {
			return si.Priority < sj.Priority
		}
		return ids[i] < ids[j]
	})

	visited := make(map[string]int) // 0 unvisited, 1 in-progress, 2 done
	order := make([]string, 0, len(ids))

	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return apperrors.New(apperrors.ErrorTypeValidation, "dependency cycle detected").
				WithDetails(id).
				WithFault(Address+"-31", apperrors.SeverityMedium)
		}
		visited[id] = 1
		sec, ok := c.sections[id]
		if !ok {
			return apperrors.NewNotFoundError("section " + id)
		}
		deps := append([]string(nil), sec.DependsOn...)
		sort.Slice(deps, func(i, j int) bool {
			di, dj := c.sections[deps[i]], c.sections[deps[j]]
			if di == nil || dj == nil {
				return deps[i] < deps[j]
			}
			if di.Priority != dj.Priority {
				return di.Priority < dj.Priority
			}
			return deps[i] < deps[j]
		})
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// All returns a snapshot of every registered section, for Gateway/Mission
// Debrief read-only observation (spec.md §3 ownership rules).
func (c *Controller) All() []Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Section, 0, len(c.sections))
	for _, s := range c.sections {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out
}

func (c *Controller) transition(s *Section, to State) {
	from := s.State
	s.State = to
	s.LastTransitionAt = c.now()
	if c.observer != nil {
		c.observer.ObserveTransition(s.SectionID, from, to, s.RevisionDepth)
	}
}

func illegalTransition(sectionID string, from, to State) error {
	return apperrors.NewInvalidState(Address+"-51", "illegal transition for section "+sectionID).
		WithDetailsf("%s -> %s", from, to)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// wouldCycle reports whether adding sectionID with dependsOn would close a
// cycle, checked before insertion so a rejected registration never mutates
// the graph (spec.md §9: "reject any registration that would close a cycle").
func wouldCycle(sections map[string]*Section, sectionID string, dependsOn []string) bool {
	visited := make(map[string]bool)
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == sectionID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		sec, ok := sections[id]
		if !ok {
			return false
		}
		for _, dep := range sec.DependsOn {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range dependsOn {
		if walk(dep) {
			return true
		}
	}
	return false
}
