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

// Package marshall implements the Marshall / Evidence Manager (spec.md
// §4.5, addr 5-2): hands out evidence bytes with recorded custody, and
// enforces that checkouts occur only while ECC reports the requesting
// section EXECUTING.
package marshall

import (
	"sync"
	"time"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// Address is the Marshall's own bus address.
const Address = "5-2"

// SectionStatus is the narrow view of the Ecosystem Controller the
// Marshall needs: whether a section is currently EXECUTING.
type SectionStatus interface {
	IsExecuting(sectionID string) (bool, error)
}

// EvidenceStore is the narrow view of the Evidence Locker the Marshall
// needs: reading the bytes for a given evidence_id.
type EvidenceStore interface {
	Bytes(evidenceID string) ([]byte, error)
}

// CustodyEntry is one append-only custody record for a checkout or return
// (spec.md §4.5).
type CustodyEntry struct {
	SectionID string    `json:"section_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// AuditSink receives every checkout/return custody entry for durable
// logging, isolating the Marshall from a hard dependency on a concrete
// audit or manifest implementation.
type AuditSink interface {
	RecordCustody(evidenceID string, entry CustodyEntry)
}

// Marshall is the exclusive owner of evidence custody bookkeeping for
// checked-out bytes. Safe for concurrent use.
type Marshall struct {
	mu      sync.Mutex
	custody map[string][]CustodyEntry // evidence_id -> custody chain
	checked map[string]string         // evidence_id -> section_id currently holding it

	status SectionStatus
	store  EvidenceStore
	audit  AuditSink
	now    func() time.Time
}

// Config wires the Marshall's collaborators.
type Config struct {
	Status SectionStatus
	Store  EvidenceStore
	Audit  AuditSink
}

// New constructs a Marshall.
func New(cfg Config) *Marshall {
	return &Marshall{
		custody: make(map[string][]CustodyEntry),
		checked: make(map[string]string),
		status:  cfg.Status,
		store:   cfg.Store,
		audit:   cfg.Audit,
		now:     time.Now,
	}
}

// Checkout hands out evidence bytes to sectionID, permitted only while ECC
// reports sectionID EXECUTING (spec.md §4.5). Unauthorized checkout raises
// 5-2-52 and is denied.
func (m *Marshall) Checkout(sectionID, evidenceID string) ([]byte, error) {
	executing, err := m.status.IsExecuting(sectionID)
	if err != nil {
		return nil, err
	}
	if !executing {
		return nil, apperrors.NewForbidden(Address+"-52",
			"checkout denied: section "+sectionID+" is not EXECUTING").WithDetails(evidenceID)
	}

	content, err := m.store.Bytes(evidenceID)
	if err != nil {
		return nil, err
	}

	entry := CustodyEntry{SectionID: sectionID, Action: "checkout", Timestamp: m.now()}
	m.mu.Lock()
	m.custody[evidenceID] = append(m.custody[evidenceID], entry)
	m.checked[evidenceID] = sectionID
	m.mu.Unlock()

	if m.audit != nil {
		m.audit.RecordCustody(evidenceID, entry)
	}
	return content, nil
}

// Return records the return of previously checked-out evidence. It is
// valid to call even if the section has since left EXECUTING (the section
// may be returning bytes as part of its own teardown), since the custody
// chain records history rather than gating access.
func (m *Marshall) Return(sectionID, evidenceID, notes string) error {
	m.mu.Lock()
	holder, held := m.checked[evidenceID]
	if !held || holder != sectionID {
		m.mu.Unlock()
		return apperrors.NewForbidden(Address+"-52",
			"return denied: section "+sectionID+" does not hold evidence "+evidenceID)
	}
	delete(m.checked, evidenceID)
	entry := CustodyEntry{SectionID: sectionID, Action: "return", Timestamp: m.now(), Notes: notes}
	m.custody[evidenceID] = append(m.custody[evidenceID], entry)
	m.mu.Unlock()

	if m.audit != nil {
		m.audit.RecordCustody(evidenceID, entry)
	}
	return nil
}

// CustodyChain returns the full checkout/return history for evidenceID.
func (m *Marshall) CustodyChain(evidenceID string) []CustodyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.custody[evidenceID]
	out := make([]CustodyEntry, len(chain))
	copy(out, chain)
	return out
}
