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

// Package missiondebrief implements Mission Debrief (spec.md §4 table row
// 3-x): narrative assembly, watermarking/signing, and final packaging. It
// assembles every section's frozen payload in dependency order once the
// Final Report (FR) section reaches COMPLETED, computes a digest over the
// assembled bundle, and signs it with a caller-supplied ed25519 key
// (spec.md explicit non-goal: "cryptographic key lifecycle beyond signing a
// finished report with a supplied key" — key generation/rotation is out of
// scope, signing with a handed-in key is not).
package missiondebrief

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"time"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/ecc"
)

// Address is Mission Debrief's own bus address.
const Address = "3-1"

// FinalSectionID is the Final Report section, the one whose COMPLETED
// transition triggers assembly (spec.md §6 dependency table: "FR | DP | 12").
const FinalSectionID = "FR"

// SectionGraph is the narrow view of the Ecosystem Controller Mission
// Debrief needs: the frozen dependency order and each section's state.
type SectionGraph interface {
	ExecutionOrder() ([]string, error)
	Get(sectionID string) (ecc.Section, error)
}

// PayloadSource is the narrow view of the Gateway Mission Debrief needs:
// each section's last-published, frozen payload.
type PayloadSource interface {
	Payload(sectionID string) (map[string]interface{}, bool)
}

// SectionBundle is one section's contribution to the assembled report.
type SectionBundle struct {
	SectionID string                 `json:"section_id"`
	Payload   map[string]interface{} `json:"payload"`
}

// Report is the opaque assembled-and-signed bundle Mission Debrief
// produces. spec.md does not dictate its structure beyond "opaque blob";
// this is this coordinator's own packaging choice.
type Report struct {
	CaseID      string            `json:"case_id"`
	Sections    []SectionBundle   `json:"sections"`
	AssembledAt time.Time         `json:"assembled_at"`
	Digest      []byte            `json:"digest"`
	Signature   []byte            `json:"signature"`
	PublicKey   ed25519.PublicKey `json:"public_key"`
}

// Assembler builds and signs Mission Debrief bundles for one case.
type Assembler struct {
	graph   SectionGraph
	payload PayloadSource
	now     func() time.Time
}

// Config wires the Assembler's collaborators.
type Config struct {
	Graph   SectionGraph
	Payload PayloadSource
}

// New constructs an Assembler.
func New(cfg Config) *Assembler {
	return &Assembler{
		graph:   cfg.Graph,
		payload: cfg.Payload,
		now:     time.Now,
	}
}

// Ready reports whether every section is COMPLETED, i.e. assembly can
// proceed. Mission Debrief is triggered by FR's completion but still
// verifies the whole graph, since FR depending on DP (and transitively
// everything else per spec.md's dependency table) is an invariant this
// package doesn't re-derive — it just checks it held.
func (a *Assembler) Ready() (bool, error) {
	order, err := a.graph.ExecutionOrder()
	if err != nil {
		return false, err
	}
	for _, sectionID := range order {
		sec, err := a.graph.Get(sectionID)
		if err != nil {
			return false, err
		}
		if sec.State != ecc.StateCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Assemble gathers every section's frozen payload in dependency order,
// computes a SHA-256 digest over the canonical JSON encoding, and signs
// that digest with signingKey. Returns a class-31 validation error if any
// section lacks a published payload, and a class-52 forbidden error if the
// graph isn't fully COMPLETED yet.
func (a *Assembler) Assemble(caseID string, signingKey ed25519.PrivateKey) (*Report, error) {
	ready, err := a.Ready()
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, apperrors.NewForbidden(Address+"-52", "cannot assemble report before every section is COMPLETED")
	}

	order, err := a.graph.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	sections := make([]SectionBundle, 0, len(order))
	for _, sectionID := range order {
		payload, ok := a.payload.Payload(sectionID)
		if !ok {
			return nil, apperrors.NewValidationError("section "+sectionID+" has no published payload").
				WithFault(Address+"-31", apperrors.SeverityMedium)
		}
		sections = append(sections, SectionBundle{SectionID: sectionID, Payload: payload})
	}

	rep := &Report{
		CaseID:      caseID,
		Sections:    sections,
		AssembledAt: a.now(),
	}

	digest, err := digestOf(rep)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to compute report digest")
	}
	rep.Digest = digest
	rep.Signature = ed25519.Sign(signingKey, digest)
	rep.PublicKey = signingKey.Public().(ed25519.PublicKey)

	return rep, nil
}

// Verify reports whether rep's signature is valid for rep's own digest and
// recorded public key, and that the recorded digest still matches the
// section contents (catching a bundle tampered with after signing).
func Verify(rep *Report) bool {
	unsigned := &Report{CaseID: rep.CaseID, Sections: rep.Sections, AssembledAt: rep.AssembledAt}
	digest, err := digestOf(unsigned)
	if err != nil {
		return false
	}
	if string(digest) != string(rep.Digest) {
		return false
	}
	return ed25519.Verify(rep.PublicKey, rep.Digest, rep.Signature)
}

// digestOf computes a SHA-256 digest over rep's canonical JSON encoding,
// excluding the digest/signature/public-key fields (which don't exist yet
// at signing time and must never feed back into the hash they're verifying
// against).
func digestOf(rep *Report) ([]byte, error) {
	type canonical struct {
		CaseID      string          `json:"case_id"`
		Sections    []SectionBundle `json:"sections"`
		AssembledAt time.Time       `json:"assembled_at"`
	}
	encoded, err := json.Marshal(canonical{CaseID: rep.CaseID, Sections: rep.Sections, AssembledAt: rep.AssembledAt})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}
