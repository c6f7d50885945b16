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

package diagnostic

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/signal"
)

// faultManifestRecord is one line of the fault vault's JSONL persistence.
type faultManifestRecord struct {
	FaultID       string    `json:"fault_id"`
	OriginAddress string    `json:"origin_address"`
	FaultCode     string    `json:"fault_code"`
	Severity      string    `json:"severity"`
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReportFault implements bus.FaultReporter: it records a new FaultRecord in
// the vault, enqueues a repair entry, mirrors HIGH-severity faults to the
// user-visible surface, and persists the event to the fault vault manifest.
func (s *Supervisor) ReportFault(origin signal.Address, faultCode string, severity apperrors.Severity, faultContext map[string]interface{}) {
	rec := &FaultRecord{
		FaultID:       uuid.NewString(),
		OriginAddress: string(origin),
		FaultCode:     faultCode,
		Severity:      severity,
		Context:       faultContext,
		Status:        FaultOpen,
		CreatedAt:     s.now(),
	}

	s.vaultMu.Lock()
	s.vault[rec.FaultID] = rec
	s.enforceVaultCapLocked()
	s.vaultMu.Unlock()

	_ = s.manifestW.Append(faultManifestRecord{
		FaultID:       rec.FaultID,
		OriginAddress: rec.OriginAddress,
		FaultCode:     rec.FaultCode,
		Severity:      string(rec.Severity),
		Event:         "opened",
		Timestamp:     rec.CreatedAt,
	})

	s.enqueueRepair(rec.FaultID, string(origin), faultCode, priorityFor(string(severity)))

	if severity == apperrors.SeverityHigh {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.mirror.MirrorFault(ctx, rec.FaultID, rec.OriginAddress, rec.FaultCode, "fault reported")
		}()
	}
}

// enforceVaultCapLocked evicts LOW-severity open faults, oldest first,
// when the vault exceeds cfg.FaultVaultCap (spec.md §4.6 "Fault vault").
// Callers must hold vaultMu.
func (s *Supervisor) enforceVaultCapLocked() {
	if len(s.vault) <= s.cfg.FaultVaultCap {
		return
	}
	for len(s.vault) > s.cfg.FaultVaultCap {
		var oldestID string
		var oldestAt time.Time
		found := false
		for id, rec := range s.vault {
			if rec.Severity != apperrors.SeverityLow || rec.Status != FaultOpen {
				continue
			}
			if !found || rec.CreatedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = rec.CreatedAt
				found = true
			}
		}
		if !found {
			return // nothing safe to evict
		}
		delete(s.vault, oldestID)
	}
}

// CloseFault marks faultID closed, stamping ClosedAt for the retention
// sweep.
func (s *Supervisor) CloseFault(faultID string) {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	rec, ok := s.vault[faultID]
	if !ok {
		return
	}
	now := s.now()
	rec.Status = FaultClosed
	rec.ClosedAt = &now
}

// MarkUnrepaired marks faultID unrepaired after exhausting repair attempts.
func (s *Supervisor) MarkUnrepaired(faultID string) {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	rec, ok := s.vault[faultID]
	if !ok {
		return
	}
	rec.Status = FaultUnrepaired
}

// Fault returns a snapshot of faultID, if present.
func (s *Supervisor) Fault(faultID string) (FaultRecord, bool) {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	rec, ok := s.vault[faultID]
	if !ok {
		return FaultRecord{}, false
	}
	return *rec, true
}

// Faults returns a snapshot of every fault currently in the vault, for
// pkg/httpapi's read-only fault listing.
func (s *Supervisor) Faults() []FaultRecord {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	out := make([]FaultRecord, 0, len(s.vault))
	for _, rec := range s.vault {
		out = append(out, *rec)
	}
	return out
}

// VaultSize returns the current fault vault size, for tests and metrics.
func (s *Supervisor) VaultSize() int {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	return len(s.vault)
}

// retentionLoop evicts closed faults older than cfg.FaultRetention (spec.md
// §4.6 "Retention: closed faults kept 2 h then evicted").
func (s *Supervisor) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepRetention()
		}
	}
}

func (s *Supervisor) sweepRetention() {
	cutoff := s.now().Add(-s.cfg.FaultRetention)
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	for id, rec := range s.vault {
		if rec.Status == FaultClosed && rec.ClosedAt != nil && rec.ClosedAt.Before(cutoff) {
			delete(s.vault, id)
		}
	}
}

// CancelForAddress sweeps every outstanding bus request owned by addr and
// emits a request_cancelled notice to the requester (spec.md §4.6
// "Cancellation"), used when a case resets or a section transitions to
// FAILED.
func (s *Supervisor) CancelForAddress(addr signal.Address) int {
	n := s.bus.CancelByAddress(addr)
	if n > 0 {
		s.bus.Emit(signal.New(Address, addr, signal.Code10_4, "request_cancelled", map[string]interface{}{
			"address": string(addr),
			"count":   n,
		}))
	}
	return n
}
