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

// Package casecontext wires one case's subsystems together into a single
// root container (spec.md §3 "Case Context"): the evidence manifest
// (pkg/locker), section records (pkg/ecc), the signal bus (pkg/bus), and
// the diagnostic supervisor (pkg/diagnostic). There is exactly one
// CaseContext per case; nothing in this module is a package-level
// singleton, so a process can run several cases concurrently.
package casecontext

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/caseforge/coordfab/pkg/bus"
	"github.com/caseforge/coordfab/pkg/diagnostic"
	"github.com/caseforge/coordfab/pkg/ecc"
	"github.com/caseforge/coordfab/pkg/locker"
)

// ReportType is the case's active report configuration (spec.md §3). It
// influences section configuration but never the dependency graph.
type ReportType string

const (
	ReportInvestigative ReportType = "Investigative"
	ReportSurveillance  ReportType = "Surveillance"
	ReportHybrid        ReportType = "Hybrid"
)

// IsFieldAlias reports whether r is commonly conflated with a "Field"
// report type in upstream intake systems. This is provisional and
// non-authoritative: spec.md §3 treats Investigative, Surveillance, and
// Hybrid as three distinct values, and this helper exists only so that a
// future decision to collapse Field into Surveillance is a one-function
// change rather than a scattered one (spec.md §9 open question).
func (r ReportType) IsFieldAlias() bool {
	return r == ReportSurveillance
}

// Valid reports whether r is one of the three recognized report types.
func (r ReportType) Valid() bool {
	switch r {
	case ReportInvestigative, ReportSurveillance, ReportHybrid:
		return true
	default:
		return false
	}
}

// CaseContext is the root container for one case: it owns the wiring
// between the bus, the section-record controller, the evidence locker, and
// the diagnostic supervisor, plus the case-level metadata spec.md §3
// assigns to it directly (report type, version counter).
//
// CaseContext itself does not own any domain state beyond that metadata —
// each subsystem remains the sole owner of its own records, per spec.md's
// single-writer rules. CaseContext only holds the references and the
// version counter that advances when any of them accept a transition.
type CaseContext struct {
	CaseID string

	Bus        *bus.Bus
	ECC        *ecc.Controller
	Locker     *locker.Locker
	Diagnostic *diagnostic.Supervisor

	reportType atomic.Value // ReportType
	version    int64        // atomic, via sync/atomic functions below
}

// Config gathers everything needed to construct a CaseContext. Callers
// construct the Bus, ECC Controller, Locker, and Diagnostic Supervisor
// themselves (each with their own collaborators) and hand the finished
// instances in here; CaseContext only wires them together, it never
// constructs them on a caller's behalf.
type Config struct {
	CaseID     string
	ReportType ReportType
	Bus        *bus.Bus
	ECC        *ecc.Controller
	Locker     *locker.Locker
	Diagnostic *diagnostic.Supervisor
}

// New assembles a CaseContext from already-constructed subsystems. It sets
// the diagnostic supervisor as the bus's fault reporter and, if log is
// non-nil, logs the case's opening — mirroring the teacher's pattern of a
// thin constructor that wires collaborators without owning their
// lifecycles (callers remain responsible for starting/stopping the bus
// subscriptions and calling Diagnostic.Run/Close).
func New(cfg Config, log *zap.Logger) *CaseContext {
	rt := cfg.ReportType
	if !rt.Valid() {
		rt = ReportInvestigative
	}

	cc := &CaseContext{
		CaseID:     cfg.CaseID,
		Bus:        cfg.Bus,
		ECC:        cfg.ECC,
		Locker:     cfg.Locker,
		Diagnostic: cfg.Diagnostic,
	}
	cc.reportType.Store(rt)

	if cc.Bus != nil && cc.Diagnostic != nil {
		cc.Bus.SetFaultReporter(cc.Diagnostic)
	}

	if log != nil {
		log.Info("case context opened",
			zap.String("case_id", cfg.CaseID),
			zap.String("report_type", string(rt)),
		)
	}
	return cc
}

// ReportType returns the case's current report type.
func (cc *CaseContext) ReportType() ReportType {
	return cc.reportType.Load().(ReportType)
}

// SetReportType updates the case's report type. Valid at any point in the
// case's lifetime; spec.md §3 notes it influences section configuration,
// not the dependency graph, so changing it never touches ECC state.
func (cc *CaseContext) SetReportType(rt ReportType) {
	if !rt.Valid() {
		return
	}
	cc.reportType.Store(rt)
}

// Version returns the case's current version counter.
func (cc *CaseContext) Version() int64 {
	return atomic.LoadInt64(&cc.version)
}

// BumpVersion advances the case's version counter by one and returns the
// new value. Callers invoke this on every accepted state transition
// (spec.md §3: "a monotonically increasing version counter bumped on every
// accepted state transition") — a section transition observed via
// pkg/ecc.TransitionObserver, an evidence ingest, or a gateway publish.
func (cc *CaseContext) BumpVersion() int64 {
	return atomic.AddInt64(&cc.version, 1)
}

// versionObserver adapts CaseContext to ecc.TransitionObserver so every
// accepted section transition bumps the case version automatically,
// without pkg/ecc depending on pkg/casecontext.
type versionObserver struct {
	cc   *CaseContext
	next ecc.TransitionObserver // optional chained observer, e.g. pkg/audit
}

func (v *versionObserver) ObserveTransition(sectionID string, from, to ecc.State, revisionDepth int) {
	v.cc.BumpVersion()
	if v.next != nil {
		v.next.ObserveTransition(sectionID, from, to, revisionDepth)
	}
}

// WatchTransitions wires the CaseContext's version counter into its own
// ECC Controller, optionally chaining an existing observer (typically
// audit.NewECCObserver) so both the version bump and the audit record
// happen from a single Controller.SetObserver call.
func (cc *CaseContext) WatchTransitions(chain ecc.TransitionObserver) {
	if cc.ECC == nil {
		return
	}
	cc.ECC.SetObserver(&versionObserver{cc: cc, next: chain})
}
