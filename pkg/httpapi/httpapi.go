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

// Package httpapi implements the coordination fabric's admin/ingest HTTP
// surface (SPEC_FULL.md §4 supplement: the core spec treats every external
// interaction as bus signals, but a process running this fabric still
// needs an operator-facing window into it). Every handler is narrow: the
// status, fault, evidence-listing and report endpoints only read, while
// evidence intake, reclassify and marshall checkout/return ask a subsystem
// to change state, mirroring the fabric's own single-writer rules: this
// package never mutates Section
// Records or the fault vault directly, it only asks the owning subsystem
// to do so.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// SectionStatus is one section's state, as exposed over /status/{case_id}.
type SectionStatus struct {
	SectionID     string `json:"section_id"`
	State         string `json:"state"`
	RevisionDepth int    `json:"revision_depth"`
}

// CaseStatus is the read-only view of one case returned by /status/{case_id}.
type CaseStatus struct {
	CaseID     string          `json:"case_id"`
	ReportType string          `json:"report_type"`
	Version    int64           `json:"version"`
	Sections   []SectionStatus `json:"sections"`
}

// CaseLookup resolves a case_id to its current status. Satisfied by an
// adapter over pkg/casecontext in the owning process.
type CaseLookup interface {
	Status(caseID string) (CaseStatus, bool)
}

// FaultView is one fault vault entry, as exposed over /faults.
type FaultView struct {
	FaultID       string `json:"fault_id"`
	OriginAddress string `json:"origin_address"`
	FaultCode     string `json:"fault_code"`
	Severity      string `json:"severity"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
}

// FaultLister lists every fault currently in the vault. Satisfied by an
// adapter over *diagnostic.Supervisor.
type FaultLister interface {
	Faults() []FaultView
}

// EvidenceView is one evidence item, as exposed over /evidence.
type EvidenceView struct {
	EvidenceID     string   `json:"evidence_id"`
	Kind           string   `json:"kind"`
	Classification string   `json:"classification"`
	Status         string   `json:"status"`
	Tags           []string `json:"tags"`
}

// EvidenceLister lists every evidence item the Locker holds. Satisfied by
// an adapter over *locker.Locker.
type EvidenceLister interface {
	Evidence() []EvidenceView
}

// IngestRequest is the POST /evidence request body. Content is JSON's
// standard base64 encoding of a []byte field.
type IngestRequest struct {
	Path       string    `json:"path"`
	Content    []byte    `json:"content"`
	Kind       string    `json:"kind"`
	Tags       []string  `json:"tags"`
	CapturedAt time.Time `json:"captured_at"`
}

// Ingester accepts new evidence bytes into the Locker (spec.md §4.3 ingest is the sole entry point for evidence other than a
// direct in-process call). Satisfied by an adapter over *locker.Locker.
type Ingester interface {
	Ingest(ctx context.Context, req IngestRequest) (EvidenceView, error)
}

// Reclassifier re-runs classification for an already-ingested evidence_id,
// the explicit bypass spec.md §4.3 requires for at-most-once classification.
// Satisfied directly by *locker.Locker.
type Reclassifier interface {
	Reclassify(ctx context.Context, evidenceID string) error
}

// CustodyRequest is the shared body shape for /marshall/checkout and
// /marshall/return.
type CustodyRequest struct {
	SectionID  string `json:"section_id"`
	EvidenceID string `json:"evidence_id"`
	Notes      string `json:"notes,omitempty"`
}

// Custodian hands out and reclaims evidence bytes under Marshall custody
// (spec.md §4.5). Satisfied directly by *marshall.Marshall.
type Custodian interface {
	Checkout(sectionID, evidenceID string) ([]byte, error)
	Return(sectionID, evidenceID, notes string) error
}

// ReportProvider assembles and signs the Mission Debrief report on demand
// (spec.md §4 table row 3-x supplement). Satisfied by an adapter over
// *missiondebrief.Assembler bound to one case's ID and signing key.
type ReportProvider interface {
	Report() (interface{}, error)
}

// Config wires the server's collaborators. Any nil field simply makes its
// endpoint return 503, rather than the server refusing to start — an
// operator may run the HTTP surface before every subsystem is wired.
type Config struct {
	Cases       CaseLookup
	Faults      FaultLister
	Evidence    EvidenceLister
	Ingest      Ingester
	Reclassify  Reclassifier
	Custody     Custodian
	Report      ReportProvider
	Log         *zap.Logger
	// AllowedOrigins configures the CORS middleware. Defaults to "*" (the
	// admin surface is assumed to sit behind its own network boundary).
	AllowedOrigins []string
}

// Server is the coordination fabric's HTTP surface.
type Server struct {
	cfg    Config
	router chi.Router
}

// New constructs a Server and registers its routes.
func New(cfg Config) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s := &Server{cfg: cfg, router: r}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status/{case_id}", s.handleStatus)
	r.Get("/faults", s.handleFaults)
	r.Get("/evidence", s.handleEvidence)
	r.Post("/evidence", s.handleIngest)
	r.Post("/evidence/{evidence_id}/reclassify", s.handleReclassify)
	r.Post("/marshall/checkout", s.handleCheckout)
	r.Post("/marshall/return", s.handleReturn)
	r.Get("/report", s.handleReport)

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Cases == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "case lookup not configured"})
		return
	}
	caseID := chi.URLParam(r, "case_id")
	status, ok := s.cfg.Cases.Status(caseID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found: " + caseID})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Faults == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "fault listing not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Faults.Faults())
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Evidence == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "evidence listing not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Evidence.Evidence())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingest == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "evidence ingest not configured"})
		return
	}
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed ingest request: " + err.Error()})
		return
	}
	view, err := s.cfg.Ingest.Ingest(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Reclassify == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reclassify not configured"})
		return
	}
	evidenceID := chi.URLParam(r, "evidence_id")
	if err := s.cfg.Reclassify.Reclassify(r.Context(), evidenceID); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"evidence_id": evidenceID, "status": "reclassify_requested"})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Custody == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "custody not configured"})
		return
	}
	var req CustodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed checkout request: " + err.Error()})
		return
	}
	content, err := s.cfg.Custody.Checkout(req.SectionID, req.EvidenceID)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"evidence_id": req.EvidenceID, "content": content})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Custody == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "custody not configured"})
		return
	}
	var req CustodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed return request: " + err.Error()})
		return
	}
	if err := s.cfg.Custody.Return(req.SectionID, req.EvidenceID, req.Notes); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"evidence_id": req.EvidenceID, "status": "returned"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Report == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "report assembly not configured"})
		return
	}
	rep, err := s.cfg.Report.Report()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
