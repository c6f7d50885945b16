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

// Command coordinator wires one coordination-fabric process together: the
// bus, the Ecosystem Controller, the Evidence Locker, the Gateway, the
// Marshall, the Diagnostic Supervisor, the audit trail, and the admin HTTP
// surface, all bound to a single CaseContext (spec.md §2/§3).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/caseforge/coordfab/internal/config"
	"github.com/caseforge/coordfab/internal/logging"
	"github.com/caseforge/coordfab/pkg/audit"
	"github.com/caseforge/coordfab/pkg/bus"
	"github.com/caseforge/coordfab/pkg/casecontext"
	"github.com/caseforge/coordfab/pkg/classify"
	"github.com/caseforge/coordfab/pkg/diagnostic"
	"github.com/caseforge/coordfab/pkg/ecc"
	"github.com/caseforge/coordfab/pkg/gateway"
	"github.com/caseforge/coordfab/pkg/httpapi"
	"github.com/caseforge/coordfab/pkg/locker"
	"github.com/caseforge/coordfab/pkg/marshall"
	"github.com/caseforge/coordfab/pkg/metrics"
	"github.com/caseforge/coordfab/pkg/missiondebrief"
	"github.com/caseforge/coordfab/pkg/notify"
	"github.com/caseforge/coordfab/pkg/policy"
	"github.com/caseforge/coordfab/pkg/sectionpool"
	signalpkg "github.com/caseforge/coordfab/pkg/signal"
)

// canonicalSections is the spec.md §6 twelve-section dependency table this
// binary registers with the Ecosystem Controller on every boot: Cover Page,
// Table of Contents, the eight numbered body sections, Disposition, and
// Findings/Recommendations, each depending on the section immediately
// preceding it in report order.
var canonicalSections = []struct {
	id        string
	dependsOn []string
	priority  int
}{
	{"CP", nil, 1},
	{"TOC", []string{"CP"}, 2},
	{"1", []string{"TOC"}, 3},
	{"2", []string{"1"}, 4},
	{"3", []string{"2"}, 5},
	{"4", []string{"3"}, 6},
	{"5", []string{"4"}, 7},
	{"6", []string{"5"}, 8},
	{"7", []string{"6"}, 9},
	{"8", []string{"7"}, 10},
	{"DP", []string{"8"}, 11},
	{"FR", []string{"DP"}, 12},
}

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the coordination fabric's YAML configuration")
	caseID := flag.String("case-id", "default", "case identifier this process coordinates")
	flag.Parse()

	if err := run(*configPath, *caseID); err != nil {
		panic(err)
	}
}

func prometheusRegistry() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func run(configPath, caseID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheusRegistry()
	met := metrics.New(reg)

	b := bus.New(bus.Config{
		MailboxDepth:   cfg.Bus.MailboxDepth,
		SoftThreshold:  cfg.Bus.SoftThreshold,
		DefaultTimeout: cfg.Bus.DefaultTimeout,
	}, logging.ForAddress(log, "bus"))

	controller := ecc.New()
	controller.SetDefaultMaxReruns(cfg.ECC.DefaultMaxReruns)
	for _, sec := range canonicalSections {
		if err := controller.RegisterSection(sec.id, sec.dependsOn, sec.priority); err != nil {
			return err
		}
	}

	var mirror notify.Mirror = notify.Noop{}
	if cfg.Notify.Enabled {
		mirror = notify.NewSlack(cfg.Notify.SlackWebhookURL, cfg.Notify.SlackChannel)
	}

	sup, err := diagnostic.New(diagnostic.Config{
		LivenessInterval:   cfg.Diagnostic.LivenessInterval,
		LivenessTimeout:    cfg.Diagnostic.LivenessTimeout,
		RollcallThrottle:   cfg.Diagnostic.RollcallThrottle,
		FaultVaultCap:      cfg.Diagnostic.FaultVaultCap,
		FaultRetention:     cfg.Diagnostic.FaultRetention,
		RepairQueueSoftCap: cfg.Diagnostic.RepairQueueSoftCap,
		RepairQueueHardCap: cfg.Diagnostic.RepairQueueHardCap,
		RepairWorkers:      cfg.Diagnostic.RepairWorkers,
	}, diagnostic.Deps{
		Bus:       b,
		Log:       logging.ForAddress(log, "diag"),
		Mirror:    mirror,
		FaultPath: cfg.Diagnostic.FaultVaultPath,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	var classifier classify.EvidenceClassifier
	switch cfg.Classify.Backend {
	case "anthropic":
		classifier = classify.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), cfg.Classify.Model)
	case "bedrock":
		bc, err := classify.NewBedrock(ctx, cfg.Classify.Model)
		if err != nil {
			return err
		}
		classifier = bc
	case "rest":
		classifier = classify.NewREST(ctx, cfg.Classify.RestTokenURL,
			os.Getenv("COORDFAB_REST_CLASSIFY_CLIENT_ID"), os.Getenv("COORDFAB_REST_CLASSIFY_CLIENT_SECRET"),
			cfg.Classify.RestEndpoint)
	default:
		classifier = classify.NewLocal()
	}

	router, err := policy.New(ctx, policy.Config{
		RegoPolicyPath: cfg.Routing.RegoPolicyPath,
		JQRules:        cfg.Routing.JQRulesPath,
		Log:            logging.ForAddress(log, "policy"),
	})
	if err != nil {
		return err
	}

	auditSink, err := audit.NewJSONLSink(cfg.Locker.ManifestPath + ".audit")
	if err != nil {
		return err
	}
	defer func() { _ = auditSink.Close() }()
	trail := audit.New(logging.ForAddress(log, "audit"), auditSink)

	evidenceRef := &lockerEvidenceSource{}
	gw := gateway.New(gateway.Config{
		Router:   router,
		Evidence: evidenceRef,
		Graph:    controller,
		Pub:      &busGatewayPublisher{b: b},
	})

	lk, err := locker.New(locker.Config{
		ManifestPath: cfg.Locker.ManifestPath,
		Classifier:   classifier,
		Publisher:    &busEvidencePublisher{b: b},
	})
	if err != nil {
		return err
	}
	defer func() { _ = lk.Close() }()
	evidenceRef.lk = lk

	// The Gateway never receives evidence lifecycle events through a direct
	// call from the Locker; it subscribes on the Locker's own bus address,
	// the same boundary Gateway and Mission Debrief observe ECC through
	// (spec.md §4: "ECC exclusively owns Section Records; Gateway and Mission
	// Debrief observe via subscription").
	b.Subscribe(locker.Address, gw.HandleEvidenceIndexed)

	cc := casecontext.New(casecontext.Config{
		CaseID:     caseID,
		Bus:        b,
		ECC:        controller,
		Locker:     lk,
		Diagnostic: sup,
	}, log)
	cc.WatchTransitions(&busECCObserver{b: b, met: met, next: audit.NewECCObserver(trail)})

	mr := marshall.New(marshall.Config{
		Status: controller,
		Store:  &lockerByteStore{lk: lk},
		Audit:  audit.NewMarshallObserver(trail),
	})

	md := missiondebrief.New(missiondebrief.Config{
		Graph:   controller,
		Payload: gw,
	})

	_, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	workers := make([]sectionpool.Worker, 0, len(canonicalSections))
	for _, sec := range canonicalSections {
		workers = append(workers, sectionpool.NewEchoWorker(sec.id))
	}
	pool := sectionpool.New(sectionpool.Config{
		Graph:            controller,
		Gateway:          gw,
		Workers:          workers,
		Notifier:         b,
		EligibilityTopic: ecc.Address,
	})

	sup.RegisterAddress(signalpkg.BusAddress)
	sup.RegisterAddress(ecc.Address)
	sup.RegisterAddress(locker.Address)
	sup.RegisterAddress(gateway.Address)
	sup.RegisterAddress(marshall.Address)
	sup.RegisterAddress(missiondebrief.Address)

	httpServer := httpapi.New(httpapi.Config{
		Cases:      caseStatusAdapter{cc: cc, graph: controller},
		Faults:     faultListAdapter{sup: sup},
		Evidence:   evidenceListAdapter{lk: lk},
		Ingest:     lockerIngestAdapter{lk: lk},
		Reclassify: lk,
		Custody:    mr,
		Report:     &reportAdapter{md: md, caseID: caseID, signingKey: signingKey},
		Log:        logging.ForAddress(log, "httpapi"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	if err := router.Watch(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	b.Emit(signalpkg.New(signalpkg.BusAddress, signalpkg.BusAddress, signalpkg.Code10_4, "coordinator started", nil))

	return g.Wait()
}

// lockerByteStore adapts *locker.Locker to marshall.EvidenceStore: the
// Marshall only needs evidence bytes by ID, but the Locker's own
// Ingest/VerifyIntegrity contract works off caller-supplied content rather
// than storing it, so this adapter re-reads from disk by the item's
// recorded path.
type lockerByteStore struct {
	lk *locker.Locker
}

func (s *lockerByteStore) Bytes(evidenceID string) ([]byte, error) {
	item, err := s.lk.Get(evidenceID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(item.Path)
}

// caseStatusAdapter adapts a CaseContext plus its ECC Controller to
// httpapi.CaseLookup.
type caseStatusAdapter struct {
	cc    *casecontext.CaseContext
	graph *ecc.Controller
}

func (a caseStatusAdapter) Status(caseID string) (httpapi.CaseStatus, bool) {
	if caseID != a.cc.CaseID {
		return httpapi.CaseStatus{}, false
	}
	sections := a.graph.All()
	out := make([]httpapi.SectionStatus, 0, len(sections))
	for _, s := range sections {
		out = append(out, httpapi.SectionStatus{
			SectionID:     s.SectionID,
			State:         string(s.State),
			RevisionDepth: s.RevisionDepth,
		})
	}
	return httpapi.CaseStatus{
		CaseID:     a.cc.CaseID,
		ReportType: string(a.cc.ReportType()),
		Version:    a.cc.Version(),
		Sections:   out,
	}, true
}

// faultListAdapter adapts *diagnostic.Supervisor to httpapi.FaultLister.
type faultListAdapter struct {
	sup *diagnostic.Supervisor
}

func (a faultListAdapter) Faults() []httpapi.FaultView {
	records := a.sup.Faults()
	out := make([]httpapi.FaultView, 0, len(records))
	for _, r := range records {
		out = append(out, httpapi.FaultView{
			FaultID:       r.FaultID,
			OriginAddress: r.OriginAddress,
			FaultCode:     r.FaultCode,
			Severity:      string(r.Severity),
			Status:        string(r.Status),
			Attempts:      r.Attempts,
		})
	}
	return out
}

// lockerEvidenceSource adapts *locker.Locker to gateway.EvidenceSource. lk
// is filled in after construction since the Gateway is built before the
// Locker; the Locker holds no reference to the Gateway and reaches it only
// through the bus.
type lockerEvidenceSource struct {
	lk *locker.Locker
}

func (s *lockerEvidenceSource) Get(evidenceID string) (gateway.EvidenceView, error) {
	item, err := s.lk.Get(evidenceID)
	if err != nil {
		return gateway.EvidenceView{}, err
	}
	return gateway.EvidenceView{
		EvidenceID:     item.EvidenceID,
		Kind:           string(item.Kind),
		Classification: item.Classification,
		Tags:           item.Tags,
	}, nil
}

// busEvidencePublisher adapts *bus.Bus to locker.EventPublisher. Every
// evidence lifecycle event is emitted targeting the Locker's own address;
// the Gateway never receives these through a direct Go call, only through
// its own Bus.Subscribe(locker.Address, ...) registration (spec.md §4: "ECC
// exclusively owns Section Records; Gateway and Mission Debrief observe via
// subscription", applied symmetrically to the Locker's evidence stream —
// no direct method calls cross a subsystem boundary).
type busEvidencePublisher struct {
	b *bus.Bus
}

func (p *busEvidencePublisher) PublishEvidenceEvent(eventType string, item locker.Item) {
	p.b.Emit(signalpkg.New(locker.Address, locker.Address, signalpkg.Code10_4, eventType, map[string]interface{}{
		"evidence_id": item.EvidenceID,
	}))
}

// busGatewayPublisher adapts *bus.Bus to gateway.Publisher.
type busGatewayPublisher struct {
	b *bus.Bus
}

func (p *busGatewayPublisher) PublishGatewayEvent(eventType, sectionID string, payload map[string]interface{}) {
	p.b.Emit(signalpkg.New(gateway.Address, gateway.Address, signalpkg.Code10_4, eventType, payload))
}

// busECCObserver adapts *bus.Bus to ecc.TransitionObserver, emitting a
// section.transition signal targeting ecc.Address for every accepted
// transition so the Ecosystem Controller's own bus address is a live
// channel rather than a side-channel nothing subscribes through (spec.md §2
// "no direct method calls cross subsystem boundaries"), then chains to next
// (the audit trail observer in run()) so a single
// Controller.SetObserver call still drives every listener.
type busECCObserver struct {
	b    *bus.Bus
	met  *metrics.Metrics
	next ecc.TransitionObserver
}

func (o *busECCObserver) ObserveTransition(sectionID string, from, to ecc.State, revisionDepth int) {
	o.b.Emit(signalpkg.New(ecc.Address, ecc.Address, signalpkg.Code10_4, "section.transition", map[string]interface{}{
		"section_id":     sectionID,
		"from":           string(from),
		"to":             string(to),
		"revision_depth": revisionDepth,
	}))
	if o.met != nil {
		o.met.ObserveSectionTransition(context.Background(), sectionID, string(to))
	}
	if o.next != nil {
		o.next.ObserveTransition(sectionID, from, to, revisionDepth)
	}
}

// lockerIngestAdapter adapts *locker.Locker to httpapi.Ingester.
type lockerIngestAdapter struct {
	lk *locker.Locker
}

func (a lockerIngestAdapter) Ingest(ctx context.Context, req httpapi.IngestRequest) (httpapi.EvidenceView, error) {
	item, err := a.lk.Ingest(ctx, req.Path, req.Content, classify.Kind(req.Kind), req.Tags, req.CapturedAt)
	if err != nil {
		return httpapi.EvidenceView{}, err
	}
	return httpapi.EvidenceView{
		EvidenceID:     item.EvidenceID,
		Kind:           string(item.Kind),
		Classification: item.Classification,
		Status:         string(item.Status),
		Tags:           item.Tags,
	}, nil
}

// reportAdapter adapts *missiondebrief.Assembler to httpapi.ReportProvider,
// binding the one caseID and ed25519 signing key this process was started
// with (spec.md §9 leaves signing-key lifecycle out of scope; this process
// generates an ephemeral key at startup purely to exercise the signing act).
type reportAdapter struct {
	md         *missiondebrief.Assembler
	caseID     string
	signingKey ed25519.PrivateKey
}

func (a *reportAdapter) Report() (interface{}, error) {
	return a.md.Assemble(a.caseID, a.signingKey)
}

// evidenceListAdapter adapts *locker.Locker to httpapi.EvidenceLister.
type evidenceListAdapter struct {
	lk *locker.Locker
}

func (a evidenceListAdapter) Evidence() []httpapi.EvidenceView {
	items := a.lk.All()
	out := make([]httpapi.EvidenceView, 0, len(items))
	for _, it := range items {
		out = append(out, httpapi.EvidenceView{
			EvidenceID:     it.EvidenceID,
			Kind:           string(it.Kind),
			Classification: it.Classification,
			Status:         string(it.Status),
			Tags:           it.Tags,
		})
	}
	return out
}
