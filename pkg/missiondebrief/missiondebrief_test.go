package missiondebrief

import (
	"crypto/ed25519"
	"testing"

	"github.com/caseforge/coordfab/pkg/ecc"
)

func newCompletedGraph(t *testing.T) *ecc.Controller {
	t.Helper()
	c := ecc.New()
	if err := c.RegisterSection("1", nil, 0); err != nil {
		t.Fatalf("RegisterSection 1: %v", err)
	}
	if err := c.RegisterSection("FR", []string{"1"}, 1); err != nil {
		t.Fatalf("RegisterSection FR: %v", err)
	}
	for _, id := range []string{"1", "FR"} {
		if err := c.Prepare(id); err != nil {
			t.Fatalf("Prepare %s: %v", id, err)
		}
		if err := c.Start(id); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
		if err := c.MarkComplete(id, "hash-"+id, "tester"); err != nil {
			t.Fatalf("MarkComplete %s: %v", id, err)
		}
	}
	return c
}

type fakePayloads struct {
	payloads map[string]map[string]interface{}
}

func (f *fakePayloads) Payload(sectionID string) (map[string]interface{}, bool) {
	p, ok := f.payloads[sectionID]
	return p, ok
}

func TestReadyFalseUntilEveryCompletedSection(t *testing.T) {
	c := ecc.New()
	if err := c.RegisterSection("1", nil, 0); err != nil {
		t.Fatalf("RegisterSection: %v", err)
	}
	a := New(Config{Graph: c, Payload: &fakePayloads{}})

	ready, err := a.Ready()
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if ready {
		t.Fatal("expected Ready to be false while section 1 is still IDLE")
	}
}

func TestAssembleRefusesBeforeGraphComplete(t *testing.T) {
	c := ecc.New()
	if err := c.RegisterSection("1", nil, 0); err != nil {
		t.Fatalf("RegisterSection: %v", err)
	}
	a := New(Config{Graph: c, Payload: &fakePayloads{}})

	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if _, err := a.Assemble("case-1", key); err == nil {
		t.Fatal("expected Assemble to refuse an incomplete graph")
	}
}

func TestAssembleProducesVerifiableSignedReport(t *testing.T) {
	c := newCompletedGraph(t)
	a := New(Config{
		Graph: c,
		Payload: &fakePayloads{payloads: map[string]map[string]interface{}{
			"1":  {"narrative": "section one"},
			"FR": {"summary": "final report"},
		}},
	})

	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	rep, err := a.Assemble("case-1", key)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if rep.CaseID != "case-1" {
		t.Fatalf("expected case_id case-1, got %q", rep.CaseID)
	}
	if len(rep.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(rep.Sections))
	}
	if rep.Sections[0].SectionID != "1" || rep.Sections[1].SectionID != "FR" {
		t.Fatalf("expected dependency order [1 FR], got %+v", rep.Sections)
	}
	if len(rep.Digest) != 32 {
		t.Fatalf("expected a 32-byte SHA-256 digest, got %d bytes", len(rep.Digest))
	}
	if !Verify(rep) {
		t.Fatal("expected Verify to succeed on a freshly assembled report")
	}

	rep.Sections[0].Payload["narrative"] = "tampered"
	if Verify(rep) {
		t.Fatal("expected Verify to fail once section contents are tampered with")
	}
}

func TestAssembleRejectsSectionWithoutPublishedPayload(t *testing.T) {
	c := newCompletedGraph(t)
	a := New(Config{
		Graph: c,
		Payload: &fakePayloads{payloads: map[string]map[string]interface{}{
			"1": {"narrative": "section one"},
		}},
	})

	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if _, err := a.Assemble("case-1", key); err == nil {
		t.Fatal("expected Assemble to reject a section with no published payload")
	}
}
