package ecc

import (
	apperrors "github.com/caseforge/coordfab/internal/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// registerCanonicalGraph wires up the §6 canonical section dependency graph:
// CP -> TOC -> 1 -> 2 -> ... -> 8 -> DP -> FR.
func registerCanonicalGraph(c *Controller) {
	sections := []struct {
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
	for _, s := range sections {
		Expect(c.RegisterSection(s.id, s.dependsOn, s.priority)).To(Succeed())
	}
}

var _ = Describe("Controller", func() {
	var c *Controller

	BeforeEach(func() {
		c = New()
	})

	Describe("RegisterSection", func() {
		It("is idempotent for an identical dependency set", func() {
			Expect(c.RegisterSection("TOC", []string{"CP"}, 2)).To(Succeed())
			Expect(c.RegisterSection("TOC", []string{"CP"}, 2)).To(Succeed())
		})

		It("rejects re-registration with a different dependency set", func() {
			Expect(c.RegisterSection("TOC", []string{"CP"}, 2)).To(Succeed())
			err := c.RegisterSection("TOC", []string{"1"}, 2)
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeValidation)).To(BeTrue())
		})

		It("rejects registrations that would close a cycle", func() {
			Expect(c.RegisterSection("A", nil, 1)).To(Succeed())
			Expect(c.RegisterSection("B", []string{"A"}, 2)).To(Succeed())
			err := c.RegisterSection("A", []string{"B"}, 1)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("CanRun", func() {
		BeforeEach(func() {
			registerCanonicalGraph(c)
		})

		It("is true for a section with no dependencies in IDLE", func() {
			ok, err := c.CanRun("CP")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("is false while a dependency is unresolved", func() {
			ok, err := c.CanRun("TOC")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("becomes true once every dependency is COMPLETED", func() {
			Expect(c.Prepare("CP")).To(Succeed())
			Expect(c.Start("CP")).To(Succeed())
			Expect(c.MarkComplete("CP", "hash-cp", "tester")).To(Succeed())

			ok, err := c.CanRun("TOC")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("state machine transitions", func() {
		BeforeEach(func() {
			Expect(c.RegisterSection("CP", nil, 1)).To(Succeed())
		})

		It("walks IDLE -> PREPARING -> EXECUTING -> COMPLETED", func() {
			Expect(c.Prepare("CP")).To(Succeed())
			Expect(c.Start("CP")).To(Succeed())
			Expect(c.MarkComplete("CP", "hash", "tester")).To(Succeed())

			sec, err := c.Get("CP")
			Expect(err).NotTo(HaveOccurred())
			Expect(sec.State).To(Equal(StateCompleted))
			Expect(sec.FrozenPayload).To(Equal("hash"))
		})

		It("rejects skipping a state", func() {
			err := c.Start("CP") // IDLE -> EXECUTING directly, illegal
			Expect(err).To(HaveOccurred())
			sec, _ := c.Get("CP")
			Expect(sec.State).To(Equal(StateIdle))
		})

		It("rejects completing a section that is not EXECUTING", func() {
			err := c.MarkComplete("CP", "hash", "tester")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RequestRevision", func() {
		BeforeEach(func() {
			Expect(c.RegisterSection("6", []string{"5"}, 8)).To(Succeed())
			Expect(c.RegisterSection("5", nil, 7)).To(Succeed())
			Expect(c.Prepare("5")).To(Succeed())
			Expect(c.Start("5")).To(Succeed())
			Expect(c.MarkComplete("5", "h5", "tester")).To(Succeed())
			Expect(c.Prepare("6")).To(Succeed())
			Expect(c.Start("6")).To(Succeed())
		})

		It("accepts a revision within max_reruns", func() {
			Expect(c.RequestRevision("6", "needs another pass", "reviewer")).To(Succeed())
			sec, _ := c.Get("6")
			Expect(sec.State).To(Equal(StateRevisionRequested))
			Expect(sec.RevisionDepth).To(Equal(1))
		})

		It("fails the section once max_reruns is exceeded (scenario E)", func() {
			Expect(c.RequestRevision("6", "first", "reviewer")).To(Succeed())
			Expect(c.Prepare("6")).To(Succeed())
			Expect(c.Start("6")).To(Succeed())
			Expect(c.RequestRevision("6", "second", "reviewer")).To(Succeed())
			Expect(c.Prepare("6")).To(Succeed())
			Expect(c.Start("6")).To(Succeed())

			err := c.RequestRevision("6", "third, over budget", "reviewer")
			Expect(err).To(HaveOccurred())
			appErr, ok := err.(*apperrors.AppError)
			Expect(ok).To(BeTrue())
			Expect(appErr.Severity).To(Equal(apperrors.SeverityHigh))
			Expect(appErr.FaultCode).To(Equal("2-1-53"))

			sec, _ := c.Get("6")
			Expect(sec.State).To(Equal(StateFailed))
		})
	})

	Describe("Reopen", func() {
		BeforeEach(func() {
			Expect(c.RegisterSection("DP", nil, 11)).To(Succeed())
			Expect(c.Prepare("DP")).To(Succeed())
			Expect(c.Fail("DP")).To(Succeed())
		})

		It("returns a FAILED section to IDLE", func() {
			Expect(c.Reopen("DP", "operator1", "manual retry after upstream fix")).To(Succeed())
			sec, _ := c.Get("DP")
			Expect(sec.State).To(Equal(StateIdle))
		})

		It("refuses to reopen a non-FAILED section", func() {
			Expect(c.RegisterSection("FR", nil, 12)).To(Succeed())
			err := c.Reopen("FR", "operator1", "mistaken call")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ExecutionOrder", func() {
		It("produces the canonical dependency order", func() {
			registerCanonicalGraph(c)
			order, err := c.ExecutionOrder()
			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(Equal([]string{
				"CP", "TOC", "1", "2", "3", "4", "5", "6", "7", "8", "DP", "FR",
			}))
		})

		It("breaks ties by priority then lexicographic section_id", func() {
			Expect(c.RegisterSection("B", nil, 1)).To(Succeed())
			Expect(c.RegisterSection("A", nil, 1)).To(Succeed())
			order, err := c.ExecutionOrder()
			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(Equal([]string{"A", "B"}))
		})
	})
})
