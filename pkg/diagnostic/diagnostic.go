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

// Package diagnostic implements the Diagnostic Supervisor (spec.md §4.6):
// cross-cutting liveness polling, rollcall throttling, the fault vault, the
// priority repair queue and its worker pool, and the cancellation sweep
// that follows a case reset or a section's transition to FAILED.
package diagnostic

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/manifest"
	"github.com/caseforge/coordfab/pkg/notify"
	"github.com/caseforge/coordfab/pkg/signal"
)

// Address is the Diagnostic Supervisor's own bus address.
const Address = "diag"

const maxRepairAttempts = 3

// SignalBus is the narrow slice of *bus.Bus the supervisor needs: issuing
// liveness/rollcall requests, fanning out cancellation notices, and
// sweeping pending requests owned by an address. Defined here rather than
// imported from pkg/bus to keep the dependency direction bus -> (nothing),
// diagnostic -> bus one-way, with *bus.Bus satisfying this by method set.
type SignalBus interface {
	Request(ctx context.Context, s *signal.Signal) (*signal.Signal, error)
	Emit(s *signal.Signal)
	CancelByAddress(addr signal.Address) int
}

// FaultStatus is a FaultRecord's lifecycle state.
type FaultStatus string

const (
	FaultOpen       FaultStatus = "open"
	FaultClosed     FaultStatus = "closed"
	FaultUnrepaired FaultStatus = "unrepaired"
)

// FaultRecord is the spec.md §3 Fault Record.
type FaultRecord struct {
	FaultID       string                 `json:"fault_id"`
	OriginAddress string                 `json:"origin_address"`
	FaultCode     string                 `json:"fault_code"`
	Severity      apperrors.Severity     `json:"severity"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Status        FaultStatus            `json:"status"`
	Attempts      int                    `json:"attempts"`
	CreatedAt     time.Time              `json:"created_at"`
	ClosedAt      *time.Time             `json:"closed_at,omitempty"`
}

// RepairFunc attempts to repair the condition a fault describes. A nil
// error marks the fault closed; a non-nil error requeues it (up to
// maxRepairAttempts) before it is marked unrepaired and escalated.
type RepairFunc func(ctx context.Context, f FaultRecord) error

type healthState struct {
	consecutiveMisses int
	healthy           bool
}

// Config tunes the supervisor, mirroring internal/config.DiagnosticConfig.
type Config struct {
	LivenessInterval   time.Duration
	LivenessTimeout    time.Duration
	RollcallThrottle   time.Duration
	FaultVaultCap      int
	FaultRetention     time.Duration
	RepairQueueSoftCap int
	RepairQueueHardCap int
	RepairWorkers      int
}

func (c *Config) applyDefaults() {
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 30 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 15 * time.Second
	}
	if c.RollcallThrottle <= 0 {
		c.RollcallThrottle = 30 * time.Second
	}
	if c.FaultVaultCap <= 0 {
		c.FaultVaultCap = 2000
	}
	if c.FaultRetention <= 0 {
		c.FaultRetention = 2 * time.Hour
	}
	if c.RepairQueueSoftCap <= 0 {
		c.RepairQueueSoftCap = 800
	}
	if c.RepairQueueHardCap <= 0 {
		c.RepairQueueHardCap = 1000
	}
	if c.RepairWorkers <= 0 {
		c.RepairWorkers = 4
	}
}

// Supervisor is the Diagnostic Supervisor. Safe for concurrent use.
type Supervisor struct {
	cfg Config
	log *zap.Logger
	bus SignalBus

	manifestW *manifest.Writer
	mirror    notify.Mirror

	healthMu sync.Mutex
	health   map[signal.Address]*healthState

	rollcallMu sync.Mutex
	lastCall   map[signal.Address]time.Time

	vaultMu sync.Mutex
	vault   map[string]*FaultRecord

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     repairHeap
	seq       int64

	repairMu  sync.Mutex
	repairFns map[string]RepairFunc

	now func() time.Time
}

// Deps wires the supervisor's collaborators.
type Deps struct {
	Bus       SignalBus
	Log       *zap.Logger
	Mirror    notify.Mirror
	FaultPath string
}

// New constructs a Supervisor. Callers must call Run to start its
// background loops.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	cfg.applyDefaults()
	mirror := deps.Mirror
	if mirror == nil {
		mirror = notify.Noop{}
	}
	w, err := manifest.Open(deps.FaultPath)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg,
		log:       deps.Log,
		bus:       deps.Bus,
		manifestW: w,
		mirror:    mirror,
		health:    make(map[signal.Address]*healthState),
		lastCall:  make(map[signal.Address]time.Time),
		vault:     make(map[string]*FaultRecord),
		repairFns: make(map[string]RepairFunc),
		now:       time.Now,
	}
	s.queueCond = sync.NewCond(&s.queueMu)
	heap.Init(&s.queue)
	return s, nil
}

// Close releases the fault vault's manifest handle.
func (s *Supervisor) Close() error {
	return s.manifestW.Close()
}

// RegisterAddress enrolls addr in the liveness roll, marked healthy.
func (s *Supervisor) RegisterAddress(addr signal.Address) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.health[addr] = &healthState{healthy: true}
}

// RegisterRepair wires a repair routine for the given fault code.
func (s *Supervisor) RegisterRepair(faultCode string, fn RepairFunc) {
	s.repairMu.Lock()
	defer s.repairMu.Unlock()
	s.repairFns[faultCode] = fn
}

// IsHealthy reports addr's last-known liveness.
func (s *Supervisor) IsHealthy(addr signal.Address) bool {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	h, ok := s.health[addr]
	return ok && h.healthy
}

// Run starts the liveness loop, the fault vault retention sweep, and the
// repair worker pool. It blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.livenessLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.retentionLoop(ctx)
		return nil
	})
	for i := 0; i < s.cfg.RepairWorkers; i++ {
		g.Go(func() error {
			s.repairWorker(ctx)
			return nil
		})
	}

	<-ctx.Done()
	s.queueCond.Broadcast() // wake any workers blocked on an empty queue
	return g.Wait()
}
