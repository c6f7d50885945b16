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
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"
)

// enqueueRepair admits a repair entry subject to the spec.md §4.6 "Repair
// queue" backpressure policy: soft cap 800 drops incoming LOW entries and
// coalesces MEDIUM entries into a matching existing one by bumping its
// attempt count; hard cap 1000 rejects everything else.
func (s *Supervisor) enqueueRepair(faultID, originAddress, faultCode string, priority Priority) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	depth := s.queue.Len()

	if depth >= s.cfg.RepairQueueSoftCap {
		if priority == PriorityLow {
			if s.log != nil {
				s.log.Warn("repair queue at soft cap, dropping LOW entry",
					zap.String("fault_id", faultID), zap.String("fault_code", faultCode))
			}
			return // dropped with a warning, never queued
		}
		if priority == PriorityMedium {
			for _, e := range s.queue {
				if e.faultCode == faultCode && e.originAddress == originAddress {
					e.attempts++
					return
				}
			}
		}
	}
	if depth >= s.cfg.RepairQueueHardCap {
		return
	}

	s.seq++
	heap.Push(&s.queue, &repairEntry{
		faultID:       faultID,
		originAddress: originAddress,
		faultCode:     faultCode,
		priority:      priority,
		seq:           s.seq,
	})
	s.queueCond.Signal()
}

// QueueDepth returns the current repair queue length, for tests and
// metrics.
func (s *Supervisor) QueueDepth() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.Len()
}

func (s *Supervisor) popRepair(ctx context.Context) *repairEntry {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for s.queue.Len() == 0 {
		if ctx.Err() != nil {
			return nil
		}
		s.queueCond.Wait()
		if ctx.Err() != nil {
			return nil
		}
	}
	return heap.Pop(&s.queue).(*repairEntry)
}

// repairWorker pops entries and dispatches the registered repair routine
// for their fault code. A fault with no registered routine is treated as a
// no-op success (spec.md doesn't mandate built-in repair actions; routines
// are supplied by whichever subsystem owns the fault code).
func (s *Supervisor) repairWorker(ctx context.Context) {
	for {
		entry := s.popRepair(ctx)
		if entry == nil {
			return
		}
		s.attemptRepair(ctx, entry)
	}
}

func (s *Supervisor) attemptRepair(ctx context.Context, entry *repairEntry) {
	rec, ok := s.Fault(entry.faultID)
	if !ok {
		return
	}

	s.repairMu.Lock()
	fn := s.repairFns[entry.faultCode]
	s.repairMu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, rec)
	}

	if err == nil {
		s.CloseFault(entry.faultID)
		return
	}

	entry.attempts++
	if entry.attempts >= maxRepairAttempts {
		s.MarkUnrepaired(entry.faultID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.mirror.MirrorFault(ctx, entry.faultID, entry.originAddress, entry.faultCode, "repair exhausted, escalating SOS")
		}()
		return
	}

	s.queueMu.Lock()
	s.seq++
	entry.seq = s.seq
	heap.Push(&s.queue, entry)
	s.queueCond.Signal()
	s.queueMu.Unlock()
}
