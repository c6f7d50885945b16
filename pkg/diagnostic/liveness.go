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

	"golang.org/x/sync/errgroup"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/signal"
)

const consecutiveMissThreshold = 3

// livenessLoop broadcasts STATUS to every registered address on
// cfg.LivenessInterval and tallies misses (spec.md §4.6 "Liveness").
func (s *Supervisor) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollLiveness(ctx)
		}
	}
}

func (s *Supervisor) registeredAddresses() []signal.Address {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	out := make([]signal.Address, 0, len(s.health))
	for addr := range s.health {
		out = append(out, addr)
	}
	return out
}

func (s *Supervisor) pollLiveness(ctx context.Context) {
	addrs := s.registeredAddresses()
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			s.checkOne(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) checkOne(ctx context.Context, addr signal.Address) {
	sig := signal.New(Address, addr, signal.CodeSTATUS, "liveness check", nil)
	sig.Timeout = s.cfg.LivenessTimeout

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.LivenessTimeout)
	defer cancel()

	_, err := s.bus.Request(reqCtx, sig)

	s.healthMu.Lock()
	h, ok := s.health[addr]
	if !ok {
		h = &healthState{healthy: true}
		s.health[addr] = h
	}
	if err != nil {
		h.consecutiveMisses++
		becameUnhealthy := h.healthy && h.consecutiveMisses >= consecutiveMissThreshold
		if becameUnhealthy {
			h.healthy = false
		}
		s.healthMu.Unlock()
		if becameUnhealthy {
			s.ReportFault(addr, string(addr)+"-20", apperrors.SeverityHigh, map[string]interface{}{
				"reason": "three consecutive missed STATUS responses",
			})
		}
		return
	}
	h.consecutiveMisses = 0
	h.healthy = true
	s.healthMu.Unlock()
}

// Rollcall issues a full ROLLCALL broadcast on behalf of caller, throttled
// to at most once per cfg.RollcallThrottle per originating caller (spec.md
// §4.6 "Rollcall throttle"). Excess attempts are rejected, never queued.
func (s *Supervisor) Rollcall(ctx context.Context, caller signal.Address) ([]signal.Address, error) {
	s.rollcallMu.Lock()
	last, seen := s.lastCall[caller]
	if seen && s.now().Sub(last) < s.cfg.RollcallThrottle {
		s.rollcallMu.Unlock()
		return nil, apperrors.New(apperrors.ErrorTypeRateLimit, "rollcall throttled for "+string(caller)).
			WithFault(Address+"-93", apperrors.SeverityLow)
	}
	s.lastCall[caller] = s.now()
	s.rollcallMu.Unlock()

	addrs := s.registeredAddresses()
	g, gctx := errgroup.WithContext(ctx)
	responded := make(chan signal.Address, len(addrs))
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			sig := signal.New(caller, addr, signal.CodeROLLCALL, "rollcall", nil)
			reqCtx, cancel := context.WithTimeout(gctx, sig.Timeout)
			defer cancel()
			if _, err := s.bus.Request(reqCtx, sig); err == nil {
				responded <- addr
			}
			return nil
		})
	}
	_ = g.Wait()
	close(responded)

	out := make([]signal.Address, 0, len(addrs))
	for addr := range responded {
		out = append(out, addr)
	}
	return out, nil
}
