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

// Package bus implements the coordination fabric's signal registry and
// router (spec.md §4.2): subscription management, fan-out delivery,
// request/response pairing, and mailbox backpressure. The Bus owns only the
// subscription table and the pending-request map — no domain state.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/signal"
)

// FaultReporter receives faults synthesized by the bus itself (backpressure
// drops, pending-request timeouts). The Diagnostic Supervisor is the
// concrete implementation; the bus only depends on this narrow interface to
// avoid an import cycle.
type FaultReporter interface {
	ReportFault(origin signal.Address, faultCode string, severity apperrors.Severity, context map[string]interface{})
}

// Config tunes mailbox sizing and default request timeout.
type Config struct {
	MailboxDepth   int
	SoftThreshold  int
	DefaultTimeout time.Duration
}

// UnsubscribeFunc removes a subscription when called.
type UnsubscribeFunc func()

// HandlerFunc processes a delivered signal. It runs on the subscriber's own
// dedicated goroutine, so a slow handler only backs up its own mailbox.
type HandlerFunc func(ctx context.Context, s *signal.Signal)

type subscriber struct {
	id      string
	topic   signal.Address
	handler HandlerFunc
	mailbox chan *mailboxEntry
	depth   int64
	done    chan struct{}
}

type mailboxEntry struct {
	sig      *signal.Signal
	critical bool
}

type pendingRequest struct {
	ch            chan *signal.Signal
	timer         *time.Timer
	cancel        context.CancelFunc
	callerAddress signal.Address
	targetAddress signal.Address
}

// Bus is the single shared signal router. Safe for concurrent use.
type Bus struct {
	cfg Config
	log *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	faultMu sync.RWMutex
	fault   FaultReporter
}

// New constructs a Bus with the given tuning.
func New(cfg Config, log *zap.Logger) *Bus {
	if cfg.MailboxDepth <= 0 {
		cfg.MailboxDepth = 1000
	}
	if cfg.SoftThreshold <= 0 || cfg.SoftThreshold > cfg.MailboxDepth {
		cfg.SoftThreshold = cfg.MailboxDepth * 8 / 10
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Bus{
		cfg:         cfg,
		log:         log,
		subscribers: make(map[string]*subscriber),
		pending:     make(map[string]*pendingRequest),
	}
}

// SetFaultReporter wires the Diagnostic Supervisor in after construction,
// avoiding a hard dependency cycle at package-init time.
func (b *Bus) SetFaultReporter(fr FaultReporter) {
	b.faultMu.Lock()
	defer b.faultMu.Unlock()
	b.fault = fr
}

func (b *Bus) reportFault(origin signal.Address, code string, sev apperrors.Severity, ctx map[string]interface{}) {
	b.faultMu.RLock()
	fr := b.fault
	b.faultMu.RUnlock()
	if fr != nil {
		fr.ReportFault(origin, code, sev, ctx)
	}
}

// Subscribe registers handler for topic, which may be an exact address or a
// prefix (spec.md §4.2). Returns an unsubscribe handle.
func (b *Bus) Subscribe(topic signal.Address, handler HandlerFunc) UnsubscribeFunc {
	id := uuid.NewString()
	b.mu.Lock()
	sub := &subscriber{
		id:      id,
		topic:   topic,
		handler: handler,
		mailbox: make(chan *mailboxEntry, b.cfg.MailboxDepth),
		done:    make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go b.drain(sub)

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		close(sub.done)
	}
}

func (b *Bus) drain(sub *subscriber) {
	for {
		select {
		case entry, ok := <-sub.mailbox:
			if !ok {
				return
			}
			atomic.AddInt64(&sub.depth, -1)
			sub.handler(context.Background(), entry.sig)
		case <-sub.done:
			return
		}
	}
}

// Emit fans s out to every subscriber whose topic matches s's target
// address, applying backpressure per spec.md §4.2. Non-blocking from the
// sender's perspective.
func (b *Bus) Emit(s *signal.Signal) {
	b.mu.RLock()
	matches := make([]*subscriber, 0, 4)
	for _, sub := range b.subscribers {
		if s.TargetAddress.MatchesTopic(sub.topic) {
			matches = append(matches, sub)
		}
	}
	b.mu.RUnlock()

	critical := s.RadioCode.IsCritical() || s.SignalType == "evidence.indexed" || s.SignalType == "section.publish"

	for _, sub := range matches {
		b.deliver(sub, s, critical)
	}
}

func (b *Bus) deliver(sub *subscriber, s *signal.Signal, critical bool) {
	depth := atomic.LoadInt64(&sub.depth)
	entry := &mailboxEntry{sig: s, critical: critical}

	if depth < int64(b.cfg.SoftThreshold) {
		b.enqueue(sub, entry)
		return
	}

	if critical {
		// Always delivered; evict oldest LOW-priority entry if at hard cap.
		select {
		case sub.mailbox <- entry:
			atomic.AddInt64(&sub.depth, 1)
		default:
			b.evictOldestLow(sub)
			select {
			case sub.mailbox <- entry:
				atomic.AddInt64(&sub.depth, 1)
			default:
				// Mailbox truly full of critical traffic; nothing safe to evict.
				b.reportFault(sub.topic, string(sub.topic)+"-40", apperrors.SeverityHigh, map[string]interface{}{
					"reason": "mailbox saturated with critical signals",
				})
			}
		}
		return
	}

	// In backpressure and non-critical: drop with a MEDIUM fault.
	b.reportFault(sub.topic, string(sub.topic)+"-40", apperrors.SeverityMedium, map[string]interface{}{
		"dropped_signal_id": s.SignalID,
		"radio_code":        string(s.RadioCode),
		"reason":            "mailbox backpressure",
	})
}

func (b *Bus) enqueue(sub *subscriber, entry *mailboxEntry) {
	select {
	case sub.mailbox <- entry:
		atomic.AddInt64(&sub.depth, 1)
	default:
		// Hit the hard cap between the depth check and the send; treat like backpressure.
		if entry.critical {
			b.evictOldestLow(sub)
			select {
			case sub.mailbox <- entry:
				atomic.AddInt64(&sub.depth, 1)
			default:
			}
			return
		}
		b.reportFault(sub.topic, string(sub.topic)+"-40", apperrors.SeverityMedium, map[string]interface{}{
			"dropped_signal_id": entry.sig.SignalID,
			"reason":            "mailbox full",
		})
	}
}

// evictOldestLow drops the oldest non-critical entry to make room for a
// critical one, per spec.md §4.2's eviction rule.
func (b *Bus) evictOldestLow(sub *subscriber) {
	select {
	case old := <-sub.mailbox:
		atomic.AddInt64(&sub.depth, -1)
		if old.critical {
			// Nothing safe to evict; put it back (best effort) and give up.
			select {
			case sub.mailbox <- old:
				atomic.AddInt64(&sub.depth, 1)
			default:
			}
		}
	default:
	}
}

// Request emits s with response_expected=true and blocks until a matching
// Respond call, ctx cancellation, or s.Timeout elapses (spec.md §4.2).
func (b *Bus) Request(ctx context.Context, s *signal.Signal) (*signal.Signal, error) {
	s.ResponseExpected = true
	if s.Timeout <= 0 {
		s.Timeout = b.cfg.DefaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	ch := make(chan *signal.Signal, 1)

	b.pendingMu.Lock()
	b.pending[s.SignalID] = &pendingRequest{
		ch:            ch,
		cancel:        cancel,
		callerAddress: s.CallerAddress,
		targetAddress: s.TargetAddress,
	}
	b.pendingMu.Unlock()

	b.Emit(s)

	select {
	case resp := <-ch:
		cancel()
		return resp, nil
	case <-reqCtx.Done():
		b.pendingMu.Lock()
		delete(b.pending, s.SignalID)
		b.pendingMu.Unlock()
		cancel()
		if reqCtx.Err() == context.Canceled {
			return nil, apperrors.New(apperrors.ErrorTypeInternal, "request cancelled").
				WithFault(string(s.TargetAddress)+"-93", apperrors.SeverityLow)
		}
		b.reportFault(s.BusAddress, string(b.busFaultAddress())+"-20", apperrors.SeverityMedium, map[string]interface{}{
			"signal_id": s.SignalID,
			"target":    string(s.TargetAddress),
		})
		return nil, apperrors.NewFabricTimeout(string(signal.BusAddress)+"-20", "request to "+string(s.TargetAddress))
	}
}

func (b *Bus) busFaultAddress() signal.Address {
	return signal.BusAddress
}

// Respond completes a pending request keyed by signalID. A respond call for
// an unknown or already-resolved signal_id is a silent no-op (covers both
// "late response after timeout" and "responded twice").
func (b *Bus) Respond(signalID string, response *signal.Signal) {
	b.pendingMu.Lock()
	pr, ok := b.pending[signalID]
	if ok {
		delete(b.pending, signalID)
	}
	b.pendingMu.Unlock()

	if !ok {
		return
	}
	select {
	case pr.ch <- response:
	default:
	}
}

// Cancel cancels an outstanding request, delivering neither a response nor a
// timeout fault — used by the Diagnostic Supervisor's cancellation sweep
// (spec.md §4.6).
func (b *Bus) Cancel(signalID string) bool {
	b.pendingMu.Lock()
	pr, ok := b.pending[signalID]
	if ok {
		delete(b.pending, signalID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	pr.cancel()
	return true
}

// CancelByAddress cancels every outstanding request whose caller or target
// is addr, delivering neither a response nor a timeout fault (spec.md §4.6
// "Cancellation": used when a case resets or a section transitions to
// FAILED). Returns the number of requests cancelled.
func (b *Bus) CancelByAddress(addr signal.Address) int {
	b.pendingMu.Lock()
	var matched []*pendingRequest
	for id, pr := range b.pending {
		if pr.callerAddress == addr || pr.targetAddress == addr {
			matched = append(matched, pr)
			delete(b.pending, id)
		}
	}
	b.pendingMu.Unlock()

	for _, pr := range matched {
		pr.cancel()
	}
	return len(matched)
}

// PendingCount returns the number of outstanding requests, for tests and
// diagnostics.
func (b *Bus) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// MailboxDepth returns the current queued depth for topic's subscribers
// (sum across any subscribers registered on that exact topic), used by
// tests asserting the soft/hard threshold boundary behaviors of §8.
func (b *Bus) MailboxDepth(topic signal.Address) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, sub := range b.subscribers {
		if sub.topic == topic {
			total += atomic.LoadInt64(&sub.depth)
		}
	}
	return int(total)
}
