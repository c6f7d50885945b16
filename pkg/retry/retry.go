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

// Package retry implements spec.md §7's local-retry propagation policy for
// fault classes 40 (resource unavailable), 60 (external service), 80
// (database), and 93 (network): exponential backoff up to three attempts,
// with a circuit breaker guarding calls to a chronically failing
// collaborator so retries stop making things worse.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// MaxAttempts is the spec.md §7 local-retry ceiling before escalating to
// the repair queue.
const MaxAttempts = 3

var retryableTypes = map[apperrors.ErrorType]bool{
	apperrors.ErrorTypeDatabase:  true,
	apperrors.ErrorTypeNetwork:   true,
	apperrors.ErrorTypeTimeout:   true,
	apperrors.ErrorTypeRateLimit: true,
}

// Retryable reports whether err belongs to one of spec.md §7's local-retry
// classes (40/60/80/93). Non-AppErrors and the report-only/fatal classes
// (31/32/51/52/90/91) are not retryable here.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return retryableTypes[apperrors.GetType(err)]
}

// Policy wraps a named collaborator call with exponential backoff (base
// 100ms, cap 30s, matching the teacher's backoff algorithm) and a circuit
// breaker that opens after five consecutive failures and probes again
// after 30s.
type Policy struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New constructs a Policy for a named external collaborator (e.g.
// "classify.anthropic", "marshall.checkout").
func New(name string) *Policy {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Policy{name: name, cb: cb}
}

// Do runs fn, retrying up to MaxAttempts times with exponential backoff
// (100ms base, 30s cap, matching the teacher's backoff algorithm) while
// fn's error is Retryable and the circuit is closed. It stops immediately
// on a non-retryable error, a tripped breaker, or ctx cancellation.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 30 * time.Second
	eb.Multiplier = 2

	operation := func() (struct{}, error) {
		_, err := p.cb.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return struct{}{}, nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return struct{}{}, backoff.Permanent(
				apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "circuit open for %s", p.name).
					WithFault(p.name+"-60", apperrors.SeverityMedium))
		}
		if !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(eb), backoff.WithMaxTries(MaxAttempts))
	return err
}
