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

// Package policy supplies the classification→section routing table
// referenced but never enumerated in spec.md (§9 open question): a Rego
// bundle evaluated by OPA, with an optional gojq predicate layer for
// per-case overrides supplied as configuration rather than hard-coded. The
// Rego bundle is hot-reloadable: an operator edits the policy file on disk
// and Watch picks up the change without a process restart, the same
// fsnotify-driven pattern the teacher repo's severity/credential hot-reload
// paths use for ConfigMap-mounted policy files.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/itchyny/gojq"
	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// Input is the evaluation input: the same shape pkg/classify.Input/Result
// distills evidence down to, since the routing table fans off kind,
// classification, and tags (spec.md §4.4).
type Input struct {
	Kind           string   `json:"kind"`
	Classification string   `json:"classification"`
	Tags           []string `json:"tags"`
}

// Router resolves Input to the set of section_ids that should receive the
// evidence (spec.md §4.4 "Routing").
type Router struct {
	mu     sync.RWMutex
	query  rego.PreparedEvalQuery
	filter *gojq.Code

	path    string
	jqExpr  string
	log     *zap.Logger
	watcher *fsnotify.Watcher
}

// Config points at the externally-supplied routing artifacts.
type Config struct {
	// RegoPolicyPath is a Rego module exposing `data.routing.sections` as a
	// set or array of section_id strings given an Input document.
	RegoPolicyPath string
	// JQRules is an optional gojq expression applied to the OPA result for
	// ad-hoc filtering (e.g. case-specific exclusions) without touching the
	// Rego bundle. Empty means no filter.
	JQRules string
	// Log receives a line every time the Rego bundle is reloaded from disk.
	// Nil disables logging but not reloading itself.
	Log *zap.Logger
}

// New loads and prepares the routing policy for repeated evaluation.
func New(ctx context.Context, cfg Config) (*Router, error) {
	if cfg.RegoPolicyPath == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "routing policy path is required").
			WithFault("2-2-31", apperrors.SeverityMedium)
	}

	r := &Router{path: cfg.RegoPolicyPath, jqExpr: cfg.JQRules, log: cfg.Log}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// reload re-prepares the Rego query and jq filter from disk, swapping them
// in under the write lock so concurrent Resolve calls never observe a
// half-updated policy.
func (r *Router) reload(ctx context.Context) error {
	pq, err := rego.New(
		rego.Query("data.routing.sections"),
		rego.Load([]string{r.path}, nil),
	).PrepareForEval(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to prepare routing policy").
			WithFault("2-2-01", apperrors.SeverityHigh)
	}

	var filter *gojq.Code
	if r.jqExpr != "" {
		query, err := gojq.Parse(r.jqExpr)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to parse jq routing rules").
				WithFault("2-2-01", apperrors.SeverityHigh)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "failed to compile jq routing rules").
				WithFault("2-2-01", apperrors.SeverityHigh)
		}
		filter = code
	}

	r.mu.Lock()
	r.query = pq
	r.filter = filter
	r.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on the Rego policy file and reloads it on
// every write, until ctx is cancelled. A deployment that edits the
// ConfigMap-mounted policy file in place (the usual Kubernetes pattern)
// never needs to restart this process for a routing change to take effect.
func (r *Router) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to start routing policy watcher")
	}
	if err := w.Add(r.path); err != nil {
		_ = w.Close()
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to watch routing policy file").
			WithDetails(r.path)
	}
	r.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(ctx); err != nil {
					if r.log != nil {
						r.log.Error("routing policy reload failed", zap.Error(err), zap.String("path", r.path))
					}
					continue
				}
				if r.log != nil {
					r.log.Info("routing policy reloaded", zap.String("path", r.path))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if r.log != nil {
					r.log.Error("routing policy watcher error", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Resolve evaluates the routing policy against in and returns the ordered,
// deduplicated set of section IDs that should receive this evidence.
func (r *Router) Resolve(ctx context.Context, in Input) ([]string, error) {
	input := map[string]interface{}{
		"kind":           in.Kind,
		"classification": in.Classification,
		"tags":           in.Tags,
	}

	r.mu.RLock()
	query := r.query
	filter := r.filter
	r.mu.RUnlock()

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "routing policy evaluation failed").
			WithFault("2-2-30", apperrors.SeverityMedium)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	sections, err := toStringSlice(rs[0].Expressions[0].Value)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		return dedupe(sections), nil
	}

	filtered, err := applyFilter(filter, sections)
	if err != nil {
		return nil, err
	}
	return dedupe(filtered), nil
}

func applyFilter(filter *gojq.Code, sections []string) ([]string, error) {
	iter := filter.Run(sections)
	var out []string
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "jq routing filter failed").
				WithFault("2-2-30", apperrors.SeverityMedium)
		}
		s, err := toStringSlice(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	switch vv := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, apperrors.New(apperrors.ErrorTypeInternal, "routing policy returned a non-string section id")
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return vv, nil
	default:
		return nil, fmt.Errorf("unexpected routing policy result shape: %T", v)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
