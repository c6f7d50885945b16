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

// Package classify defines the pluggable evidence-classification contract
// invoked asynchronously by the Evidence Locker (spec.md §4.3 step 4), with
// a local heuristic backend and three external backends (Anthropic,
// Bedrock, and an OAuth2-secured REST endpoint) behind the same interface so a deployment can swap classifiers by configuration
// alone (internal/config's ClassifyConfig.Backend).
package classify

import (
	"context"
	"strings"
	"time"
)

// Kind mirrors the Evidence Item's kind field (spec.md §3).
type Kind string

const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindText     Kind = "text"
)

// Input is everything a classifier needs: evidence identity, a short text
// excerpt or transcript, and any pre-existing tags. Producing the excerpt
// (via OCR/transcription, both out-of-scope external collaborators per
// spec.md §1) is the caller's job; pkg/locker leaves Excerpt empty, so from
// the Locker a backend sees only the kind, hash and tags.
type Input struct {
	EvidenceID  string
	ContentHash string
	Kind        Kind
	Excerpt     string
	Tags        []string
}

// Result is the classifier's verdict: a label plus the section hints used
// to drive Gateway routing (spec.md §4.3 step 5, §4.4 routing).
type Result struct {
	Classification string
	SectionHints   []string
	Tags           []string
	Confidence     float64
}

// EvidenceClassifier is the external-collaborator contract every backend
// implements. Ctx carries the per-item classification budget (default
// 120s, spec.md §5); a backend must return before it expires or the caller
// treats the call as a timeout (class 20) subject to pkg/retry's policy.
type EvidenceClassifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// UnknownResult is what the Locker falls back to when classification
// exhausts its retries (spec.md §4.3: "the row is marked classified=unknown
// — the system remains operable").
var UnknownResult = Result{Classification: "unknown"}

// Local is a dependency-free heuristic backend: keyword matching over the
// excerpt and kind-based defaults. Used when ClassifyConfig.Backend=="local"
// (the default) or as the zero-configuration fallback in tests.
type Local struct{}

// NewLocal constructs the heuristic backend.
func NewLocal() *Local { return &Local{} }

var keywordRoutes = map[string][]string{
	"invoice":      {"5"},
	"receipt":      {"5"},
	"contract":     {"3"},
	"statement":    {"5"},
	"transcript":   {"4"},
	"interview":    {"4"},
	"surveillance": {"2"},
	"photograph":   {"2"},
}

func (l *Local) Classify(ctx context.Context, in Input) (Result, error) {
	excerpt := strings.ToLower(in.Excerpt)
	var hints []string
	classification := "general"
	for keyword, sections := range keywordRoutes {
		if strings.Contains(excerpt, keyword) {
			hints = append(hints, sections...)
			classification = keyword
		}
	}
	if len(hints) == 0 {
		hints = defaultHintsForKind(in.Kind)
	}
	return Result{
		Classification: classification,
		SectionHints:   dedupeStrings(hints),
		Tags:           in.Tags,
		Confidence:     0.5,
	}, nil
}

func defaultHintsForKind(k Kind) []string {
	switch k {
	case KindImage, KindVideo:
		return []string{"2"}
	case KindAudio:
		return []string{"4"}
	default:
		return []string{"1"}
	}
}

func dedupeStrings(in []string) []string {
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

// Budget is the default per-item classification timeout (spec.md §5).
const Budget = 120 * time.Second
