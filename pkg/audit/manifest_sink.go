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

package audit

import (
	"context"

	"github.com/caseforge/coordfab/pkg/manifest"
)

// JSONLSink persists audit events as an append-only JSONL file, the same
// shape as the Locker's evidence manifest and the Diagnostic Supervisor's
// fault vault (spec.md §6 "Persisted artifacts").
type JSONLSink struct {
	w *manifest.Writer
}

// NewJSONLSink opens (or creates) path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	w, err := manifest.Open(path)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{w: w}, nil
}

// Close releases the underlying file handle.
func (s *JSONLSink) Close() error {
	return s.w.Close()
}

func (s *JSONLSink) RecordEvent(ctx context.Context, e Event) error {
	return s.w.Append(e)
}
