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

// Package manifest implements the append-only JSON-lines log shared by the
// Evidence Locker's manifest and the Diagnostic Supervisor's fault vault
// persistence (spec.md §6 "Persisted artifacts"). One record per line;
// nothing is ever rewritten or pruned in place.
package manifest

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/go-faster/jx"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// Writer appends JSON-encoded records to a single file, one per line.
// Safe for concurrent use; all writers share one mutex and one *os.File
// handle so interleaved Append calls never interleave partial lines.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the JSONL file at path for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "failed to open manifest file: %s", path)
	}
	return &Writer{file: f}, nil
}

// Append serializes record as one JSON line and appends it, fsync-free
// (durability beyond the OS page cache is the owning component's concern,
// not this package's).
func (w *Writer) Append(record interface{}) error {
	line, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal manifest record")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to append manifest record")
	}
	return nil
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll passes every record in the file at path to fn, in append order.
// A missing file is treated as an empty manifest, not an error.
func ReadAll(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "failed to open manifest file: %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		// A process killed mid-Append can leave a truncated trailing line; jx's
		// validator is cheap enough to run on every record and catches this
		// before fn ever sees malformed JSON (a plain unmarshal error wouldn't
		// distinguish "corrupt record" from "caller's fn rejected this record").
		if !jx.Valid(cp) {
			continue
		}
		if err := fn(cp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "failed to read manifest file: %s", path)
	}
	return nil
}
