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

	"github.com/caseforge/coordfab/pkg/marshall"
)

// MarshallObserver adapts a Trail to marshall.AuditSink, so every
// checkout/return custody entry becomes an audit event.
type MarshallObserver struct {
	trail *Trail
}

// NewMarshallObserver wraps trail for wiring into marshall.Config.Audit.
func NewMarshallObserver(trail *Trail) *MarshallObserver {
	return &MarshallObserver{trail: trail}
}

func (o *MarshallObserver) RecordCustody(evidenceID string, entry marshall.CustodyEntry) {
	o.trail.Record(context.Background(), entry.SectionID, "marshall."+entry.Action, evidenceID, map[string]interface{}{
		"notes": entry.Notes,
	})
}
