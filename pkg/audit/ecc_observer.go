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

	"github.com/caseforge/coordfab/pkg/ecc"
)

// ECCObserver adapts a Trail to ecc.TransitionObserver, so every section
// state transition becomes an audit event.
type ECCObserver struct {
	trail *Trail
}

// NewECCObserver wraps trail for wiring into ecc.Controller.SetObserver.
func NewECCObserver(trail *Trail) *ECCObserver {
	return &ECCObserver{trail: trail}
}

func (o *ECCObserver) ObserveTransition(sectionID string, from, to ecc.State, revisionDepth int) {
	o.trail.Record(context.Background(), ecc.Address, "section.transition", sectionID, map[string]interface{}{
		"from":           string(from),
		"to":             string(to),
		"revision_depth": revisionDepth,
	})
}
