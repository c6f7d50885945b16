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

// Package notify mirrors HIGH-severity faults to a user-visible surface
// (spec.md §7: "All faults of severity HIGH are mirrored to the
// user-visible surface"), within the 1s bound asserted by spec.md §8
// invariant 4. Slack is the concrete surface; Mirror is the narrow
// interface the Diagnostic Supervisor depends on so a deployment without
// Slack configured can wire in a no-op.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// Mirror publishes a HIGH-severity fault to whatever user-visible surface
// backs it.
type Mirror interface {
	MirrorFault(ctx context.Context, faultID, originAddress, faultCode, message string) error
}

// Slack mirrors faults as messages on a configured channel via an incoming
// webhook, matching the teacher's `slack-go/slack` dependency.
type Slack struct {
	webhookURL string
	channel    string
}

// NewSlack constructs a Slack mirror. channel is included in the payload
// for deployments whose webhook fans out to multiple channels.
func NewSlack(webhookURL, channel string) *Slack {
	return &Slack{webhookURL: webhookURL, channel: channel}
}

func (s *Slack) MirrorFault(ctx context.Context, faultID, originAddress, faultCode, message string) error {
	msg := slack.WebhookMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf(":rotating_light: HIGH fault `%s` from `%s`: %s", faultCode, originAddress, message),
		Attachments: []slack.Attachment{
			{
				Color: "danger",
				Fields: []slack.AttachmentField{
					{Title: "fault_id", Value: faultID, Short: true},
					{Title: "origin_address", Value: originAddress, Short: true},
					{Title: "fault_code", Value: faultCode, Short: true},
				},
			},
		},
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &msg); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to mirror fault to slack").
			WithFault("notify-60", apperrors.SeverityMedium)
	}
	return nil
}

// Noop is the zero-configuration Mirror used when Slack is disabled.
type Noop struct{}

func (Noop) MirrorFault(ctx context.Context, faultID, originAddress, faultCode, message string) error {
	return nil
}
