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

package classify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

const classifyPrompt = `Classify the evidence excerpt below for an investigative report.
Respond with JSON only: {"classification": string, "section_hints": [string], "confidence": number}.

Excerpt:
%s`

// modelResponse is the JSON shape both remote backends are instructed to return.
type modelResponse struct {
	Classification string   `json:"classification"`
	SectionHints   []string `json:"section_hints"`
	Confidence     float64  `json:"confidence"`
}

func parseModelResponse(raw string, in Input) (Result, error) {
	var mr modelResponse
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "classifier returned malformed JSON").
			WithFault("classify-32", apperrors.SeverityMedium)
	}
	return Result{
		Classification: mr.Classification,
		SectionHints:   dedupeStrings(mr.SectionHints),
		Tags:           in.Tags,
		Confidence:     mr.Confidence,
	}, nil
}

// Anthropic classifies evidence via the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic constructs a backend bound to model (e.g. "claude-sonnet-4-5").
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) Classify(ctx context.Context, in Input) (Result, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(classifyPrompt, in.Excerpt))),
		},
	})
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "anthropic classify call failed").
			WithFault("classify-60", apperrors.SeverityMedium)
	}
	if len(msg.Content) == 0 {
		return Result{}, apperrors.New(apperrors.ErrorTypeInternal, "anthropic returned no content").
			WithFault("classify-60", apperrors.SeverityMedium)
	}
	return parseModelResponse(msg.Content[0].Text, in)
}

// Bedrock classifies evidence via an AWS Bedrock-hosted model.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock constructs a backend bound to modelID (e.g. an Anthropic model
// ARN hosted on Bedrock), loading AWS credentials from the default chain.
func NewBedrock(ctx context.Context, modelID string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeAuth, "failed to load AWS config for bedrock").
			WithFault("classify-10", apperrors.SeverityHigh)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

type bedrockRequestBody struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

func (b *Bedrock) Classify(ctx context.Context, in Input) (Result, error) {
	body, err := json.Marshal(bedrockRequestBody{
		Prompt:    fmt.Sprintf(classifyPrompt, in.Excerpt),
		MaxTokens: 256,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to encode bedrock request")
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "bedrock classify call failed").
			WithFault("classify-60", apperrors.SeverityMedium)
	}
	return parseModelResponse(string(out.Body), in)
}
