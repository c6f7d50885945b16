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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// REST classifies evidence against a third-party classification endpoint
// secured by OAuth2 client-credentials rather than a static API key.
type REST struct {
	httpClient *http.Client
	endpoint   string
}

// NewREST constructs a backend that authenticates to tokenURL with
// clientID/clientSecret and posts classification requests to endpoint. The
// token source transparently refreshes and attaches the bearer token to
// every outgoing request via clientcredentials.Config.Client.
func NewREST(ctx context.Context, tokenURL, clientID, clientSecret, endpoint string) *REST {
	oauthCfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &REST{
		httpClient: oauthCfg.Client(ctx),
		endpoint:   endpoint,
	}
}

type restRequest struct {
	EvidenceID  string   `json:"evidence_id"`
	ContentHash string   `json:"content_hash"`
	Kind        string   `json:"kind"`
	Excerpt     string   `json:"excerpt"`
	Tags        []string `json:"tags"`
}

func (r *REST) Classify(ctx context.Context, in Input) (Result, error) {
	body, err := json.Marshal(restRequest{
		EvidenceID:  in.EvidenceID,
		ContentHash: in.ContentHash,
		Kind:        string(in.Kind),
		Excerpt:     in.Excerpt,
		Tags:        in.Tags,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to encode rest classify request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to build rest classify request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "rest classify call failed").
			WithFault("classify-60", apperrors.SeverityMedium)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to read rest classify response")
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, apperrors.New(apperrors.ErrorTypeNetwork, "rest classifier returned non-200").
			WithDetails(resp.Status).
			WithFault("classify-60", apperrors.SeverityMedium)
	}
	return parseModelResponse(string(raw), in)
}
