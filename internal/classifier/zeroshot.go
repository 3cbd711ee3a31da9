package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"accountscout/internal/model"
	"accountscout/internal/textutil"
)

// HTTPZeroShot calls a zero-shot inference server (BART-MNLI style). The
// server turns each label into an entailment hypothesis via the template and
// returns independent per-label scores.
type HTTPZeroShot struct {
	endpoint   string
	modelName  string
	httpClient *http.Client
}

func NewHTTPZeroShot(endpoint, modelName string) *HTTPZeroShot {
	return &HTTPZeroShot{
		endpoint:   endpoint,
		modelName:  modelName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type zeroShotRequest struct {
	Inputs     []string           `json:"inputs"`
	Model      string             `json:"model,omitempty"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	MultiLabel         bool     `json:"multi_label"`
	HypothesisTemplate string   `json:"hypothesis_template,omitempty"`
}

type zeroShotResult struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

func (z *HTTPZeroShot) Classify(ctx context.Context, texts, labels []string, hypothesisTemplate string) ([]model.Scores, error) {
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = textutil.CleanTweet(t)
	}
	body, err := json.Marshal(zeroShotRequest{
		Inputs: cleaned,
		Model:  z.modelName,
		Parameters: zeroShotParameters{
			CandidateLabels:    labels,
			MultiLabel:         true,
			HypothesisTemplate: hypothesisTemplate,
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("classifier status %d", resp.StatusCode)
	}

	var results []zeroShotResult
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&results); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("classifier returned %d results for %d inputs", len(results), len(texts))
	}
	out := make([]model.Scores, len(results))
	for i, r := range results {
		if len(r.Labels) != len(r.Scores) {
			return nil, fmt.Errorf("classifier result %d: %d labels, %d scores", i, len(r.Labels), len(r.Scores))
		}
		s := make(model.Scores, len(r.Labels))
		for j, l := range r.Labels {
			s[l] = r.Scores[j]
		}
		out[i] = s
	}
	return out, nil
}
