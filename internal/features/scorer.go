package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPScorer calls a remote inference endpoint with the feature vector
// and reads back a fraud probability. The orchestrator wraps calls in
// a hard timeout; a slow or failed call degrades to probability 0 with
// the unavailability flag set.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPScorer creates a scorer for the given inference endpoint.
func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPScorer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Version  string    `json:"version"`
	Features []float64 `json:"features"`
}

type scoreResponse struct {
	Probability float64 `json:"probability"`
}

// Score implements domain.RiskScorer.
func (s *HTTPScorer) Score(ctx context.Context, features *domain.FeatureVector) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		Version:  features.Version,
		Features: features.Values(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("inference call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("inference endpoint returned %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode inference response: %w", err)
	}

	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("inference endpoint returned probability %.4f outside [0,1]", out.Probability)
	}

	return out.Probability, nil
}

// StubScorer is a deterministic rule-based stand-in behind the same
// interface, for development and tests. It reads the novelty and
// velocity features the way a trained model roughly would.
type StubScorer struct{}

// NewStubScorer creates a stub scorer.
func NewStubScorer() *StubScorer {
	return &StubScorer{}
}

// Score implements domain.RiskScorer deterministically.
func (s *StubScorer) Score(ctx context.Context, f *domain.FeatureVector) (float64, error) {
	p := 0.02 +
		0.30*f.NewCountry +
		0.25*f.NewDevice +
		0.20*f.AmountOverAvg +
		0.15*f.TxLastHourNorm +
		0.10*f.FailedRecent

	if p > 1 {
		p = 1
	}
	return p, nil
}

// FixedScorer always returns the same probability. Test helper for
// exercising the decision machine's probability override.
type FixedScorer struct {
	Probability float64
	Err         error
}

// Score implements domain.RiskScorer.
func (s *FixedScorer) Score(ctx context.Context, _ *domain.FeatureVector) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Probability, nil
}
