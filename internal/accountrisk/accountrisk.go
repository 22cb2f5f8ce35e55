// Package accountrisk queries the optional business/account risk
// verification service.
package accountrisk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPProvider reads a subject's standing risk score from an external
// verification service. The orchestrator treats any failure as the
// neutral midpoint, never as zero risk.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given service base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type riskResponse struct {
	Score float64 `json:"score"`
}

// AccountRisk implements domain.AccountRiskProvider.
func (p *HTTPProvider) AccountRisk(ctx context.Context, subjectID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/subjects/%s/risk", p.baseURL, url.PathEscape(subjectID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("account risk call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("account risk service returned %d", resp.StatusCode)
	}

	var out riskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode account risk response: %w", err)
	}

	if out.Score < 0 || out.Score > 100 {
		return 0, fmt.Errorf("account risk service returned score %.2f outside [0,100]", out.Score)
	}

	return out.Score, nil
}

// StaticProvider returns a fixed score for every subject. Used in
// single-node deployments without a verification service, and in tests.
type StaticProvider struct {
	Score float64
}

// AccountRisk implements domain.AccountRiskProvider.
func (p *StaticProvider) AccountRisk(ctx context.Context, _ string) (float64, error) {
	return p.Score, nil
}
