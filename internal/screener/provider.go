// internal/screener/provider.go
package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const reportTimeout = 10 * time.Second

// HTTPProvider fetches safety reports from a rugcheck-style HTTP API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a provider against baseURL.
func NewHTTPProvider(baseURL string, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: reportTimeout},
		logger:  logger.Named("safety_api"),
	}
}

// reportResponse mirrors the safety API's wire format.
type reportResponse struct {
	TokenMeta struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"tokenMeta"`
	MintAuthority   *string `json:"mintAuthority"`
	FreezeAuthority *string `json:"freezeAuthority"`
	LiquiditySol    float64 `json:"totalMarketLiquidity"`
	TopHolders      []struct {
		Address string  `json:"address"`
		Pct     float64 `json:"pct"`
		IsPool  bool    `json:"isPool"`
	} `json:"topHolders"`
	MarketCount     int `json:"totalMarkets"`
	LPProviderCount int `json:"totalLPProviders"`
}

// Report fetches the safety report for mint.
func (p *HTTPProvider) Report(ctx context.Context, mint string) (*Report, error) {
	url := fmt.Sprintf("%s/v1/tokens/%s/report", p.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("safety report fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("safety API returned %d", resp.StatusCode)
	}

	var body reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	report := &Report{
		Name:            body.TokenMeta.Name,
		Symbol:          body.TokenMeta.Symbol,
		MintAuthority:   body.MintAuthority != nil,
		FreezeAuthority: body.FreezeAuthority != nil,
		LiquiditySol:    body.LiquiditySol,
		MarketCount:     body.MarketCount,
		LPProviderCount: body.LPProviderCount,
	}
	for _, h := range body.TopHolders {
		report.TopHolders = append(report.TopHolders, Holder{
			Address: h.Address,
			Percent: h.Pct,
			IsPool:  h.IsPool,
		})
	}
	return report, nil
}
