package screener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/types"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

type stubProvider struct {
	report *Report
	err    error
	calls  int
}

func (p *stubProvider) Report(_ context.Context, _ string) (*Report, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.report, nil
}

func defaultPolicy() Policy {
	return Policy{
		AllowMintAuthority:   false,
		AllowFreezeAuthority: false,
		MinLiquiditySol:      10,
		MaxHolderPercent:     30,
		MaxRiskScore:         50,
		NameBlocklist:        []string{"elon", "inu"},
		SymbolBlocklist:      []string{"SCAM"},
	}
}

func cleanReport() *Report {
	return &Report{
		Name:         "Decent Token",
		Symbol:       "DCNT",
		LiquiditySol: 50,
		TopHolders: []Holder{
			{Address: "pool", Percent: 80, IsPool: true},
			{Address: "whale", Percent: 12},
		},
		MarketCount:     3,
		LPProviderCount: 5,
	}
}

func newScreener(t *testing.T, policy Policy, provider ReportProvider) *Screener {
	t.Helper()
	limiter := ratelimit.New(map[string]ratelimit.Window{}, zap.NewNop())
	mc := metrics.NewCollector(prometheus.NewRegistry())
	return New(policy, provider, limiter, mc, zap.NewNop())
}

func candidate() *types.CandidateToken {
	return &types.CandidateToken{
		TokenMint:  solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"),
		PairedMint: types.WrappedSOL,
	}
}

func TestAssessPassesCleanToken(t *testing.T) {
	s := newScreener(t, defaultPolicy(), &stubProvider{report: cleanReport()})

	verdict := s.Assess(context.Background(), candidate())
	require.True(t, verdict.Passed)
	assert.Zero(t, verdict.Score)
	assert.Empty(t, verdict.Reasons)
}

func TestAssessRejectsByPolicy(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Report)
		reason string
	}{
		{"mint_authority", func(r *Report) { r.MintAuthority = true }, ReasonMintAuthority},
		{"freeze_authority", func(r *Report) { r.FreezeAuthority = true }, ReasonFreezeAuthority},
		{"low_liquidity", func(r *Report) { r.LiquiditySol = 2 }, ReasonLowLiquidity},
		{"holder_concentration", func(r *Report) { r.TopHolders[1].Percent = 45 }, ReasonHolderConcentration},
		{"blocked_name", func(r *Report) { r.Name = "Elon Sniper Inu" }, ReasonBlockedName},
		{"blocked_symbol", func(r *Report) { r.Symbol = "SCAM2" }, ReasonBlockedSymbol},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := cleanReport()
			tc.mutate(report)
			s := newScreener(t, defaultPolicy(), &stubProvider{report: report})

			verdict := s.Assess(context.Background(), candidate())
			require.False(t, verdict.Passed)
			assert.Equal(t, []string{tc.reason}, verdict.Reasons)
		})
	}
}

func TestAssessPoolHolderExcluded(t *testing.T) {
	report := cleanReport()
	// The pool holding 80% must not count against concentration.
	report.TopHolders = []Holder{{Address: "pool", Percent: 80, IsPool: true}}
	s := newScreener(t, defaultPolicy(), &stubProvider{report: report})

	assert.True(t, s.Assess(context.Background(), candidate()).Passed)
}

func TestAssessWarningScore(t *testing.T) {
	report := cleanReport()
	report.MarketCount = 1
	report.LPProviderCount = 1

	policy := defaultPolicy()
	policy.MaxRiskScore = 30
	s := newScreener(t, policy, &stubProvider{report: report})

	verdict := s.Assess(context.Background(), candidate())
	require.False(t, verdict.Passed)
	assert.Equal(t, 35, verdict.Score)
	assert.Equal(t, []string{ReasonRiskScore}, verdict.Reasons)
}

func TestAssessShortCircuitsOnAuthority(t *testing.T) {
	report := cleanReport()
	report.MintAuthority = true
	// Holder data that would also fail. The reason must still be the
	// earlier authority check.
	report.TopHolders = []Holder{{Address: "whale", Percent: 99}}
	s := newScreener(t, defaultPolicy(), &stubProvider{report: report})

	verdict := s.Assess(context.Background(), candidate())
	require.False(t, verdict.Passed)
	assert.Equal(t, []string{ReasonMintAuthority}, verdict.Reasons)
}

func TestAssessSingleReportFetch(t *testing.T) {
	provider := &stubProvider{report: cleanReport()}
	s := newScreener(t, defaultPolicy(), provider)

	s.Assess(context.Background(), candidate())
	assert.Equal(t, 1, provider.calls, "one candidate, one report fetch")
}

func TestAssessProviderFailureIsSoftRejection(t *testing.T) {
	s := newScreener(t, defaultPolicy(), &stubProvider{err: errors.New("gateway timeout")})

	verdict := s.Assess(context.Background(), candidate())
	require.False(t, verdict.Passed)
	assert.Equal(t, []string{ReasonUnavailable}, verdict.Reasons)
}

func TestAssessRespectsContextWhileRateLimited(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Window{
		ratelimit.ResourceSafety: {Ceiling: 1, Length: time.Hour},
	}, zap.NewNop())
	require.True(t, limiter.TryAcquire(ratelimit.ResourceSafety))

	mc := metrics.NewCollector(prometheus.NewRegistry())
	provider := &stubProvider{report: cleanReport()}
	s := New(defaultPolicy(), provider, limiter, mc, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	verdict := s.Assess(ctx, candidate())
	require.False(t, verdict.Passed)
	assert.Equal(t, []string{ReasonUnavailable}, verdict.Reasons)
	assert.Zero(t, provider.calls, "no report fetch while the window is shut")
}
