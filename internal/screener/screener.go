// internal/screener/screener.go
package screener

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/types"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

// Rejection reasons surfaced in verdicts and logs.
const (
	ReasonMintAuthority       = "mint_authority"
	ReasonFreezeAuthority     = "freeze_authority"
	ReasonLowLiquidity        = "low_liquidity"
	ReasonHolderConcentration = "holder_concentration"
	ReasonBlockedName         = "blocklisted_name"
	ReasonBlockedSymbol       = "blocklisted_symbol"
	ReasonRiskScore           = "risk_score"
	ReasonUnavailable         = "screener_unavailable"
)

// Warning-tier score contributions.
const (
	scoreFewMarkets     = 20
	scoreFewLPProviders = 15
)

// Policy is the configured screening policy. Checks run in a fixed
// order and short-circuit on the first critical failure.
type Policy struct {
	AllowMintAuthority   bool
	AllowFreezeAuthority bool
	MinLiquiditySol      float64
	MaxHolderPercent     float64
	MaxRiskScore         int
	NameBlocklist        []string
	SymbolBlocklist      []string
}

// Verdict is the outcome of screening one candidate. Computed fresh per
// candidate and never persisted.
type Verdict struct {
	Passed  bool
	Score   int
	Reasons []string
}

// Holder is one entry of a token's holder distribution.
type Holder struct {
	Address string
	Percent float64
	IsPool  bool
}

// Report is the safety data fetched for a candidate token.
type Report struct {
	Name            string
	Symbol          string
	MintAuthority   bool
	FreezeAuthority bool
	LiquiditySol    float64
	TopHolders      []Holder
	MarketCount     int
	LPProviderCount int
}

// ReportProvider fetches the safety report for a mint.
type ReportProvider interface {
	Report(ctx context.Context, mint string) (*Report, error)
}

// Screener evaluates candidates against the policy.
type Screener struct {
	policy   Policy
	provider ReportProvider
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New creates a screener.
func New(policy Policy, provider ReportProvider, limiter *ratelimit.Limiter, mc *metrics.Collector, logger *zap.Logger) *Screener {
	return &Screener{
		policy:   policy,
		provider: provider,
		limiter:  limiter,
		metrics:  mc,
		logger:   logger.Named("screener"),
	}
}

// Assess screens a candidate. A transient provider failure is a soft
// rejection: the candidate is discarded rather than bought blind.
func (s *Screener) Assess(ctx context.Context, cand *types.CandidateToken) *Verdict {
	if !s.limiter.Acquire(ctx.Done(), ratelimit.ResourceSafety) {
		return s.reject(cand, 0, ReasonUnavailable)
	}

	report, err := s.provider.Report(ctx, cand.TokenMint.String())
	if err != nil {
		s.logger.Warn("safety report unavailable, discarding candidate",
			zap.String("token", cand.TokenMint.String()),
			zap.Error(err))
		return s.reject(cand, 0, ReasonUnavailable)
	}

	// Critical checks, in order, short-circuiting.
	if report.MintAuthority && !s.policy.AllowMintAuthority {
		return s.reject(cand, 0, ReasonMintAuthority)
	}
	if report.FreezeAuthority && !s.policy.AllowFreezeAuthority {
		return s.reject(cand, 0, ReasonFreezeAuthority)
	}
	if report.LiquiditySol < s.policy.MinLiquiditySol {
		return s.reject(cand, 0, ReasonLowLiquidity)
	}
	if top := topHolderPercent(report.TopHolders); top > s.policy.MaxHolderPercent {
		return s.reject(cand, 0, ReasonHolderConcentration)
	}
	if matchesBlocklist(report.Name, s.policy.NameBlocklist) {
		return s.reject(cand, 0, ReasonBlockedName)
	}
	if matchesBlocklist(report.Symbol, s.policy.SymbolBlocklist) {
		return s.reject(cand, 0, ReasonBlockedSymbol)
	}

	// Warning tier: accumulate a score instead of rejecting outright.
	score := 0
	if report.MarketCount < 2 {
		score += scoreFewMarkets
	}
	if report.LPProviderCount < 3 {
		score += scoreFewLPProviders
	}
	if score > s.policy.MaxRiskScore {
		return s.reject(cand, score, ReasonRiskScore)
	}

	s.logger.Info("candidate passed screening",
		zap.String("token", cand.TokenMint.String()),
		zap.Int("score", score))
	return &Verdict{Passed: true, Score: score}
}

func (s *Screener) reject(cand *types.CandidateToken, score int, reason string) *Verdict {
	s.metrics.ScreenerRejections.WithLabelValues(reason).Inc()
	s.logger.Info("candidate rejected",
		zap.String("token", cand.TokenMint.String()),
		zap.String("reason", reason),
		zap.Int("score", score))
	return &Verdict{Passed: false, Score: score, Reasons: []string{reason}}
}

// topHolderPercent returns the largest holder share excluding the pool
// itself, which necessarily holds the paired liquidity.
func topHolderPercent(holders []Holder) float64 {
	top := 0.0
	for _, h := range holders {
		if h.IsPool {
			continue
		}
		if h.Percent > top {
			top = h.Percent
		}
	}
	return top
}

func matchesBlocklist(value string, blocklist []string) bool {
	v := strings.ToLower(value)
	for _, blocked := range blocklist {
		if blocked != "" && strings.Contains(v, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}
