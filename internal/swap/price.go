// internal/swap/price.go
package swap

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/types"
)

// priceProbeAmount is the raw token amount quoted to derive a price.
// Large enough to dodge rounding, small enough not to move the route.
const priceProbeAmount = 1_000_000

// PriceSource derives token prices from aggregator quotes: sell the
// probe amount into SOL and take the lamports-per-raw-unit ratio. The
// same unit convention is used for entry prices, so PnL percentages
// stay consistent.
type PriceSource struct {
	agg         Aggregator
	limiter     *ratelimit.Limiter
	slippageBps int
}

// NewPriceSource creates a quote-backed price source.
func NewPriceSource(agg Aggregator, limiter *ratelimit.Limiter, slippageBps int) *PriceSource {
	return &PriceSource{agg: agg, limiter: limiter, slippageBps: slippageBps}
}

// Price returns mint's price in lamports per raw token unit.
func (p *PriceSource) Price(ctx context.Context, mint solana.PublicKey) (float64, error) {
	if !p.limiter.Acquire(ctx.Done(), ratelimit.ResourceQuote) {
		return 0, ctx.Err()
	}
	quote, err := p.agg.Quote(ctx, mint, types.WrappedSOL, priceProbeAmount, p.slippageBps)
	if err != nil {
		return 0, fmt.Errorf("price quote for %s: %w", mint, err)
	}
	if quote.InAmount == 0 {
		return 0, fmt.Errorf("price quote for %s returned zero input", mint)
	}
	return float64(quote.OutAmount) / float64(quote.InAmount), nil
}
