// internal/types/types.go
package types

import (
	"github.com/gagliardetto/solana-go"
)

// WrappedSOL is the mint every pool we act on must be paired against.
var WrappedSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// RaydiumAMMV4 is the liquidity-pool program whose log stream we watch.
var RaydiumAMMV4 = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

// CandidateToken is the result of decoding a pool-creation event. It is
// consumed exactly once by the safety screener.
type CandidateToken struct {
	Signature  string
	TokenMint  solana.PublicKey
	PairedMint solana.PublicKey
	PoolKey    solana.PublicKey
}

// LamportsPerSOL converts between SOL and its smallest unit.
const LamportsPerSOL = 1_000_000_000
