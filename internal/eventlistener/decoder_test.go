// internal/eventlistener/decoder_test.go
package eventlistener

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/solsniper/internal/pipeline"
	"github.com/sniperlabs/solsniper/internal/types"
)

func TestDecodeNotification(t *testing.T) {
	valid := []byte(`{"result":{"context":{"slot":9},"value":{"signature":"abc","err":null,"logs":["a","b"]}},"subscription":1}`)
	value, err := decodeNotification(valid)
	require.NoError(t, err)
	assert.Equal(t, "abc", value.Signature)
	assert.Nil(t, value.Err)
	assert.Equal(t, []string{"a", "b"}, value.Logs)

	_, err = decodeNotification([]byte(`{"result":{"value":{"err":null,"logs":["a"]}}}`))
	assert.Error(t, err, "missing signature")

	_, err = decodeNotification([]byte(`{"result":{"value":{"signature":"abc","err":null}}}`))
	assert.Error(t, err, "missing logs")

	_, err = decodeNotification([]byte(`{broken`))
	assert.Error(t, err)
}

// candidateEvent builds a queued event whose payload carries the given
// mint pair at the instruction's account positions.
func candidateEvent(t *testing.T, coinMint, pcMint solana.PublicKey, logs []string) (*pipeline.Event, solana.PublicKey) {
	t.Helper()

	pool := solana.NewWallet().PublicKey()
	accounts := make([]string, pcMintIndex+2)
	for i := range accounts {
		accounts[i] = solana.NewWallet().PublicKey().String()
	}
	accounts[poolAccountIndex] = pool.String()
	accounts[coinMintIndex] = coinMint.String()
	accounts[pcMintIndex] = pcMint.String()

	quoted, err := json.Marshal(accounts)
	require.NoError(t, err)
	logsJSON, err := json.Marshal(logs)
	require.NoError(t, err)

	raw := fmt.Sprintf(
		`{"result":{"context":{"slot":1},"value":{"signature":"sig","err":null,"logs":%s,"accounts":%s}},"subscription":1}`,
		logsJSON, quoted)

	return &pipeline.Event{
		ID:   "sig",
		Logs: logs,
		Raw:  json.RawMessage(raw),
	}, pool
}

func TestDecodeCandidateCoinSideSol(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	logs := []string{"Program log: initialize2: InitializeInstruction2"}
	ev, pool := candidateEvent(t, types.WrappedSOL, token, logs)

	cand, err := DecodeCandidate(ev)
	require.NoError(t, err)
	assert.Equal(t, token, cand.TokenMint)
	assert.Equal(t, types.WrappedSOL, cand.PairedMint)
	assert.Equal(t, pool, cand.PoolKey)
	assert.Equal(t, "sig", cand.Signature)
}

func TestDecodeCandidatePcSideSol(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	logs := []string{"Program log: initialize2"}
	ev, _ := candidateEvent(t, token, types.WrappedSOL, logs)

	cand, err := DecodeCandidate(ev)
	require.NoError(t, err)
	assert.Equal(t, token, cand.TokenMint)
}

func TestDecodeCandidateNotSolPair(t *testing.T) {
	logs := []string{"Program log: initialize2"}
	ev, _ := candidateEvent(t, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), logs)

	_, err := DecodeCandidate(ev)
	assert.ErrorIs(t, err, ErrNotSolPair)
}

func TestDecodeCandidateNoInitMarker(t *testing.T) {
	logs := []string{"Program log: Instruction: Swap"}
	ev, _ := candidateEvent(t, types.WrappedSOL, solana.NewWallet().PublicKey(), logs)

	_, err := DecodeCandidate(ev)
	assert.ErrorIs(t, err, ErrNotPoolCreation)
}

func TestDecodeCandidateTooFewAccounts(t *testing.T) {
	ev := &pipeline.Event{
		ID:   "sig",
		Logs: []string{"initialize2"},
		Raw: json.RawMessage(
			`{"result":{"value":{"signature":"sig","err":null,"logs":["initialize2"],"accounts":["` +
				solana.NewWallet().PublicKey().String() + `"]}},"subscription":1}`),
	}
	_, err := DecodeCandidate(ev)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "accounts"))
}

func TestDecodeCandidateBadPayload(t *testing.T) {
	ev := &pipeline.Event{
		ID:   "sig",
		Logs: []string{"initialize2"},
		Raw:  json.RawMessage(`{broken`),
	}
	_, err := DecodeCandidate(ev)
	assert.Error(t, err)
}
