// internal/export/journal_test.go
package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/events"
)

func newTestBus(t *testing.T) *events.Bus {
	t.Helper()
	bus := events.NewBus(zap.NewNop(), 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestJournalRecordsTradesAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	bus := newTestBus(t)

	journal, err := NewJournal(path, bus, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, bus.PublishSync(context.Background(), events.TradeExecutedEvent{
		BaseEvent:   events.NewBase(events.TradeExecuted),
		Side:        "buy",
		TokenMint:   "MintAAA",
		InAmount:    100,
		OutAmount:   2000,
		TxSignature: "sig-buy",
	}))
	require.NoError(t, bus.PublishSync(context.Background(), events.PositionClosedEvent{
		BaseEvent:   events.NewBase(events.PositionClosed),
		TokenMint:   "MintAAA",
		PnLPercent:  21.5,
		Reason:      "take_profit",
		TxSignature: "sig-sell",
	}))
	require.NoError(t, journal.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])

	assert.Equal(t, "trade", rows[1][1])
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "MintAAA", rows[1][3])
	assert.Equal(t, "100", rows[1][4])
	assert.Equal(t, "2000", rows[1][5])
	assert.Equal(t, "sig-buy", rows[1][8])

	assert.Equal(t, "position_closed", rows[2][1])
	assert.Equal(t, "21.50", rows[2][6])
	assert.Equal(t, "take_profit", rows[2][7])
}

func TestJournalAppendsWithoutDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	bus := newTestBus(t)

	first, err := NewJournal(path, bus, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, bus.PublishSync(context.Background(), events.TradeExecutedEvent{
		BaseEvent: events.NewBase(events.TradeExecuted),
		Side:      "buy",
		TokenMint: "MintAAA",
	}))
	require.NoError(t, first.Close())

	second, err := NewJournal(path, bus, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, bus.PublishSync(context.Background(), events.TradeExecutedEvent{
		BaseEvent: events.NewBase(events.TradeExecuted),
		Side:      "sell",
		TokenMint: "MintAAA",
	}))
	require.NoError(t, second.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "sell", rows[2][2])
}

func TestJournalIgnoresEventsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	bus := newTestBus(t)

	journal, err := NewJournal(path, bus, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	require.NoError(t, bus.PublishSync(context.Background(), events.TradeExecutedEvent{
		BaseEvent: events.NewBase(events.TradeExecuted),
		Side:      "buy",
		TokenMint: "MintAAA",
	}))

	rows := readRows(t, path)
	assert.Len(t, rows, 1)
}
