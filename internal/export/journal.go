// internal/export/journal.go
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/events"
)

// Journal appends every executed trade and closed position to a CSV
// file as it happens. It subscribes to the event bus and needs no
// cooperation from the trading path.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger
	subs   []events.Subscription
}

var csvHeader = []string{
	"timestamp", "record", "side", "token_mint",
	"in_amount", "out_amount", "pnl_percent", "reason", "signature",
}

// NewJournal opens (or creates) the journal file and subscribes to
// trade events. Call Close to flush and detach.
func NewJournal(path string, bus *events.Bus, logger *zap.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	info, statErr := os.Stat(path)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger.Named("journal"),
	}

	if statErr != nil || info.Size() == 0 {
		if err := j.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		j.writer.Flush()
	}

	j.subs = append(j.subs,
		bus.SubscribeFunc(events.TradeExecuted, j.onTrade),
		bus.SubscribeFunc(events.PositionClosed, j.onPositionClosed),
	)
	j.logger.Info("trade journal open", zap.String("path", path))
	return j, nil
}

func (j *Journal) onTrade(_ context.Context, e events.Event) error {
	trade, ok := e.(events.TradeExecutedEvent)
	if !ok {
		return nil
	}
	return j.append([]string{
		trade.Timestamp().UTC().Format(time.RFC3339),
		"trade",
		trade.Side,
		trade.TokenMint,
		strconv.FormatUint(trade.InAmount, 10),
		strconv.FormatUint(trade.OutAmount, 10),
		"",
		"",
		trade.TxSignature,
	})
}

func (j *Journal) onPositionClosed(_ context.Context, e events.Event) error {
	closed, ok := e.(events.PositionClosedEvent)
	if !ok {
		return nil
	}
	return j.append([]string{
		closed.Timestamp().UTC().Format(time.RFC3339),
		"position_closed",
		"",
		closed.TokenMint,
		"",
		"",
		strconv.FormatFloat(closed.PnLPercent, 'f', 2, 64),
		closed.Reason,
		closed.TxSignature,
	})
}

func (j *Journal) append(record []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	if err := j.writer.Write(record); err != nil {
		j.logger.Error("journal write failed", zap.Error(err))
		return err
	}
	j.writer.Flush()
	return j.writer.Error()
}

// Close detaches from the bus and flushes the file.
func (j *Journal) Close() error {
	for _, sub := range j.subs {
		sub.Unsubscribe()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	j.writer.Flush()
	err := j.writer.Error()
	if closeErr := j.file.Close(); err == nil {
		err = closeErr
	}
	j.writer = nil
	return err
}
