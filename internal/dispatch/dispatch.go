// Package dispatch implements the SignalDispatcher: persist, notify,
// then enroll with the position watcher, grounded on the original's
// execution/signal_dispatcher.py.
package dispatch

import (
	"context"
	"fmt"

	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/metrics"
	"github.com/mimbot/tradingcore/internal/notify"
	"github.com/mimbot/tradingcore/internal/position"
	"github.com/mimbot/tradingcore/internal/strategy"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tracker is the subset of position.Watcher that Dispatcher depends
// on, so tests can substitute a fake without a real Watcher.
type Tracker interface {
	Track(sig *strategy.Signal, signalID uint) error
}

// Dispatcher persists a Signal, best-effort notifies, then enrolls it
// with the position tracker. A persistence failure aborts the whole
// pipeline (the original's outer try/except has the same effect: if
// _save_to_db raises, notify and track are never reached) so a lost
// DB write never produces a phantom, un-persisted position.
type Dispatcher struct {
	db      *gorm.DB
	sink    notify.Sink
	tracker Tracker
	logger  *zap.Logger

	// onDispatch, if set, is invoked after a signal is persisted and
	// notified, regardless of tracker outcome — used by the API layer
	// to broadcast signal events to websocket clients.
	onDispatch func(*strategy.Signal)
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(gdb *gorm.DB, sink notify.Sink, tracker Tracker, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{db: gdb, sink: sink, tracker: tracker, logger: logger}
}

// OnDispatch registers a callback invoked after every successfully
// persisted and notified signal.
func (d *Dispatcher) OnDispatch(fn func(*strategy.Signal)) {
	d.onDispatch = fn
}

// Dispatch persists sig, notifies, and enrolls it with the tracker.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *strategy.Signal) error {
	signalID, err := d.persist(ctx, sig)
	if err != nil {
		d.logger.Warn("dispatch_failed",
			zap.String("symbol", sig.Symbol), zap.Error(err))
		return fmt.Errorf("persisting signal: %w", err)
	}

	if d.sink != nil {
		text := fmt.Sprintf("%s signal: %s entry=%.6f tp=%.6f sl=%.6f spike=%.2fx",
			sig.Symbol, sig.Side, sig.EntryPrice, sig.TPPrice, sig.SLPrice, sig.SpikeRatio)
		d.sink.Send(ctx, text)
	}

	metrics.SignalsDispatchedTotal.WithLabelValues(sig.Symbol, string(sig.Side)).Inc()

	if d.onDispatch != nil {
		d.onDispatch(sig)
	}

	if err := d.tracker.Track(sig, signalID); err != nil {
		d.logger.Warn("watcher_track_failed",
			zap.String("symbol", sig.Symbol), zap.Error(err))
		return fmt.Errorf("tracking signal: %w", err)
	}

	return nil
}

// SendNotification is a pass-through for orchestrator-level
// announcements (startup/shutdown messages) that don't originate from
// a Signal.
func (d *Dispatcher) SendNotification(ctx context.Context, text string) {
	if d.sink != nil {
		d.sink.Send(ctx, text)
	}
}

func (d *Dispatcher) persist(ctx context.Context, sig *strategy.Signal) (uint, error) {
	record := &db.SignalRecord{
		Symbol:     sig.Symbol,
		Side:       string(sig.Side),
		EntryPrice: sig.EntryPrice,
		TPPrice:    sig.TPPrice,
		SLPrice:    sig.SLPrice,
		SpikeRatio: sig.SpikeRatio,
		CreatedAt:  sig.Timestamp,
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("creating signal record: %w", err)
		}

		snapshot := &db.MarketSnapshot{
			SignalID:      record.ID,
			EMAFastValue:  sig.EMAFastValue,
			EMASlowValue:  sig.EMASlowValue,
			CurrentVolume: sig.CurrentVolume,
			AvgVolume:     sig.AvgVolume,
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return fmt.Errorf("creating market snapshot: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return record.ID, nil
}

var _ Tracker = (*position.Watcher)(nil)
