// Package position implements the virtual position watcher: paper
// TP/SL/timeout tracking against live prices, grounded on the
// original's execution/position_watcher.py.
package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/metrics"
	"github.com/mimbot/tradingcore/internal/notify"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/pkg/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VirtualPosition is the live monitoring record created by Track and
// destroyed on exit. At most one exists per symbol at any time.
type VirtualPosition struct {
	SignalID  uint
	Symbol    string
	Side      types.Side
	Entry     float64
	TP        float64
	SL        float64
	OpenedAt  time.Time
}

// CloseEvent describes a position's exit, passed to the OnClose callback.
type CloseEvent struct {
	Position    VirtualPosition
	ClosePrice  float64
	CloseReason types.CloseReason
	PnLPercent  float64
	ClosedAt    time.Time
}

// Watcher tracks virtual positions and closes them against live
// prices read from the MemoryStore. Track rejects duplicate
// enrollment for a symbol already held, which is safe because the
// orchestrator already filters scanned symbols through TrackedSymbols.
type Watcher struct {
	mu        sync.Mutex
	positions map[string]*VirtualPosition
	running   bool

	store        *store.MemoryStore
	db           *gorm.DB
	sink         notify.Sink
	logger       *zap.Logger
	tickInterval time.Duration
	timeStop     time.Duration

	// onClose, if set, is invoked after every position exit — used by
	// the API layer to broadcast close events to websocket clients.
	onClose func(CloseEvent)
}

// OnClose registers a callback invoked after every position exit.
func (w *Watcher) OnClose(fn func(CloseEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = fn
}

// Positions returns a defensive-copy snapshot of all currently tracked
// virtual positions, used by the read-only API surface.
func (w *Watcher) Positions() []VirtualPosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]VirtualPosition, 0, len(w.positions))
	for _, p := range w.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// NewWatcher builds a Watcher. tickInterval is trade_control_seconds;
// timeStop is time_stop_hours.
func NewWatcher(s *store.MemoryStore, gdb *gorm.DB, sink notify.Sink, logger *zap.Logger, tickInterval, timeStop time.Duration) *Watcher {
	return &Watcher{
		positions:    make(map[string]*VirtualPosition),
		store:        s,
		db:           gdb,
		sink:         sink,
		logger:       logger,
		tickInterval: tickInterval,
		timeStop:     timeStop,
	}
}

// Track enrolls a new virtual position for signal. It returns an
// error if symbol is already tracked.
func (w *Watcher) Track(sig *strategy.Signal, signalID uint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.positions[sig.Symbol]; exists {
		return fmt.Errorf("position: %s is already tracked", sig.Symbol)
	}

	w.positions[sig.Symbol] = &VirtualPosition{
		SignalID: signalID,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Entry:    sig.EntryPrice,
		TP:       sig.TPPrice,
		SL:       sig.SLPrice,
		OpenedAt: sig.Timestamp,
	}
	metrics.PositionsOpen.Inc()
	return nil
}

// TrackedSymbols returns the sorted set of symbols currently held,
// used by the orchestrator to avoid re-signalling a held symbol.
func (w *Watcher) TrackedSymbols() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.positions))
	for sym := range w.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run ticks every tickInterval until ctx is cancelled, checking every
// tracked position for a TP/SL/timeout exit.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.checkPositions(ctx)
		}
	}
}

// IsRunning reports whether Run's loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) checkPositions(ctx context.Context) {
	w.mu.Lock()
	snapshot := make([]*VirtualPosition, 0, len(w.positions))
	for _, p := range w.positions {
		snapshot = append(snapshot, p)
	}
	w.mu.Unlock()

	now := time.Now().UTC()
	for _, p := range snapshot {
		price, ok := w.store.GetPrice(p.Symbol)
		if !ok {
			continue
		}

		reason, exiting := classifyExit(p, price, now, w.timeStop)
		if !exiting {
			continue
		}

		w.closePosition(ctx, p, price, reason, now)
	}
}

// classifyExit applies first-match-wins TP, then SL, then TIMEOUT.
func classifyExit(p *VirtualPosition, price float64, now time.Time, timeStop time.Duration) (types.CloseReason, bool) {
	switch p.Side {
	case types.SideLong:
		if price >= p.TP {
			return types.CloseReasonTP, true
		}
		if price <= p.SL {
			return types.CloseReasonSL, true
		}
	case types.SideShort:
		if price <= p.TP {
			return types.CloseReasonTP, true
		}
		if price >= p.SL {
			return types.CloseReasonSL, true
		}
	}
	if now.Sub(p.OpenedAt) >= timeStop {
		return types.CloseReasonTimeout, true
	}
	return "", false
}

func pnlPercent(p *VirtualPosition, closePrice float64) float64 {
	if p.Side == types.SideLong {
		return (closePrice - p.Entry) / p.Entry * 100
	}
	return (p.Entry - closePrice) / p.Entry * 100
}

func (w *Watcher) closePosition(ctx context.Context, p *VirtualPosition, closePrice float64, reason types.CloseReason, closedAt time.Time) {
	w.mu.Lock()
	delete(w.positions, p.Symbol)
	w.mu.Unlock()
	metrics.PositionsOpen.Dec()

	pnl := pnlPercent(p, closePrice)

	if w.db != nil {
		trade := &db.TradeRecord{
			SignalID:    p.SignalID,
			CloseReason: string(reason),
			ClosePrice:  closePrice,
			PnLPercent:  pnl,
			ClosedAt:    closedAt,
		}
		if err := w.db.WithContext(ctx).Create(trade).Error; err != nil {
			w.logger.Warn("trade_record_persist_failed",
				zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}

	if w.sink != nil {
		text := fmt.Sprintf("%s closed %s @ %.6f (%s, pnl %.2f%%)",
			p.Symbol, string(p.Side), closePrice, reason, pnl)
		w.sink.Send(ctx, text)
	}

	w.logger.Info("position_closed",
		zap.String("symbol", p.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("pnl_percent", pnl))

	w.mu.Lock()
	onClose := w.onClose
	w.mu.Unlock()
	if onClose != nil {
		onClose(CloseEvent{
			Position:    *p,
			ClosePrice:  closePrice,
			CloseReason: reason,
			PnLPercent:  pnl,
			ClosedAt:    closedAt,
		})
	}
}
