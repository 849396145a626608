package position

import (
	"context"
	"testing"
	"time"

	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/pkg/types"
	"go.uber.org/zap"
)

func newTestWatcher() (*Watcher, *store.MemoryStore) {
	s := store.NewMemoryStore(200)
	w := NewWatcher(s, nil, nil, zap.NewNop(), 10*time.Millisecond, 4*time.Hour)
	return w, s
}

func TestTrackRejectsDuplicateSymbol(t *testing.T) {
	w, _ := newTestWatcher()
	sig := &strategy.Signal{Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, TPPrice: 110, SLPrice: 95, Timestamp: time.Now().UTC()}

	if err := w.Track(sig, 1); err != nil {
		t.Fatalf("first Track: %v", err)
	}
	if err := w.Track(sig, 2); err == nil {
		t.Fatal("second Track for the same symbol succeeded, want rejection")
	}
}

func TestClassifyExitLongTP(t *testing.T) {
	p := &VirtualPosition{Side: types.SideLong, Entry: 100, TP: 110, SL: 95, OpenedAt: time.Now().UTC()}
	reason, exiting := classifyExit(p, 110, time.Now().UTC(), 4*time.Hour)
	if !exiting || reason != types.CloseReasonTP {
		t.Errorf("classifyExit = (%v, %v), want (TP, true)", reason, exiting)
	}
}

func TestClassifyExitShortSL(t *testing.T) {
	p := &VirtualPosition{Side: types.SideShort, Entry: 100, TP: 90, SL: 105, OpenedAt: time.Now().UTC()}
	reason, exiting := classifyExit(p, 106, time.Now().UTC(), 4*time.Hour)
	if !exiting || reason != types.CloseReasonSL {
		t.Errorf("classifyExit = (%v, %v), want (SL, true)", reason, exiting)
	}
}

func TestClassifyExitTimeout(t *testing.T) {
	p := &VirtualPosition{Side: types.SideLong, Entry: 100, TP: 200, SL: 1, OpenedAt: time.Now().UTC().Add(-5 * time.Hour)}
	reason, exiting := classifyExit(p, 100, time.Now().UTC(), 4*time.Hour)
	if !exiting || reason != types.CloseReasonTimeout {
		t.Errorf("classifyExit = (%v, %v), want (TIMEOUT, true)", reason, exiting)
	}
}

func TestClassifyExitNoExit(t *testing.T) {
	p := &VirtualPosition{Side: types.SideLong, Entry: 100, TP: 200, SL: 1, OpenedAt: time.Now().UTC()}
	_, exiting := classifyExit(p, 100, time.Now().UTC(), 4*time.Hour)
	if exiting {
		t.Error("classifyExit fired with price between SL and TP and no timeout elapsed")
	}
}

func TestPnLPercentLongAndShort(t *testing.T) {
	long := &VirtualPosition{Side: types.SideLong, Entry: 100}
	if got := pnlPercent(long, 110); got != 10 {
		t.Errorf("LONG pnl = %v, want 10", got)
	}

	short := &VirtualPosition{Side: types.SideShort, Entry: 100}
	if got := pnlPercent(short, 90); got != 10 {
		t.Errorf("SHORT pnl = %v, want 10", got)
	}
}

func TestRunClosesPositionOnTPAndFiresCallback(t *testing.T) {
	w, s := newTestWatcher()
	sig := &strategy.Signal{Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, TPPrice: 110, SLPrice: 95, Timestamp: time.Now().UTC()}
	if err := w.Track(sig, 1); err != nil {
		t.Fatalf("Track: %v", err)
	}

	closed := make(chan CloseEvent, 1)
	w.OnClose(func(ev CloseEvent) { closed <- ev })

	s.UpdatePrice("BTCUSDT", 111)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	select {
	case ev := <-closed:
		if ev.CloseReason != types.CloseReasonTP {
			t.Errorf("close reason = %v, want TP", ev.CloseReason)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for position close")
	}

	if len(w.TrackedSymbols()) != 0 {
		t.Error("position still tracked after TP close")
	}
}
