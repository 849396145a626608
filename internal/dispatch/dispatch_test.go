package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/pkg/types"
	"go.uber.org/zap"
)

type fakeTracker struct {
	tracked  []*strategy.Signal
	failWith error
}

func (f *fakeTracker) Track(sig *strategy.Signal, signalID uint) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.tracked = append(f.tracked, sig)
	return nil
}

type fakeSink struct {
	messages []string
}

func (f *fakeSink) Send(ctx context.Context, text string) {
	f.messages = append(f.messages, text)
}

func testSignal() *strategy.Signal {
	return &strategy.Signal{
		Symbol: "BTCUSDT", Side: types.SideLong,
		EntryPrice: 100, TPPrice: 110, SLPrice: 95,
		SpikeRatio: 3.2, EMAFastValue: 101, EMASlowValue: 99,
		CurrentVolume: 30, AvgVolume: 10, Timestamp: time.Now().UTC(),
	}
}

func TestDispatchPersistsNotifiesAndTracks(t *testing.T) {
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer db.Close(gdb)

	tracker := &fakeTracker{}
	sink := &fakeSink{}
	d := NewDispatcher(gdb, sink, tracker, zap.NewNop())

	if err := d.Dispatch(context.Background(), testSignal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var count int64
	gdb.Model(&db.SignalRecord{}).Count(&count)
	if count != 1 {
		t.Errorf("signals row count = %d, want 1", count)
	}
	var snapCount int64
	gdb.Model(&db.MarketSnapshot{}).Count(&snapCount)
	if snapCount != 1 {
		t.Errorf("market_snapshots row count = %d, want 1", snapCount)
	}
	if len(sink.messages) != 1 {
		t.Errorf("sink.messages = %d, want 1", len(sink.messages))
	}
	if len(tracker.tracked) != 1 {
		t.Errorf("tracker.tracked = %d, want 1", len(tracker.tracked))
	}
}

func TestDispatchSkipsNotifyAndTrackOnPersistFailure(t *testing.T) {
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer db.Close(gdb)
	// Drop the table so the Create inside the transaction fails.
	gdb.Migrator().DropTable(&db.SignalRecord{})

	tracker := &fakeTracker{}
	sink := &fakeSink{}
	d := NewDispatcher(gdb, sink, tracker, zap.NewNop())

	if err := d.Dispatch(context.Background(), testSignal()); err == nil {
		t.Fatal("Dispatch succeeded despite missing table")
	}

	if len(sink.messages) != 0 {
		t.Error("notifier was called despite a persistence failure")
	}
	if len(tracker.tracked) != 0 {
		t.Error("tracker was enrolled despite a persistence failure")
	}
}

func TestDispatchTrackFailurePropagates(t *testing.T) {
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer db.Close(gdb)

	tracker := &fakeTracker{failWith: errors.New("already tracked")}
	sink := &fakeSink{}
	d := NewDispatcher(gdb, sink, tracker, zap.NewNop())

	if err := d.Dispatch(context.Background(), testSignal()); err == nil {
		t.Fatal("Dispatch succeeded despite tracker failure")
	}
	// Notification still fires before enrollment is attempted.
	if len(sink.messages) != 1 {
		t.Errorf("sink.messages = %d, want 1 (notify happens before track)", len(sink.messages))
	}
}
