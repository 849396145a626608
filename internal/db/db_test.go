package db

import "testing"

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	gdb, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	if !gdb.Migrator().HasTable(&SignalRecord{}) {
		t.Error("signals table not created")
	}
	if !gdb.Migrator().HasTable(&TradeRecord{}) {
		t.Error("trades table not created")
	}
	if !gdb.Migrator().HasTable(&MarketSnapshot{}) {
		t.Error("market_snapshots table not created")
	}
}

func TestSignalTradeSnapshotRoundTrip(t *testing.T) {
	gdb, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	sig := &SignalRecord{Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 100, TPPrice: 110, SLPrice: 95, SpikeRatio: 3.2}
	if err := gdb.Create(sig).Error; err != nil {
		t.Fatalf("create signal: %v", err)
	}
	if sig.ID == 0 {
		t.Fatal("signal ID not assigned after create")
	}

	snap := &MarketSnapshot{SignalID: sig.ID, EMAFastValue: 101, EMASlowValue: 99, CurrentVolume: 30, AvgVolume: 10}
	if err := gdb.Create(snap).Error; err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	trade := &TradeRecord{SignalID: sig.ID, CloseReason: "TP", ClosePrice: 110, PnLPercent: 10}
	if err := gdb.Create(trade).Error; err != nil {
		t.Fatalf("create trade: %v", err)
	}

	var got SignalRecord
	if err := gdb.Preload("Trade").Preload("Snapshot").First(&got, sig.ID).Error; err != nil {
		t.Fatalf("query signal: %v", err)
	}
	if got.Trade == nil || got.Trade.CloseReason != "TP" {
		t.Error("signal's Trade relation not loaded")
	}
	if got.Snapshot == nil || got.Snapshot.CurrentVolume != 30 {
		t.Error("signal's Snapshot relation not loaded")
	}
}
