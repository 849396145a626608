package strategy

import (
	"context"
	"testing"

	"github.com/mimbot/tradingcore/internal/store"
)

func defaultConfig() StrategyConfig {
	return StrategyConfig{
		EMAFast:             9,
		EMASlow:             21,
		VolumeSpikeMin:      2.5,
		VolumeSpikeMax:      6.0,
		BreakoutRangePeriod: 5,
		RRRatio:             1.4,
		MaxStopPercent:      0.025,
		StopOffset:          0.0005,
		VolumeMA:            20,
		MinSpike:            4.0,
		MaxSpike:            12.0,
	}
}

func TestRegistryCreateUnknown(t *testing.T) {
	r := NewDefaultRegistry(defaultConfig())
	if _, err := r.Create("does_not_exist", store.NewMemoryStore(200)); err == nil {
		t.Fatal("Create on unknown strategy name returned no error")
	}
}

func TestRegistryListIncludesBuiltins(t *testing.T) {
	r := NewDefaultRegistry(defaultConfig())
	names := r.List()
	want := map[string]bool{"ema_volume": false, "rsi_macd": false, "volatility_ema": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("registry missing built-in strategy %q", name)
		}
	}
}

func seedEmaVolumeCandles(s *store.MemoryStore, symbol string) {
	// 1m candles: flat volume, rising close so ema_fast > ema_slow.
	for i := 0; i < 60; i++ {
		price := 100.0 + float64(i)*0.5
		vol := 10.0
		if i == 59 {
			vol = 30.0 // spike on the last closed candle
		}
		s.UpdateCandle(symbol, "1m", store.Candle{
			Timestamp: int64(i) * 60000,
			Open:      price, High: price + 1, Low: price - 1, Close: price, Volume: vol,
		}, true)
	}
	// 5m candles: flat range well below the 1m close, so breakout triggers LONG.
	for i := 0; i < 10; i++ {
		s.UpdateCandle(symbol, "5m", store.Candle{
			Timestamp: int64(i) * 300000,
			Open: 90, High: 91, Low: 89, Close: 90, Volume: 100,
		}, true)
	}
}

func TestEmaVolumeInsufficientDataReturnsNilNotError(t *testing.T) {
	s := store.NewMemoryStore(200)
	strat := NewEmaVolumeStrategy(defaultConfig(), s)

	sig, err := strat.Evaluate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if sig != nil {
		t.Fatal("Evaluate on empty store returned a signal")
	}
}

func TestEmaVolumeLongSignalInvariants(t *testing.T) {
	s := store.NewMemoryStore(200)
	seedEmaVolumeCandles(s, "BTCUSDT")
	strat := NewEmaVolumeStrategy(defaultConfig(), s)

	sig, err := strat.Evaluate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a LONG signal, got nil")
	}
	if sig.SLPrice >= sig.EntryPrice || sig.EntryPrice >= sig.TPPrice {
		t.Errorf("LONG invariant violated: sl=%v entry=%v tp=%v", sig.SLPrice, sig.EntryPrice, sig.TPPrice)
	}
}

func TestEmaVolumeRejectsOutOfBandSpike(t *testing.T) {
	s := store.NewMemoryStore(200)
	seedEmaVolumeCandles(s, "BTCUSDT")
	// Overwrite the spike candle with a much larger one, pushing the
	// ratio above VolumeSpikeMax.
	s.UpdateCandle("BTCUSDT", "1m", store.Candle{
		Timestamp: 59 * 60000, Open: 129, High: 130, Low: 128, Close: 129.5, Volume: 500,
	}, false)

	strat := NewEmaVolumeStrategy(defaultConfig(), s)
	sig, err := strat.Evaluate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signal for out-of-band spike ratio, got %+v", sig)
	}
}
