package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mimbot/tradingcore/internal/config"
	"github.com/mimbot/tradingcore/internal/db"
	"github.com/mimbot/tradingcore/internal/dispatch"
	"github.com/mimbot/tradingcore/internal/history"
	"github.com/mimbot/tradingcore/internal/notify"
	"github.com/mimbot/tradingcore/internal/position"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/internal/stream"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/pkg/types"
	"go.uber.org/zap"
)

type fakeStrategy struct {
	mu      sync.Mutex
	results map[string]*strategy.Signal
}

func (f *fakeStrategy) RequiredTimeframes() []string { return []string{"1m"} }

func (f *fakeStrategy) Evaluate(ctx context.Context, symbol string) (*strategy.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[symbol], nil
}

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeStrategy) {
	t.Helper()

	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}

	logger := zap.NewNop()
	s := store.NewMemoryStore(200)
	watcher := position.NewWatcher(s, gdb, nil, logger, time.Hour, 4*time.Hour)
	dispatcher := dispatch.NewDispatcher(gdb, notify.NewTelegramSink("", "", logger), watcher, logger)
	fs := &fakeStrategy{results: map[string]*strategy.Signal{}}

	cfg := &config.TradingConfig{
		ScanIntervalSeconds: 1,
		MaxParallelTasks:    4,
		MaxTrackedSignals:   2,
		TopVolumeLimit:      100,
	}

	streamCli := stream.NewClient(s, logger, []string{"1m"}, 0)
	loader := history.NewLoader(logger, 5)

	o := New(cfg, logger, s, streamCli, loader, watcher, dispatcher, fs)
	o.pool.Start()
	t.Cleanup(func() { o.pool.Stop() })
	return o, fs
}

func TestRunScanDispatchesTopNBySpikeRatio(t *testing.T) {
	o, fs := testOrchestrator(t)
	o.SetSymbols([]string{"AAAUSDT", "BBBUSDT", "CCCUSDT"})

	fs.results["AAAUSDT"] = &strategy.Signal{Symbol: "AAAUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 2.0}
	fs.results["BBBUSDT"] = &strategy.Signal{Symbol: "BBBUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 5.0}
	fs.results["CCCUSDT"] = &strategy.Signal{Symbol: "CCCUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 3.5}

	o.runScan(context.Background())

	tracked := o.watcher.TrackedSymbols()
	if len(tracked) != 2 {
		t.Fatalf("len(tracked) = %d, want 2 (max_tracked_signals)", len(tracked))
	}

	trackedSet := map[string]bool{}
	for _, sym := range tracked {
		trackedSet[sym] = true
	}
	if !trackedSet["BBBUSDT"] || !trackedSet["CCCUSDT"] {
		t.Errorf("tracked = %v, want the two highest spike ratios (BBBUSDT, CCCUSDT)", tracked)
	}
	if trackedSet["AAAUSDT"] {
		t.Errorf("AAAUSDT has the lowest spike ratio and should not have been dispatched")
	}
}

func TestRunScanSkipsAlreadyTrackedSymbols(t *testing.T) {
	o, fs := testOrchestrator(t)
	o.SetSymbols([]string{"AAAUSDT", "BBBUSDT"})

	sig := &strategy.Signal{Symbol: "AAAUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 9.0}
	if err := o.watcher.Track(sig, 1); err != nil {
		t.Fatalf("seeding tracked position: %v", err)
	}

	fs.results["AAAUSDT"] = &strategy.Signal{Symbol: "AAAUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 9.0}
	fs.results["BBBUSDT"] = &strategy.Signal{Symbol: "BBBUSDT", Side: types.SideLong, EntryPrice: 1, TPPrice: 2, SLPrice: 0.5, SpikeRatio: 1.0}

	o.runScan(context.Background())

	tracked := o.watcher.TrackedSymbols()
	if len(tracked) != 2 {
		t.Fatalf("len(tracked) = %d, want 2 (the pre-seeded one plus the new candidate)", len(tracked))
	}
}

func TestFetchActiveSymbolsFiltersAndTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"ETHUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"OLDUSDT","status":"BREAK","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"BTCUSD","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USD"},
			{"symbol":"BTCUSDT_240329","status":"TRADING","contractType":"CURRENT_QUARTER","quoteAsset":"USDT"}
		]}`)
	}))
	defer srv.Close()

	symbols := FetchActiveSymbols(context.Background(), srv.Client(), srv.URL, 1, zap.NewNop())
	if len(symbols) != 1 {
		t.Fatalf("len(symbols) = %d, want 1 (top_volume_limit truncation)", len(symbols))
	}
	if symbols[0] != "BTCUSDT" {
		t.Errorf("symbols[0] = %q, want BTCUSDT", symbols[0])
	}
}

func TestFetchActiveSymbolsFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	symbols := FetchActiveSymbols(context.Background(), srv.Client(), srv.URL, 100, zap.NewNop())
	if len(symbols) != len(fallbackSymbols) {
		t.Fatalf("len(symbols) = %d, want %d (fallback set)", len(symbols), len(fallbackSymbols))
	}
	if symbols[0] != "BTCUSDT" {
		t.Errorf("symbols[0] = %q, want BTCUSDT (fallback)", symbols[0])
	}
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.Stop()
}
