// Package orchestrator wires every component together and drives the
// scan and symbol-refresh loops: ordered startup, bounded-fan-out
// strategy evaluation, top-N signal dispatch, and periodic symbol
// rediscovery.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mimbot/tradingcore/internal/config"
	"github.com/mimbot/tradingcore/internal/dispatch"
	"github.com/mimbot/tradingcore/internal/history"
	"github.com/mimbot/tradingcore/internal/metrics"
	"github.com/mimbot/tradingcore/internal/position"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/internal/stream"
	"github.com/mimbot/tradingcore/internal/strategy"
	"github.com/mimbot/tradingcore/internal/workers"
	"go.uber.org/zap"
)

const warmupPeriod = 90 * time.Second

var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

// Orchestrator owns the scan and symbol-refresh loops and the
// lifecycle of every streaming/strategy component.
type Orchestrator struct {
	cfg    *config.TradingConfig
	logger *zap.Logger

	store      *store.MemoryStore
	streamCli  *stream.Client
	loader     *history.Loader
	watcher    *position.Watcher
	dispatcher *dispatch.Dispatcher
	strat      strategy.Strategy
	pool       *workers.Pool

	httpClient *http.Client

	mu      sync.RWMutex
	symbols []string
	running bool

	cancel context.CancelFunc
}

// New builds an Orchestrator from already-constructed components.
// Wiring order (db, watcher, dispatcher wired to watcher's close
// notify, stream client, strategy) happens in the caller (cmd/server)
// per spec §4.7; Orchestrator itself only owns the scan/refresh loops.
func New(
	cfg *config.TradingConfig,
	logger *zap.Logger,
	s *store.MemoryStore,
	streamCli *stream.Client,
	loader *history.Loader,
	watcher *position.Watcher,
	dispatcher *dispatch.Dispatcher,
	strat strategy.Strategy,
) *Orchestrator {
	poolCfg := workers.DefaultPoolConfig("scan")
	poolCfg.NumWorkers = cfg.MaxParallelTasks
	pool := workers.NewPool(logger, poolCfg)

	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		store:      s,
		streamCli:  streamCli,
		loader:     loader,
		watcher:    watcher,
		dispatcher: dispatcher,
		strat:      strat,
		pool:       pool,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchActiveSymbols lists USDT-margined perpetual symbols from
// /fapi/v1/exchangeInfo, truncated to topVolumeLimit. On any failure
// it falls back to a small hard-coded set rather than leaving the
// engine with no symbols to watch.
func FetchActiveSymbols(ctx context.Context, client *http.Client, baseURL string, topVolumeLimit int, logger *zap.Logger) []string {
	symbols, err := fetchExchangeInfoSymbols(ctx, client, baseURL)
	if err != nil {
		logger.Warn("fetch_active_symbols_failed_using_fallback", zap.Error(err))
		return append([]string(nil), fallbackSymbols...)
	}

	if len(symbols) > topVolumeLimit {
		symbols = symbols[:topVolumeLimit]
	}
	return symbols
}

// Start performs the ordered component startup and runs the scan and
// symbol-refresh loops until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	o.pool.Start()

	go o.streamCli.Start(runCtx)
	go o.watcher.Run(runCtx)

	timeframes := o.strat.RequiredTimeframes()
	o.loader.Preload(runCtx, o.store, o.symbolSnapshot(), timeframes, 250)

	if !sleepOrDone(runCtx, warmupPeriod) {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.scanLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		o.symbolRefreshLoop(runCtx)
	}()
	wg.Wait()
}

// Stop cancels the running loops. Idempotent: safe to call even if
// Start never completed or was never called.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	running := o.running
	o.running = false
	o.mu.Unlock()

	if running && cancel != nil {
		cancel()
	}
	o.pool.Stop()
}

// SetSymbols seeds the initial symbol set (called once before Start).
func (o *Orchestrator) SetSymbols(symbols []string) {
	o.mu.Lock()
	o.symbols = append([]string(nil), symbols...)
	o.mu.Unlock()
	o.streamCli.UpdateSymbols(symbols)
}

func (o *Orchestrator) symbolSnapshot() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.symbols...)
}

func (o *Orchestrator) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runScan(ctx)
		}
	}
}

func (o *Orchestrator) runScan(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ScanDurationSeconds.Observe(time.Since(start).Seconds()) }()

	tracked := make(map[string]struct{})
	for _, sym := range o.watcher.TrackedSymbols() {
		tracked[sym] = struct{}{}
	}

	var candidates []string
	for _, sym := range o.symbolSnapshot() {
		if _, held := tracked[sym]; !held {
			candidates = append(candidates, sym)
		}
	}

	var mu sync.Mutex
	var signals []*strategy.Signal
	var wg sync.WaitGroup

	for _, sym := range candidates {
		sym := sym
		wg.Add(1)
		err := o.pool.Submit(workers.TaskFunc(func() error {
			defer wg.Done()
			sig, err := o.strat.Evaluate(ctx, sym)
			if err != nil {
				o.logger.Debug("strategy_evaluate_failed", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			if sig == nil {
				return nil
			}
			mu.Lock()
			signals = append(signals, sig)
			mu.Unlock()
			return nil
		}))
		if err != nil {
			wg.Done()
			o.logger.Debug("scan_submit_failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
	wg.Wait()

	sort.Slice(signals, func(i, j int) bool { return signals[i].SpikeRatio > signals[j].SpikeRatio })

	limit := o.cfg.MaxTrackedSignals
	if limit > len(signals) {
		limit = len(signals)
	}
	for _, sig := range signals[:limit] {
		if err := o.dispatcher.Dispatch(ctx, sig); err != nil {
			o.logger.Warn("dispatch_failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		}
	}

	stats := o.pool.Stats()
	o.logger.Debug("scan_complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("signals", len(signals)),
		zap.Int("dispatched", limit),
		zap.Int64("pool_tasks_completed", stats.TasksCompleted),
		zap.Int64("pool_tasks_failed", stats.TasksFailed),
	)
}

func (o *Orchestrator) symbolRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MarketRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newSymbols := FetchActiveSymbols(ctx, o.httpClient, "https://fapi.binance.com", o.cfg.TopVolumeLimit, o.logger)
			o.mu.Lock()
			o.symbols = newSymbols
			o.mu.Unlock()
			o.streamCli.UpdateSymbols(newSymbols)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func fetchExchangeInfoSymbols(ctx context.Context, client *http.Client, baseURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("building exchangeInfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching exchangeInfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchangeInfo returned status %d", resp.StatusCode)
	}

	var payload struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			QuoteAsset   string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding exchangeInfo: %w", err)
	}

	var out []string
	for _, s := range payload.Symbols {
		if s.Status == "TRADING" && s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}
