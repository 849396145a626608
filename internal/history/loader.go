// Package history preloads recent closed candles from the Binance
// Futures REST API so strategies have enough warmup data before the
// streaming client has delivered it live, grounded on the original's
// data/rest_client.py preload_history.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mimbot/tradingcore/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultBaseURL = "https://fapi.binance.com"

// Loader fetches historical klines over REST, bounded by a fixed
// concurrency limit to stay within the exchange's rate limits.
type Loader struct {
	client      *http.Client
	logger      *zap.Logger
	concurrency int64
	requestGap  time.Duration
	baseURL     string
}

// NewLoader builds a Loader. concurrency is the fixed semaphore size
// (spec default 20).
func NewLoader(logger *zap.Logger, concurrency int64) *Loader {
	if concurrency <= 0 {
		concurrency = 20
	}
	return &Loader{
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
		concurrency: concurrency,
		requestGap:  50 * time.Millisecond,
		baseURL:     defaultBaseURL,
	}
}

// WithBaseURL overrides the REST base URL (used by tests to point at
// an httptest server instead of the live exchange).
func (l *Loader) WithBaseURL(baseURL string) *Loader {
	l.baseURL = baseURL
	return l
}

// Preload fetches the last `limit` closed candles for every
// symbol x timeframe pair and writes them into s with closed=true.
// Failures on a single pair are logged and skipped; Preload always
// completes once every pair has been attempted.
func (l *Loader) Preload(ctx context.Context, s *store.MemoryStore, symbols, timeframes []string, limit int) {
	sem := semaphore.NewWeighted(l.concurrency)
	done := make(chan struct{})
	pending := 0

	for _, symbol := range symbols {
		for _, tf := range timeframes {
			pending++
			go func(symbol, tf string) {
				defer func() { done <- struct{}{} }()

				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)

				if err := l.fetchOne(ctx, s, symbol, tf, limit); err != nil {
					l.logger.Debug("history_preload_failed",
						zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Error(err))
				}
				time.Sleep(l.requestGap)
			}(symbol, tf)
		}
	}

	for i := 0; i < pending; i++ {
		<-done
	}
}

func (l *Loader) fetchOne(ctx context.Context, s *store.MemoryStore, symbol, timeframe string, limit int) error {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", l.baseURL, symbol, timeframe, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("klines request returned status %d", resp.StatusCode)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("decoding klines response: %w", err)
	}

	for _, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			l.logger.Debug("history_preload_row_malformed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.UpdateCandle(symbol, timeframe, candle, true)
	}

	return nil
}

// parseKlineRow parses the first six columns of a Binance kline array:
// [openTime, open, high, low, close, volume, ...].
func parseKlineRow(row []json.RawMessage) (store.Candle, error) {
	if len(row) < 6 {
		return store.Candle{}, fmt.Errorf("kline row has %d columns, want >= 6", len(row))
	}

	var ts int64
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return store.Candle{}, fmt.Errorf("parsing open time: %w", err)
	}

	open, err := parseFloatField(row[1])
	if err != nil {
		return store.Candle{}, fmt.Errorf("parsing open: %w", err)
	}
	high, err := parseFloatField(row[2])
	if err != nil {
		return store.Candle{}, fmt.Errorf("parsing high: %w", err)
	}
	low, err := parseFloatField(row[3])
	if err != nil {
		return store.Candle{}, fmt.Errorf("parsing low: %w", err)
	}
	closeP, err := parseFloatField(row[4])
	if err != nil {
		return store.Candle{}, fmt.Errorf("parsing close: %w", err)
	}
	volume, err := parseFloatField(row[5])
	if err != nil {
		return store.Candle{}, fmt.Errorf("parsing volume: %w", err)
	}

	return store.Candle{Timestamp: ts, Open: open, High: high, Low: low, Close: closeP, Volume: volume}, nil
}

func parseFloatField(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
