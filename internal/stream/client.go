// Package stream runs the Binance Futures WebSocket market-data
// client: a combined-stream kline worker (sharded across multiple
// sockets at the exchange's 200-stream-per-connection limit) and a
// single mark-price broadcast worker. All kline shards reconnect
// together; a symbol-set change takes effect on the next reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mimbot/tradingcore/internal/store"
	"go.uber.org/zap"
)

const (
	wsBase           = "wss://fstream.binance.com"
	maxStreamsPerSocket = 200
)

// Client manages the streaming market-data connections feeding a
// MemoryStore.
type Client struct {
	mu         sync.RWMutex
	symbols    []string
	timeframes []string

	store          *store.MemoryStore
	logger         *zap.Logger
	reconnectDelay time.Duration
	baseURL        string

	dialer *websocket.Dialer
}

// NewClient builds a Client. reconnectDelay is ws_reconnect_delay.
func NewClient(s *store.MemoryStore, logger *zap.Logger, timeframes []string, reconnectDelay time.Duration) *Client {
	return &Client{
		timeframes:     append([]string(nil), timeframes...),
		store:          s,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		baseURL:        wsBase,
		dialer:         websocket.DefaultDialer,
	}
}

// WithBaseURL overrides the WebSocket base URL (used by tests).
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// UpdateSymbols replaces the tracked symbol set. It does not tear down
// any open socket; each worker picks up the new set on its next
// reconnect, per spec.
func (c *Client) UpdateSymbols(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols = append([]string(nil), symbols...)
}

func (c *Client) symbolSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.symbols...)
}

func (c *Client) isTracked(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Start launches the kline and mark-price workers. It blocks until ctx
// is cancelled.
func (c *Client) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.runKlineWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		c.runMarkPriceWorker(ctx)
	}()

	wg.Wait()
}

// shardStreams partitions symbol x timeframe stream names into groups
// of at most maxStreamsPerSocket, satisfying the exchange's
// per-connection limit.
func shardStreams(symbols, timeframes []string) [][]string {
	var all []string
	for _, sym := range symbols {
		for _, tf := range timeframes {
			all = append(all, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), tf))
		}
	}

	if len(all) == 0 {
		return nil
	}

	var shards [][]string
	for i := 0; i < len(all); i += maxStreamsPerSocket {
		end := i + maxStreamsPerSocket
		if end > len(all) {
			end = len(all)
		}
		shards = append(shards, all[i:end])
	}
	return shards
}

// runKlineWorker manages one generation of shard sockets at a time:
// it dials every shard concurrently, waits for any one of them to
// disconnect, then tears the whole generation down, backs off, and
// redials against the current symbol set. This keeps shard boundaries
// simple to reason about while still satisfying "reconnect with the
// current symbol set" and "shard across sockets above 200 streams".
func (c *Client) runKlineWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		symbols := c.symbolSnapshot()
		shards := shardStreams(symbols, c.timeframes)
		if len(shards) == 0 {
			if !sleepOrDone(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		genCtx, cancelGen := context.WithCancel(ctx)
		var wg sync.WaitGroup
		for _, shard := range shards {
			wg.Add(1)
			go func(streams []string) {
				defer wg.Done()
				c.runKlineShard(genCtx, streams)
				cancelGen() // any shard dying tears down its siblings for a clean redial
			}(shard)
		}
		wg.Wait()
		cancelGen()

		if !sleepOrDone(ctx, c.reconnectDelay) {
			return
		}
	}
}

func (c *Client) runKlineShard(ctx context.Context, streams []string) {
	url := fmt.Sprintf("%s/stream?streams=%s", c.baseURL, strings.Join(streams, "/"))

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.logger.Warn("kline_dial_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("kline_stream_disconnected", zap.Error(err))
			}
			return
		}
		c.handleKlineMessage(data)
	}
}

type combinedEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type klinePayload struct {
	K struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Symbol   string `json:"s"`
		Interval string `json:"i"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

func (c *Client) handleKlineMessage(raw []byte) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("kline_envelope_malformed", zap.Error(err))
		return
	}

	var payload klinePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		c.logger.Debug("kline_payload_malformed", zap.Error(err))
		return
	}

	open, err1 := strconv.ParseFloat(payload.K.Open, 64)
	high, err2 := strconv.ParseFloat(payload.K.High, 64)
	low, err3 := strconv.ParseFloat(payload.K.Low, 64)
	closeP, err4 := strconv.ParseFloat(payload.K.Close, 64)
	volume, err5 := strconv.ParseFloat(payload.K.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		c.logger.Debug("kline_field_malformed", zap.String("symbol", payload.K.Symbol))
		return
	}

	candle := store.Candle{
		Timestamp: payload.K.OpenTime,
		Open:      open, High: high, Low: low, Close: closeP, Volume: volume,
	}
	c.store.UpdateCandle(payload.K.Symbol, payload.K.Interval, candle, payload.K.Closed)
	c.store.UpdatePrice(payload.K.Symbol, closeP)
}

func (c *Client) runMarkPriceWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url := fmt.Sprintf("%s/ws/!markPrice@arr@1s", c.baseURL)
		conn, _, err := c.dialer.DialContext(ctx, url, nil)
		if err != nil {
			c.logger.Warn("markprice_dial_failed", zap.Error(err))
			if !sleepOrDone(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Info("markprice_stream_disconnected", zap.Error(err))
				}
				break
			}
			c.handleMarkPriceMessage(data)
		}
		conn.Close()

		if !sleepOrDone(ctx, c.reconnectDelay) {
			return
		}
	}
}

type markPriceEntry struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

func (c *Client) handleMarkPriceMessage(raw []byte) {
	var entries []markPriceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Debug("markprice_payload_malformed", zap.Error(err))
		return
	}

	for _, e := range entries {
		if !c.isTracked(e.Symbol) {
			continue
		}
		price, err := strconv.ParseFloat(e.Price, 64)
		if err != nil {
			continue
		}
		c.store.UpdatePrice(e.Symbol, price)
	}
}

// sleepOrDone sleeps for d, returning false early (without sleeping
// the full duration) if ctx is cancelled first.
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
