package strategy

import (
	"context"
	"time"

	"github.com/mimbot/tradingcore/internal/indicator"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/pkg/types"
)

// RsiMacdStrategy trades RSI overbought/oversold extremes confirmed by
// a MACD/signal-line crossover on the 15m timeframe, grounded on
// strategies/rsi_macd_strategy.py. Its indicator periods and RR ratio
// are the original's constructor defaults, not TradingConfig fields —
// the Python loader never overrides them at call sites either.
type RsiMacdStrategy struct {
	store *store.MemoryStore

	rsiPeriod     int
	rsiOversold   float64
	rsiOverbought float64
	macdFast      int
	macdSlow      int
	macdSignal    int
	rrRatio       float64
}

// NewRsiMacdStrategy builds an RsiMacdStrategy bound to store.
func NewRsiMacdStrategy(_ StrategyConfig, s *store.MemoryStore) *RsiMacdStrategy {
	return &RsiMacdStrategy{
		store:         s,
		rsiPeriod:     14,
		rsiOversold:   30.0,
		rsiOverbought: 70.0,
		macdFast:      12,
		macdSlow:      26,
		macdSignal:    9,
		rrRatio:       2.0,
	}
}

// RequiredTimeframes returns the single 15m timeframe this strategy reads.
func (r *RsiMacdStrategy) RequiredTimeframes() []string {
	return []string{"15m"}
}

// Evaluate implements Strategy.
func (r *RsiMacdStrategy) Evaluate(ctx context.Context, symbol string) (*Signal, error) {
	candles15m := r.store.GetCandles(symbol, "15m")

	minLength := r.macdSlow
	if r.rsiPeriod > minLength {
		minLength = r.rsiPeriod
	}
	minLength += 10
	if len(candles15m) < minLength {
		return nil, nil
	}

	close15m := column(candles15m, closeCol)
	high15m := column(candles15m, highCol)
	low15m := column(candles15m, lowCol)
	volume15m := column(candles15m, volumeCol)

	rsi := indicator.RSI(close15m, r.rsiPeriod)
	macdLine, signalLine := indicator.MACD(close15m, r.macdFast, r.macdSlow, r.macdSignal)

	n := len(close15m)
	lastRSI := rsi[n-1]
	prevMACD, prevSignal := macdLine[n-2], signalLine[n-2]
	currMACD, currSignal := macdLine[n-1], signalLine[n-1]

	var side types.Side
	switch {
	case lastRSI < r.rsiOversold && prevMACD < prevSignal && currMACD > currSignal:
		side = types.SideLong
	case lastRSI > r.rsiOverbought && prevMACD > prevSignal && currMACD < currSignal:
		side = types.SideShort
	default:
		return nil, nil
	}

	livePrice, havePrice := r.store.GetPrice(symbol)
	entryPrice := close15m[n-1]
	if havePrice {
		entryPrice = livePrice
	}

	var sl, tp float64
	if side == types.SideLong {
		sl = low15m[n-1]
		if sl >= entryPrice {
			sl = entryPrice * 0.998
		}
		risk := entryPrice - sl
		tp = entryPrice + risk*r.rrRatio
	} else {
		sl = high15m[n-1]
		if sl <= entryPrice {
			sl = entryPrice * 1.002
		}
		risk := sl - entryPrice
		tp = entryPrice - risk*r.rrRatio
	}

	currentVol := volume15m[n-1]
	var avgVol10 float64
	if n >= 11 {
		avgVol10 = indicator.Mean(volume15m[n-11 : n-1])
	}
	var spikeRatio float64
	if avgVol10 > 0 {
		spikeRatio = currentVol / avgVol10
	}

	return &Signal{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: round(entryPrice, 6),
		SLPrice:    round(sl, 6),
		TPPrice:    round(tp, 6),
		SpikeRatio: round(spikeRatio, 4),
		// The original maps MACD/signal values into the fast/slow EMA
		// fields to preserve the shared Signal shape across strategies.
		EMAFastValue:  round(currMACD, 6),
		EMASlowValue:  round(currSignal, 6),
		CurrentVolume: round(currentVol, 2),
		AvgVolume:     round(avgVol10, 2),
		Timestamp:     time.Now().UTC(),
	}, nil
}
