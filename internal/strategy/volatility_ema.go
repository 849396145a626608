package strategy

import (
	"context"
	"time"

	"github.com/mimbot/tradingcore/internal/indicator"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/pkg/types"
)

const atrPeriod = 14

// VolatilityEmaStrategy trades a 15m EMA crossover gated by a
// volume-spike "sweet spot" band, with ATR-based stop placement,
// grounded on strategies/volatility_ema_strategy.py.
type VolatilityEmaStrategy struct {
	store *store.MemoryStore

	emaFastLen int
	emaSlowLen int
	volumeMA   int
	minSpike   float64
	maxSpike   float64
	rrRatio    float64
}

// NewVolatilityEmaStrategy builds a VolatilityEmaStrategy bound to store.
func NewVolatilityEmaStrategy(cfg StrategyConfig, s *store.MemoryStore) *VolatilityEmaStrategy {
	return &VolatilityEmaStrategy{
		store:      s,
		emaFastLen: cfg.EMAFast,
		emaSlowLen: cfg.EMASlow,
		volumeMA:   cfg.VolumeMA,
		minSpike:   cfg.MinSpike,
		maxSpike:   cfg.MaxSpike,
		rrRatio:    cfg.RRRatio,
	}
}

// RequiredTimeframes returns the single 15m timeframe this strategy reads.
func (v *VolatilityEmaStrategy) RequiredTimeframes() []string {
	return []string{"15m"}
}

// Evaluate implements Strategy.
func (v *VolatilityEmaStrategy) Evaluate(ctx context.Context, symbol string) (*Signal, error) {
	candles := v.store.GetCandles(symbol, "15m")

	minLength := v.emaSlowLen
	if v.volumeMA > minLength {
		minLength = v.volumeMA
	}
	if 15 > minLength {
		minLength = 15
	}
	minLength += 2
	if len(candles) < minLength {
		return nil, nil
	}

	close := column(candles, closeCol)
	high := column(candles, highCol)
	low := column(candles, lowCol)
	volume := column(candles, volumeCol)

	emaF := indicator.EMA(close, v.emaFastLen)
	emaS := indicator.EMA(close, v.emaSlowLen)
	atr := indicator.ATR(high, low, close, atrPeriod)

	n := len(close)
	avgVol := indicator.Mean(volume[n-v.volumeMA-1 : n-1])
	currentVol := volume[n-1]
	var spikeRatio float64
	if avgVol > 0 {
		spikeRatio = currentVol / avgVol
	}

	var side types.Side
	if spikeRatio >= v.minSpike && spikeRatio <= v.maxSpike {
		switch {
		case emaF[n-1] > emaS[n-1] && emaF[n-2] <= emaS[n-2]:
			side = types.SideLong
		case emaF[n-1] < emaS[n-1] && emaF[n-2] >= emaS[n-2]:
			side = types.SideShort
		}
	}
	if side == "" {
		return nil, nil
	}

	livePrice, havePrice := v.store.GetPrice(symbol)
	entryPrice := close[n-1]
	if havePrice {
		entryPrice = livePrice
	}

	atrValue := atr[n-1]
	if atrValue <= 0 {
		return nil, nil
	}

	var sl, tp float64
	if side == types.SideLong {
		sl = entryPrice - 1.5*atrValue
		risk := entryPrice - sl
		tp = entryPrice + risk*v.rrRatio
	} else {
		sl = entryPrice + 1.5*atrValue
		risk := sl - entryPrice
		tp = entryPrice - risk*v.rrRatio
	}

	return &Signal{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    round(entryPrice, 6),
		SLPrice:       round(sl, 6),
		TPPrice:       round(tp, 6),
		SpikeRatio:    round(spikeRatio, 4),
		EMAFastValue:  round(emaF[n-1], 6),
		EMASlowValue:  round(emaS[n-1], 6),
		CurrentVolume: round(currentVol, 2),
		AvgVolume:     round(avgVol, 2),
		Timestamp:     time.Now().UTC(),
	}, nil
}
