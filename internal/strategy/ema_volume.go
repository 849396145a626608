package strategy

import (
	"context"
	"time"

	"github.com/mimbot/tradingcore/internal/indicator"
	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/pkg/types"
)

const (
	tsCol = iota
	openCol
	highCol
	lowCol
	closeCol
	volumeCol
)

// EmaVolumeStrategy trades a 1-minute EMA crossover confirmed by a
// 5-minute breakout range and a volume-spike band, grounded on
// strategies/ema_volume_strategy.py.
type EmaVolumeStrategy struct {
	cfg   StrategyConfig
	store *store.MemoryStore
}

// NewEmaVolumeStrategy builds an EmaVolumeStrategy bound to store.
func NewEmaVolumeStrategy(cfg StrategyConfig, s *store.MemoryStore) *EmaVolumeStrategy {
	return &EmaVolumeStrategy{cfg: cfg, store: s}
}

// RequiredTimeframes returns the 1m and 5m timeframes this strategy reads.
func (e *EmaVolumeStrategy) RequiredTimeframes() []string {
	return []string{"1m", "5m"}
}

// Evaluate implements Strategy.
func (e *EmaVolumeStrategy) Evaluate(ctx context.Context, symbol string) (*Signal, error) {
	cfg := e.cfg

	candles1m := e.store.GetCandles(symbol, "1m")
	candles5m := e.store.GetCandles(symbol, "5m")

	min1m := cfg.EMASlow + 10
	if min1m < 50 {
		min1m = 50
	}
	min5m := cfg.BreakoutRangePeriod + 1

	if len(candles1m) < min1m || len(candles5m) < min5m {
		return nil, nil
	}

	close1m := column(candles1m, closeCol)
	volume1m := column(candles1m, volumeCol)

	emaFast := indicator.EMA(close1m, cfg.EMAFast)
	emaSlow := indicator.EMA(close1m, cfg.EMASlow)

	lastClose := close1m[len(close1m)-1]
	lastEMAFast := emaFast[len(emaFast)-1]
	lastEMASlow := emaSlow[len(emaSlow)-1]

	// Breakout range: the last `period` CLOSED 5m candles, excluding
	// the tail (possibly still-open) candle — candles_5m[-(period+1):-1].
	period := cfg.BreakoutRangePeriod
	n5 := len(candles5m)
	rangeSlice := candles5m[n5-period-1 : n5-1]
	rHigh := rangeSlice[0][highCol]
	rLow := rangeSlice[0][lowCol]
	for _, row := range rangeSlice[1:] {
		if row[highCol] > rHigh {
			rHigh = row[highCol]
		}
		if row[lowCol] < rLow {
			rLow = row[lowCol]
		}
	}

	currentVol := volume1m[len(volume1m)-1]
	n1 := len(volume1m)
	var avgVol10 float64
	if n1 >= 11 {
		avgVol10 = indicator.Mean(volume1m[n1-11 : n1-1])
	}
	if avgVol10 <= 0 {
		return nil, nil
	}

	spikeRatio := currentVol / avgVol10
	if spikeRatio < cfg.VolumeSpikeMin || spikeRatio > cfg.VolumeSpikeMax {
		return nil, nil
	}

	var side types.Side
	switch {
	case lastClose > rHigh && lastEMAFast > lastEMASlow:
		side = types.SideLong
	case lastClose < rLow && lastEMAFast < lastEMASlow:
		side = types.SideShort
	default:
		return nil, nil
	}

	var sl, tp float64
	if side == types.SideLong {
		sl = maxF(rLow*(1-cfg.StopOffset), lastClose*(1-cfg.MaxStopPercent))
		tp = lastClose + (lastClose-sl)*cfg.RRRatio
	} else {
		sl = minF(rHigh*(1+cfg.StopOffset), lastClose*(1+cfg.MaxStopPercent))
		tp = lastClose - (sl-lastClose)*cfg.RRRatio
	}

	return &Signal{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    round(lastClose, 6),
		SLPrice:       round(sl, 6),
		TPPrice:       round(tp, 6),
		SpikeRatio:    round(spikeRatio, 4),
		EMAFastValue:  round(lastEMAFast, 6),
		EMASlowValue:  round(lastEMASlow, 6),
		CurrentVolume: round(currentVol, 2),
		AvgVolume:     round(avgVol10, 2),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func column(rows [][6]float64, col int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[col]
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round(v float64, places int32) float64 {
	mult := 1.0
	for i := int32(0); i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+sign(v)*0.5)) / mult
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
