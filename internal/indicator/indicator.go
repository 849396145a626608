// Package indicator implements the scalar technical-indicator
// recurrences used by the strategy package: EMA, MACD, Wilder RSI, and
// Wilder ATR, operating on plain float64 series to match the
// original's NumPy arithmetic bit-for-bit rather than routing through
// decimal.Decimal.
package indicator

// EMA computes the exponential moving average of data with the given
// span, seeding ema[0] = data[0] (NumPy/pandas adjust=false semantics).
func EMA(data []float64, span int) []float64 {
	ema := make([]float64, len(data))
	if len(data) == 0 {
		return ema
	}
	alpha := 2.0 / (float64(span) + 1)
	ema[0] = data[0]
	for i := 1; i < len(data); i++ {
		ema[i] = alpha*data[i] + (1-alpha)*ema[i-1]
	}
	return ema
}

// MACD returns the MACD line (fast EMA - slow EMA) and its signal line
// (EMA of the MACD line).
func MACD(data []float64, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signalLine []float64) {
	emaFast := EMA(data, fastPeriod)
	emaSlow := EMA(data, slowPeriod)

	macdLine = make([]float64, len(data))
	for i := range data {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(macdLine, signalPeriod)
	return macdLine, signalLine
}

// RSI computes Wilder-smoothed RSI over data. The divide-by-zero
// quirk of the original is preserved deliberately: when the smoothed
// down-move average is zero, rs is defined as 0, so rsi comes out 0
// rather than the conventional 100.
func RSI(data []float64, period int) []float64 {
	rsi := make([]float64, len(data))
	if len(data) <= period {
		return rsi
	}

	deltas := make([]float64, len(data)-1)
	for i := 1; i < len(data); i++ {
		deltas[i-1] = data[i] - data[i-1]
	}

	var upSum, downSum float64
	for i := 0; i < period; i++ {
		d := deltas[i]
		if d >= 0 {
			upSum += d
		} else {
			downSum += -d
		}
	}
	up := upSum / float64(period)
	down := downSum / float64(period)

	rs := 0.0
	if down != 0 {
		rs = up / down
	}
	seedRSI := 100.0 - 100.0/(1.0+rs)
	for i := 0; i < period && i < len(rsi); i++ {
		rsi[i] = seedRSI
	}

	for i := period; i < len(data); i++ {
		delta := deltas[i-1]
		var upVal, downVal float64
		if delta > 0 {
			upVal = delta
		} else {
			downVal = -delta
		}

		up = (up*float64(period-1) + upVal) / float64(period)
		down = (down*float64(period-1) + downVal) / float64(period)

		rs = 0.0
		if down != 0 {
			rs = up / down
		}
		rsi[i] = 100.0 - 100.0/(1.0+rs)
	}

	return rsi
}

// ATR computes the Wilder-smoothed Average True Range from high, low,
// and close series of equal length. atr[period-1] seeds as the plain
// mean of the first period true ranges; every subsequent value is the
// Wilder recurrence atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
// Entries before period-1 are zero (insufficient data to seed), and a
// series of period or fewer values yields all zeros.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	atr := make([]float64, n)
	if n <= period {
		return atr
	}

	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := abs(high[i] - close[i-1])
		lc := abs(low[i] - close[i-1])
		tr[i] = max3(hl, hc, lc)
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return atr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
