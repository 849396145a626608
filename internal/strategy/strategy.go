// Package strategy defines the pluggable Strategy interface and a
// name-keyed factory registry, replacing the original's importlib
// dynamic-module loader with a static, explicit registration table.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mimbot/tradingcore/internal/store"
	"github.com/mimbot/tradingcore/pkg/types"
)

// Signal is an immutable trading signal produced by Strategy.Evaluate.
// side=LONG requires sl_price < entry_price < tp_price; side=SHORT
// requires tp_price < entry_price < sl_price.
type Signal struct {
	Symbol        string
	Side          types.Side
	EntryPrice    float64
	SLPrice       float64
	TPPrice       float64
	SpikeRatio    float64
	EMAFastValue  float64
	EMASlowValue  float64
	CurrentVolume float64
	AvgVolume     float64
	Timestamp     time.Time
}

// Strategy evaluates one symbol against its own rules and either
// returns a Signal or nil when no setup qualifies. Evaluate must
// return quickly and without side effects beyond reading the store;
// "insufficient data" is not an error, it is a nil, nil return.
type Strategy interface {
	// RequiredTimeframes lists the timeframes this strategy reads from
	// the MemoryStore (e.g. ["1m", "5m"] or ["15m"]).
	RequiredTimeframes() []string
	Evaluate(ctx context.Context, symbol string) (*Signal, error)
}

// Factory builds a fresh Strategy instance bound to store and whatever
// configuration the concrete constructor captured.
type Factory func(s *store.MemoryStore) Strategy

// Registry is a name-keyed table of strategy factories supporting
// Register/Create/List, so the active strategy is selected by
// config rather than compiled in.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
}

// NewRegistry returns an empty registry. Built-in strategies are
// registered by NewDefaultRegistry rather than baked into this
// constructor, so tests can build a registry with only the strategies
// they need.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a new Strategy instance for name, or returns an error
// if name is not registered.
func (r *Registry) Create(name string, s *store.MemoryStore) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("strategy: unknown active_strategy %q", name)
	}
	return factory(s), nil
}

// List returns the sorted set of registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultRegistry returns a Registry with every built-in strategy
// registered under its spec name.
func NewDefaultRegistry(cfg StrategyConfig) *Registry {
	r := NewRegistry()
	r.Register("ema_volume", func(s *store.MemoryStore) Strategy {
		return NewEmaVolumeStrategy(cfg, s)
	})
	r.Register("rsi_macd", func(s *store.MemoryStore) Strategy {
		return NewRsiMacdStrategy(cfg, s)
	})
	r.Register("volatility_ema", func(s *store.MemoryStore) Strategy {
		return NewVolatilityEmaStrategy(cfg, s)
	})
	return r
}

// StrategyConfig is the subset of internal/config.TradingConfig that
// strategies read. Passed by value so each strategy captures its own
// immutable snapshot of parameters at construction time.
type StrategyConfig struct {
	EMAFast             int
	EMASlow             int
	VolumeSpikeMin      float64
	VolumeSpikeMax      float64
	BreakoutRangePeriod int
	RRRatio             float64
	MaxStopPercent      float64
	StopOffset          float64

	VolumeMA int
	MinSpike float64
	MaxSpike float64
}
