// Package config loads the engine's runtime configuration via viper,
// following the original's environment-variable-driven defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TradingConfig holds every tunable the engine reads at startup. All
// fields have defaults so a bare environment still produces a working
// (if inert, absent a Telegram token) configuration.
type TradingConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`

	TopVolumeLimit     int `mapstructure:"top_volume_limit"`
	MarketRefreshHours int `mapstructure:"market_refresh_hours"`
	ScanIntervalSeconds int `mapstructure:"scan_interval_seconds"`
	TradeControlSeconds int `mapstructure:"trade_control_seconds"`

	EMAFast int `mapstructure:"ema_fast"`
	EMASlow int `mapstructure:"ema_slow"`

	VolumeSpikeMin float64 `mapstructure:"volume_spike_min"`
	VolumeSpikeMax float64 `mapstructure:"volume_spike_max"`

	BreakoutRangePeriod int     `mapstructure:"breakout_range_period"`
	RRRatio             float64 `mapstructure:"rr_ratio"`
	MaxStopPercent      float64 `mapstructure:"max_stop_percent"`
	StopOffset          float64 `mapstructure:"stop_offset"`
	TimeStopHours       int     `mapstructure:"time_stop_hours"`
	CooldownMinutes     int     `mapstructure:"cooldown_minutes"`

	ActiveStrategy    string `mapstructure:"active_strategy"`
	MaxParallelTasks  int    `mapstructure:"max_parallel_tasks"`
	MaxTrackedSignals int    `mapstructure:"max_tracked_signals"`

	DBUrl string `mapstructure:"db_url"`

	WSKlineTimeframes []string `mapstructure:"ws_kline_timeframes"`
	WSReconnectDelay  int      `mapstructure:"ws_reconnect_delay"`

	// VolatilityEma-specific, not shared with EmaVolume.
	VolumeMA int     `mapstructure:"volume_ma"`
	MinSpike float64 `mapstructure:"min_spike"`
	MaxSpike float64 `mapstructure:"max_spike"`

	LogLevel string `mapstructure:"log_level"`
	Env      string `mapstructure:"env"`
}

// ScanInterval returns ScanIntervalSeconds as a Duration.
func (c *TradingConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// TradeControlInterval returns TradeControlSeconds as a Duration.
func (c *TradingConfig) TradeControlInterval() time.Duration {
	return time.Duration(c.TradeControlSeconds) * time.Second
}

// MarketRefreshInterval returns MarketRefreshHours as a Duration.
func (c *TradingConfig) MarketRefreshInterval() time.Duration {
	return time.Duration(c.MarketRefreshHours) * time.Hour
}

// TimeStop returns TimeStopHours as a Duration.
func (c *TradingConfig) TimeStop() time.Duration {
	return time.Duration(c.TimeStopHours) * time.Hour
}

// WSReconnectBackoff returns WSReconnectDelay as a Duration.
func (c *TradingConfig) WSReconnectBackoff() time.Duration {
	return time.Duration(c.WSReconnectDelay) * time.Second
}

// Cooldown returns CooldownMinutes as a Duration.
func (c *TradingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("top_volume_limit", 100)
	v.SetDefault("market_refresh_hours", 1)
	v.SetDefault("scan_interval_seconds", 300)
	v.SetDefault("trade_control_seconds", 10)
	v.SetDefault("ema_fast", 9)
	v.SetDefault("ema_slow", 21)
	v.SetDefault("volume_spike_min", 2.5)
	v.SetDefault("volume_spike_max", 6.0)
	v.SetDefault("breakout_range_period", 5)
	v.SetDefault("rr_ratio", 1.4)
	v.SetDefault("max_stop_percent", 0.025)
	v.SetDefault("stop_offset", 0.0005)
	v.SetDefault("time_stop_hours", 4)
	v.SetDefault("cooldown_minutes", 30)
	v.SetDefault("active_strategy", "ema_volume")
	v.SetDefault("max_parallel_tasks", 15)
	v.SetDefault("max_tracked_signals", 3)
	v.SetDefault("db_url", "mimbot.db")
	v.SetDefault("ws_kline_timeframes", []string{"1m", "5m"})
	v.SetDefault("ws_reconnect_delay", 5)
	v.SetDefault("volume_ma", 20)
	v.SetDefault("min_spike", 4.0)
	v.SetDefault("max_spike", 12.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("env", "production")
}

// Load reads TradingConfig from an optional config file (searched as
// "config" with yaml/json/toml extensions in the given dirs), then
// overlays MIMBOT_-prefixed environment variables. Missing config
// files are not an error; missing env vars fall back to defaults.
func Load(configDirs ...string) (*TradingConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("mimbot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}
	if len(configDirs) == 0 {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg TradingConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
