package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "data/logs/trendflip.log"
	defaultAppMode          = "run"
	defaultTrendLength      = 10
	defaultTrendMultiplier  = 3.6
	defaultPipSize          = 0.01
	defaultMaxStopDistance  = 520
	defaultEntryHourStart   = 13
	defaultEntryHourEnd     = 16
	defaultAllowedSide      = "long"
	defaultDataSymbol       = "XAUUSDT"
	defaultDataTimeframe    = "1m"
	defaultBarStoreDir      = "data/bars"
	defaultFilterTrend      = "both"
	defaultSentimentMin     = 5
	defaultSentimentType    = "bearish"
	defaultSentimentBearish = -0.1
	defaultSentimentBullish = 0.3
	defaultResultsDB        = "data/db/trendflip.db"
	defaultOutDir           = "data/out"
	defaultProfilesPath     = "configs/profiles.yaml"
	defaultSweepConcurrent  = 4
	defaultBinanceBaseURL   = "https://fapi.binance.com"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Filters.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Sweep.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
	)
}

// applyDefaults 中 entry_hours/allowed_sides 仅在未显式配置时回落默认；
// 显式写 "all" 或 [] 即可取消限制。
func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("strategy.trend_length", &s.TrendLength, defaultTrendLength),
		floatFieldDefault("strategy.trend_multiplier", &s.TrendMultiplier, defaultTrendMultiplier),
		floatFieldDefault("strategy.pip_size", &s.PipSize, defaultPipSize),
		floatFieldDefault("strategy.max_entry_stop_distance_pips", &s.MaxStopDistance, defaultMaxStopDistance),
		fieldDefault{
			key:  "strategy.entry_hours",
			need: func() bool { return !s.EntryHours.Enabled },
			apply: func() {
				s.EntryHours = HourRange{Enabled: true, Start: defaultEntryHourStart, End: defaultEntryHourEnd}
			},
		},
		fieldDefault{
			key:   "strategy.allowed_sides",
			need:  func() bool { return len(s.AllowedSides) == 0 },
			apply: func() { s.AllowedSides = SideList{defaultAllowedSide} },
		},
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.symbol", &d.Symbol, defaultDataSymbol),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
		stringFieldDefault("data.bar_store_dir", &d.BarStoreDir, defaultBarStoreDir),
	)
}

func (f *FiltersConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	s := &f.Sentiment
	applyFieldDefaults(keys,
		stringFieldDefault("filters.trend", &f.Trend, defaultFilterTrend),
		intFieldDefault("filters.sentiment.min_headline_count", &s.MinHeadlineCount, defaultSentimentMin),
		stringFieldDefault("filters.sentiment.filter_type", &s.FilterType, defaultSentimentType),
		explicitFloatDefault("filters.sentiment.bearish_threshold", &s.BearishThreshold, defaultSentimentBearish),
		explicitFloatDefault("filters.sentiment.bullish_threshold", &s.BullishThreshold, defaultSentimentBullish),
	)
	f.Trend = strings.ToLower(strings.TrimSpace(f.Trend))
	s.FilterType = strings.ToLower(strings.TrimSpace(s.FilterType))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.results_db", &s.ResultsDB, defaultResultsDB),
		stringFieldDefault("store.out_dir", &s.OutDir, defaultOutDir),
	)
}

func (s *SweepConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sweep.profiles_path", &s.ProfilesPath, defaultProfilesPath),
		intFieldDefault("sweep.max_concurrent", &s.MaxConcurrent, defaultSweepConcurrent),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.base_url", &b.BaseURL, defaultBinanceBaseURL),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			*target = def
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			*target = def
		},
	}
}

// explicitFloatDefault 用于 0 与负数都合法的字段，只看是否显式设置。
func explicitFloatDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			*target = def
		},
	}
}
