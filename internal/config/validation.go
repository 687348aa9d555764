package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Filters.validate(); err != nil {
		return err
	}
	if err := c.Sweep.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Mode)) {
	case "run", "sweep", "serve", "fetch":
		a.Mode = strings.ToLower(strings.TrimSpace(a.Mode))
		return nil
	default:
		return fmt.Errorf("app.mode must be one of run|sweep|serve|fetch, got %q", a.Mode)
	}
}

// Validate 对策略参数做独立校验，profile 加载后也会调用。
func (s *StrategyConfig) Validate() error {
	if s.TrendLength < 1 {
		return fmt.Errorf("strategy.trend_length must be >= 1")
	}
	if s.TrendMultiplier <= 0 {
		return fmt.Errorf("strategy.trend_multiplier must be > 0")
	}
	if s.PipSize <= 0 {
		return fmt.Errorf("strategy.pip_size must be > 0")
	}
	if s.MaxStopDistance <= 0 {
		return fmt.Errorf("strategy.max_entry_stop_distance_pips must be > 0")
	}
	if s.EntryHours.Enabled {
		h := s.EntryHours
		if h.Start < 0 || h.End > 24 || h.Start >= h.End {
			return fmt.Errorf("strategy.entry_hours must satisfy 0 <= start < end <= 24, got %s", h)
		}
	}
	for i, side := range s.AllowedSides {
		side = strings.ToLower(strings.TrimSpace(side))
		if side != "long" && side != "short" {
			return fmt.Errorf("strategy.allowed_sides contains unknown side %q", side)
		}
		s.AllowedSides[i] = side
	}
	for _, d := range s.TradableDates {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(d)); err != nil {
			return fmt.Errorf("strategy.tradable_dates: %w", err)
		}
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	return s.Validate()
}

func (d *DataConfig) validate() error {
	start, end, err := d.DateRange()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return fmt.Errorf("data.date_start must not be after data.date_end")
	}
	return nil
}

func (f *FiltersConfig) validate() error {
	switch f.Trend {
	case "up", "down", "both":
	default:
		return fmt.Errorf("filters.trend must be up|down|both, got %q", f.Trend)
	}
	if !f.Sentiment.Enabled {
		return nil
	}
	if strings.TrimSpace(f.Sentiment.Path) == "" {
		return fmt.Errorf("filters.sentiment.path is required when sentiment is enabled")
	}
	switch f.Sentiment.FilterType {
	case "bearish", "bullish", "combined":
	default:
		return fmt.Errorf("filters.sentiment.filter_type must be bearish|bullish|combined, got %q", f.Sentiment.FilterType)
	}
	if f.Sentiment.MinHeadlineCount < 0 {
		return fmt.Errorf("filters.sentiment.min_headline_count must be >= 0")
	}
	return nil
}

func (s *SweepConfig) validate() error {
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("sweep.max_concurrent must be >= 1")
	}
	for _, l := range s.Lengths {
		if l < 1 {
			return fmt.Errorf("sweep.lengths must be >= 1")
		}
	}
	return nil
}
