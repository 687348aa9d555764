package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSeries 表示输入 K 线缺字段或时间戳不严格递增。
var ErrInvalidSeries = errors.New("invalid bar series")

// Bar 是单根 OHLC K 线，Time 为开盘时间（UTC）。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

// Bullish 收盘高于开盘。
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish 收盘低于开盘。
func (b Bar) Bearish() bool { return b.Close < b.Open }

// Mid 返回 (H+L)/2。
func (b Bar) Mid() float64 { return (b.High + b.Low) / 2 }

func (b Bar) String() string {
	return fmt.Sprintf("%s O=%.5f H=%.5f L=%.5f C=%.5f", b.Time.UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
}

func (b Bar) complete() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !b.Time.IsZero()
}

// Validate 在回放前检查序列：字段齐全且时间戳严格递增。
func Validate(bars []Bar) error {
	for i, b := range bars {
		if !b.complete() {
			return fmt.Errorf("%w: bar %d has missing fields", ErrInvalidSeries, i)
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: bar %d (%s) high < low", ErrInvalidSeries, i, b.Time.UTC().Format(time.RFC3339))
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: bar %d (%s) is not after %s", ErrInvalidSeries, i,
				b.Time.UTC().Format(time.RFC3339), bars[i-1].Time.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// SortDedupe 按时间升序排序并去除重复时间戳（保留最后一条）。
func SortDedupe(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for i, b := range bars {
		if i+1 < len(bars) && bars[i+1].Time.Equal(b.Time) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Clip 保留 [start, end) 区间内的 K 线；零值表示不限制。
func Clip(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !b.Time.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// DateSet 是按 UTC 日期（YYYY-MM-DD）索引的集合。
type DateSet map[string]struct{}

// DateKey 返回时间戳所在的 UTC 日期键。
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// NewDateSet 由日期字符串构建集合，非法日期返回错误。
func NewDateSet(dates []string) (DateSet, error) {
	set := make(DateSet, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", d, err)
		}
		set[DateKey(t)] = struct{}{}
	}
	return set, nil
}

func (s DateSet) Add(day string) { s[day] = struct{}{} }

func (s DateSet) Contains(t time.Time) bool {
	_, ok := s[DateKey(t)]
	return ok
}

// Intersect 返回两个集合的交集。
func (s DateSet) Intersect(other DateSet) DateSet {
	out := make(DateSet)
	for d := range s {
		if _, ok := other[d]; ok {
			out[d] = struct{}{}
		}
	}
	return out
}

// Sorted 返回升序的日期列表。
func (s DateSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// FilterDates 仅保留日期在集合内的 K 线；nil 集合表示不过滤。
func FilterDates(bars []Bar, days DateSet) []Bar {
	if days == nil {
		return bars
	}
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if days.Contains(b.Time) {
			out = append(out, b)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
