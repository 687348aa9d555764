package strategy

import (
	"fmt"
	"strings"
	"time"

	"trendflip/internal/analysis/indicator"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign 多头为 +1，空头为 -1。
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Direction 返回与该方向一致的趋势方向。
func (s Side) Direction() indicator.Direction {
	if s == SideShort {
		return indicator.Down
	}
	return indicator.Up
}

// ParseSide 解析 long/short，大小写不敏感。
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

func sideFor(dir indicator.Direction) Side {
	if dir == indicator.Down {
		return SideShort
	}
	return SideLong
}

// Reason 说明一次未成交尝试被拒绝的原因。
type Reason string

const (
	ReasonDistanceCap Reason = "distance_cap"
	ReasonGate        Reason = "gate"
)

// PendingEntry 是已确认形态、等待在 ScheduledAt 所在 K 线激活的入场。
type PendingEntry struct {
	ScheduledAt time.Time
	Side        Side
	FlipAt      time.Time
}

// Position 是当前唯一的持仓。
type Position struct {
	Side         Side
	EntryTime    time.Time
	EntryPrice   float64
	CurrentStop  float64
	InitialStop  float64
	StopDistance float64
}

// Trade 是账本中的一条记录。Executed=false 时出场相关字段为零值。
type Trade struct {
	EntryTime    time.Time
	ExitTime     time.Time
	Side         Side
	EntryPrice   float64
	ExitPrice    float64
	InitialStop  float64
	FinalStop    float64
	StopDistance float64
	Pips         float64
	Executed     bool
	Reason       Reason
}

// HourWindow 是 UTC 小时窗口 [Start, End)。
type HourWindow struct {
	Start int
	End   int
}

// Contains 判断时间戳的 UTC 小时是否落在窗口内。
func (w HourWindow) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	return w.Start <= h && h < w.End
}

// SideSet 是允许的方向集合，空集合表示多空皆可。
type SideSet []Side

func (s SideSet) Allows(side Side) bool {
	if len(s) == 0 {
		return true
	}
	for _, item := range s {
		if item == side {
			return true
		}
	}
	return false
}

// Params 是单个引擎实例的完整参数，引擎不会读取任何外部默认值。
type Params struct {
	TrendLength     int
	TrendMultiplier float64
	PipSize         float64
	MaxStopDistance float64
	EntryHours      *HourWindow
	AllowedSides    SideSet
	Gate            Gate
}

// Validate 检查参数取值范围。
func (p Params) Validate() error {
	if p.TrendLength < 1 {
		return fmt.Errorf("trend length must be >= 1, got %d", p.TrendLength)
	}
	if p.TrendMultiplier <= 0 {
		return fmt.Errorf("trend multiplier must be > 0, got %v", p.TrendMultiplier)
	}
	if p.PipSize <= 0 {
		return fmt.Errorf("pip size must be > 0, got %v", p.PipSize)
	}
	if p.MaxStopDistance <= 0 {
		return fmt.Errorf("max entry-stop distance must be > 0, got %v", p.MaxStopDistance)
	}
	if w := p.EntryHours; w != nil && (w.Start < 0 || w.End > 24 || w.Start >= w.End) {
		return fmt.Errorf("entry hours must satisfy 0 <= start < end <= 24, got %d-%d", w.Start, w.End)
	}
	for _, s := range p.AllowedSides {
		if s != SideLong && s != SideShort {
			return fmt.Errorf("unknown allowed side %q", s)
		}
	}
	return nil
}

func (p Params) inWindow(t time.Time) bool {
	return p.EntryHours == nil || p.EntryHours.Contains(t)
}
