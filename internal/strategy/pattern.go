package strategy

import (
	"time"

	"trendflip/internal/market"
)

type watchStage uint8

const (
	awaitingAlternate watchStage = iota // 等待第一根反色 K 线（C1）
	awaitingConfirm                     // 下一根即 C2
)

// watch 是一次翻转后尚未判定的入场形态。
type watch struct {
	flipAt time.Time
	side   Side
	stage  watchStage
}

// matches 判断 K 线颜色是否与方向一致（doji 两边都不算）。
func matches(bar market.Bar, side Side) bool {
	if side == SideShort {
		return bar.Bearish()
	}
	return bar.Bullish()
}

func opposes(bar market.Bar, side Side) bool {
	if side == SideShort {
		return bar.Bullish()
	}
	return bar.Bearish()
}

// Detector 逐根推进翻转形态：翻转 K 线 C0 → 首根反色 K 线 C1 → 紧随其后的 C2。
// C2 与 C0 同色时在 C2 上产出 PendingEntry，从不读取未来 K 线。
type Detector struct {
	watches []watch
}

// Open 在翻转 K 线上登记形态；C0 颜色不符时忽略。
func (d *Detector) Open(bar market.Bar, side Side) bool {
	if !matches(bar, side) {
		return false
	}
	d.watches = append(d.watches, watch{flipAt: bar.Time, side: side})
	return true
}

// Advance 用新 K 线推进所有形态，最多返回一个 PendingEntry。
// 较早的形态总是先于或与较晚的形态同时判定；一旦产出入场，其余形态全部作废。
func (d *Detector) Advance(bar market.Bar) (PendingEntry, bool) {
	kept := d.watches[:0]
	for i := range d.watches {
		w := d.watches[i]
		switch w.stage {
		case awaitingAlternate:
			if opposes(bar, w.side) {
				w.stage = awaitingConfirm
			}
			kept = append(kept, w)
		case awaitingConfirm:
			if matches(bar, w.side) {
				d.watches = d.watches[:0]
				return PendingEntry{ScheduledAt: bar.Time, Side: w.side, FlipAt: w.flipAt}, true
			}
		}
	}
	d.watches = kept
	return PendingEntry{}, false
}

// Len 返回在途形态数量。
func (d *Detector) Len() int { return len(d.watches) }

// Reset 丢弃所有在途形态。
func (d *Detector) Reset() { d.watches = d.watches[:0] }
