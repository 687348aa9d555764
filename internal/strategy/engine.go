package strategy

import (
	"fmt"
	"time"

	"trendflip/internal/analysis/indicator"
	"trendflip/internal/logger"
	"trendflip/internal/market"
)

// EventKind 标识引擎在单根 K 线内产生的事件。
type EventKind string

const (
	EventScheduled EventKind = "scheduled"
	EventActivated EventKind = "activated"
	EventRejected  EventKind = "rejected"
	EventDiscarded EventKind = "discarded"
	EventStopMoved EventKind = "stop_moved"
	EventExited    EventKind = "exited"
)

// Event 是引擎事件的快照。
type Event struct {
	Kind   EventKind
	Time   time.Time
	Side   Side
	Price  float64
	Stop   float64
	Reason string
}

// Observer 接收引擎事件，用于记录与测试。
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc 让普通函数满足 Observer。
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Option 定制引擎。
type Option func(*Engine)

// WithObserver 注册事件观察者。
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// trendSource 逐根产出指标记录。
type trendSource interface {
	Next(market.Bar) indicator.TrendPoint
}

// Engine 是单品种 SuperTrend 翻转回测状态机。单个实例严格串行，不可跨 goroutine 共享。
type Engine struct {
	params   Params
	gate     Gate
	trend    trendSource
	detector Detector
	book     positionBook
	ledger   Ledger
	observer Observer

	points   []indicator.TrendPoint
	lastTime time.Time
	prevDir  indicator.Direction
	lastBand float64
	hasBand  bool
	pending  *PendingEntry
}

// NewEngine 按参数创建引擎；Gate 为空时使用 AlwaysPass。
func NewEngine(params Params, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params: params,
		gate:   params.Gate,
		trend:  indicator.NewSuperTrend(params.TrendLength, params.TrendMultiplier),
	}
	if e.gate == nil {
		e.gate = AlwaysPass
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Run 校验整段序列后逐根回放，返回账本全部记录。
func (e *Engine) Run(bars []market.Bar) ([]Trade, error) {
	if err := market.Validate(bars); err != nil {
		return nil, err
	}
	for _, bar := range bars {
		if err := e.Step(bar); err != nil {
			return nil, err
		}
	}
	return e.ledger.Trades(), nil
}

// Step 推进一根 K 线，顺序固定为：激活待入场 → 管理持仓 → 登记新形态。
func (e *Engine) Step(bar market.Bar) error {
	if err := market.Validate([]market.Bar{bar}); err != nil {
		return err
	}
	if !e.lastTime.IsZero() && !bar.Time.After(e.lastTime) {
		return fmt.Errorf("%w: %s is not after %s", market.ErrInvalidSeries,
			bar.Time.UTC().Format(time.RFC3339), e.lastTime.UTC().Format(time.RFC3339))
	}
	e.lastTime = bar.Time

	point := e.trend.Next(bar)
	e.points = append(e.points, point)
	prior, hasPrior := e.lastBand, e.hasBand

	if pe, ok := e.detector.Advance(bar); ok {
		e.pending = &pe
		e.emit(Event{Kind: EventScheduled, Time: bar.Time, Side: pe.Side})
		logger.Debugf("[engine] pending %s scheduled at %s (flip %s)", pe.Side, fmtTime(pe.ScheduledAt), fmtTime(pe.FlipAt))
	}
	if e.pending != nil && !bar.Time.Before(e.pending.ScheduledAt) {
		pe := *e.pending
		e.pending = nil
		e.activate(pe, bar, point)
	}

	if e.book.open() {
		trade, moved, closed := e.book.manage(bar, point, prior, hasPrior, e.params.PipSize)
		if moved && !closed {
			pos, _ := e.book.current()
			e.emit(Event{Kind: EventStopMoved, Time: bar.Time, Side: pos.Side, Stop: pos.CurrentStop})
		}
		if closed {
			e.ledger.Append(trade)
			e.emit(Event{Kind: EventExited, Time: bar.Time, Side: trade.Side, Price: trade.ExitPrice, Stop: trade.FinalStop})
			logger.Debugf("[engine] exit %s at %s price=%.5f pips=%.1f", trade.Side, fmtTime(bar.Time), trade.ExitPrice, trade.Pips)
		}
	}

	if e.pending == nil && e.params.inWindow(bar.Time) && e.prevDir != indicator.Undefined &&
		point.Defined() && point.Direction != e.prevDir {
		side := sideFor(point.Direction)
		if e.params.AllowedSides.Allows(side) {
			e.detector.Open(bar, side)
		}
	}

	e.prevDir = point.Direction
	if point.Defined() {
		e.lastBand, e.hasBand = point.Band, true
	}
	return nil
}

func (e *Engine) activate(pe PendingEntry, bar market.Bar, point indicator.TrendPoint) {
	discard := func(reason string) {
		e.emit(Event{Kind: EventDiscarded, Time: bar.Time, Side: pe.Side, Reason: reason})
		logger.Debugf("[engine] pending %s discarded at %s: %s", pe.Side, fmtTime(bar.Time), reason)
	}
	switch {
	case !e.params.inWindow(bar.Time):
		discard("outside entry hours")
		return
	case e.book.open():
		discard("position open")
		return
	case !point.Defined():
		discard("band undefined")
		return
	}
	distance, ok := withinDistance(bar.Close, point.Band, e.params.PipSize, e.params.MaxStopDistance)
	if !ok {
		e.reject(pe, bar, point, distance, ReasonDistanceCap)
		return
	}
	if !e.gate.Allow(bar.Time, pe.Side) {
		e.reject(pe, bar, point, distance, ReasonGate)
		return
	}
	pos := e.book.enter(pe.Side, bar, point.Band, distance)
	e.emit(Event{Kind: EventActivated, Time: bar.Time, Side: pos.Side, Price: pos.EntryPrice, Stop: pos.CurrentStop})
	logger.Debugf("[engine] open %s at %s price=%.5f stop=%.5f dist=%.1fp", pos.Side, fmtTime(bar.Time), pos.EntryPrice, pos.CurrentStop, distance)
}

func (e *Engine) reject(pe PendingEntry, bar market.Bar, point indicator.TrendPoint, distance float64, reason Reason) {
	e.ledger.Append(Trade{
		EntryTime:    bar.Time,
		Side:         pe.Side,
		EntryPrice:   bar.Close,
		InitialStop:  point.Band,
		StopDistance: distance,
		Executed:     false,
		Reason:       reason,
	})
	e.emit(Event{Kind: EventRejected, Time: bar.Time, Side: pe.Side, Price: bar.Close, Stop: point.Band, Reason: string(reason)})
	logger.Debugf("[engine] %s entry at %s rejected: %s (dist=%.1fp)", pe.Side, fmtTime(bar.Time), reason, distance)
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer.OnEvent(ev)
	}
}

// Trades 返回账本全部记录。
func (e *Engine) Trades() []Trade { return e.ledger.Trades() }

// Ledger 返回账本（只读使用）。
func (e *Engine) Ledger() *Ledger { return &e.ledger }

// Position 返回当前持仓。
func (e *Engine) Position() (Position, bool) { return e.book.current() }

// Pending 返回当前待激活入场。
func (e *Engine) Pending() (PendingEntry, bool) {
	if e.pending == nil {
		return PendingEntry{}, false
	}
	return *e.pending, true
}

// Points 返回逐根指标记录。
func (e *Engine) Points() []indicator.TrendPoint {
	out := make([]indicator.TrendPoint, len(e.points))
	copy(out, e.points)
	return out
}

func fmtTime(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") }
