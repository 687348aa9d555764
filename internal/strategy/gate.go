package strategy

import "time"

// Gate 是激活时的外部闸门，只依据时间戳（与方向）做判断。
type Gate interface {
	Allow(ts time.Time, side Side) bool
}

// GateFunc 让普通函数满足 Gate。
type GateFunc func(ts time.Time, side Side) bool

func (f GateFunc) Allow(ts time.Time, side Side) bool { return f(ts, side) }

// AlwaysPass 是默认闸门。
var AlwaysPass Gate = GateFunc(func(time.Time, Side) bool { return true })

// AllGates 要求所有闸门同时放行；nil 成员被忽略。
func AllGates(gates ...Gate) Gate {
	active := make([]Gate, 0, len(gates))
	for _, g := range gates {
		if g != nil {
			active = append(active, g)
		}
	}
	switch len(active) {
	case 0:
		return AlwaysPass
	case 1:
		return active[0]
	}
	return GateFunc(func(ts time.Time, side Side) bool {
		for _, g := range active {
			if !g.Allow(ts, side) {
				return false
			}
		}
		return true
	})
}
