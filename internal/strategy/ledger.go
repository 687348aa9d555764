package strategy

// Ledger 按时间顺序追加交易记录，只增不改。
type Ledger struct {
	trades []Trade
}

func (l *Ledger) Append(t Trade) {
	l.trades = append(l.trades, t)
}

// Trades 返回全部记录的副本。
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Executed 只返回已成交的记录。
func (l *Ledger) Executed() []Trade {
	out := make([]Trade, 0, len(l.trades))
	for _, t := range l.trades {
		if t.Executed {
			out = append(out, t)
		}
	}
	return out
}

func (l *Ledger) Len() int { return len(l.trades) }
