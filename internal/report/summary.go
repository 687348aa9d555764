package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"trendflip/internal/strategy"
)

// Ratio 是可能为 ±Inf / NaN 的比率；JSON 中分别编码为 "inf" / "-inf" / null。
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsNaN(f):
		return []byte("null"), nil
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "null":
		*r = Ratio(math.NaN())
		return nil
	case `"inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("ratio: %w", err)
	}
	*r = Ratio(f)
	return nil
}

func (r Ratio) String() string {
	f := float64(r)
	switch {
	case math.IsNaN(f):
		return "n/a"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.2f", f)
}

// Summary 汇总一次回测的绩效；未成交记录只计入 Filtered。
type Summary struct {
	Attempts       int            `json:"attempts" yaml:"attempts"`
	Filtered       int            `json:"filtered" yaml:"filtered"`
	FilteredBy     map[string]int `json:"filtered_by,omitempty" yaml:"filtered_by,omitempty"`
	Trades         int            `json:"trades" yaml:"trades"`
	Wins           int            `json:"wins" yaml:"wins"`
	Losses         int            `json:"losses" yaml:"losses"`
	WinRate        float64        `json:"win_rate" yaml:"win_rate"`
	TotalPips      float64        `json:"total_pips" yaml:"total_pips"`
	AvgTrade       float64        `json:"avg_trade" yaml:"avg_trade"`
	AvgWin         float64        `json:"avg_win" yaml:"avg_win"`
	AvgLoss        float64        `json:"avg_loss" yaml:"avg_loss"`
	BestTrade      float64        `json:"best_trade" yaml:"best_trade"`
	WorstTrade     float64        `json:"worst_trade" yaml:"worst_trade"`
	GrossGain      float64        `json:"gross_gain" yaml:"gross_gain"`
	GrossLoss      float64        `json:"gross_loss" yaml:"gross_loss"`
	ProfitFactor   Ratio          `json:"profit_factor" yaml:"profit_factor"`
	MaxDrawdown    float64        `json:"max_drawdown" yaml:"max_drawdown"`
	SharpePerTrade Ratio          `json:"sharpe_per_trade" yaml:"sharpe_per_trade"`
	SharpeAnnual   Ratio          `json:"sharpe_annual" yaml:"sharpe_annual"`
	FirstEntry     time.Time      `json:"first_entry,omitempty" yaml:"first_entry,omitempty"`
	LastEntry      time.Time      `json:"last_entry,omitempty" yaml:"last_entry,omitempty"`
}

// Summarize 按账本顺序计算绩效统计。
func Summarize(ledger []strategy.Trade) Summary {
	s := Summary{
		Attempts:       len(ledger),
		ProfitFactor:   Ratio(math.NaN()),
		SharpePerTrade: Ratio(math.NaN()),
		SharpeAnnual:   Ratio(math.NaN()),
	}
	pips := make([]float64, 0, len(ledger))
	for _, t := range ledger {
		if !t.Executed {
			s.Filtered++
			if s.FilteredBy == nil {
				s.FilteredBy = make(map[string]int)
			}
			s.FilteredBy[string(t.Reason)]++
			continue
		}
		if len(pips) == 0 {
			s.FirstEntry = t.EntryTime
		}
		s.LastEntry = t.EntryTime
		pips = append(pips, t.Pips)
	}
	s.Trades = len(pips)
	if s.Trades == 0 {
		return s
	}

	s.BestTrade, s.WorstTrade = pips[0], pips[0]
	var equity, peak float64
	for i, p := range pips {
		s.TotalPips += p
		switch {
		case p > 0:
			s.Wins++
			s.GrossGain += p
		case p < 0:
			s.Losses++
			s.GrossLoss += p
		}
		s.BestTrade = math.Max(s.BestTrade, p)
		s.WorstTrade = math.Min(s.WorstTrade, p)

		equity += p
		if i == 0 || equity > peak {
			peak = equity
		}
		s.MaxDrawdown = math.Min(s.MaxDrawdown, equity-peak)
	}
	n := float64(s.Trades)
	s.WinRate = float64(s.Wins) / n
	s.AvgTrade = s.TotalPips / n
	if s.Wins > 0 {
		s.AvgWin = s.GrossGain / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.Losses)
		s.ProfitFactor = Ratio(s.GrossGain / math.Abs(s.GrossLoss))
	} else {
		s.ProfitFactor = Ratio(math.Inf(1))
	}

	if std := sampleStd(pips, s.AvgTrade); std > 0 {
		perTrade := s.AvgTrade / std
		s.SharpePerTrade = Ratio(perTrade)
		days := math.Floor(s.LastEntry.Sub(s.FirstEntry).Hours() / 24)
		years := math.Max(days/365.25, 1e-9)
		s.SharpeAnnual = Ratio(perTrade * math.Sqrt(n/years))
	}
	return s
}

func sampleStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// Text 渲染为多行文本，供 logger.InfoBlock 输出。
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance Summary:\n")
	fmt.Fprintf(&b, "- Total trades: %d (filtered %d", s.Trades, s.Filtered)
	if len(s.FilteredBy) > 0 {
		reasons := make([]string, 0, len(s.FilteredBy))
		for k := range s.FilteredBy {
			reasons = append(reasons, k)
		}
		sort.Strings(reasons)
		for _, k := range reasons {
			fmt.Fprintf(&b, ", %s=%d", k, s.FilteredBy[k])
		}
	}
	b.WriteString(")\n")
	if s.Trades == 0 {
		b.WriteString("- No trades were executed.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- Total pips: %.1f\n", s.TotalPips)
	fmt.Fprintf(&b, "- Win rate: %.2f%%\n", s.WinRate*100)
	fmt.Fprintf(&b, "- Average trade: %.1f pips\n", s.AvgTrade)
	fmt.Fprintf(&b, "- Average win: %.1f pips\n", s.AvgWin)
	fmt.Fprintf(&b, "- Average loss: %.1f pips\n", s.AvgLoss)
	fmt.Fprintf(&b, "- Best trade: %.1f pips\n", s.BestTrade)
	fmt.Fprintf(&b, "- Worst trade: %.1f pips\n", s.WorstTrade)
	fmt.Fprintf(&b, "- Profit factor: %s\n", s.ProfitFactor)
	fmt.Fprintf(&b, "- Max drawdown: %.1f pips\n", s.MaxDrawdown)
	fmt.Fprintf(&b, "- Sharpe (per-trade): %s\n", s.SharpePerTrade)
	fmt.Fprintf(&b, "- Sharpe (annualized ~): %s\n", s.SharpeAnnual)
	return b.String()
}
