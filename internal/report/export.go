package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"trendflip/internal/market"
	"trendflip/internal/strategy"
)

var tradeHeader = []string{
	"entry_time", "exit_time", "side", "entry", "exit",
	"initial_stop", "final_stop", "stop_distance_pips", "pips", "executed", "reason",
}

// WriteTradesCSV 输出完整账本（含未成交记录）。
func WriteTradesCSV(w io.Writer, trades []strategy.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			formatTime(t.EntryTime, time.RFC3339),
			formatTime(t.ExitTime, time.RFC3339),
			string(t.Side),
			formatPrice(t.EntryPrice),
			"",
			formatPrice(t.InitialStop),
			"",
			strconv.FormatFloat(t.StopDistance, 'f', 1, 64),
			"",
			strconv.FormatBool(t.Executed),
			string(t.Reason),
		}
		if t.Executed {
			row[4] = formatPrice(t.ExitPrice)
			row[6] = formatPrice(t.FinalStop)
			row[8] = strconv.FormatFloat(t.Pips, 'f', 1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSimpleCSV 输出精简结果 entry_time,pips,final_stop,side（仅成交记录）。
func WriteSimpleCSV(w io.Writer, trades []strategy.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"entry_time", "pips", "final_stop", "side"}); err != nil {
		return err
	}
	for _, t := range trades {
		if !t.Executed {
			continue
		}
		if err := cw.Write([]string{
			formatTime(t.EntryTime, "2006-01-02 15:04"),
			strconv.FormatFloat(t.Pips, 'f', 1, 64),
			formatPrice(t.FinalStop),
			string(t.Side),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryDocument 是 summary.yaml 的内容。
type SummaryDocument struct {
	RunID     string         `yaml:"run_id,omitempty"`
	Label     string         `yaml:"label,omitempty"`
	Symbol    string         `yaml:"symbol"`
	Timeframe string         `yaml:"timeframe"`
	Bars      int            `yaml:"bars"`
	Params    map[string]any `yaml:"params,omitempty"`
	Summary   Summary        `yaml:"summary"`
}

// WriteSummaryYAML 以 YAML 输出汇总。
func WriteSummaryYAML(w io.Writer, doc SummaryDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Bundle 是一次回测的全部导出材料。
type Bundle struct {
	Doc    SummaryDocument
	Trades []strategy.Trade
	Bars   []market.Bar
	Chart  ChartOptions
}

// Files 列出 Export 生成的文件。
type Files struct {
	Trades  string `json:"trades"`
	Simple  string `json:"simple"`
	Summary string `json:"summary"`
	Chart   string `json:"chart,omitempty"`
}

// Export 在 dir 下写出 trades.csv / trades_simple.csv / summary.yaml / chart.html。
// tag 非空时追加到文件名（trades_<tag>.csv）。
func Export(dir, tag string, b Bundle) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, err
	}
	suffix := ""
	if tag != "" {
		suffix = "_" + tag
	}
	files := Files{
		Trades:  filepath.Join(dir, "trades"+suffix+".csv"),
		Simple:  filepath.Join(dir, "trades_simple"+suffix+".csv"),
		Summary: filepath.Join(dir, "summary"+suffix+".yaml"),
	}
	if err := writeFile(files.Trades, func(w io.Writer) error { return WriteTradesCSV(w, b.Trades) }); err != nil {
		return files, err
	}
	if err := writeFile(files.Simple, func(w io.Writer) error { return WriteSimpleCSV(w, b.Trades) }); err != nil {
		return files, err
	}
	if err := writeFile(files.Summary, func(w io.Writer) error { return WriteSummaryYAML(w, b.Doc) }); err != nil {
		return files, err
	}
	if len(b.Bars) > 0 {
		files.Chart = filepath.Join(dir, "plot"+suffix+".html")
		if err := writeFile(files.Chart, func(w io.Writer) error { return RenderChart(w, b.Bars, b.Trades, b.Chart) }); err != nil {
			return files, err
		}
	}
	return files, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
