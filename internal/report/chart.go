package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"trendflip/internal/analysis/indicator"
	"trendflip/internal/market"
	"trendflip/internal/strategy"
)

const (
	colorBackground    = "#111827"
	colorTextPrimary   = "#e5e7eb"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#26a69a"
	colorBear          = "#ef5350"
	colorTrend         = "#ffb74d"
	colorLongEntry     = "#00e676"
	colorShortEntry    = "#ff5252"
	colorExit          = "#fafafa"

	chartWidthPx  = 1600
	klineHeightPx = 720
)

// ChartOptions 控制 HTML 图表。
type ChartOptions struct {
	Title           string
	TrendLength     int
	TrendMultiplier float64
	// Points 为空时按 TrendLength/TrendMultiplier 重新计算 SuperTrend。
	Points []indicator.TrendPoint
}

// RenderChart 输出可交互的 K 线 + SuperTrend + 进出场标记 HTML。
func RenderChart(w io.Writer, bars []market.Bar, trades []strategy.Trade, o ChartOptions) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars to chart")
	}
	points := o.Points
	if len(points) != len(bars) {
		if o.TrendLength < 1 || o.TrendMultiplier <= 0 {
			return fmt.Errorf("trend parameters required to chart supertrend")
		}
		points = indicator.ComputeSuperTrend(bars, o.TrendLength, o.TrendMultiplier)
	}
	title := o.Title
	if title == "" {
		title = "SuperTrend Backtest"
	}

	xAxis := make([]string, len(bars))
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		xAxis[i] = b.Time.UTC().Format("2006-01-02 15:04")
		index[b.Time.UnixNano()] = i
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle(trades),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "inside", XAxisIndex: []int{0}},
			opts.DataZoom{Type: "slider", XAxisIndex: []int{0}},
		),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", buildKlineSeries(bars))

	trend := charts.NewLine()
	trend.SetXAxis(xAxis)
	trend.AddSeries("SuperTrend", buildTrendSeries(points),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorTrend, Width: 2}),
	)
	kline.Overlap(trend)

	longs, shorts, exits := buildMarkers(trades, index, xAxis)
	markers := charts.NewScatter()
	markers.SetXAxis(xAxis)
	markers.AddSeries("Long entry", longs,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorLongEntry}))
	markers.AddSeries("Short entry", shorts,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorShortEntry}))
	markers.AddSeries("Exit", exits,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorExit}))
	kline.Overlap(markers)

	page := components.NewPage()
	page.AddCharts(kline)
	return page.Render(w)
}

func buildKlineSeries(bars []market.Bar) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(bars))
	for _, b := range bars {
		data = append(data, opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}})
	}
	return data
}

func buildTrendSeries(points []indicator.TrendPoint) []opts.LineData {
	line := make([]opts.LineData, len(points))
	for i, p := range points {
		if !p.Defined() {
			line[i] = opts.LineData{Value: nil}
			continue
		}
		line[i] = opts.LineData{Value: round(p.Band, 5)}
	}
	return line
}

func buildMarkers(trades []strategy.Trade, index map[int64]int, xAxis []string) (longs, shorts, exits []opts.ScatterData) {
	for _, t := range trades {
		if !t.Executed {
			continue
		}
		if i, ok := index[t.EntryTime.UnixNano()]; ok {
			point := opts.ScatterData{
				Name:       fmt.Sprintf("%s %.1fp", t.Side, t.Pips),
				Value:      []interface{}{xAxis[i], round(t.EntryPrice, 5)},
				Symbol:     "triangle",
				SymbolSize: 12,
			}
			if t.Side == strategy.SideShort {
				point.SymbolRotate = 180
				shorts = append(shorts, point)
			} else {
				longs = append(longs, point)
			}
		}
		if i, ok := index[t.ExitTime.UnixNano()]; ok {
			exits = append(exits, opts.ScatterData{
				Name:       fmt.Sprintf("exit %.1fp", t.Pips),
				Value:      []interface{}{xAxis[i], round(t.ExitPrice, 5)},
				Symbol:     "pin",
				SymbolSize: 10,
			})
		}
	}
	return longs, shorts, exits
}

func subtitle(trades []strategy.Trade) string {
	s := Summarize(trades)
	return fmt.Sprintf("trades %d | win %.1f%% | total %.1f pips | PF %s | max DD %.1f pips",
		s.Trades, s.WinRate*100, s.TotalPips, s.ProfitFactor, s.MaxDrawdown)
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
