package market

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"trendflip/internal/pkg/convert"
)

var timeColumns = []string{"timestamp", "time", "datetime", "date", "open_time", "timestamp_ms"}

// LoadCSV 读取 timestamp,Open,High,Low,Close[,Volume] 格式的 K 线文件并校验。
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars csv: %w", err)
	}
	defer f.Close()
	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV 解析带表头的 K 线 CSV，列名大小写不敏感；任何缺失字段都直接报错。
func ReadCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidSeries)
		}
		return nil, err
	}
	cols, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, 1024)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		bar, err := cols.parse(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSeries, line, err)
		}
		bars = append(bars, bar)
	}
	if err := Validate(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

type columnIndex struct {
	time, open, high, low, close, volume int
}

func locateColumns(header []string) (columnIndex, error) {
	idx := columnIndex{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch name {
		case "open":
			idx.open = i
		case "high":
			idx.high = i
		case "low":
			idx.low = i
		case "close":
			idx.close = i
		case "volume":
			idx.volume = i
		default:
			if idx.time < 0 {
				for _, c := range timeColumns {
					if name == c {
						idx.time = i
						break
					}
				}
			}
		}
	}
	var missing []string
	for name, pos := range map[string]int{"timestamp": idx.time, "open": idx.open, "high": idx.high, "low": idx.low, "close": idx.close} {
		if pos < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("%w: header missing columns %s", ErrInvalidSeries, strings.Join(sortedStrings(missing), ","))
	}
	return idx, nil
}

func (c columnIndex) parse(rec []string) (Bar, error) {
	field := func(pos int, name string) (string, error) {
		if pos >= len(rec) || strings.TrimSpace(rec[pos]) == "" {
			return "", fmt.Errorf("missing %s", name)
		}
		return rec[pos], nil
	}
	var bar Bar
	raw, err := field(c.time, "timestamp")
	if err != nil {
		return bar, err
	}
	if bar.Time, err = convert.ParseTimestamp(raw); err != nil {
		return bar, err
	}
	for _, p := range []struct {
		pos  int
		name string
		dst  *float64
	}{
		{c.open, "open", &bar.Open},
		{c.high, "high", &bar.High},
		{c.low, "low", &bar.Low},
		{c.close, "close", &bar.Close},
	} {
		raw, err := field(p.pos, p.name)
		if err != nil {
			return bar, err
		}
		if *p.dst, err = convert.ParseFloat(raw); err != nil {
			return bar, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if c.volume >= 0 && c.volume < len(rec) && strings.TrimSpace(rec[c.volume]) != "" {
		if v, err := convert.ParseFloat(rec[c.volume]); err == nil {
			bar.Volume = v
		}
	}
	return bar, nil
}

// WriteCSV 以 LoadCSV 可读的格式输出 K 线。
func WriteCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "Open", "High", "Low", "Close", "Volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.UTC().Format("2006-01-02 15:04:05"),
			formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close), formatFloat(b.Volume),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
