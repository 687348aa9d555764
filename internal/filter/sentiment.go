package filter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trendflip/internal/logger"
	"trendflip/internal/pkg/convert"
	"trendflip/internal/strategy"
)

// SentimentRecord 是某个入场时间点的新闻情绪特征。
type SentimentRecord struct {
	Time          time.Time
	HeadlineCount int
	NetSentiment  float64
}

// SentimentTable 以入场时间精确匹配。
type SentimentTable map[int64]SentimentRecord

func (t SentimentTable) Lookup(ts time.Time) (SentimentRecord, bool) {
	rec, ok := t[ts.UTC().UnixNano()]
	return rec, ok
}

func (t SentimentTable) add(rec SentimentRecord) {
	t[rec.Time.UTC().UnixNano()] = rec
}

// LoadSentiment 按扩展名读取 CSV 或 JSON / JSON lines 情绪表。
func LoadSentiment(path string) (SentimentTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return ParseSentimentJSON(data)
	default:
		return ReadSentimentCSV(bytes.NewReader(data))
	}
}

// ReadSentimentCSV 需要 entry_time(或 timestamp)、headline_count、net_sentiment 三列。
func ReadSentimentCSV(r io.Reader) (SentimentTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	timeCol, countCol, netCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "entry_time", "timestamp", "time":
			if timeCol < 0 {
				timeCol = i
			}
		case "headline_count":
			countCol = i
		case "net_sentiment":
			netCol = i
		}
	}
	if timeCol < 0 || countCol < 0 || netCol < 0 {
		return nil, fmt.Errorf("sentiment csv needs entry_time, headline_count, net_sentiment columns")
	}
	table := make(SentimentTable)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if timeCol >= len(rec) || countCol >= len(rec) || netCol >= len(rec) {
			continue
		}
		ts, err := convert.ParseTimestamp(rec[timeCol])
		if err != nil {
			continue
		}
		count, _ := convert.ParseInt(rec[countCol])
		net, _ := convert.ParseFloat(rec[netCol])
		table.add(SentimentRecord{Time: ts, HeadlineCount: count, NetSentiment: net})
	}
	return table, nil
}

// ParseSentimentJSON 支持对象数组或逐行 JSON。
func ParseSentimentJSON(data []byte) (SentimentTable, error) {
	table := make(SentimentTable)
	var parseErr error
	visit := func(item gjson.Result) bool {
		raw := item.Get("entry_time")
		if !raw.Exists() {
			raw = item.Get("timestamp")
		}
		var (
			ts  time.Time
			err error
		)
		if raw.Type == gjson.Number {
			ts, err = convert.ParseTimestamp(raw.Raw)
		} else {
			ts, err = convert.ParseTimestamp(raw.String())
		}
		if err != nil {
			return true
		}
		table.add(SentimentRecord{
			Time:          ts,
			HeadlineCount: int(item.Get("headline_count").Int()),
			NetSentiment:  item.Get("net_sentiment").Float(),
		})
		return true
	}
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "[") {
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("invalid sentiment json")
		}
		gjson.Parse(text).ForEach(func(_, item gjson.Result) bool { return visit(item) })
	} else {
		gjson.ForEachLine(text, func(line gjson.Result) bool {
			if line.Raw != "" && !gjson.Valid(line.Raw) {
				parseErr = fmt.Errorf("invalid sentiment json line: %.40s", line.Raw)
				return false
			}
			return visit(line)
		})
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return table, nil
}

// SentimentRule 定义放行条件，所有规则都要求 headline_count >= MinHeadlineCount。
type SentimentRule struct {
	MinHeadlineCount int
	FilterType       string // bearish | bullish | combined
	BearishThreshold float64
	BullishThreshold float64
}

// Pass bearish: net < bearish；bullish: net > bullish；combined: 二者之一。
func (r SentimentRule) Pass(rec SentimentRecord) bool {
	if rec.HeadlineCount < r.MinHeadlineCount {
		return false
	}
	bearish := rec.NetSentiment < r.BearishThreshold
	bullish := rec.NetSentiment > r.BullishThreshold
	switch strings.ToLower(r.FilterType) {
	case "bullish":
		return bullish
	case "combined":
		return bearish || bullish
	default:
		return bearish
	}
}

// SentimentGate 在激活时查询情绪表；没有记录的时间点不放行。
type SentimentGate struct {
	table SentimentTable
	rule  SentimentRule
}

func NewSentimentGate(table SentimentTable, rule SentimentRule) *SentimentGate {
	return &SentimentGate{table: table, rule: rule}
}

func (g *SentimentGate) Allow(ts time.Time, _ strategy.Side) bool {
	rec, ok := g.table.Lookup(ts)
	if !ok {
		return false
	}
	return g.rule.Pass(rec)
}

// OpenSentimentGate 读取情绪表并构造闸门；文件不可用时退化为全部放行并告警。
func OpenSentimentGate(path string, rule SentimentRule) strategy.Gate {
	table, err := LoadSentiment(path)
	if err != nil {
		logger.Warnf("[filter] sentiment table unavailable (%s): %v; proceeding without news filter", path, err)
		return strategy.AlwaysPass
	}
	logger.Infof("[filter] loaded %d sentiment rows from %s (rule=%s)", len(table), filepath.Base(path), rule.FilterType)
	return NewSentimentGate(table, rule)
}
