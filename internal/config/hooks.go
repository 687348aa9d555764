package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	hourRangeType = reflect.TypeOf(HourRange{})
	sideListType  = reflect.TypeOf(SideList{})
)

// hourRangeHook 支持 "13-16"、"all"、[13, 16] 三种写法。
func hourRangeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != hourRangeType {
			return data, nil
		}
		switch val := data.(type) {
		case nil:
			return HourRange{}, nil
		case HourRange:
			return val, nil
		case string:
			return ParseHourRange(val)
		case []any:
			if len(val) != 2 {
				return nil, fmt.Errorf("entry_hours expects [start, end], got %d items", len(val))
			}
			start, err := toHour(val[0])
			if err != nil {
				return nil, err
			}
			end, err := toHour(val[1])
			if err != nil {
				return nil, err
			}
			return HourRange{Enabled: true, Start: start, End: end}, nil
		case []int:
			if len(val) != 2 {
				return nil, fmt.Errorf("entry_hours expects [start, end], got %d items", len(val))
			}
			return HourRange{Enabled: true, Start: val[0], End: val[1]}, nil
		default:
			return nil, fmt.Errorf("entry_hours: unsupported value %v", data)
		}
	}
}

// ParseHourRange 解析 "13-16" 形式的小时窗口；空串或 all/none 表示不限制。
func ParseHourRange(raw string) (HourRange, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "", "all", "none", "any":
		return HourRange{}, nil
	}
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return HourRange{}, fmt.Errorf("entry_hours %q: expected start-end", raw)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return HourRange{}, fmt.Errorf("entry_hours %q: %w", raw, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return HourRange{}, fmt.Errorf("entry_hours %q: %w", raw, err)
	}
	return HourRange{Enabled: true, Start: start, End: end}, nil
}

func toHour(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("entry_hours: unsupported hour %v", v)
	}
}

// sideListHook 支持 "long"、"long,short"、"both" 以及字符串数组。
func sideListHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != sideListType {
			return data, nil
		}
		switch val := data.(type) {
		case nil:
			return SideList{}, nil
		case string:
			return ParseSides(strings.Split(val, ",")), nil
		case []string:
			return ParseSides(val), nil
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			return ParseSides(items), nil
		default:
			return data, nil
		}
	}
}

// ParseSides 规范化方向列表，both/all 展开为 long+short。
func ParseSides(items []string) SideList {
	out := make(SideList, 0, 2)
	add := func(side string) {
		for _, existing := range out {
			if existing == side {
				return
			}
		}
		out = append(out, side)
	}
	for _, item := range items {
		switch side := strings.ToLower(strings.TrimSpace(item)); side {
		case "":
		case "both", "all":
			add("long")
			add("short")
		default:
			add(side)
		}
	}
	return out
}
