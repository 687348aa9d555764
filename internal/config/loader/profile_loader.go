package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"trendflip/internal/config"
	"trendflip/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ProfileDefinition 是一组命名的策略参数预设，未写的字段继承主配置。
type ProfileDefinition struct {
	Name        string
	Description string
	Default     bool
	Strategy    config.StrategyConfig
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Names 返回按字母排序的 profile 名称。
func (s ProfileSnapshot) Names() []string {
	names := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default 返回标记为 default 的 profile；没有标记时取名称最小的一个。
func (s ProfileSnapshot) Default() (ProfileDefinition, bool) {
	names := s.Names()
	for _, name := range names {
		if s.Profiles[name].Default {
			return s.Profiles[name], true
		}
	}
	if len(names) == 0 {
		return ProfileDefinition{}, false
	}
	return s.Profiles[names[0]], true
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 负责从 YAML/JSON 文件中加载策略 profile，并监听热更新。
type ProfileLoader struct {
	path string
	base config.StrategyConfig
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取 profile 文件；watch=true 时开始监听 FS 事件。
func NewProfileLoader(path string, base config.StrategyConfig, watch bool) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, base: base, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := loader.reload(); err != nil {
				logger.Errorf("[profiles] reload failed (%s): %v", evt.Name, err)
				return
			}
			loader.notify()
		})
		v.WatchConfig()
	}
	return loader, nil
}

// Snapshot 返回当前配置快照（浅拷贝 map）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Get 按名称查找 profile。
func (l *ProfileLoader) Get(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[strings.TrimSpace(name)]
	return def, ok
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeCall(fn, snap)
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[profiles] listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	profiles, err := parseProfiles(l.v.Get("profiles"), l.base)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	l.mu.Unlock()
	logger.Infof("[profiles] reloaded %d profiles from %s", len(profiles), filepath.Base(l.path))
	return nil
}

func parseProfiles(raw any, base config.StrategyConfig) (map[string]ProfileDefinition, error) {
	out := make(map[string]ProfileDefinition)
	if raw == nil {
		return out, nil
	}
	entries, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("profiles must be a map: %w", err)
	}
	for name, node := range entries {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		body := cast.ToStringMap(node)
		def := ProfileDefinition{
			Name:        name,
			Description: strings.TrimSpace(cast.ToString(body["description"])),
			Default:     cast.ToBool(body["default"]),
		}
		strat, err := config.DecodeStrategy(cast.ToStringMap(body["strategy"]), cloneStrategy(base))
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		if err := strat.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		def.Strategy = strat
		out[name] = def
	}
	return out, nil
}

func cloneStrategy(s config.StrategyConfig) config.StrategyConfig {
	s.AllowedSides = append(config.SideList(nil), s.AllowedSides...)
	s.TradableDates = append([]string(nil), s.TradableDates...)
	return s
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
