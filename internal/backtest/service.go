package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trendflip/internal/logger"
	"trendflip/internal/market"
	"trendflip/internal/pkg/circuit"
)

// 同一数据源连续失败 breakerThreshold 次后熔断，冷却 breakerCooldown。
const (
	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次拉取任务。
type FetchParams struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// FetchJob 是拉取任务的进度快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	out.Missing = append([]Gap(nil), j.Missing...)
	return out
}

// ServiceConfig 配置 FetchService。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]BarSource
	DefaultExchange string
	RequestInterval time.Duration
	MaxBatch        int
	MaxConcurrent   int
}

// Service 负责管理拉取任务、协调数据源与本地 K 线库。
type Service struct {
	store           *Store
	sources         map[string]BarSource
	breakers        map[string]*circuit.CircuitBreaker
	defaultExchange string
	maxBatch        int
	interval        time.Duration

	sem chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("bar store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one bar source is required")
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 || maxBatch > maxKlineLimit {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]BarSource),
		breakers:        make(map[string]*circuit.CircuitBreaker),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		interval:        interval,
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		key := strings.ToLower(k)
		svc.sources[key] = v
		svc.breakers[key] = circuit.NewCircuitBreaker("source:"+key, breakerThreshold, breakerCooldown)
	}
	if svc.defaultExchange == "" {
		names := make([]string, 0, len(svc.sources))
		for k := range svc.sources {
			names = append(names, k)
		}
		sort.Strings(names)
		svc.defaultExchange = names[0]
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Store 返回底层 K 线库。
func (s *Service) Store() *Store { return s.store }

func (s *Service) prepare(params FetchParams) (*FetchJob, Timeframe, BarSource, IntegrityReport, error) {
	if strings.TrimSpace(params.Symbol) == "" {
		return nil, Timeframe{}, nil, IntegrityReport{}, fmt.Errorf("symbol is required")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return nil, Timeframe{}, nil, IntegrityReport{}, err
	}
	exchange := strings.ToLower(params.Exchange)
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[exchange]
	if src == nil {
		return nil, Timeframe{}, nil, IntegrityReport{}, fmt.Errorf("unknown bar source %q", params.Exchange)
	}
	if params.End.IsZero() {
		params.End = time.Now().UTC().Add(-tf.Duration)
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if !start.Before(end) {
		return nil, Timeframe{}, nil, IntegrityReport{}, fmt.Errorf("start and end must form a range")
	}
	params.Exchange = exchange
	params.Timeframe = tf.Key
	params.Start, params.End = start, end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, tf, start, end)
	if err != nil {
		return nil, Timeframe{}, nil, IntegrityReport{}, err
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: min(report.Present, report.Expected),
		StartedAt: now,
		UpdatedAt: now,
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[backtest] fetch job %s submitted: %s %s [%s,%s] expected=%d gaps=%d",
		job.ID, params.Symbol, tf.Key, start.Format(time.RFC3339), end.Format(time.RFC3339), report.Expected, len(report.Gaps))
	return job, tf, src, report, nil
}

// SubmitFetch 异步提交拉取任务；若区间已完整只做一致性检查。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	job, tf, src, report, err := s.prepare(params)
	if err != nil {
		return FetchJob{}, err
	}
	if report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "range already complete", nil)
		return s.mustSnapshot(job.ID), nil
	}
	go s.runJob(s.ctx(), job.ID, tf, report, src)
	return s.mustSnapshot(job.ID), nil
}

// Sync 同步拉取并等待完成，供命令行 fetch 模式使用。
func (s *Service) Sync(ctx context.Context, params FetchParams) (FetchJob, error) {
	job, tf, src, report, err := s.prepare(params)
	if err != nil {
		return FetchJob{}, err
	}
	if report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "range already complete", nil)
	} else {
		s.runJob(ctx, job.ID, tf, report, src)
	}
	out := s.mustSnapshot(job.ID)
	if out.Status == JobStatusFailed {
		return out, errors.New(out.Message)
	}
	return out, nil
}

func (s *Service) runJob(ctx context.Context, jobID string, tf Timeframe, report IntegrityReport, source BarSource) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.setJobStatus(jobID, JobStatusFailed, "service closed", nil)
		return
	}
	defer func() { <-s.sem }()

	job := s.getJob(jobID)
	if job == nil {
		return
	}
	logger.Infof("[backtest] fetch job %s started, gaps=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	pace := time.NewTicker(s.interval)
	defer pace.Stop()
	var warnings []string

	for _, gap := range report.Gaps {
		cursor := gap.From
		for !cursor.After(gap.To) {
			select {
			case <-ctx.Done():
				s.setJobStatus(jobID, JobStatusFailed, ctx.Err().Error(), nil)
				return
			case <-pace.C:
			}
			remaining := int(gap.To.Sub(cursor)/tf.Duration) + 1
			req := FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    min(max(remaining, 1), s.maxBatch),
			}
			data, err := s.fetch(ctx, params.Exchange, source, req, pace.C)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s fetch failed: %v", source.Name(), err), nil)
				return
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("range [%s,%s] returned no bars", cursor.Format(time.RFC3339), gap.To.Format(time.RFC3339)))
				break
			}
			inserted, err := s.store.InsertBars(ctx, params.Symbol, tf.Key, data)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("store write failed: %v", err), nil)
				return
			}
			cursor = data[len(data)-1].Time.Add(tf.Duration)
			s.updateJob(jobID, func(j *FetchJob) {
				j.Completed = min(j.Completed+int64(inserted), j.Total)
				j.UpdatedAt = time.Now()
				j.Warnings = append([]string(nil), warnings...)
			})
			if inserted == 0 {
				break
			}
		}
	}

	final, err := s.store.CheckIntegrity(ctx, params.Symbol, tf, params.Start, params.End)
	status, message := JobStatusDone, "fetch complete"
	if err != nil {
		status = JobStatusFailed
		message = "integrity check failed: " + err.Error()
	} else if !final.Complete() {
		status = JobStatusPartial
		message = "finished with gaps"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, final.Gaps...)
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[backtest] fetch job %s finished, status=%s gaps=%d", jobID, status, len(final.Gaps))
}

// fetch 失败后按节拍重试，直到成功、熔断器打开或 ctx 取消。
func (s *Service) fetch(ctx context.Context, exchange string, source BarSource, req FetchRequest, pace <-chan time.Time) ([]market.Bar, error) {
	cb := s.breakers[exchange]
	if cb == nil {
		return source.Fetch(ctx, req)
	}
	var lastErr error
	for {
		var data []market.Bar
		err := cb.Do(func() error {
			var ferr error
			data, ferr = source.Fetch(ctx, req)
			return ferr
		})
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, circuit.ErrOpen):
			if lastErr == nil {
				lastErr = err
			}
			return nil, lastErr
		}
		lastErr = err
		logger.Warnf("[backtest] %s fetch %s [%s] failed, retrying: %v", source.Name(), req.Symbol, req.Start.Format(time.RFC3339), err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pace:
		}
	}
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) getJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

func (s *Service) mustSnapshot(id string) FetchJob {
	job, _ := s.JobSnapshot(id)
	return job
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表（按提交时间排序）。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe is required")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// Bars 读取本地 K 线。
func (s *Service) Bars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe is required")
	}
	return s.store.RangeBars(ctx, symbol, timeframe, start, end)
}
