package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trendflip/internal/backtest"
	storemodel "trendflip/internal/store/model"
	"trendflip/internal/strategy"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type runModel = storemodel.RunModel
type tradeModel = storemodel.TradeModel

const tradeBatchSize = 500

// GormStore persists backtest runs and their ledgers using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ backtest.RunRepository = (*GormStore)(nil)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: results db path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store is not initialized")
	}
	return s.db.DB()
}

// CreateRun inserts (or replaces) the run header.
func (s *GormStore) CreateRun(ctx context.Context, run backtest.Run) error {
	model, err := newRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

// FinishRun updates the run header and replaces its ledger in one transaction.
func (s *GormStore) FinishRun(ctx context.Context, run backtest.Run, trades []strategy.Trade) error {
	model, err := newRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&runModel{}).Where("id = ?", run.ID).Select("*").Omit("id", "created_at").Updates(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return backtest.ErrRunNotFound
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		rows := make([]tradeModel, len(trades))
		for i, t := range trades {
			rows[i] = newTradeModel(run.ID, i, t)
		}
		return tx.CreateInBatches(rows, tradeBatchSize).Error
	})
}

// GetRun returns a single run or backtest.ErrRunNotFound.
func (s *GormStore) GetRun(ctx context.Context, id string) (backtest.Run, error) {
	var model runModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backtest.Run{}, backtest.ErrRunNotFound
		}
		return backtest.Run{}, err
	}
	return runModelToRun(model)
}

// ListRuns returns the most recent runs first.
func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]backtest.Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Run, 0, len(models))
	for _, m := range models {
		run, err := runModelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListTrades returns the ledger of a run in its original order.
func (s *GormStore) ListTrades(ctx context.Context, runID string) ([]strategy.Trade, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", runID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, backtest.ErrRunNotFound
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]strategy.Trade, len(models))
	for i, m := range models {
		out[i] = tradeModelToTrade(m)
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func newRunModel(run backtest.Run) (runModel, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, fmt.Errorf("encode run config: %w", err)
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, fmt.Errorf("encode run stats: %w", err)
	}
	model := runModel{
		ID:            run.ID,
		Label:         run.Label,
		Status:        run.Status,
		Message:       run.Message,
		Symbol:        run.Config.Symbol,
		Timeframe:     run.Config.Timeframe,
		Profile:       run.Config.Profile,
		Bars:          run.Bars,
		Trades:        run.Stats.Trades,
		Filtered:      run.Stats.Filtered,
		TotalPips:     run.Stats.TotalPips,
		WinRate:       run.Stats.WinRate,
		MaxDrawdown:   run.Stats.MaxDrawdown,
		ConfigJSON:    datatypes.JSON(cfgJSON),
		StatsJSON:     datatypes.JSON(statsJSON),
		CreatedAtUnix: run.CreatedAt.UnixMilli(),
		UpdatedAtUnix: time.Now().UnixMilli(),
	}
	if !run.CompletedAt.IsZero() {
		val := run.CompletedAt.UnixMilli()
		model.CompletedUnix = &val
	}
	return model, nil
}

func runModelToRun(m runModel) (backtest.Run, error) {
	run := backtest.Run{
		ID:        m.ID,
		Label:     m.Label,
		Status:    m.Status,
		Message:   m.Message,
		Bars:      m.Bars,
		CreatedAt: time.UnixMilli(m.CreatedAtUnix).UTC(),
	}
	if m.CompletedUnix != nil {
		run.CompletedAt = time.UnixMilli(*m.CompletedUnix).UTC()
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return backtest.Run{}, fmt.Errorf("decode run %s config: %w", m.ID, err)
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return backtest.Run{}, fmt.Errorf("decode run %s stats: %w", m.ID, err)
		}
	}
	return run, nil
}

func newTradeModel(runID string, seq int, t strategy.Trade) tradeModel {
	m := tradeModel{
		RunID:        runID,
		Seq:          seq,
		Side:         string(t.Side),
		EntryTimeMs:  t.EntryTime.UnixMilli(),
		EntryPrice:   t.EntryPrice,
		InitialStop:  t.InitialStop,
		StopDistance: t.StopDistance,
		Executed:     t.Executed,
		Reason:       string(t.Reason),
	}
	if t.Executed {
		exitMs := t.ExitTime.UnixMilli()
		exitPrice, finalStop, pips := t.ExitPrice, t.FinalStop, t.Pips
		m.ExitTimeMs = &exitMs
		m.ExitPrice = &exitPrice
		m.FinalStop = &finalStop
		m.Pips = &pips
	}
	return m
}

func tradeModelToTrade(m tradeModel) strategy.Trade {
	t := strategy.Trade{
		EntryTime:    time.UnixMilli(m.EntryTimeMs).UTC(),
		Side:         strategy.Side(m.Side),
		EntryPrice:   m.EntryPrice,
		InitialStop:  m.InitialStop,
		StopDistance: m.StopDistance,
		Executed:     m.Executed,
		Reason:       strategy.Reason(m.Reason),
	}
	if m.ExitTimeMs != nil {
		t.ExitTime = time.UnixMilli(*m.ExitTimeMs).UTC()
	}
	if m.ExitPrice != nil {
		t.ExitPrice = *m.ExitPrice
	}
	if m.FinalStop != nil {
		t.FinalStop = *m.FinalStop
	}
	if m.Pips != nil {
		t.Pips = *m.Pips
	}
	return t
}
