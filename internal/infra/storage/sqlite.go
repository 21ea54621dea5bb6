package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trade_sim/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SimulationRun is one configured simulation and its lifetime.
type SimulationRun struct {
	ID          string `gorm:"primaryKey"`
	Exchange    string
	Symbol      string `gorm:"index"`
	OrderType   string
	QuantityUSD float64
	IsBuy       bool
	FeeTier     string
	Volatility  float64
	StartedAt   time.Time
	StoppedAt   *time.Time
	Ticks       uint64
}

// ResultRecord is a persisted tick result.
type ResultRecord struct {
	ID               uint   `gorm:"primaryKey"`
	SimulationID     string `gorm:"index"`
	Timestamp        string
	Status           string
	Error            string
	SlippageUSD      float64
	FeesUSD          float64
	MarketImpactUSD  float64
	NetCostUSD       float64
	MakerProportion  float64
	TakerProportion  float64
	AvgPrice         float64
	PartialFill      bool
	InsufficientData bool
	ModelErrors      string // JSON object, empty when none
	LatencyMs        float64
	CreatedAt        time.Time
}

// Storage records simulation runs and tick results in SQLite.
// It also implements domain.ResultSink.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the schema.
func NewStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SimulationRun{}, &ResultRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// StartRun creates or replaces the run row for id.
func (s *Storage) StartRun(id string, p domain.SimulationParameters) error {
	run := SimulationRun{
		ID:          id,
		Exchange:    p.Exchange,
		Symbol:      p.Symbol,
		OrderType:   string(p.OrderType),
		QuantityUSD: p.QuantityUSD,
		IsBuy:       p.IsBuy,
		FeeTier:     p.FeeTier,
		Volatility:  p.Volatility,
		StartedAt:   time.Now().UTC(),
	}
	return s.db.Save(&run).Error
}

// FinishRun stamps the stop time and final tick count.
func (s *Storage) FinishRun(id string, ticks uint64) error {
	now := time.Now().UTC()
	return s.db.Model(&SimulationRun{}).Where("id = ?", id).
		Updates(map[string]any{"stopped_at": &now, "ticks": ticks}).Error
}

// GetRun retrieves a run by id.
func (s *Storage) GetRun(id string) (*SimulationRun, error) {
	var run SimulationRun
	err := s.db.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &run, err
}

// ======================================================================================
// Result Operations
// ======================================================================================

func (s *Storage) Name() string {
	return "sqlite"
}

// Publish persists one tick result.
func (s *Storage) Publish(ctx context.Context, res domain.TickResult) error {
	rec, err := toRecord(res)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns up to limit newest results for a simulation, newest first.
func (s *Storage) Recent(simulationID string, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []ResultRecord
	err := s.db.Where("simulation_id = ?", simulationID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// CountResults returns the number of stored results for a simulation.
func (s *Storage) CountResults(simulationID string) (int64, error) {
	var n int64
	err := s.db.Model(&ResultRecord{}).Where("simulation_id = ?", simulationID).Count(&n).Error
	return n, err
}

func toRecord(res domain.TickResult) (ResultRecord, error) {
	rec := ResultRecord{
		SimulationID:     res.SimulationID,
		Timestamp:        res.Timestamp,
		Status:           string(res.Status),
		Error:            res.Error,
		SlippageUSD:      res.ExpectedSlippageUSD,
		FeesUSD:          res.ExpectedFeesUSD,
		MarketImpactUSD:  res.ExpectedMarketImpactUSD,
		NetCostUSD:       res.NetCostUSD,
		MakerProportion:  res.MakerTaker.Maker,
		TakerProportion:  res.MakerTaker.Taker,
		AvgPrice:         res.ExpectedAvgPrice,
		PartialFill:      res.PartialFill,
		InsufficientData: res.InsufficientData,
		LatencyMs:        res.InternalLatencyMs,
	}
	if len(res.ModelErrors) > 0 {
		b, err := json.Marshal(res.ModelErrors)
		if err != nil {
			return ResultRecord{}, fmt.Errorf("encode model errors: %w", err)
		}
		rec.ModelErrors = string(b)
	}
	return rec, nil
}
