// Package storage persists cycle history to a database. The JSON state file
// stays the source of truth for resuming; the database is the queryable
// record across runs.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/hedgebot/internal/state"
)

// DB wraps the gorm handle. A nil *DB is a no-op store.
type DB struct {
	db *gorm.DB
}

// Cycle is one completed rotation.
type Cycle struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Symbol         string `gorm:"index"`
	LongExchange   string
	ShortExchange  string
	Leverage       int
	SizeBase       decimal.Decimal `gorm:"type:decimal(30,12)"`
	AvgMid         decimal.Decimal `gorm:"type:decimal(30,12)"`
	ExpectedNetAPR float64
	Status         string `gorm:"index"` // "success", "stop-loss", "failed"
	PnLAtClose     *float64
	PnLPctAtClose  *float64
	WorstExchange  string
	OpenedAt       time.Time
	ClosedAt       time.Time
	CreatedAt      time.Time
}

// New opens the history database. A postgres:// URL selects PostgreSQL,
// anything else is a SQLite file path.
func New(dbPath string) (*DB, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("History database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("History database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Cycle{}); err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// SaveCycle mirrors a completed cycle into the database.
func (d *DB) SaveCycle(rec state.CycleRecord, pos *state.Position) error {
	if d == nil {
		return nil
	}
	row := Cycle{
		Symbol:         rec.Symbol,
		LongExchange:   pos.LongVenue,
		ShortExchange:  pos.ShortVenue,
		Leverage:       pos.Leverage,
		SizeBase:       pos.SizeBase,
		AvgMid:         pos.AvgMid,
		ExpectedNetAPR: rec.ExpectedNetAPR,
		Status:         rec.Status,
		PnLAtClose:     rec.PnLAtClose,
		PnLPctAtClose:  rec.PnLPctAtClose,
		WorstExchange:  rec.WorstExchange,
		OpenedAt:       rec.OpenedAt,
		ClosedAt:       rec.ClosedAt,
	}
	return d.db.Create(&row).Error
}

// RecentCycles returns the latest n cycles, newest first.
func (d *DB) RecentCycles(n int) ([]Cycle, error) {
	if d == nil {
		return nil, nil
	}
	var out []Cycle
	err := d.db.Order("closed_at desc").Limit(n).Find(&out).Error
	return out, err
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
