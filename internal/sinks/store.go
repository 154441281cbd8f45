package sinks

import (
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/logger"
)

// Detection is one persisted result row.
type Detection struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      string    `gorm:"index;size:36" json:"run_id"`
	Stage      string    `gorm:"size:64" json:"stage"`
	Sequence   uint64    `json:"sequence"`
	Position   int       `json:"position"`
	Label      string    `gorm:"index;size:128" json:"label"`
	Confidence float32   `json:"confidence"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// LabelCount is an aggregate over stored detections.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Store persists records to SQLite.
type Store struct {
	db  *gorm.DB
	dec Decoder
}

// OpenStore opens or creates the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func OpenStore(path string, dec Decoder, log logger.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, 200*time.Millisecond),
	})
	if err != nil {
		return nil, dbError(err, "open")
	}
	if err := db.AutoMigrate(&Detection{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, dbError(err, "migrate")
	}
	return &Store{db: db, dec: dec}, nil
}

// OnNewDataReady implements events.Listener. Every result above the
// threshold becomes one row, positioned from 1 by confidence.
func (s *Store) OnNewDataReady(ev events.Event) error {
	rec, err := s.dec.Decode(ev)
	if err != nil {
		return err
	}
	if len(rec.Results) == 0 {
		return nil
	}
	rows := make([]Detection, len(rec.Results))
	for i, r := range rec.Results {
		rows[i] = Detection{
			RunID:      rec.RunID,
			Stage:      rec.Stage,
			Sequence:   rec.Sequence,
			Position:   i + 1,
			Label:      r.Label,
			Confidence: r.Confidence,
			Timestamp:  rec.Timestamp,
		}
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return dbError(err, "insert")
	}
	return nil
}

// Recent returns the newest limit rows, newest first.
func (s *Store) Recent(limit int) ([]Detection, error) {
	var rows []Detection
	if err := s.db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, dbError(err, "query")
	}
	return rows, nil
}

// TopLabels counts first position detections per label for a run, most frequent
// first. An empty runID counts every run.
func (s *Store) TopLabels(runID string, limit int) ([]LabelCount, error) {
	q := s.db.Model(&Detection{}).
		Select("label, count(*) as count").
		Where("position = ?", 1)
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	var out []LabelCount
	if err := q.Group("label").Order("count desc, label").Limit(limit).Scan(&out).Error; err != nil {
		return nil, dbError(err, "aggregate")
	}
	return out, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

func dbError(err error, op string) error {
	b := errors.New(err).
		Component(ComponentSinks).
		Category(errors.CategoryDatabase).
		Context("operation", op)

	// SQLite result codes tell a locked or busy database from a broken one.
	var se sqlite3.Error
	if errors.As(err, &se) {
		b = b.Context("sqlite_code", se.Code.Error())
		if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked {
			b = b.Priority(errors.PriorityLow)
		}
	}
	return b.Build()
}
