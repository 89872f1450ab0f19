// Package analytics is a supplemental, pure-Go SQLite store of
// completed-job records. It is enrichment alongside — never a
// replacement for — the mandatory flat-file persistence
// (jobs.json/downloads.txt) the core specification requires.
package analytics

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// CompletedJob is one row per job that completed successfully.
type CompletedJob struct {
	ID         uint `gorm:"primarykey"`
	JobID      string `gorm:"index"`
	URL        string
	OutputPath string
	Status     string
	Bytes      int64
	DurationMS int64
	FinishedAt time.Time
}

// Store wraps a gorm DB handle pointed at a pure-Go (no cgo) SQLite
// file, matching the teacher's glebarez/sqlite + gorm pairing.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the analytics database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CompletedJob{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// RecordCompletion appends one row. Never blocks the manager's
// critical path for longer than a single local insert — callers
// should invoke this from a goroutine when latency matters.
func (s *Store) RecordCompletion(rec CompletedJob) error {
	rec.FinishedAt = time.Now()
	return s.db.Create(&rec).Error
}

// RecentCompletions returns the most recent n completed jobs, newest first.
func (s *Store) RecentCompletions(n int) ([]CompletedJob, error) {
	var out []CompletedJob
	err := s.db.Order("finished_at desc").Limit(n).Find(&out).Error
	return out, err
}
