// Package journal keeps a persistent log of every transmission attempt.
// With a one-way IR link this log is the only record of what was actually
// sent to the unit.
package journal

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Outcome of one transmission attempt.
const (
	StatusSent     = "sent"
	StatusRejected = "rejected" // refused before reaching the transmitter
	StatusFailed   = "failed"   // transmitter reported an error
)

// Entry is one transmission attempt.
type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SentAt     time.Time `gorm:"index" json:"sent_at"`
	Source     string    `gorm:"size:16" json:"source"`
	Action     string    `gorm:"size:32" json:"action"`
	Argument   string    `gorm:"size:32" json:"argument"`
	Address    uint8     `json:"address"`
	Command    uint8     `json:"command"`
	RawCode    uint32    `json:"raw_code"`
	PulseCount int       `json:"pulse_count"`
	DurationUs int64     `json:"duration_us"`
	Status     string    `gorm:"size:16;index" json:"status"`
	Error      string    `gorm:"size:255" json:"error,omitempty"`
}

// Journal records transmission attempts in a sqlite database.
type Journal struct {
	db *gorm.DB
}

// Open creates or opens the journal database at path and migrates the
// schema.
func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal '%s': %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one entry. SentAt is stamped here unless the caller set it.
func (j *Journal) Record(entry *Entry) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}
	if err := j.db.Create(entry).Error; err != nil {
		return fmt.Errorf("record transmission: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.Order("sent_at DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
