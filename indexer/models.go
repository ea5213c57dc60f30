package indexer

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is one committed event as archived by the indexer.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Sequence   uint64 `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"size:64;index"`
	Root       string `gorm:"size:80"`
	Timestamp  int64  `gorm:"index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the Go type name.
func (EventRecord) TableName() string { return "auction_events" }

// AutoMigrate creates or upgrades the indexer schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
