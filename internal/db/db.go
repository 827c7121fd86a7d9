package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Transfer is one completed file transfer.
type Transfer struct {
	ID          uint   `gorm:"primaryKey"`
	PeerID      string `gorm:"index;not null"`
	Direction   string `gorm:"not null"`
	FileName    string `gorm:"not null"`
	MimeType    string
	Path        string
	Size        int64
	TotalChunks int
	CreatedAt   time.Time `gorm:"index"`
}

// Open opens the sqlite database at path and migrates the schema. Use
// ":memory:" for a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite allows one writer, and each :memory: connection is its own database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
