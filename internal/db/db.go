package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a gorm.DB handle and runs AutoMigrate for the three
// persisted tables. dsn selects the dialect by URL scheme: a
// "mysql://" prefix opens the MySQL driver, anything else (including
// a bare file path, the default) opens SQLite. This is the explicit
// handle the design notes call for — created once in main() and
// threaded into dispatch.Dispatcher and position.Watcher, never a
// package-level singleton.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "mysql://") {
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", dsn, err)
	}

	if err := db.AutoMigrate(&SignalRecord{}, &TradeRecord{}, &MarketSnapshot{}); err != nil {
		return nil, fmt.Errorf("auto-migrating schema: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
