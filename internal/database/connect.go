package database

import (
	"database/sql"
	"fmt"

	"github.com/iliyamo/bazar-buzzer/internal/config"
)

// Connect opens the database selected by cfg.DBDriver.
func Connect(cfg config.Config) (*sql.DB, Dialect, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		db, err := Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, "", fmt.Errorf("connect mysql: %w", err)
		}
		return db, MySQL, nil
	case config.DriverSQLite, "":
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		return db, SQLite, nil
	default:
		return nil, "", fmt.Errorf("unsupported DB_DRIVER: %q", cfg.DBDriver)
	}
}
