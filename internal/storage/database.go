package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"legalease/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the Lawyer table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS Lawyer (
				lawyer_id INTEGER PRIMARY KEY AUTOINCREMENT,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				specialization TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				experience_years INTEGER NOT NULL DEFAULT 0,
				hourly_rate REAL NOT NULL DEFAULT 0,
				languages TEXT NOT NULL DEFAULT '',
				email TEXT,
				phone TEXT,
				website_url TEXT,
				rating REAL NOT NULL DEFAULT 0,
				reviews INTEGER NOT NULL DEFAULT 0,
				bio TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_lawyer_city ON Lawyer(city)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS Lawyer (
				lawyer_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				first_name VARCHAR(100) NOT NULL,
				last_name VARCHAR(100) NOT NULL,
				specialization VARCHAR(255) NOT NULL DEFAULT '',
				city VARCHAR(100) NOT NULL DEFAULT '',
				state VARCHAR(100) NOT NULL DEFAULT '',
				experience_years INT NOT NULL DEFAULT 0,
				hourly_rate DECIMAL(10,2) NOT NULL DEFAULT 0,
				languages VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255),
				phone VARCHAR(50),
				website_url VARCHAR(255),
				rating DECIMAL(3,2) NOT NULL DEFAULT 0,
				reviews INT NOT NULL DEFAULT 0,
				bio TEXT,
				PRIMARY KEY (lawyer_id),
				INDEX idx_lawyer_city (city)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
