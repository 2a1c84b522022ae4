// Package database opens the process-wide SQL connection.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

// ErrUnknownType is returned by Open for database types without a driver.
var ErrUnknownType = errors.New("ceres: unknown database type")

// drivers maps configured database types to database/sql driver names.
var drivers = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
}

func init() {
	// modernc registers as "sqlite", which sqlx does not know the bind style of.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Recognized reports whether dbType has a driver.
func Recognized(dbType string) bool {
	_, ok := drivers[dbType]
	return ok
}

// Open connects, applies pool settings and pings the database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver, ok := drivers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Type, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Type, err)
	}

	if cfg.Migrations != "" {
		if err := Migrate(db, cfg.Migrations); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies every pending up migration found in dir.
func Migrate(db *sqlx.DB, dir string) error {
	var (
		driver migratedb.Driver
		err    error
	)
	switch db.DriverName() {
	case "postgres":
		driver, err = migratepostgres.WithInstance(db.DB, &migratepostgres.Config{})
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	default:
		return fmt.Errorf("%w: no migration driver for %q", ErrUnknownType, db.DriverName())
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, db.DriverName(), driver)
	if err != nil {
		return fmt.Errorf("load migrations %s: %w", dir, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
