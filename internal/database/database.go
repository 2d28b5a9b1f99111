package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticket-market/internal/config"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/models"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const maxRetries = 5

// Connect opens the configured database and pings it, retrying while a
// postgres container is still starting.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var sqldb *sql.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		sqldb, err = open(cfg)
		if err == nil {
			err = sqldb.PingContext(ctx)
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", cfg.Driver, maxRetries, err)
	}

	log.Info("DATABASE", fmt.Sprintf("%s connection successful", cfg.Driver))
	return newBun(cfg.Driver, sqldb), nil
}

func open(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return sql.Open("postgres", cfg.DSN)
	case "mysql":
		// The DSN needs parseTime=true for timestamp columns.
		return sql.Open("mysql", cfg.DSN)
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; one connection keeps transactions serial.
		sqldb.SetMaxOpenConns(1)
		return sqldb, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newBun(driver string, sqldb *sql.DB) *bun.DB {
	switch driver {
	case "postgres":
		return bun.NewDB(sqldb, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqldb, mysqldialect.New())
	default:
		return bun.NewDB(sqldb, sqlitedialect.New())
	}
}

// OpenInMemory returns an empty migrated sqlite database. Tests use it.
func OpenInMemory(ctx context.Context) (*bun.DB, error) {
	sqldb, err := open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	if err != nil {
		return nil, err
	}
	db := newBun("sqlite", sqldb)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var tables = []interface{}{
	(*models.CatalogState)(nil),
	(*models.Ticket)(nil),
	(*models.Balance)(nil),
	(*models.LedgerEntry)(nil),
}

// Migrate creates missing tables and the catalog state row. It is safe to
// run repeatedly.
func Migrate(ctx context.Context, db bun.IDB) error {
	isMySQL := db.Dialect().Name() == dialect.MySQL

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	index := db.NewCreateIndex().
		Model((*models.Ticket)(nil)).
		Index("tickets_owner_idx").
		Column("owner")
	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if !isMySQL {
		index = index.IfNotExists()
	}
	if _, err := index.Exec(ctx); err != nil && !isDuplicateIndex(err) {
		return fmt.Errorf("create owner index: %w", err)
	}

	state := models.CatalogState{ID: 1}
	seed := db.NewInsert().Model(&state)
	if isMySQL {
		seed = seed.Ignore()
	} else {
		seed = seed.On("CONFLICT (id) DO NOTHING")
	}
	if _, err := seed.Exec(ctx); err != nil {
		return fmt.Errorf("seed catalog state: %w", err)
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1061
}
