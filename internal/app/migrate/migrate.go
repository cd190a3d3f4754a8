package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/oneops/oneops/migrations"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Runner applies the embedded goose migrations for one driver.
type Runner struct {
	db      *sql.DB
	owned   bool
	dialect string
	dir     string
	log     *slog.Logger
}

// Open connects to dsn with the database/sql driver matching driver.
func Open(driver, dsn string, log *slog.Logger) (Runner, error) {
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	sqlDriver, _, _, err := dialectFor(driver)
	if err != nil {
		return Runner{}, err
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return Runner{}, fmt.Errorf("open sql connection: %w", err)
	}
	r, err := New(db, driver, log)
	if err != nil {
		db.Close()
		return Runner{}, err
	}
	r.owned = true
	return r, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *sql.DB, driver string, log *slog.Logger) (Runner, error) {
	if db == nil {
		return Runner{}, errors.New("nil database provided")
	}
	_, dialect, dir, err := dialectFor(driver)
	if err != nil {
		return Runner{}, err
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{db: db, dialect: dialect, dir: dir, log: log}, nil
}

func dialectFor(driver string) (sqlDriver, dialect, dir string, err error) {
	switch driver {
	case DriverPostgres, "":
		return "pgx", "postgres", "postgres", nil
	case DriverSQLite:
		return "sqlite3", "sqlite3", "sqlite", nil
	default:
		return "", "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (r Runner) configure() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(r.dialect); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	if err := r.configure(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	r.log.Info("applying migrations", "dialect", r.dialect)
	if err := goose.UpContext(runCtx, r.db, r.dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	r.log.Info("migrations applied")
	return nil
}

// Version returns the current schema version.
func (r Runner) Version(ctx context.Context) (int64, error) {
	if err := r.configure(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, r.db)
}

// Status logs applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	if err := r.configure(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Down rolls back to targetVersion, or one step when targetVersion is 0.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	if err := r.configure(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if targetVersion > 0 {
		r.log.Info("rolling back migrations", "target", targetVersion)
		if err := goose.DownToContext(runCtx, r.db, r.dir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
	} else {
		r.log.Info("rolling back latest migration")
		if err := goose.DownContext(runCtx, r.db, r.dir); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
	}
	r.log.Info("rollback complete")
	return nil
}

// Ping checks the connection.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the database when the runner opened it.
func (r Runner) Close() error {
	if r.owned {
		return r.db.Close()
	}
	return nil
}
