// Package migrations wires golang-migrate execution for the order event store.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

const embeddedLabel = "embedded"

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

type migrateFunc func(driver database.Driver) (*migrate.Migrate, error)

// Apply runs every pending migration found in migrationsDir.
func Apply(ctx context.Context, dsn, migrationsDir string, logger observability.Logger) error {
	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return execute(ctx, dsn, resolved, fromDir(resolved), up, logger)
}

// ApplyFS runs every pending migration embedded in fsys (see db/migrations).
func ApplyFS(ctx context.Context, dsn string, fsys fs.FS, logger observability.Logger) error {
	if fsys == nil {
		return errors.New("migrations filesystem required")
	}
	return execute(ctx, dsn, embeddedLabel, fromFS(fsys), up, logger)
}

// Rollback reverts the latest steps migrations found in migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger observability.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be >0, got %d", steps)
	}
	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return execute(ctx, dsn, resolved, fromDir(resolved), func(m *migrate.Migrate) error {
		return m.Steps(-steps)
	}, logger)
}

func up(m *migrate.Migrate) error { return m.Up() }

func fromDir(dir string) migrateFunc {
	return func(driver database.Driver) (*migrate.Migrate, error) {
		return migrate.NewWithDatabaseInstance(fileURL(dir), "pgx5", driver)
	}
}

func fromFS(fsys fs.FS) migrateFunc {
	return func(driver database.Driver) (*migrate.Migrate, error) {
		src, err := iofs.New(fsys, ".")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "pgx5", driver)
	}
}

func execute(ctx context.Context, dsn, source string, open migrateFunc, op func(*migrate.Migrate) error, logger observability.Logger) error {
	if logger == nil {
		logger = observability.Log()
	}
	logger = logger.With(observability.F("migrations_path", source))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("database migrations close", observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	m, err := open(driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if err := errors.Join(sourceErr, dbErr); err != nil {
			logger.Warn("database migrations close", observability.F("error", err.Error()))
		}
	}()

	logger.Info("running database migrations")
	if err := op(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop", source)
			logger.Info("database migrations up-to-date")
			return nil
		}
		recordMigrationMetric(ctx, "failed", source)
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, verr := m.Version()
	fields := []observability.Field{observability.F("dirty", dirty)}
	if verr == nil {
		fields = append(fields, observability.F("version", version))
	}
	logger.Info("database migrations applied", fields...)
	recordMigrationMetric(ctx, "applied", source)
	return nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result, path string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("quanta_db_migrations_total",
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrResult.String(result),
	}
	if path != "" {
		attrs = append(attrs, attribute.String("migrations_path", path))
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
