package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/sockchat/internal/store/migrations"
	"go.uber.org/zap"
)

// MigrateResult reports the schema version after Migrate and whether any
// migration ran.
type MigrateResult struct {
	Version uint
	Changed bool
}

// migrateLogger routes golang-migrate output into zap at debug level.
type migrateLogger struct{ sugar *zap.SugaredLogger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.sugar.Debug(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (l migrateLogger) Verbose() bool { return false }

// Migrate brings the schema up to date. A database left dirty by an
// interrupted migration is refused rather than migrated further.
func (db *DB) Migrate(logger *zap.Logger) (*MigrateResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	m.Log = migrateLogger{logger.Sugar()}

	if v, dirty, err := m.Version(); err == nil && dirty {
		return nil, fmt.Errorf("schema is dirty at version %d, repair it by hand", v)
	}

	res := &MigrateResult{Changed: true}
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		res.Changed = false
	case err != nil:
		return nil, fmt.Errorf("migration up: %w", err)
	}
	if res.Version, _, err = m.Version(); err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}

	if res.Changed {
		logger.Info("migrations applied", zap.Uint("version", res.Version))
	} else {
		logger.Debug("migrations up to date", zap.Uint("version", res.Version))
	}
	return res, nil
}
