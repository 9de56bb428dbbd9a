package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/config"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/repository/scylla"
	"github.com/railzwaylabs/paygate/internal/tiersync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every gorm model AutoMigrate creates on non-postgres drivers.
func Models() []any {
	return []any{
		&SchemaState{},
		&paymentdomain.BillingBinding{},
		&paymentdomain.ProviderMigration{},
		&paymentdomain.WebhookEvent{},
		&billingdomain.Customer{},
		&billingdomain.PaymentMethod{},
		&billingdomain.Subscription{},
		&billingdomain.Invoice{},
		&billingdomain.Conflict{},
		&tiersync.TierChange{},
		&tiersync.OrgTier{},
	}
}

// Run brings the configured database up to the embedded schema and marks the
// schema state active. Postgres uses the versioned SQL migrations; other
// drivers use gorm AutoMigrate. A scylla ledger gets its table as well.
func Run(ctx context.Context, cfg config.Config, db *gorm.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	log = log.Named("migration")

	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	checksum, err := Checksum()
	if err != nil {
		return err
	}

	switch cfg.Database.Driver {
	case "postgres":
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := runPostgres(ctx, sqlDB, latest); err != nil {
			return err
		}
	default:
		if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	if err := activateSchemaState(ctx, db, strconv.FormatUint(uint64(latest), 10), checksum, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate schema state: %w", err)
	}

	if cfg.Webhook.LedgerBackend == "scylla" {
		if err := ensureScylla(ctx, cfg.Scylla); err != nil {
			return err
		}
	}

	log.Info("schema active",
		zap.String("driver", cfg.Database.Driver),
		zap.Uint("version", latest),
	)
	return nil
}

func runPostgres(ctx context.Context, db *sql.DB, latest uint) error {
	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	current, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if current != latest {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", current, latest)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}

func ensureScylla(ctx context.Context, cfg config.ScyllaConfig) error {
	session, err := scylla.NewSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := scylla.NewLedger(session).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("scylla schema: %w", err)
	}
	return nil
}
