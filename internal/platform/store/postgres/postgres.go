// Package postgres implements a PostgreSQL persistence driver for
// deployments that share one database across replicas.
package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/gormstore"
)

func init() {
	store.Register("postgres", NewDriver)
}

// Driver is a PostgreSQL-backed store.Driver.
type Driver struct {
	*gormstore.Repo

	dsn         string
	maxAttempts int
	db          *gorm.DB
}

// NewDriver creates a new postgres driver. The DSN is required.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	return &Driver{dsn: cfg.DSN, maxAttempts: cfg.MaxUpdateAttempts}, nil
}

func (d *Driver) Name() string {
	return "postgres"
}

func (d *Driver) Init(ctx context.Context) error {
	db, err := gorm.Open(postgres.Open(d.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := gormstore.Migrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	d.db = db
	d.Repo = gormstore.New(db, d.maxAttempts)
	return nil
}

func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Driver = (*Driver)(nil)
