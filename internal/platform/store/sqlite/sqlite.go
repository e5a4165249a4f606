// Package sqlite implements the default SQLite persistence driver.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/gormstore"
)

// DatabaseFile is the database file name inside DataDir.
const DatabaseFile = "guests.db"

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver is a SQLite-backed store.Driver.
type Driver struct {
	*gormstore.Repo

	dataDir     string
	maxAttempts int
	db          *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	return &Driver{dataDir: cfg.DataDir, maxAttempts: cfg.MaxUpdateAttempts}, nil
}

// Open opens (creating if needed) the database under dataDir and migrates it.
// The mirror driver reuses it.
func Open(dataDir string) (*gorm.DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dsn := filepath.Clean(filepath.Join(dataDir, DatabaseFile)) +
		"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gormstore.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func (d *Driver) Name() string {
	return "sqlite"
}

func (d *Driver) Init(ctx context.Context) error {
	db, err := Open(d.dataDir)
	if err != nil {
		return err
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
