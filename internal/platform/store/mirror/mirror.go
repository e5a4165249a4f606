// Package mirror implements a SQLite + JSON mirror persistence driver.
// SQLite is the source of truth; the JSON file is a one-way export so an
// operator can inspect invitation state without a database client.
// The program MUST NOT read the JSON back as input.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/gormstore"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/sqlite"
)

// ExportFile is the export file name inside <DataDir>/mirror.
const ExportFile = "invitations.json"

func init() {
	store.Register("mirror", NewDriver)
}

// Driver delegates to the SQLite repo and re-exports after every write.
type Driver struct {
	repo *gormstore.Repo

	dataDir     string
	maxAttempts int
	log         *slog.Logger
	db          *gorm.DB
	mu          sync.Mutex // protects export
}

// NewDriver creates a new mirror driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for mirror driver")
	}
	return &Driver{
		dataDir:     cfg.DataDir,
		maxAttempts: cfg.MaxUpdateAttempts,
		log:         logutil.NoopIfNil(cfg.Logger),
	}, nil
}

func (d *Driver) Name() string {
	return "mirror"
}

// Init opens the SQLite database and writes the initial export.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.mirrorDir(), 0700); err != nil {
		return fmt.Errorf("failed to create mirror dir: %w", err)
	}

	db, err := sqlite.Open(d.dataDir)
	if err != nil {
		return err
	}
	d.db = db
	d.repo = gormstore.New(db, d.maxAttempts)

	if err := d.export(ctx); err != nil {
		return fmt.Errorf("failed to export mirror: %w", err)
	}
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

func (d *Driver) mirrorDir() string {
	return filepath.Join(d.dataDir, "mirror")
}

// export dumps every invitation in list order.
func (d *Driver) export(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var all []*invitations.Invitation
	if err := d.db.WithContext(ctx).Order("invitation_received_at, id").Find(&all).Error; err != nil {
		return err
	}
	if all == nil {
		all = []*invitations.Invitation{}
	}
	return d.writeJSON(ExportFile, all)
}

// writeJSON atomically writes data to a JSON file in the mirror directory.
func (d *Driver) writeJSON(filename string, data any) error {
	path := filepath.Join(d.mirrorDir(), filename)
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// refresh re-exports after a committed write. The write already happened,
// so an export failure is logged and never reported as a write failure.
func (d *Driver) refresh(ctx context.Context) {
	if err := d.export(ctx); err != nil {
		d.log.Error("mirror export failed", "error", err)
	}
}

// Repo implementation: reads go straight to SQLite, writes re-export.

func (d *Driver) Create(ctx context.Context, inv *invitations.Invitation) error {
	if err := d.repo.Create(ctx, inv); err != nil {
		return err
	}
	d.refresh(ctx)
	return nil
}

func (d *Driver) Get(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	return d.repo.Get(ctx, eventID, userID)
}

func (d *Driver) GetByID(ctx context.Context, id string) (*invitations.Invitation, error) {
	return d.repo.GetByID(ctx, id)
}

func (d *Driver) Update(ctx context.Context, eventID, userID string, fn invitations.UpdateFunc) (*invitations.Invitation, error) {
	inv, err := d.repo.Update(ctx, eventID, userID, fn)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx)
	return inv, nil
}

func (d *Driver) Delete(ctx context.Context, eventID, userID string) (*invitations.Invitation, error) {
	inv, err := d.repo.Delete(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	d.refresh(ctx)
	return inv, nil
}

func (d *Driver) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	n, err := d.repo.DeleteByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.refresh(ctx)
	}
	return n, nil
}

func (d *Driver) List(ctx context.Context, f invitations.Filter) ([]*invitations.Invitation, error) {
	return d.repo.List(ctx, f)
}

var _ store.Driver = (*Driver)(nil)
