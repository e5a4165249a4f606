package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/sqlite"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/store/storetest"
)

func TestSQLiteDriver(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &store.DriverConfig{
		Driver:            "sqlite",
		DataDir:           tempDir,
		MaxUpdateAttempts: 50,
	}

	storetest.RunDriverTests(t, "sqlite", cfg)

	if _, err := os.Stat(filepath.Join(tempDir, sqlite.DatabaseFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", sqlite.DatabaseFile)
	}
}

func TestSQLiteDriver_CloseBeforeInit(t *testing.T) {
	d, err := sqlite.NewDriver(&store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close before Init: %v", err)
	}
}
