package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dfft546/gproxy/internal/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gproxy.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	storagetest.Exercise(t, store)
}

func TestHealthAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gproxy.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if err := store.Health(context.Background()); err != nil {
		t.Fatalf("Health() = %v", err)
	}
	_ = store.Close()
}
