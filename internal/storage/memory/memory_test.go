package memory

import (
	"testing"

	"github.com/dfft546/gproxy/internal/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	storagetest.Exercise(t, New())
}
