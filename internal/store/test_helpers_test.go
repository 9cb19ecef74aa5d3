package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// productColumns is the column set most table tests use.
var productColumns = []Column{
	{Name: "name", Type: TypeText},
	{Name: "price", Type: TypeReal},
	{Name: "stock", Type: TypeInteger},
	{Name: "active", Type: TypeBoolean},
	{Name: "tags", Type: TypeJSON},
}
