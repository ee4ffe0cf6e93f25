package db

import (
	"context"
	"testing"
)

func TestGetMigrationsPath(t *testing.T) {
	// running from the package dir, the "migrations" candidate must resolve
	path, err := getMigrationsPath()
	if err != nil {
		t.Fatalf("getMigrationsPath: %v", err)
	}
	if len(path) < len("file://") || path[:7] != "file://" {
		t.Errorf("path = %q, want file:// prefix", path)
	}
}

func TestRunMigrationsFromPath(t *testing.T) {
	dbx := openTestDB(t)

	path, err := getMigrationsPath()
	if err != nil {
		t.Fatalf("getMigrationsPath: %v", err)
	}
	if err := RunMigrationsFromPath(dbx, path); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// second run is ErrNoChange, which must be treated as success
	if err := RunMigrationsFromPath(dbx, path); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// versioned and embedded migrations must agree on the schema
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("embedded migrate after versioned: %v", err)
	}
}
