package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/testutil"
)

// newTestDB returns a migrated in-memory database closed at test end.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:", WithClock(testutil.FixedClock()))
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestPublication(t *testing.T, db *DB, userID, title string, createdAt time.Time) *model.Publication {
	t.Helper()
	p := &model.Publication{
		UserID:    userID,
		Title:     title,
		PDFURL:    "/files/publications/pdfs/" + userID + "/" + title + ".pdf",
		CreatedAt: createdAt,
	}
	if err := db.InsertPublication(context.Background(), p); err != nil {
		t.Fatalf("failed to create test publication: %v", err)
	}
	return p
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if dirty {
		t.Error("schema reported dirty")
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}

func TestMigrationVersion_FreshDatabase(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	version, _, err := db.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestTablesExist(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"users", "profiles", "publications", "publication_likes", "schema_migrations"} {
		var name string
		err := db.conn.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	tests := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range tests {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
