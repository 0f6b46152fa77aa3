package dbopen

import (
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenMemory_PragmasApplied(t *testing.T) {
	// WHAT: An in-memory database opens with foreign keys on and the
	// configured busy timeout.
	// WHY: The pragmas are the production-safety contract of this package.
	db := OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 10_000 {
		t.Errorf("busy_timeout = %d, want 10000", timeout)
	}
}

func TestOpen_WithSchema(t *testing.T) {
	// WHAT: Inline schema SQL executes at open time.
	// WHY: Stores rely on Open to bring up their tables in one call.
	db := OpenMemory(t, WithSchema(`CREATE TABLE things (id TEXT PRIMARY KEY, n INTEGER)`))
	if _, err := db.Exec(`INSERT INTO things (id, n) VALUES ('a', 1)`); err != nil {
		t.Fatalf("schema table unusable: %v", err)
	}
}

func TestOpen_BadSchemaFails(t *testing.T) {
	// WHAT: A broken schema statement fails Open and closes the handle.
	// WHY: A half-initialized database must not be returned.
	if _, err := Open(":memory:", WithSchema(`CREATE TABLEE broken`)); err == nil {
		t.Fatal("expected error for invalid schema SQL")
	}
}
