package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	db := filepath.Join(dir, "calls.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(db)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("single file: got %d bytes, want 5", got)
	}

	if err := os.WriteFile(db+"-wal", []byte("1234"), 0644); err != nil {
		t.Fatal(err)
	}
	got, _ = DiskUsageBytes(db)
	if got != 9 {
		t.Errorf("with wal: got %d bytes, want 9", got)
	}

	spool := filepath.Join(dir, "spool")
	if err := os.MkdirAll(filepath.Join(spool, "processed"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(spool, "a.json"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(spool, "processed", "b.json"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(spool)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("dir: got %d bytes, want 3", got)
	}

	got, err = DiskUsageBytes("", ":memory:", filepath.Join(dir, "missing"), spool)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("skipped paths: got %d bytes, want 3", got)
	}
}
