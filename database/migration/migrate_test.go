package migration

import (
	"os"
	"testing"
	"testing/fstest"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestMigratorUpDown(t *testing.T) {
	db := openDB(t)
	m := New(db, Source{FS: os.DirFS("."), Dir: "testdata"}, SQLite)

	v, dirty, err := m.Version()
	if err != nil || v != 0 || dirty {
		t.Fatalf("initial version = %d dirty=%v err=%v", v, dirty, err)
	}

	if v, err := m.Up(); err != nil || v != 1 {
		t.Fatalf("Up = %d, %v", v, err)
	}
	if !db.Migrator().HasTable("items") {
		t.Fatal("items table missing after up")
	}
	if v, err := m.Up(); err != nil || v != 1 {
		t.Fatalf("second Up = %d, %v", v, err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if db.Migrator().HasTable("items") {
		t.Error("items table should be dropped")
	}
	if err := m.Down(); err != nil {
		t.Errorf("Down with nothing applied: %v", err)
	}
}

func TestMigratorMissingDir(t *testing.T) {
	m := New(openDB(t), Source{FS: fstest.MapFS{}, Dir: "nowhere"}, SQLite)
	if _, err := m.Up(); err == nil {
		t.Fatal("expected error for missing source directory")
	}
}
