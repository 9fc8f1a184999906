package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations_Sorted(t *testing.T) {
	fsys := fstest.MapFS{
		"010_messages.sql":      {Data: []byte("SELECT 10;")},
		"002_encounters.sql":    {Data: []byte("SELECT 2;")},
		"001_users.sql":         {Data: []byte("SELECT 1;")},
		"005_consultations.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 5, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL: %q", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_users.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"seed.sql":       {Data: []byte("SELECT 0;")},
		"abc_broken.sql": {Data: []byte("SELECT 0;")},
		"old/002_x.sql":  {Data: []byte("SELECT 2;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_users.sql": {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected an error for duplicate versions")
	}
}

func TestStatusOf(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	migrations := []Migration{{Version: 1, Name: "001_users.sql"}, {Version: 2, Name: "002_encounters.sql"}}

	statuses := statusOf(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected first migration applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected second migration pending, got %+v", statuses[1])
	}
}
