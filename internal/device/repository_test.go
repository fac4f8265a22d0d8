package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the device schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			addr         TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			capabilities TEXT NOT NULL DEFAULT '[]',
			attributes   TEXT NOT NULL DEFAULT '{}',
			online       INTEGER NOT NULL DEFAULT 1,
			offline_reason TEXT,
			removed      INTEGER NOT NULL DEFAULT 0,
			last_seen    TEXT NOT NULL,
			joined_at    TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);
		CREATE TABLE device_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT NOT NULL,
			addr       TEXT NOT NULL,
			attributes TEXT NOT NULL
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(addr, name string) *Device {
	return &Device{
		Addr:         addr,
		Name:         name,
		Capabilities: []string{"state", "brightness"},
		Attributes:   Attributes{"state": true, "brightness": float64(128)},
		Online:       true,
		LastSeen:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		JoinedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates device successfully", func(t *testing.T) {
		if err := repo.Create(ctx, testDevice("0xab01", "Porch Light")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByAddr(ctx, "0xab01")
		if err != nil {
			t.Fatalf("GetByAddr() error = %v", err)
		}
		if got.Name != "Porch Light" {
			t.Errorf("Name = %q, want %q", got.Name, "Porch Light")
		}
		if len(got.Capabilities) != 2 {
			t.Errorf("Capabilities = %v, want 2 entries", got.Capabilities)
		}
		if got.Attributes["state"] != true {
			t.Errorf("Attributes[state] = %v, want true", got.Attributes["state"])
		}
		if !got.Online {
			t.Error("Online = false, want true")
		}
		if !got.LastSeen.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("LastSeen = %v, round-trip lost precision", got.LastSeen)
		}
	})

	t.Run("returns error for duplicate address", func(t *testing.T) {
		if err := repo.Create(ctx, testDevice("0xab02", "First")); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}
		err := repo.Create(ctx, testDevice("0xab02", "Second"))
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Create() error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("returns not found for unknown address", func(t *testing.T) {
		_, err := repo.GetByAddr(ctx, "0xffff")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetByAddr() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestSQLiteRepository_UpdateAttributes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("0xab01", "Sensor")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateAvailability(ctx, "0xab01", false, "silence"); err != nil {
		t.Fatalf("UpdateAvailability() error = %v", err)
	}

	seen := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	err := repo.UpdateAttributes(ctx, "0xab01", Attributes{"brightness": float64(200)}, seen)
	if err != nil {
		t.Fatalf("UpdateAttributes() error = %v", err)
	}

	got, err := repo.GetByAddr(ctx, "0xab01")
	if err != nil {
		t.Fatalf("GetByAddr() error = %v", err)
	}
	if got.Attributes["brightness"] != float64(200) {
		t.Errorf("brightness = %v, want 200", got.Attributes["brightness"])
	}
	if got.Attributes["state"] != true {
		t.Error("json_patch merge dropped an unchanged attribute")
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}
	if !got.Online || got.OfflineReason != "" {
		t.Errorf("device = online=%v reason=%q, want back online", got.Online, got.OfflineReason)
	}

	t.Run("heartbeat with no attributes preserves the map", func(t *testing.T) {
		if err := repo.UpdateAttributes(ctx, "0xab01", nil, seen.Add(time.Minute)); err != nil {
			t.Fatalf("UpdateAttributes() error = %v", err)
		}
		got, _ := repo.GetByAddr(ctx, "0xab01")
		if got.Attributes["brightness"] != float64(200) {
			t.Error("empty update wiped stored attributes")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		err := repo.UpdateAttributes(ctx, "0xffff", Attributes{"state": true}, seen)
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("UpdateAttributes() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestSQLiteRepository_Rename(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("0xab01", "Lamp A")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice("0xab02", "Lamp B")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Rename(ctx, "0xab01", "Reading Lamp"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	got, _ := repo.GetByAddr(ctx, "0xab01")
	if got.Name != "Reading Lamp" {
		t.Errorf("Name = %q, want %q", got.Name, "Reading Lamp")
	}

	if err := repo.Rename(ctx, "0xab02", "Reading Lamp"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("Rename() to taken name error = %v, want ErrNameTaken", err)
	}
	if err := repo.Rename(ctx, "0xffff", "Ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Rename() unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_RemoveIsSoftDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("0xab01", "Sensor")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Remove(ctx, "0xab01"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	// The row survives, flagged removed.
	got, err := repo.GetByAddr(ctx, "0xab01")
	if err != nil {
		t.Fatalf("GetByAddr() after Remove() error = %v", err)
	}
	if !got.Removed {
		t.Error("Removed = false after Remove()")
	}
	if got.Online {
		t.Error("Online = true after Remove()")
	}

	// But it no longer lists.
	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() returned %d devices, want 0", len(devices))
	}

	// Double removal reports not found.
	if err := repo.Remove(ctx, "0xab01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Remove() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListOrderedByAddr(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, addr := range []string{"0xcc03", "0xaa01", "0xbb02"} {
		d := testDevice(addr, addr)
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", addr, err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"0xaa01", "0xbb02", "0xcc03"}
	if len(devices) != len(want) {
		t.Fatalf("List() returned %d devices, want %d", len(devices), len(want))
	}
	for i, d := range devices {
		if d.Addr != want[i] {
			t.Errorf("List()[%d].Addr = %q, want %q", i, d.Addr, want[i])
		}
	}
}

func TestSQLiteRepository_AppendEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.AppendEvent(ctx, "0xab01", Attributes{"state": true}, ts); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := repo.AppendEvent(ctx, "0xab01", Attributes{"state": false}, ts.Add(time.Second)); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM device_events WHERE addr = ?", "0xab01").Scan(&count); err != nil {
		t.Fatalf("counting journal rows: %v", err)
	}
	if count != 2 {
		t.Errorf("journal rows = %d, want 2", count)
	}
}
