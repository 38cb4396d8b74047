package device

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voltgrid/solarfleet-core/internal/plant"
	"github.com/voltgrid/solarfleet-core/internal/template"
)

// setupTestDB creates an in-memory SQLite database with the device inventory
// schema and a seeded plant, templates, and hierarchy rules.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every pool connection must see the same in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE plants (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			base_topic TEXT NOT NULL,
			identity_name TEXT,
			identity_arn TEXT,
			credential_id TEXT,
			credential_arn TEXT,
			policy_name TEXT,
			rule_name TEXT,
			data_topic TEXT,
			command_topic TEXT,
			enc_certificate_pem TEXT,
			enc_private_key_pem TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE device_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			shortform TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE tag_blueprints (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL DEFAULT 'float',
			min_value REAL,
			max_value REAL,
			FOREIGN KEY (template_id) REFERENCES device_templates(id) ON DELETE CASCADE,
			UNIQUE (template_id, position)
		) STRICT;

		CREATE TABLE hierarchy_rules (
			id TEXT PRIMARY KEY,
			parent_template_id TEXT NOT NULL DEFAULT '',
			child_template_id TEXT NOT NULL,
			is_allowed INTEGER NOT NULL DEFAULT 1,
			UNIQUE (parent_template_id, child_template_id)
		) STRICT;

		CREATE TABLE device_sequences (
			plant_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (plant_id, template_id)
		) STRICT;

		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			plant_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			topic TEXT NOT NULL,
			device_type TEXT NOT NULL,
			parent_device_id TEXT,
			hierarchy_version INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (plant_id) REFERENCES plants(id),
			FOREIGN KEY (template_id) REFERENCES device_templates(id),
			UNIQUE (plant_id, identifier)
		) STRICT;

		CREATE TABLE device_tags (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL DEFAULT 'float',
			min_value REAL,
			max_value REAL,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE device_hierarchy_history (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			parent_device_id TEXT,
			hierarchy_version INTEGER NOT NULL,
			effective_from TEXT NOT NULL,
			changed_by TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (device_id) REFERENCES devices(id)
		) STRICT;

		INSERT INTO plants (id, code, name, base_topic) VALUES
			('plant-raj1', 'RAJ1', 'Rajasthan One', 'solar/RAJ1'),
			('plant-guj2', 'GUJ2', 'Gujarat Two', 'solar/GUJ2');

		INSERT INTO device_templates (id, name, shortform, device_type) VALUES
			('tpl-cmb', 'String Combiner', 'CMB', 'combiner'),
			('tpl-inv', 'Central Inverter', 'INV', 'inverter'),
			('tpl-ws', 'Weather Station', 'WS', 'weather_station');

		INSERT INTO tag_blueprints (id, template_id, position, name, unit, data_type, min_value, max_value) VALUES
			('bp-inv-1', 'tpl-inv', 1, 'ac_power', 'kW', 'float', 0, 5000),
			('bp-inv-2', 'tpl-inv', 2, 'dc_voltage', 'V', 'float', NULL, NULL);

		-- CMB and WS may sit at the plant root; INV only under a combiner.
		INSERT INTO hierarchy_rules (id, parent_template_id, child_template_id, is_allowed) VALUES
			('rule-root-cmb', '', 'tpl-cmb', 1),
			('rule-root-ws', '', 'tpl-ws', 1),
			('rule-cmb-inv', 'tpl-cmb', 'tpl-inv', 1),
			('rule-cmb-ws', 'tpl-cmb', 'tpl-ws', 0);
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

// setupRegistry wires a registry over real SQLite repositories.
func setupRegistry(t *testing.T, db *sql.DB) *Registry {
	t.Helper()
	return NewRegistry(
		NewSQLiteRepository(db),
		plant.NewSQLiteRepository(db),
		template.NewSQLiteRepository(db),
	)
}

func testPlant(t *testing.T, db *sql.DB, id string) *plant.Plant {
	t.Helper()
	p, err := plant.NewSQLiteRepository(db).GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("loading plant %s: %v", id, err)
	}
	return p
}

func TestSequencer_Next(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seq := NewSequencer()
	p := testPlant(t, db, "plant-raj1")

	t.Run("allocates from one", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			alloc, err := seq.Next(ctx, db, p, "tpl-inv", "INV")
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if alloc.Sequence != want {
				t.Errorf("Sequence = %d, want %d", alloc.Sequence, want)
			}
		}
	})

	t.Run("derives identifier and topic", func(t *testing.T) {
		alloc, err := seq.Next(ctx, db, p, "tpl-ws", "WS")
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if alloc.Identifier != "WS_1" {
			t.Errorf("Identifier = %q, want %q", alloc.Identifier, "WS_1")
		}
		if alloc.Topic != "solar/RAJ1/WS_1" {
			t.Errorf("Topic = %q, want %q", alloc.Topic, "solar/RAJ1/WS_1")
		}
	})

	t.Run("counters are independent per template", func(t *testing.T) {
		alloc, err := seq.Next(ctx, db, p, "tpl-cmb", "CMB")
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if alloc.Sequence != 1 {
			t.Errorf("Sequence = %d, want 1", alloc.Sequence)
		}
	})

	t.Run("counters are independent per plant", func(t *testing.T) {
		other := testPlant(t, db, "plant-guj2")
		alloc, err := seq.Next(ctx, db, other, "tpl-inv", "INV")
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if alloc.Identifier != "INV_1" {
			t.Errorf("Identifier = %q, want %q", alloc.Identifier, "INV_1")
		}
	})

	t.Run("incomplete plant leaves counter untouched", func(t *testing.T) {
		bad := &plant.Plant{ID: "plant-bad", Code: "BAD1"}
		_, err := seq.Next(ctx, db, bad, "tpl-inv", "INV")
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("Next() error = %v, want ErrConfiguration", err)
		}

		var count int
		if err := db.QueryRow(
			"SELECT COUNT(*) FROM device_sequences WHERE plant_id = 'plant-bad'",
		).Scan(&count); err != nil {
			t.Fatalf("counting sequences: %v", err)
		}
		if count != 0 {
			t.Errorf("sequence rows for unconfigured plant = %d, want 0", count)
		}
	})
}

func TestSequencer_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seq := NewSequencer()
	p := testPlant(t, db, "plant-raj1")

	const draws = 25

	var mu sync.Mutex
	seen := make(map[int64]bool, draws)

	var wg sync.WaitGroup
	for i := 0; i < draws; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := seq.Next(ctx, db, p, "tpl-inv", "INV")
			if err != nil {
				t.Errorf("Next() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[alloc.Sequence] {
				t.Errorf("duplicate sequence %d", alloc.Sequence)
			}
			seen[alloc.Sequence] = true
		}()
	}
	wg.Wait()

	if len(seen) != draws {
		t.Errorf("unique sequences = %d, want %d", len(seen), draws)
	}
	for s := int64(1); s <= draws; s++ {
		if !seen[s] {
			t.Errorf("sequence %d never allocated", s)
		}
	}
}

func TestRegistry_Create(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)

	t.Run("creates root device with cloned tags", func(t *testing.T) {
		cmb, err := reg.Create(ctx, "plant-raj1", "tpl-cmb", nil, "admin")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if cmb.Identifier != "CMB_1" {
			t.Errorf("Identifier = %q, want %q", cmb.Identifier, "CMB_1")
		}
		if cmb.Topic != "solar/RAJ1/CMB_1" {
			t.Errorf("Topic = %q, want %q", cmb.Topic, "solar/RAJ1/CMB_1")
		}

		inv, err := reg.Create(ctx, "plant-raj1", "tpl-inv", &cmb.ID, "admin")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if inv.Identifier != "INV_1" {
			t.Errorf("Identifier = %q, want %q", inv.Identifier, "INV_1")
		}
		if len(inv.Tags) != 2 {
			t.Fatalf("cloned tags = %d, want 2", len(inv.Tags))
		}
		if inv.Tags[0].Name != "ac_power" || inv.Tags[0].Unit != "kW" {
			t.Errorf("Tags[0] = %s/%s, want ac_power/kW", inv.Tags[0].Name, inv.Tags[0].Unit)
		}
		if inv.Tags[0].MaxValue == nil || *inv.Tags[0].MaxValue != 5000 {
			t.Errorf("Tags[0].MaxValue = %v, want 5000", inv.Tags[0].MaxValue)
		}

		history, err := reg.History(ctx, inv.ID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("history entries = %d, want 1", len(history))
		}
		if history[0].HierarchyVersion != 1 {
			t.Errorf("HierarchyVersion = %d, want 1", history[0].HierarchyVersion)
		}
		if history[0].ChangedBy != "admin" {
			t.Errorf("ChangedBy = %q, want %q", history[0].ChangedBy, "admin")
		}
	})

	t.Run("rejects unsanctioned root attachment", func(t *testing.T) {
		_, err := reg.Create(ctx, "plant-raj1", "tpl-inv", nil, "admin")
		if !errors.Is(err, ErrHierarchyViolation) {
			t.Fatalf("Create() error = %v, want ErrHierarchyViolation", err)
		}
	})

	t.Run("rejects rule explicitly disallowed", func(t *testing.T) {
		cmb, err := reg.GetByIdentifier(ctx, "plant-raj1", "CMB_1")
		if err != nil {
			t.Fatalf("GetByIdentifier() error = %v", err)
		}
		_, err = reg.Create(ctx, "plant-raj1", "tpl-ws", &cmb.ID, "admin")
		if !errors.Is(err, ErrHierarchyViolation) {
			t.Fatalf("Create() error = %v, want ErrHierarchyViolation", err)
		}
	})

	t.Run("rejects unknown parent", func(t *testing.T) {
		missing := "no-such-device"
		_, err := reg.Create(ctx, "plant-raj1", "tpl-inv", &missing, "admin")
		if !errors.Is(err, ErrParentNotFound) {
			t.Fatalf("Create() error = %v, want ErrParentNotFound", err)
		}
	})

	t.Run("rejects parent from another plant", func(t *testing.T) {
		cmb, err := reg.GetByIdentifier(ctx, "plant-raj1", "CMB_1")
		if err != nil {
			t.Fatalf("GetByIdentifier() error = %v", err)
		}
		_, err = reg.Create(ctx, "plant-guj2", "tpl-inv", &cmb.ID, "admin")
		if !errors.Is(err, ErrHierarchyViolation) {
			t.Fatalf("Create() error = %v, want ErrHierarchyViolation", err)
		}
	})

	t.Run("rejects unknown plant", func(t *testing.T) {
		_, err := reg.Create(ctx, "no-such-plant", "tpl-cmb", nil, "admin")
		if !errors.Is(err, plant.ErrPlantNotFound) {
			t.Fatalf("Create() error = %v, want ErrPlantNotFound", err)
		}
	})
}

func TestRegistry_Delete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)

	cmb, err := reg.Create(ctx, "plant-raj1", "tpl-cmb", nil, "admin")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	inv, err := reg.Create(ctx, "plant-raj1", "tpl-inv", &cmb.ID, "admin")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("refuses non-leaf", func(t *testing.T) {
		err := reg.Delete(ctx, cmb.ID)
		if !errors.Is(err, ErrDeviceHasChildren) {
			t.Fatalf("Delete() error = %v, want ErrDeviceHasChildren", err)
		}
	})

	t.Run("deletes leaf and burns its sequence", func(t *testing.T) {
		if err := reg.Delete(ctx, inv.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := reg.Get(ctx, inv.ID); !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Get() after delete error = %v, want ErrDeviceNotFound", err)
		}

		replacement, err := reg.Create(ctx, "plant-raj1", "tpl-inv", &cmb.ID, "admin")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if replacement.Identifier != "INV_2" {
			t.Errorf("Identifier = %q, want %q (INV_1 stays burned)", replacement.Identifier, "INV_2")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		if err := reg.Delete(ctx, "no-such-device"); !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Delete() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_SetStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)

	cmb, err := reg.Create(ctx, "plant-raj1", "tpl-cmb", nil, "admin")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := reg.SetStatus(ctx, cmb.ID, StatusMaintenance); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, err := reg.Get(ctx, cmb.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusMaintenance {
		t.Errorf("Status = %q, want %q", got.Status, StatusMaintenance)
	}

	if err := reg.SetStatus(ctx, cmb.ID, "broken"); err == nil {
		t.Error("SetStatus() with invalid status should fail")
	}
}
