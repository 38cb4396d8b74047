package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/voltgrid/solarfleet-core/internal/template"
)

// buildTestTree creates CMB_1 and CMB_2 at the root with an inverter under
// each, plus a weather station at the root:
//
//	CMB_1 ── INV_1
//	CMB_2 ── INV_2
//	WS_1
func buildTestTree(t *testing.T, reg *Registry) map[string]*Device {
	t.Helper()
	ctx := context.Background()

	tree := make(map[string]*Device)
	create := func(templateID string, parent *Device) *Device {
		var parentID *string
		if parent != nil {
			parentID = &parent.ID
		}
		d, err := reg.Create(ctx, "plant-raj1", templateID, parentID, "admin")
		if err != nil {
			t.Fatalf("creating %s device: %v", templateID, err)
		}
		tree[d.Identifier] = d
		return d
	}

	cmb1 := create("tpl-cmb", nil)
	cmb2 := create("tpl-cmb", nil)
	create("tpl-inv", cmb1)
	create("tpl-inv", cmb2)
	create("tpl-ws", nil)

	return tree
}

func TestEngine_Move(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)

	t.Run("moves between sanctioned parents", func(t *testing.T) {
		inv1, cmb2 := tree["INV_1"], tree["CMB_2"]
		if err := reg.Move(ctx, inv1.ID, &cmb2.ID, "admin", "rebalancing strings"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}

		moved, err := reg.Get(ctx, inv1.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if moved.ParentDeviceID == nil || *moved.ParentDeviceID != cmb2.ID {
			t.Errorf("ParentDeviceID = %v, want %s", moved.ParentDeviceID, cmb2.ID)
		}
		if moved.HierarchyVersion != 2 {
			t.Errorf("HierarchyVersion = %d, want 2", moved.HierarchyVersion)
		}

		history, err := reg.History(ctx, inv1.ID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("history entries = %d, want 2", len(history))
		}
		if history[1].Reason != "rebalancing strings" {
			t.Errorf("Reason = %q, want %q", history[1].Reason, "rebalancing strings")
		}
	})

	t.Run("rejects move to unsanctioned parent", func(t *testing.T) {
		inv2 := tree["INV_2"]
		if err := reg.Move(ctx, inv2.ID, nil, "admin", ""); !errors.Is(err, ErrHierarchyViolation) {
			t.Fatalf("Move() error = %v, want ErrHierarchyViolation", err)
		}
	})

	t.Run("rejects self parent", func(t *testing.T) {
		cmb1 := tree["CMB_1"]
		if err := reg.Move(ctx, cmb1.ID, &cmb1.ID, "admin", ""); !errors.Is(err, ErrCycle) {
			t.Fatalf("Move() error = %v, want ErrCycle", err)
		}
	})

	t.Run("rejects descendant as parent", func(t *testing.T) {
		// CMB under CMB needs a sanctioning rule for the cycle check to be
		// the deciding rejection.
		rule := "INSERT INTO hierarchy_rules (id, parent_template_id, child_template_id, is_allowed) VALUES ('rule-cmb-cmb', 'tpl-cmb', 'tpl-cmb', 1)"
		if _, err := db.Exec(rule); err != nil {
			t.Fatalf("inserting rule: %v", err)
		}

		cmb1, cmb2 := tree["CMB_1"], tree["CMB_2"]
		if err := reg.Move(ctx, cmb1.ID, &cmb2.ID, "admin", "nesting"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		// CMB_2 now sits above CMB_1; moving it under CMB_1 would close a loop.
		if err := reg.Move(ctx, cmb2.ID, &cmb1.ID, "admin", ""); !errors.Is(err, ErrCycle) {
			t.Fatalf("Move() error = %v, want ErrCycle", err)
		}
	})

	t.Run("stale version rejected", func(t *testing.T) {
		ws := tree["WS_1"]
		repo := NewSQLiteRepository(db)
		err := repo.UpdateParent(ctx, ws.ID, nil, ws.HierarchyVersion+5, "admin", "")
		if !errors.Is(err, ErrStaleHierarchy) {
			t.Fatalf("UpdateParent() error = %v, want ErrStaleHierarchy", err)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		if err := reg.Move(ctx, "no-such-device", nil, "admin", ""); !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Move() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

// interleavingRepository delegates to a real repository but runs a hook once,
// just before the first UpdateParent, simulating a rival write committing
// between a move's cycle check and its own write.
type interleavingRepository struct {
	Repository
	before func()
}

func (r *interleavingRepository) UpdateParent(ctx context.Context, id string, parentDeviceID *string, expectedVersion int, changedBy, reason string) error {
	if r.before != nil {
		hook := r.before
		r.before = nil
		hook()
	}
	return r.Repository.UpdateParent(ctx, id, parentDeviceID, expectedVersion, changedBy, reason)
}

func TestEngine_Move_ConcurrentMoveCannotCloseLoop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)

	// CMB under CMB must be sanctioned so the cycle check is the deciding
	// rejection.
	rule := "INSERT INTO hierarchy_rules (id, parent_template_id, child_template_id, is_allowed) VALUES ('rule-cmb-cmb', 'tpl-cmb', 'tpl-cmb', 1)"
	if _, err := db.Exec(rule); err != nil {
		t.Fatalf("inserting rule: %v", err)
	}

	cmb1, cmb2 := tree["CMB_1"], tree["CMB_2"]

	// While one operator moves CMB_1 under CMB_2, a rival moves CMB_2 under
	// CMB_1 after the first move's closure check has already passed. Neither
	// device's own version changes under the first mover, so only a re-check
	// inside the write transaction can catch the loop.
	wrapped := &interleavingRepository{Repository: NewSQLiteRepository(db)}
	wrapped.before = func() {
		if err := reg.Move(ctx, cmb2.ID, &cmb1.ID, "rival", "racing move"); err != nil {
			t.Fatalf("rival Move() error = %v", err)
		}
	}
	engine := NewEngine(wrapped, template.NewSQLiteRepository(db))

	if err := engine.Move(ctx, cmb1.ID, &cmb2.ID, "admin", "racing move"); !errors.Is(err, ErrCycle) {
		t.Fatalf("Move() error = %v, want ErrCycle", err)
	}

	// The rival's move stands; the stored tree must still be sound.
	issues, err := reg.Engine().Validate(ctx, "plant-raj1")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("Validate() issues = %v, want none", issues)
	}
	moved, err := reg.Get(ctx, cmb2.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if moved.ParentDeviceID == nil || *moved.ParentDeviceID != cmb1.ID {
		t.Errorf("CMB_2 parent = %v, want %s", moved.ParentDeviceID, cmb1.ID)
	}
}

func TestEngine_Descendants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)
	engine := reg.Engine()

	t.Run("returns full closure", func(t *testing.T) {
		got, err := engine.Descendants(ctx, tree["CMB_1"].ID)
		if err != nil {
			t.Fatalf("Descendants() error = %v", err)
		}
		if len(got) != 1 || got[0].Identifier != "INV_1" {
			t.Fatalf("Descendants() = %v, want [INV_1]", identifiers(got))
		}
	})

	t.Run("leaf has none", func(t *testing.T) {
		got, err := engine.Descendants(ctx, tree["WS_1"].ID)
		if err != nil {
			t.Fatalf("Descendants() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Descendants() = %v, want empty", identifiers(got))
		}
	})

	t.Run("deep chain", func(t *testing.T) {
		// Sanction CMB under CMB and nest: CMB_1 → CMB_2 → INV_2.
		rule := "INSERT INTO hierarchy_rules (id, parent_template_id, child_template_id, is_allowed) VALUES ('rule-cmb-cmb', 'tpl-cmb', 'tpl-cmb', 1)"
		if _, err := db.Exec(rule); err != nil {
			t.Fatalf("inserting rule: %v", err)
		}
		cmb1, cmb2 := tree["CMB_1"], tree["CMB_2"]
		if err := reg.Move(ctx, cmb2.ID, &cmb1.ID, "admin", ""); err != nil {
			t.Fatalf("Move() error = %v", err)
		}

		got, err := engine.Descendants(ctx, cmb1.ID)
		if err != nil {
			t.Fatalf("Descendants() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("Descendants() = %v, want 3 devices", identifiers(got))
		}
	})
}

func TestEngine_Path(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)
	engine := reg.Engine()

	t.Run("root to device inclusive", func(t *testing.T) {
		path, err := engine.Path(ctx, tree["INV_1"].ID)
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		want := []string{"CMB_1", "INV_1"}
		if len(path) != len(want) {
			t.Fatalf("Path() = %v, want %v", identifiers(path), want)
		}
		for i, id := range want {
			if path[i].Identifier != id {
				t.Errorf("path[%d] = %q, want %q", i, path[i].Identifier, id)
			}
		}
	})

	t.Run("root device is its own path", func(t *testing.T) {
		path, err := engine.Path(ctx, tree["WS_1"].ID)
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if len(path) != 1 || path[0].Identifier != "WS_1" {
			t.Errorf("Path() = %v, want [WS_1]", identifiers(path))
		}
	})

	t.Run("dangling parent treated as root", func(t *testing.T) {
		breakParent(t, db, tree["INV_1"].ID, "vanished-device")

		path, err := engine.Path(ctx, tree["INV_1"].ID)
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if len(path) != 1 || path[0].Identifier != "INV_1" {
			t.Errorf("Path() = %v, want [INV_1]", identifiers(path))
		}
	})

	t.Run("circular chain terminates", func(t *testing.T) {
		cmb1, cmb2 := tree["CMB_1"], tree["CMB_2"]
		breakParent(t, db, cmb1.ID, cmb2.ID)
		breakParent(t, db, cmb2.ID, cmb1.ID)

		path, err := engine.Path(ctx, cmb1.ID)
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if len(path) != 2 {
			t.Errorf("Path() = %v, want 2 devices", identifiers(path))
		}
	})
}

func TestEngine_Validate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)
	engine := reg.Engine()

	t.Run("sound tree has no issues", func(t *testing.T) {
		issues, err := engine.Validate(ctx, "plant-raj1")
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if len(issues) != 0 {
			t.Errorf("Validate() = %v, want none", issues)
		}
	})

	t.Run("reports orphaned parent", func(t *testing.T) {
		breakParent(t, db, tree["WS_1"].ID, "vanished-device")

		issues, err := engine.Validate(ctx, "plant-raj1")
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if !hasIssue(issues, IssueOrphanedParent, tree["WS_1"].ID) {
			t.Errorf("Validate() = %v, want orphaned_parent for WS_1", issues)
		}

		// Advisory only: the scan must not block reads or mutations.
		if _, err := reg.ListByPlant(ctx, "plant-raj1"); err != nil {
			t.Errorf("ListByPlant() after orphan found error = %v", err)
		}
	})

	t.Run("reports circular chain", func(t *testing.T) {
		cmb1, cmb2 := tree["CMB_1"], tree["CMB_2"]
		breakParent(t, db, cmb1.ID, cmb2.ID)
		breakParent(t, db, cmb2.ID, cmb1.ID)

		issues, err := engine.Validate(ctx, "plant-raj1")
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if !hasIssue(issues, IssueCircularChain, cmb1.ID) {
			t.Errorf("Validate() = %v, want circular_chain for CMB_1", issues)
		}
	})
}

func TestEngine_StatsFor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := setupRegistry(t, db)
	tree := buildTestTree(t, reg)
	engine := reg.Engine()

	if err := reg.SetStatus(ctx, tree["WS_1"].ID, StatusMaintenance); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	stats, err := engine.StatsFor(ctx, "plant-raj1")
	if err != nil {
		t.Fatalf("StatsFor() error = %v", err)
	}

	if stats.TotalDevices != 5 {
		t.Errorf("TotalDevices = %d, want 5", stats.TotalDevices)
	}
	if stats.RootDevices != 3 {
		t.Errorf("RootDevices = %d, want 3", stats.RootDevices)
	}
	if stats.CountsByType["inverter"] != 2 {
		t.Errorf("CountsByType[inverter] = %d, want 2", stats.CountsByType["inverter"])
	}
	if stats.CountsByStatus[StatusMaintenance] != 1 {
		t.Errorf("CountsByStatus[maintenance] = %d, want 1", stats.CountsByStatus[StatusMaintenance])
	}
	if stats.MaxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", stats.MaxDepth)
	}
	// CMB_1 and CMB_2 each have one child.
	if stats.AvgFanout != 1 {
		t.Errorf("AvgFanout = %v, want 1", stats.AvgFanout)
	}

	t.Run("empty plant", func(t *testing.T) {
		stats, err := engine.StatsFor(ctx, "plant-guj2")
		if err != nil {
			t.Fatalf("StatsFor() error = %v", err)
		}
		if stats.TotalDevices != 0 || stats.MaxDepth != 0 || stats.AvgFanout != 0 {
			t.Errorf("StatsFor(empty) = %+v, want zeros", stats)
		}
	})
}

// breakParent sets a parent pointer directly, bypassing the engine's checks,
// to simulate drift the advisory scan must detect.
func breakParent(t *testing.T, db *sql.DB, deviceID, parentID string) {
	t.Helper()
	if _, err := db.Exec(
		"UPDATE devices SET parent_device_id = ? WHERE id = ?", parentID, deviceID,
	); err != nil {
		t.Fatalf("breaking parent pointer: %v", err)
	}
}

func hasIssue(issues []Issue, kind IssueKind, deviceID string) bool {
	for _, i := range issues {
		if i.Kind == kind && i.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func identifiers(devices []Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.Identifier
	}
	return ids
}
