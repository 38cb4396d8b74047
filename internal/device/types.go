package device

import "time"

// Status values for a device.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
)

// Device is one physical unit inside a plant, stamped out from a template.
//
// Identifier and Topic are derived once at creation and never change:
// Identifier = {template shortform}_{sequence}, Topic = {plant base topic}/{Identifier}.
// The tree is represented through parent back-pointers only; child sets are
// derived on demand (see hierarchy.go).
type Device struct {
	ID         string `json:"id"`
	PlantID    string `json:"plant_id"`
	TemplateID string `json:"template_id"`

	// Identifier is unique within the plant and immutable after creation.
	Identifier string `json:"identifier"`

	// Topic is the deterministic concatenation {base topic}/{identifier}.
	Topic string `json:"topic"`

	// DeviceType is denormalised from the template for stats and filtering.
	DeviceType string `json:"device_type"`

	// ParentDeviceID is nil for devices attached at the plant root.
	ParentDeviceID *string `json:"parent_device_id"`

	// HierarchyVersion increments on every move; used as an optimistic guard
	// against concurrent tree mutations.
	HierarchyVersion int `json:"hierarchy_version"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Tags are the measurement points cloned from the template at creation.
	Tags []Tag `json:"tags,omitempty"`
}

// Tag is one measurement point instance on a device, cloned from a template
// tag blueprint at creation time.
type Tag struct {
	ID       string   `json:"id"`
	DeviceID string   `json:"device_id"`
	Position int      `json:"position"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	DataType string   `json:"data_type"`
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`
}

// HistoryEntry is one row of the append-only device hierarchy log. A device
// gets its first entry at creation and one more per move.
type HistoryEntry struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"device_id"`
	ParentDeviceID   *string   `json:"parent_device_id"`
	HierarchyVersion int       `json:"hierarchy_version"`
	EffectiveFrom    time.Time `json:"effective_from"`
	ChangedBy        string    `json:"changed_by"`
	Reason           string    `json:"reason"`
}

// Allocation is the result of one sequencer draw.
type Allocation struct {
	Identifier string
	Topic      string
	Sequence   int64
}

// IssueKind classifies a hierarchy consistency finding.
type IssueKind string

// Hierarchy issue kinds reported by Engine.Validate.
const (
	IssueOrphanedParent IssueKind = "orphaned_parent"
	IssueCircularChain  IssueKind = "circular_chain"
)

// Issue is one finding from the advisory hierarchy consistency scan.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	DeviceID string    `json:"device_id"`
	Detail   string    `json:"detail"`
}

// Stats summarises the shape of a plant's device tree.
type Stats struct {
	TotalDevices   int            `json:"total_devices"`
	RootDevices    int            `json:"root_devices"`
	CountsByType   map[string]int `json:"counts_by_type"`
	CountsByStatus map[string]int `json:"counts_by_status"`
	MaxDepth       int            `json:"max_depth"`
	AvgFanout      float64        `json:"avg_fanout"`
}

// ParentPair is the minimal projection used by tree traversals: one device and
// its parent back-pointer.
type ParentPair struct {
	ID       string
	ParentID *string
}
