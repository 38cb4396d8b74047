package device

import (
	"context"
	"fmt"

	"github.com/voltgrid/solarfleet-core/internal/template"
)

// Engine validates and mutates the per-plant device tree.
//
// The tree is a forest: parent back-pointers only, nil parent meaning the
// device hangs off the plant root. Traversals never build mutually
// referencing node objects; each builds a one-shot id→children index from the
// flat (id, parent) projection and walks that.
type Engine struct {
	repo   Repository
	rules  template.Repository
	logger Logger
}

// NewEngine creates a hierarchy integrity engine.
func NewEngine(repo Repository, rules template.Repository) *Engine {
	return &Engine{
		repo:   repo,
		rules:  rules,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// ValidateAttachment checks whether a device of childTemplateID may attach
// under parent (nil parent = plant root). Requires an explicit hierarchy rule
// with Allowed=true; absence of a rule is a violation, root included.
func (e *Engine) ValidateAttachment(ctx context.Context, childTemplateID string, parent *Device) error {
	var parentTemplateID *string
	if parent != nil {
		parentTemplateID = &parent.TemplateID
	}

	allowed, err := e.rules.RuleAllows(ctx, parentTemplateID, childTemplateID)
	if err != nil {
		return fmt.Errorf("checking hierarchy rule: %w", err)
	}
	if !allowed {
		if parent == nil {
			return fmt.Errorf("%w: template %s may not attach at plant root",
				ErrHierarchyViolation, childTemplateID)
		}
		return fmt.Errorf("%w: template %s may not attach under template %s",
			ErrHierarchyViolation, childTemplateID, parent.TemplateID)
	}
	return nil
}

// Move reattaches a device under a new parent (nil = plant root).
//
// The move is rejected with ErrHierarchyViolation when no rule sanctions the
// new attachment, and with ErrCycle when the new parent is the device itself
// or one of its descendants. On success the parent pointer is updated, the
// hierarchy version bumped, and a history row appended — atomically, guarded
// by an optimistic check on the version read here. No partial state survives
// a failure.
func (e *Engine) Move(ctx context.Context, deviceID string, newParentID *string, changedBy, reason string) error {
	d, err := e.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}

	var newParent *Device
	if newParentID != nil {
		newParent, err = e.repo.GetByID(ctx, *newParentID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrParentNotFound, *newParentID)
		}
		if newParent.PlantID != d.PlantID {
			return fmt.Errorf("%w: parent %s belongs to a different plant",
				ErrHierarchyViolation, newParent.Identifier)
		}
	}

	if err := e.ValidateAttachment(ctx, d.TemplateID, newParent); err != nil {
		return err
	}

	if newParentID != nil {
		if *newParentID == d.ID {
			return fmt.Errorf("%w: %s cannot be its own parent", ErrCycle, d.Identifier)
		}
		closure, err := e.descendantSet(ctx, d.PlantID, d.ID)
		if err != nil {
			return err
		}
		if _, inClosure := closure[*newParentID]; inClosure {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrCycle, *newParentID, d.Identifier)
		}
	}

	// The repository re-checks the hierarchy version inside the write
	// transaction; a concurrent move surfaces as ErrStaleHierarchy.
	if err := e.repo.UpdateParent(ctx, d.ID, newParentID, d.HierarchyVersion, changedBy, reason); err != nil {
		return err
	}

	e.logger.Info("device moved",
		"device", d.Identifier,
		"plant", d.PlantID,
		"new_parent", derefOr(newParentID, "root"),
	)
	return nil
}

// Descendants returns the full recursive closure below a device, correct at
// arbitrary depth. The result excludes the device itself.
func (e *Engine) Descendants(ctx context.Context, deviceID string) ([]Device, error) {
	d, err := e.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	set, err := e.descendantSet(ctx, d.PlantID, d.ID)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(set))
	for id := range set {
		dd, err := e.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *dd)
	}
	return devices, nil
}

// descendantSet computes the descendant id closure of root using a single
// flat projection of the plant's tree and an id→children index.
func (e *Engine) descendantSet(ctx context.Context, plantID, rootID string) (map[string]struct{}, error) {
	pairs, err := e.repo.ParentPairs(ctx, plantID)
	if err != nil {
		return nil, err
	}

	children := childIndex(pairs)

	set := make(map[string]struct{})
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, childID := range children[id] {
			if _, seen := set[childID]; seen {
				// Defensive: a corrupted circular chain must not hang the walk.
				continue
			}
			set[childID] = struct{}{}
			stack = append(stack, childID)
		}
	}
	return set, nil
}

// Path returns the chain from the plant root down to the device, inclusive.
//
// A dangling parent reference (parent id that no longer resolves) terminates
// the walk as if the device were a root; it neither loops nor fails. The
// advisory Validate scan is the place such drift gets reported.
func (e *Engine) Path(ctx context.Context, deviceID string) ([]Device, error) {
	d, err := e.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	path := []Device{*d}
	visited := map[string]struct{}{d.ID: {}}

	current := d
	for current.ParentDeviceID != nil {
		parent, err := e.repo.GetByID(ctx, *current.ParentDeviceID)
		if err != nil {
			// Dangling pointer: treat the current device as the root.
			break
		}
		if _, seen := visited[parent.ID]; seen {
			// Circular chain: stop rather than loop.
			break
		}
		visited[parent.ID] = struct{}{}
		path = append([]Device{*parent}, path...)
		current = parent
	}

	return path, nil
}

// Validate performs a read-only consistency scan of a plant's device tree.
//
// It reports orphaned parent references and circular chains as a structured
// issue list. It is advisory: it never mutates, never blocks mutations, and an
// empty list means the tree is sound.
func (e *Engine) Validate(ctx context.Context, plantID string) ([]Issue, error) {
	pairs, err := e.repo.ParentPairs(ctx, plantID)
	if err != nil {
		return nil, err
	}

	inPlant := make(map[string]*string, len(pairs))
	for _, p := range pairs {
		inPlant[p.ID] = p.ParentID
	}

	var issues []Issue

	// Orphaned parent references: parent id missing from the plant's own set.
	// A parent in another plant is equally an orphan here.
	for _, p := range pairs {
		if p.ParentID == nil {
			continue
		}
		if _, ok := inPlant[*p.ParentID]; !ok {
			issues = append(issues, Issue{
				Kind:     IssueOrphanedParent,
				DeviceID: p.ID,
				Detail:   fmt.Sprintf("parent %s does not exist in plant", *p.ParentID),
			})
		}
	}

	// Circular chains: walk each device's ancestor chain with a visited set.
	for _, p := range pairs {
		visited := map[string]struct{}{p.ID: {}}
		parentID := p.ParentID
		for parentID != nil {
			if _, seen := visited[*parentID]; seen {
				issues = append(issues, Issue{
					Kind:     IssueCircularChain,
					DeviceID: p.ID,
					Detail:   fmt.Sprintf("ancestor chain revisits %s", *parentID),
				})
				break
			}
			visited[*parentID] = struct{}{}
			next, ok := inPlant[*parentID]
			if !ok {
				break // orphan, already reported above
			}
			parentID = next
		}
	}

	return issues, nil
}

// StatsFor summarises a plant's tree: counts by type and status, maximum
// depth, and average fan-out across devices that have children.
func (e *Engine) StatsFor(ctx context.Context, plantID string) (*Stats, error) {
	devices, err := e.repo.ListByPlant(ctx, plantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalDevices:   len(devices),
		CountsByType:   make(map[string]int),
		CountsByStatus: make(map[string]int),
	}

	pairs := make([]ParentPair, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		stats.CountsByType[d.DeviceType]++
		stats.CountsByStatus[d.Status]++
		if d.ParentDeviceID == nil {
			stats.RootDevices++
		}
		pairs = append(pairs, ParentPair{ID: d.ID, ParentID: d.ParentDeviceID})
	}

	children := childIndex(pairs)

	// Depth-first from each root; visited set guards against corrupted chains.
	type frame struct {
		id    string
		depth int
	}
	visited := make(map[string]struct{}, len(pairs))
	var stack []frame
	for _, p := range pairs {
		if p.ParentID == nil {
			stack = append(stack, frame{id: p.ID, depth: 1})
		}
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[f.id]; seen {
			continue
		}
		visited[f.id] = struct{}{}
		if f.depth > stats.MaxDepth {
			stats.MaxDepth = f.depth
		}
		for _, childID := range children[f.id] {
			stack = append(stack, frame{id: childID, depth: f.depth + 1})
		}
	}

	parents := 0
	childCount := 0
	for _, kids := range children {
		if len(kids) > 0 {
			parents++
			childCount += len(kids)
		}
	}
	if parents > 0 {
		stats.AvgFanout = float64(childCount) / float64(parents)
	}

	return stats, nil
}

// childIndex builds a one-shot id→children index from flat parent pairs.
func childIndex(pairs []ParentPair) map[string][]string {
	children := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		if p.ParentID != nil {
			children[*p.ParentID] = append(children[*p.ParentID], p.ID)
		}
	}
	return children
}

// derefOr returns the pointed-to string or a fallback for nil.
func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
