package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrCycle) {
//	    // reject the move
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID or
	// identifier that already exists in the plant.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrParentNotFound is returned when a referenced parent device does not exist.
	ErrParentNotFound = errors.New("device: parent not found")

	// ErrDeviceHasChildren is returned when deleting a device that still has
	// children. Children must be deleted or moved first.
	ErrDeviceHasChildren = errors.New("device: has children")

	// ErrConfiguration is returned when a plant is missing the fields device
	// creation depends on (code, base topic). The sequence counter is never
	// touched in this case.
	ErrConfiguration = errors.New("device: plant configuration incomplete")

	// ErrHierarchyViolation is returned when no hierarchy rule sanctions the
	// requested (parent template, child template) attachment.
	ErrHierarchyViolation = errors.New("device: attachment not sanctioned by hierarchy rules")

	// ErrCycle is returned when a move would make a device its own ancestor.
	ErrCycle = errors.New("device: move would create a cycle")

	// ErrStaleHierarchy is returned when an optimistic hierarchy version check
	// fails because a concurrent move changed the tree. Callers may retry.
	ErrStaleHierarchy = errors.New("device: concurrent hierarchy change, retry")
)
