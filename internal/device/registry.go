package device

import (
	"context"
	"fmt"

	"github.com/voltgrid/solarfleet-core/internal/plant"
	"github.com/voltgrid/solarfleet-core/internal/template"
)

// Registry is the device lifecycle service. It resolves plants and templates,
// enforces attachment rules through the hierarchy engine, and delegates
// persistence to the repository.
type Registry struct {
	devices   Repository
	plants    plant.Repository
	templates template.Repository
	engine    *Engine
	logger    Logger
}

// NewRegistry creates a device registry.
func NewRegistry(devices Repository, plants plant.Repository, templates template.Repository) *Registry {
	return &Registry{
		devices:   devices,
		plants:    plants,
		templates: templates,
		engine:    NewEngine(devices, templates),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its hierarchy engine.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	r.engine.SetLogger(logger)
}

// Engine exposes the hierarchy engine for traversal queries.
func (r *Registry) Engine() *Engine {
	return r.engine
}

// Create stamps out a new device from a template inside a plant.
//
// The attachment (parent template, child template) must be sanctioned by an
// explicit hierarchy rule; nil parent means the plant root, which needs a
// rule just the same. Identifier allocation, the device row, cloned tags, and
// the first history entry commit together.
func (r *Registry) Create(ctx context.Context, plantID, templateID string, parentDeviceID *string, createdBy string) (*Device, error) {
	p, err := r.plants.GetByID(ctx, plantID)
	if err != nil {
		return nil, err
	}

	tpl, err := r.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	var parent *Device
	if parentDeviceID != nil {
		parent, err = r.devices.GetByID(ctx, *parentDeviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, *parentDeviceID)
		}
		if parent.PlantID != plantID {
			return nil, fmt.Errorf("%w: parent %s belongs to a different plant",
				ErrHierarchyViolation, parent.Identifier)
		}
	}

	if err := r.engine.ValidateAttachment(ctx, templateID, parent); err != nil {
		return nil, err
	}

	d, err := r.devices.Create(ctx, p, tpl, parentDeviceID, createdBy)
	if err != nil {
		return nil, err
	}

	r.logger.Info("device created",
		"device", d.Identifier,
		"plant", p.Code,
		"template", tpl.Shortform,
		"topic", d.Topic,
	)
	return d, nil
}

// Get retrieves a device with its tags.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	return r.devices.GetByID(ctx, id)
}

// GetByIdentifier retrieves a device by its plant-scoped identifier.
func (r *Registry) GetByIdentifier(ctx context.Context, plantID, identifier string) (*Device, error) {
	return r.devices.GetByIdentifier(ctx, plantID, identifier)
}

// ListByPlant retrieves a plant's devices ordered by identifier.
func (r *Registry) ListByPlant(ctx context.Context, plantID string) ([]Device, error) {
	return r.devices.ListByPlant(ctx, plantID)
}

// Move reattaches a device under a new parent (nil = plant root).
func (r *Registry) Move(ctx context.Context, deviceID string, newParentID *string, changedBy, reason string) error {
	return r.engine.Move(ctx, deviceID, newParentID, changedBy, reason)
}

// SetStatus changes a device's status.
func (r *Registry) SetStatus(ctx context.Context, id, status string) error {
	return r.devices.UpdateStatus(ctx, id, status)
}

// Delete removes a leaf device. Its identifier stays burned: the sequence
// never steps backwards, so a later device of the same template gets a fresh
// number.
func (r *Registry) Delete(ctx context.Context, id string) error {
	d, err := r.devices.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.devices.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info("device deleted", "device", d.Identifier, "plant", d.PlantID)
	return nil
}

// History retrieves a device's hierarchy log, oldest first.
func (r *Registry) History(ctx context.Context, deviceID string) ([]HistoryEntry, error) {
	return r.devices.History(ctx, deviceID)
}
