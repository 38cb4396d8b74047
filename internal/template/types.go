package template

import "time"

// DeviceTemplate describes a class of field device (inverter, string combiner,
// weather station). Devices are stamped out from a template: the shortform
// seeds their identifiers and the tag blueprints are cloned onto every new
// device.
type DeviceTemplate struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Shortform  string    `json:"shortform"`
	DeviceType string    `json:"device_type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Tags are the ordered tag blueprints cloned onto each device instance.
	Tags []TagBlueprint `json:"tags"`
}

// TagBlueprint defines one measurement point a template's devices expose.
type TagBlueprint struct {
	ID         string   `json:"id"`
	TemplateID string   `json:"template_id"`
	Position   int      `json:"position"`
	Name       string   `json:"name"`
	Unit       string   `json:"unit"`
	DataType   string   `json:"data_type"`
	MinValue   *float64 `json:"min_value,omitempty"`
	MaxValue   *float64 `json:"max_value,omitempty"`
}

// HierarchyRule sanctions one (parent template, child template) attachment.
//
// A nil ParentTemplateID means the child template may attach at the plant
// root. An attachment without a matching rule with Allowed=true is rejected;
// there is no implicit permission, including at the root.
type HierarchyRule struct {
	ID               string  `json:"id"`
	ParentTemplateID *string `json:"parent_template_id"`
	ChildTemplateID  string  `json:"child_template_id"`
	Allowed          bool    `json:"allowed"`
}
