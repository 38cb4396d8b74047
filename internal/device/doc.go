// Package device manages the device inventory of a solar plant: identifier
// allocation, the device tree, and lifecycle state.
//
// # Identifiers and Topics
//
// Every device is stamped out from a template and receives an identifier
// {shortform}_{sequence} from a per-(plant, template) counter, plus a topic
// {plant base topic}/{identifier}. Both are immutable. The counter only ever
// moves forward: a rolled-back creation or a deleted device burns its number,
// so identifiers are never reused even under concurrent creation.
//
// # Hierarchy
//
// Devices form a forest per plant, represented through parent back-pointers
// only. Which template may attach under which is governed by explicit
// hierarchy rules (see the template package); without a sanctioning rule an
// attachment is rejected, the plant root included. The Engine performs
// traversals (descendants, path, stats), cycle-safe moves with optimistic
// version checks, and an advisory consistency scan.
//
// # Usage
//
//	registry := device.NewRegistry(deviceRepo, plantRepo, templateRepo)
//	registry.SetLogger(log)
//
//	inverter, err := registry.Create(ctx, plantID, inverterTemplateID, nil, "admin")
//	// inverter.Identifier == "INV_1", inverter.Topic == "solar/RAJ1/INV_1"
package device
