// Package plant provides the Plant Registry for Solar Fleet Core.
//
// A plant is a single solar installation. Its immutable code seeds every
// derived name in the system: device topics ({base_topic}/{identifier}),
// the external messaging identity (solar-plant-{code}), the authorization
// document, and the routing rule. Because those names must stay stable for
// the lifetime of the plant, the code is validated strictly at creation and
// can never be changed afterwards.
//
// The registry also holds the plant's external resource references and its
// envelope-encrypted credential material, written by the provisioning saga
// and cleared by the deprovisioning saga. A plant with nil references is
// valid: provisioning may be disabled, simulated, or deferred after a
// provider failure.
package plant
