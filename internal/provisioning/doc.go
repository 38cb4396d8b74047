// Package provisioning creates and tears down a plant's external messaging
// identity: a device-identity resource, a credential key pair, an
// authorization document, their attachments, and a routing rule that forwards
// the plant's telemetry into an ordered, deduplicating message queue.
//
// # Saga semantics
//
// Each provider call is independently fallible, so Provision runs as a saga:
// every completed step pushes its compensation onto a stack, and the first
// failure unwinds the stack in reverse order before the step's error reaches
// the caller. Compensation failures are logged and swallowed individually.
// The plant row is never rolled back — a failed run leaves it unprovisioned
// and retryable.
//
// Deprovision reuses the same teardown primitives with null-skipping: only
// steps whose resource references exist are attempted, and step failures are
// collected rather than aborting, so a half-provisioned or unreachable plant
// can always be removed.
//
// # Modes
//
// A single guard at the saga entry handles the "provisioning disabled" and
// "simulation" flags: both paths fabricate a deterministic placeholder bundle
// from the real naming rules without touching the network, so callers never
// branch on the mode.
//
// # Credential handling
//
// The certificate and private key PEM blocks exist in plaintext only inside
// the returned Bundle. Storage receives them sealed by the vault package, and
// nothing in this package ever logs them.
package provisioning
