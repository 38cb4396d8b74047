// Package vault provides envelope encryption for credential material at rest.
//
// The provisioning saga receives certificate and private key PEM blocks from
// the messaging provider; those must never be stored or logged in plaintext.
// Vault.Seal wraps a value with a per-value AES-256-GCM key derived from the
// server secret via Argon2id, and Vault.Open reverses it for operators with
// the secret. Sealed values are opaque strings that fit a TEXT column.
package vault
