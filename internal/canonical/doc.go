// Package canonical provides deterministic encodings used wherever the
// harness needs byte-identical output across runs: golden run snapshots,
// artifact content digests and evidence fingerprints stored in run history.
//
// # Canonical JSON
//
// Marshal produces RFC 8785 style canonical JSON:
//   - Object keys sorted by UTF-16 code units
//   - No insignificant whitespace
//   - Strings NFC normalized, no HTML escaping
//   - Floats and null are rejected
//
// # Digests
//
// Digest computes SHA-256 with domain separation so that an artifact digest
// can never collide with an evidence fingerprint of the same bytes.
package canonical
