// Package canonical computes content hashes for run and step payloads.
// Hashes are SHA-256 over canonical JSON: object keys sorted, UTF-8, no
// insignificant whitespace, numbers preserved as written. Payloads that are
// not valid JSON hash over their raw bytes.
package canonical
