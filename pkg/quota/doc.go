// Package quota tracks per-tenant admission rate windows (minute, hour,
// day), the in-flight run census, and the tier presets that map a tenant
// tier to its Quota and Limits. Window counters live in the ledger; this
// package computes bucket keys from UTC time and interprets quota caps.
// The narrowest violated window names the rejection reason.
package quota
