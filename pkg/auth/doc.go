// Package auth manages tenant API keys. Tokens are 32 random bytes hex
// encoded, minted once and never stored; the ledger keeps only the hex
// SHA-256 plus the first eight characters for display. Validation resolves
// the hash, enforces optional expiry, checks scopes, and stamps last-used.
package auth
