// Package client is a Go client for the Paddock HTTP API. It mirrors the
// API's wire types and surfaces non-2xx responses as *APIError so callers
// can distinguish rate rejections (reason plus violated window) from hard
// failures.
package client
