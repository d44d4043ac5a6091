// Package server implements the HTTP and WebSocket transport for zodiacchat.
//
// The code is split by concern: configuration loading, the hub that owns
// client lifecycles, per-connection read/write pumps, origin and rate-limit
// checks, HTTP handlers and chi routing. Decoded frames are handed to a
// Dispatcher; the transport itself knows nothing about chat semantics.
package server
