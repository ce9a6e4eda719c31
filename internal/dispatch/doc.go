// Package dispatch provides a bounded worker pool that decouples message
// handling from frame reading: the listener submits decoded payloads without
// blocking, and a fixed set of workers runs the handler with full error and
// panic isolation.
package dispatch
