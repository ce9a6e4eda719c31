// Package link implements the persistent control-plane link between a
// long-running agent process and the remote dashboard.
//
// The client:
//   - Maintains a single logical WebSocket connection with credential headers
//   - Listens for dashboard frames and fans decoded payloads out to a handler
//   - Recovers from transport failures with exponential-backoff reconnection
//   - Couples send-path retry to the same reconnection coordinator
package link
