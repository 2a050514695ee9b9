// Package server implements the relay's network front ends.
//
// A Hub runs one session per connection and owns the room registry. The raw
// line protocol arrives through TCPServer; browsers reach the same hub
// through the /ws WebSocket handler. The remaining files hold configuration,
// origin checks, routing and the HTTP handlers for health, room stats and
// metrics.
package server
