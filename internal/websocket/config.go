package websocket

import "time"

// Reconnect defaults
const (
	DefaultBaseDelay    = 3 * time.Second
	DefaultGrowthFactor = 1.5
	DefaultMaxAttempts  = 5

	// ClientIDParam carries the transport id so the server can correlate
	// reconnects of the same client.
	ClientIDParam = "client_id"
)
