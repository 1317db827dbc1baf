package mcp

import "time"

// Recovery configuration constants.
const (
	// InitTimeout is the per-service initialization timeout (transport
	// spawn + handshake).
	InitTimeout = 30 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools.
	OperationTimeout = 30 * time.Second

	// RetryBackoffMin is the minimum jittered backoff between retries.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff between retries.
	RetryBackoffMax = 750 * time.Millisecond
)
