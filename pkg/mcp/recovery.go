package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// RecoveryAction determines how to handle a tool-call failure.
type RecoveryAction int

const (
	// NoRetry means the error is not recoverable (bad request, timeout, cancel).
	NoRetry RecoveryAction = iota
	// RetrySameSession retries the call on the existing session.
	RetrySameSession
	// RetryNewSession recreates the session before retrying.
	RetryNewSession
)

// mutatingMarkers identify tools whose execution changes remote state.
// Calls to these are never retried automatically.
var mutatingMarkers = []string{"upsert", "delete", "create", "update"}

// IsMutatingTool reports whether a tool name denotes a mutating operation.
func IsMutatingTool(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range mutatingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyError determines the recovery action for a tool-call error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry // could be a legitimately slow tool
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isProtocolError(err) {
		return NoRetry
	}

	// Unknown errors are not safe to retry.
	return NoRetry
}

// isConnectionError detects connection-level transport failures, including a
// dead subprocess behind a stdio transport.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"process exited",
		"no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isProtocolError detects JSON-RPC level errors from the SDK. These are
// client-side mistakes and retrying cannot help.
func isProtocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
