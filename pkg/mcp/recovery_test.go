package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMutatingTool(t *testing.T) {
	tests := []struct {
		tool     string
		mutating bool
	}{
		{"upsert_salesforce_records", true},
		{"create_email_template", true},
		{"delete_campaign_member", true},
		{"Update_Contact", true},
		{"execute_soql_query", false},
		{"track_link_clicks", false},
		{"get_campaign_details", false},
	}
	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			assert.Equal(t, tc.mutating, IsMutatingTool(tc.tool))
		})
	}
}

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "dial tcp: i/o issue" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		action RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"canceled", context.Canceled, NoRetry},
		{"deadline", context.DeadlineExceeded, NoRetry},
		{"net timeout", timeoutErr{timeout: true}, NoRetry},
		{"net failure", timeoutErr{timeout: false}, RetryNewSession},
		{"eof", io.EOF, RetryNewSession},
		{"unexpected eof", fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF), RetryNewSession},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8080: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write |1: broken pipe"), RetryNewSession},
		{"dead subprocess", errors.New("mcp server process exited with code 1"), RetryNewSession},
		{"method not found", errors.New("jsonrpc: method not found"), NoRetry},
		{"invalid params", errors.New("jsonrpc: invalid params"), NoRetry},
		{"unknown", errors.New("something odd happened"), NoRetry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.action, ClassifyError(tc.err))
		})
	}
}
