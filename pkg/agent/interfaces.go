// Package agent implements the orchestration nodes: the decision node, the
// generic planner/executor, the specialized email-builder agent, and the
// shared plumbing (placeholder resolution, batching, prompt rendering).
package agent

import (
	"context"

	"github.com/openfunnel/maestro/pkg/mcp"
)

// ToolSession is the per-turn connection the executor drives. Implemented by
// mcp.Session; faked in tests.
type ToolSession interface {
	Service() string
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallResult, error)
	Close() error
}

// SchemaProvider supplies the retrieved CRM schema block injected into
// planning prompts. Implemented by the schema context builder.
type SchemaProvider interface {
	PlanningContext(ctx context.Context, query, primaryHint string) (string, error)
}

// SessionOpener hands out sessions and cached tool descriptors per service.
type SessionOpener interface {
	OpenSession(ctx context.Context, service string) (ToolSession, error)
	Tools(service string) []mcp.ToolDescriptor
}

// ManagerOpener adapts mcp.Manager to the SessionOpener interface.
type ManagerOpener struct {
	Manager *mcp.Manager
}

var _ SessionOpener = (*ManagerOpener)(nil)

func (o *ManagerOpener) OpenSession(ctx context.Context, service string) (ToolSession, error) {
	return o.Manager.OpenSession(ctx, service)
}

func (o *ManagerOpener) Tools(service string) []mcp.ToolDescriptor {
	return o.Manager.Tools(service)
}
